package services

import (
	"sort"
	"sync"

	"github.com/colabottles/basketbuddy/internal/logging"
	"github.com/colabottles/basketbuddy/internal/models"
)

// State is a copy of the in-memory view of the local store.
type State struct {
	Lists      []models.List                 // most recently updated first
	Items      map[string][]models.Item      // by list id, display order
	Categories map[string][]models.Category  // by list id, display order
	Shares     map[string][]models.ListShare // by list id
}

// Change tells observers which part of the state moved.
type Change struct {
	Table  models.Table
	ListID string
	ID     string // empty when a whole list section was reloaded
}

// Observer is called after the state changed. It must not block.
type Observer func(Change)

type memState struct {
	mu         sync.RWMutex
	lists      map[string]models.List
	items      map[string][]models.Item
	categories map[string][]models.Category
	shares     map[string][]models.ListShare

	obsMu     sync.Mutex
	observers map[int]Observer
	nextObs   int
}

func newMemState() *memState {
	return &memState{
		lists:      make(map[string]models.List),
		items:      make(map[string][]models.Item),
		categories: make(map[string][]models.Category),
		shares:     make(map[string][]models.ListShare),
		observers:  make(map[int]Observer),
	}
}

func (m *memState) putList(l models.List) {
	m.mu.Lock()
	m.lists[l.ID] = l
	m.mu.Unlock()
}

func (m *memState) replaceLists(lists []models.List) {
	m.mu.Lock()
	m.lists = make(map[string]models.List, len(lists))
	for _, l := range lists {
		m.lists[l.ID] = l
	}
	m.mu.Unlock()
}

func (m *memState) dropList(id string) {
	m.mu.Lock()
	delete(m.lists, id)
	delete(m.items, id)
	delete(m.categories, id)
	delete(m.shares, id)
	m.mu.Unlock()
}

func (m *memState) setItems(listID string, items []models.Item) {
	m.mu.Lock()
	m.items[listID] = items
	m.mu.Unlock()
}

func (m *memState) setCategories(listID string, cats []models.Category) {
	m.mu.Lock()
	m.categories[listID] = cats
	m.mu.Unlock()
}

func (m *memState) setShares(listID string, shares []models.ListShare) {
	m.mu.Lock()
	m.shares[listID] = shares
	m.mu.Unlock()
}

func (m *memState) snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := State{
		Lists:      make([]models.List, 0, len(m.lists)),
		Items:      make(map[string][]models.Item, len(m.items)),
		Categories: make(map[string][]models.Category, len(m.categories)),
		Shares:     make(map[string][]models.ListShare, len(m.shares)),
	}
	for _, l := range m.lists {
		st.Lists = append(st.Lists, l)
	}
	sort.Slice(st.Lists, func(i, j int) bool {
		a, b := st.Lists[i], st.Lists[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID < b.ID
	})
	for id, items := range m.items {
		st.Items[id] = append([]models.Item(nil), items...)
	}
	for id, cats := range m.categories {
		st.Categories[id] = append([]models.Category(nil), cats...)
	}
	for id, shares := range m.shares {
		st.Shares[id] = append([]models.ListShare(nil), shares...)
	}
	return st
}

func (m *memState) observe(fn Observer) func() {
	m.obsMu.Lock()
	id := m.nextObs
	m.nextObs++
	m.observers[id] = fn
	m.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.obsMu.Lock()
			delete(m.observers, id)
			m.obsMu.Unlock()
		})
	}
}

func (m *memState) notify(c Change) {
	m.obsMu.Lock()
	fns := make([]Observer, 0, len(m.observers))
	for _, fn := range m.observers {
		fns = append(fns, fn)
	}
	m.obsMu.Unlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.Warn("state observer panicked", map[string]interface{}{
						"component": "list_service",
						"panic":     r,
					})
				}
			}()
			fn(c)
		}()
	}
}
