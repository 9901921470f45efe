// Package remotetest provides an in-memory remote store for tests.
package remotetest

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	apperrors "github.com/colabottles/basketbuddy/internal/errors"
	"github.com/colabottles/basketbuddy/internal/models"
)

// PublicPrefix is the url prefix Upload returns.
const PublicPrefix = "https://remote.test/storage/v1/object/public/item-images/"

// Call records one request made against the fake.
type Call struct {
	Method string // upsert, update, delete, fetch, upload, remove
	Table  models.Table
	ID     string
	Fields []string
}

// Store is an in-memory remote implementing the Store, Auth and Blobs
// contracts. Upserts are last-writer-wins on the row version, like the real
// remote.
type Store struct {
	mu         sync.Mutex
	lists      map[string]models.List
	items      map[string]models.Item
	categories map[string]models.Category
	shares     map[string]models.ListShare
	blobs      map[string][]byte

	user    string
	offline bool
	failFn  func(Call) error
	calls   []Call

	// OnChange, when set, receives a change event for every applied write.
	OnChange func(models.ChangeEvent)
}

// New creates an empty Store signed in as user. An empty user means signed
// out.
func New(user string) *Store {
	return &Store{
		lists:      make(map[string]models.List),
		items:      make(map[string]models.Item),
		categories: make(map[string]models.Category),
		shares:     make(map[string]models.ListShare),
		blobs:      make(map[string][]byte),
		user:       user,
	}
}

// SetUser changes the signed-in user.
func (s *Store) SetUser(user string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = user
}

// SetOffline makes every call fail with TRANSIENT_NETWORK while true.
func (s *Store) SetOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = offline
}

// FailWith installs a hook that may fail individual calls. A nil hook
// clears it.
func (s *Store) FailWith(fn func(Call) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failFn = fn
}

// Calls returns every call made so far.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallCount returns how many calls used method.
func (s *Store) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// enter records a call and returns the injected failure, if any. The mutex
// must be held.
func (s *Store) enter(c Call) error {
	s.calls = append(s.calls, c)
	if s.offline {
		return apperrors.New(apperrors.ErrTransientNetwork, "remote unreachable")
	}
	if s.failFn != nil {
		return s.failFn(c)
	}
	return nil
}

// =====================================================
// Store
// =====================================================

func (s *Store) Upsert(ctx context.Context, row models.Payload) error {
	s.mu.Lock()
	if err := s.enter(Call{Method: "upsert", Table: row.Table(), ID: row.EntityID()}); err != nil {
		s.mu.Unlock()
		return err
	}
	typ, applied := s.putLocked(row)
	s.mu.Unlock()

	if applied {
		s.emit(typ, row)
	}
	return nil
}

func (s *Store) putLocked(row models.Payload) (models.ChangeType, bool) {
	switch r := row.(type) {
	case models.List:
		old, ok := s.lists[r.ID]
		if ok && old.UpdatedAt.After(r.UpdatedAt) {
			return "", false
		}
		s.lists[r.ID] = r
		return changeType(ok), true
	case models.Item:
		old, ok := s.items[r.ID]
		if ok && old.UpdatedAt.After(r.UpdatedAt) {
			return "", false
		}
		s.items[r.ID] = r
		return changeType(ok), true
	case models.Category:
		_, ok := s.categories[r.ID]
		s.categories[r.ID] = r
		return changeType(ok), true
	}
	return "", false
}

func changeType(existed bool) models.ChangeType {
	if existed {
		return models.ChangeUpdate
	}
	return models.ChangeInsert
}

func (s *Store) Update(ctx context.Context, row models.Payload, fields []string) error {
	s.mu.Lock()
	if err := s.enter(Call{Method: "update", Table: row.Table(), ID: row.EntityID(), Fields: fields}); err != nil {
		s.mu.Unlock()
		return err
	}

	var updated models.Payload
	var err error
	switch r := row.(type) {
	case models.List:
		if cur, ok := s.lists[r.ID]; ok {
			var next models.List
			if next, err = models.Patch(cur, r, fields); err == nil {
				s.lists[r.ID] = next
				updated = next
			}
		}
	case models.Item:
		if cur, ok := s.items[r.ID]; ok {
			var next models.Item
			if next, err = models.Patch(cur, r, fields); err == nil {
				s.items[r.ID] = next
				updated = next
			}
		}
	case models.Category:
		if cur, ok := s.categories[r.ID]; ok {
			var next models.Category
			if next, err = models.Patch(cur, r, fields); err == nil {
				s.categories[r.ID] = next
				updated = next
			}
		}
	}
	s.mu.Unlock()

	if err != nil {
		return apperrors.Wrap(apperrors.ErrRemoteRejected, "bad update", err)
	}
	if updated != nil {
		s.emit(models.ChangeUpdate, updated)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, table models.Table, id string) error {
	s.mu.Lock()
	if err := s.enter(Call{Method: "delete", Table: table, ID: id}); err != nil {
		s.mu.Unlock()
		return err
	}

	var removed []models.Payload
	switch table {
	case models.TableLists:
		if l, ok := s.lists[id]; ok {
			removed = append(removed, l)
			delete(s.lists, id)
		}
		for k, it := range s.items {
			if it.ListID == id {
				delete(s.items, k)
			}
		}
		for k, c := range s.categories {
			if c.ListID == id {
				delete(s.categories, k)
			}
		}
		for k, sh := range s.shares {
			if sh.ListID == id {
				delete(s.shares, k)
			}
		}
	case models.TableListItems:
		if it, ok := s.items[id]; ok {
			removed = append(removed, it)
			delete(s.items, id)
		}
	case models.TableCategories:
		if c, ok := s.categories[id]; ok {
			removed = append(removed, c)
			delete(s.categories, id)
		}
	default:
		s.mu.Unlock()
		return apperrors.Newf(apperrors.ErrRemoteRejected, "unknown table %s", table)
	}
	s.mu.Unlock()

	for _, row := range removed {
		s.emit(models.ChangeDelete, row)
	}
	return nil
}

func (s *Store) FetchLists(ctx context.Context) ([]models.List, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(Call{Method: "fetch", Table: models.TableLists}); err != nil {
		return nil, err
	}
	out := make([]models.List, 0, len(s.lists))
	for _, l := range s.lists {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *Store) FetchItems(ctx context.Context, listID string) ([]models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(Call{Method: "fetch", Table: models.TableListItems, ID: listID}); err != nil {
		return nil, err
	}
	var out []models.Item
	for _, it := range s.items {
		if it.ListID == listID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemOrder < out[j].ItemOrder })
	return out, nil
}

func (s *Store) FetchCategories(ctx context.Context, listID string) ([]models.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(Call{Method: "fetch", Table: models.TableCategories, ID: listID}); err != nil {
		return nil, err
	}
	var out []models.Category
	for _, c := range s.categories {
		if c.ListID == listID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemOrder < out[j].ItemOrder })
	return out, nil
}

func (s *Store) FetchShares(ctx context.Context, listID string) ([]models.ListShare, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(Call{Method: "fetch", Table: models.TableListShares, ID: listID}); err != nil {
		return nil, err
	}
	var out []models.ListShare
	for _, sh := range s.shares {
		if sh.ListID == listID {
			out = append(out, sh)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// =====================================================
// Auth and Blobs
// =====================================================

func (s *Store) CurrentUser(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == "" {
		return "", apperrors.New(apperrors.ErrAuthRequired, "not signed in")
	}
	return s.user, nil
}

func (s *Store) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(Call{Method: "upload", ID: path}); err != nil {
		return "", err
	}
	s.blobs[path] = append([]byte(nil), data...)
	return PublicPrefix + path, nil
}

func (s *Store) Remove(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(Call{Method: "remove", ID: path}); err != nil {
		return err
	}
	delete(s.blobs, path)
	return nil
}

// =====================================================
// Inspection
// =====================================================

// List returns a stored list.
func (s *Store) List(id string) (models.List, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lists[id]
	return l, ok
}

// Item returns a stored item.
func (s *Store) Item(id string) (models.Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	return it, ok
}

// Category returns a stored category.
func (s *Store) Category(id string) (models.Category, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.categories[id]
	return c, ok
}

// Items returns a list's stored items, ordered by item_order.
func (s *Store) Items(listID string) []models.Item {
	out, _ := s.FetchItems(context.Background(), listID)
	return out
}

// Blob returns a stored object.
func (s *Store) Blob(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[path]
	return b, ok
}

// BlobCount returns how many objects are stored.
func (s *Store) BlobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}

// Seed stores rows directly, bypassing failure injection and the call log.
func (s *Store) Seed(rows ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		switch v := r.(type) {
		case models.ListShare:
			s.shares[v.ID] = v
		case models.Payload:
			s.putLocked(v)
		}
	}
}

// Snapshot returns every stored row as JSON keyed by table and id, for
// convergence comparisons.
func (s *Store) Snapshot() map[models.Table]map[string]json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[models.Table]map[string]json.RawMessage{
		models.TableLists:      {},
		models.TableListItems:  {},
		models.TableCategories: {},
	}
	for id, l := range s.lists {
		out[models.TableLists][id], _ = json.Marshal(l)
	}
	for id, it := range s.items {
		out[models.TableListItems][id], _ = json.Marshal(it)
	}
	for id, c := range s.categories {
		out[models.TableCategories][id], _ = json.Marshal(c)
	}
	return out
}

func (s *Store) emit(typ models.ChangeType, row models.Payload) {
	if s.OnChange == nil {
		return
	}
	ev, err := models.NewChangeEvent(typ, row, time.Now().UTC())
	if err != nil {
		return
	}
	s.OnChange(ev)
}
