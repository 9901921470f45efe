// Package connectivity tracks whether the remote store is reachable and
// tells subscribers when that changes.
package connectivity

import (
	"sync"

	"github.com/colabottles/basketbuddy/internal/logging"
)

// Listener is called with the new state after a transition.
type Listener func(online bool)

// Monitor holds the online flag. It never polls; a platform source such as
// Prober drives it through Set.
type Monitor struct {
	mu        sync.RWMutex
	online    bool
	nextID    int
	listeners map[int]Listener
}

// NewMonitor creates a Monitor in the given initial state.
func NewMonitor(online bool) *Monitor {
	return &Monitor{
		online:    online,
		listeners: make(map[int]Listener),
	}
}

// IsOnline returns the current state.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Set records the state and notifies listeners if it changed. It reports
// whether a transition happened.
func (m *Monitor) Set(online bool) bool {
	m.mu.Lock()
	was := m.online
	m.online = online
	if was == online {
		m.mu.Unlock()
		return false
	}
	listeners := make([]Listener, 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	logging.Info("Online status changed", map[string]interface{}{
		"was_online": was,
		"is_online":  online,
	})

	for _, fn := range listeners {
		notify(fn, online)
	}
	return true
}

// Subscribe registers fn for transitions. The returned func removes it.
func (m *Monitor) Subscribe(fn Listener) (cancel func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

func notify(fn Listener, online bool) {
	defer func() {
		if r := recover(); r != nil {
			logging.Warn("connectivity listener panicked", map[string]interface{}{
				"panic":  r,
				"online": online,
			})
		}
	}()
	fn(online)
}
