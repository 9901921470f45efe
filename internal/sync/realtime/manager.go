// Package realtime keeps at most one live change-feed subscription per list
// and routes remote-origin events to caller callbacks.
package realtime

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/colabottles/basketbuddy/internal/logging"
	"github.com/colabottles/basketbuddy/internal/models"
)

// Handlers receive events verbatim. Nil handlers are skipped.
type Handlers struct {
	OnInsert func(models.ChangeEvent)
	OnUpdate func(models.ChangeEvent)
	OnDelete func(models.ChangeEvent)
}

// Channel is one open change feed for one list. Events is closed once the
// channel is closed.
type Channel interface {
	Events() <-chan models.ChangeEvent
	Close() error
}

// Feed opens change feeds.
type Feed interface {
	Open(ctx context.Context, listID string) (Channel, error)
}

// handle is an arena slot: one live channel and its dispatcher.
type handle struct {
	listID     string
	gen        uint64
	channel    Channel
	stopped    atomic.Bool
	done       chan struct{}
	dispatcher atomic.Uint64 // goroutine running the callbacks
}

// stop closes the channel and waits until no callback of it is running. A
// callback stopping its own handle does not wait for itself.
func (h *handle) stop() {
	if !h.stopped.Swap(true) {
		if err := h.channel.Close(); err != nil {
			logging.WarnErr("failed to close change feed", err, map[string]interface{}{"list_id": h.listID})
		}
	}
	if h.dispatcher.Load() == goroutineID() {
		return
	}
	<-h.done
}

// goroutineID returns the calling goroutine's id from its stack header,
// "goroutine 42 [running]:".
func goroutineID() uint64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}

// Manager owns the arena of live subscriptions, indexed by list id.
type Manager struct {
	feed  Feed
	subMu sync.Mutex // serializes Subscribe so a list never has two opens in flight
	mu    sync.Mutex
	arena map[string]*handle
	gen   uint64
}

// NewManager creates a Manager over feed.
func NewManager(feed Feed) *Manager {
	return &Manager{
		feed:  feed,
		arena: make(map[string]*handle),
	}
}

// Subscription is a caller's reference to an arena slot. It stays valid after
// the slot is replaced; closing a stale Subscription does nothing.
type Subscription struct {
	m      *Manager
	listID string
	gen    uint64
}

// ListID returns the subscribed list.
func (s *Subscription) ListID() string { return s.listID }

// Active reports whether this subscription still owns its list's slot.
func (s *Subscription) Active() bool {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	h, ok := s.m.arena[s.listID]
	return ok && h.gen == s.gen
}

// Close releases the slot if it is still this subscription's.
func (s *Subscription) Close() {
	s.m.release(s.listID, s.gen)
}

// Subscribe opens a feed for listID, closing any channel the list already
// has first. It returns after the replaced channel's callbacks have
// finished; a handler may resubscribe its own list.
func (m *Manager) Subscribe(ctx context.Context, listID string, h Handlers) (*Subscription, error) {
	if listID == "" {
		return nil, fmt.Errorf("subscribe: empty list id")
	}

	m.subMu.Lock()
	defer m.subMu.Unlock()

	m.Unsubscribe(listID)

	ch, err := m.feed.Open(ctx, listID)
	if err != nil {
		return nil, fmt.Errorf("failed to open change feed for %s: %w", listID, err)
	}

	m.mu.Lock()
	m.gen++
	slot := &handle{
		listID:  listID,
		gen:     m.gen,
		channel: ch,
		done:    make(chan struct{}),
	}
	m.arena[listID] = slot
	m.mu.Unlock()

	go dispatch(slot, h)

	logging.Debug("realtime subscribed", map[string]interface{}{
		"list_id":    listID,
		"generation": slot.gen,
	})
	return &Subscription{m: m, listID: listID, gen: slot.gen}, nil
}

// Unsubscribe closes the list's channel, if any, and waits for a running
// callback of it to return.
func (m *Manager) Unsubscribe(listID string) {
	m.mu.Lock()
	h, ok := m.arena[listID]
	if ok {
		delete(m.arena, listID)
	}
	m.mu.Unlock()

	if ok {
		h.stop()
	}
}

// UnsubscribeAll closes every channel and waits for their callbacks.
func (m *Manager) UnsubscribeAll() {
	m.mu.Lock()
	handles := make([]*handle, 0, len(m.arena))
	for id, h := range m.arena {
		handles = append(handles, h)
		delete(m.arena, id)
	}
	m.mu.Unlock()

	for _, h := range handles {
		h.stop()
	}
}

// Active returns the list ids with a live channel.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.arena))
	for id := range m.arena {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) release(listID string, gen uint64) {
	m.mu.Lock()
	h, ok := m.arena[listID]
	if !ok || h.gen != gen {
		m.mu.Unlock()
		return
	}
	delete(m.arena, listID)
	m.mu.Unlock()
	h.stop()
}

// Scoped runs fn with a fresh Manager and closes every channel when fn
// returns or panics.
func Scoped(feed Feed, fn func(*Manager) error) error {
	m := NewManager(feed)
	defer m.UnsubscribeAll()
	return fn(m)
}

// dispatch delivers events until the channel ends. A stopped handle
// delivers nothing further even if events are still buffered.
func dispatch(h *handle, hs Handlers) {
	defer close(h.done)
	h.dispatcher.Store(goroutineID())
	for ev := range h.channel.Events() {
		if h.stopped.Load() {
			continue
		}
		var fn func(models.ChangeEvent)
		switch ev.Type {
		case models.ChangeInsert:
			fn = hs.OnInsert
		case models.ChangeUpdate:
			fn = hs.OnUpdate
		case models.ChangeDelete:
			fn = hs.OnDelete
		}
		if fn != nil {
			deliver(h, fn, ev)
		}
	}
}

func deliver(h *handle, fn func(models.ChangeEvent), ev models.ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			logging.Warn("realtime handler panicked", map[string]interface{}{
				"list_id": h.listID,
				"panic":   r,
			})
		}
	}()
	fn(ev)
}
