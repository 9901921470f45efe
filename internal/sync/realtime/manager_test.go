package realtime

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colabottles/basketbuddy/internal/models"
)

var t0 = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

func itemEvent(t *testing.T, typ models.ChangeType, listID, id string) models.ChangeEvent {
	t.Helper()
	ev, err := models.NewChangeEvent(typ, models.Item{ID: id, ListID: listID, Text: id, CreatedAt: t0, UpdatedAt: t0}, t0)
	require.NoError(t, err)
	return ev
}

type counter struct {
	insert, update, del atomic.Int32
}

func (c *counter) handlers() Handlers {
	return Handlers{
		OnInsert: func(models.ChangeEvent) { c.insert.Add(1) },
		OnUpdate: func(models.ChangeEvent) { c.update.Add(1) },
		OnDelete: func(models.ChangeEvent) { c.del.Add(1) },
	}
}

func TestSubscribeRoutesByType(t *testing.T) {
	feed := NewMemoryFeed()
	m := NewManager(feed)
	defer m.UnsubscribeAll()

	var c counter
	sub, err := m.Subscribe(context.Background(), "l1", c.handlers())
	require.NoError(t, err)
	assert.Equal(t, "l1", sub.ListID())

	feed.Publish(itemEvent(t, models.ChangeInsert, "l1", "i1"))
	feed.Publish(itemEvent(t, models.ChangeUpdate, "l1", "i1"))
	feed.Publish(itemEvent(t, models.ChangeDelete, "l1", "i1"))
	feed.Publish(itemEvent(t, models.ChangeInsert, "other", "i2"))

	require.Eventually(t, func() bool {
		return c.insert.Load() == 1 && c.update.Load() == 1 && c.del.Load() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestResubscribeReplacesChannel(t *testing.T) {
	feed := NewMemoryFeed()
	m := NewManager(feed)
	defer m.UnsubscribeAll()
	ctx := context.Background()

	var first, second counter
	old, err := m.Subscribe(ctx, "l1", first.handlers())
	require.NoError(t, err)
	_, err = m.Subscribe(ctx, "l1", second.handlers())
	require.NoError(t, err)

	assert.Equal(t, 1, feed.OpenCount("l1"), "old channel closed before the new one opened")
	assert.Equal(t, 2, feed.Opened())
	assert.False(t, old.Active())

	feed.Publish(itemEvent(t, models.ChangeInsert, "l1", "i1"))
	require.Eventually(t, func() bool { return second.insert.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, first.insert.Load(), "replaced callbacks never fire")
}

func TestStaleCloseKeepsNewerSubscription(t *testing.T) {
	feed := NewMemoryFeed()
	m := NewManager(feed)
	defer m.UnsubscribeAll()
	ctx := context.Background()

	old, err := m.Subscribe(ctx, "l1", Handlers{})
	require.NoError(t, err)
	current, err := m.Subscribe(ctx, "l1", Handlers{})
	require.NoError(t, err)

	old.Close()
	assert.True(t, current.Active())
	assert.Equal(t, []string{"l1"}, m.Active())

	current.Close()
	assert.Empty(t, m.Active())
	assert.Zero(t, feed.OpenCount("l1"))
}

func TestUnsubscribeAll(t *testing.T) {
	feed := NewMemoryFeed()
	m := NewManager(feed)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := m.Subscribe(ctx, id, Handlers{})
		require.NoError(t, err)
	}
	assert.Len(t, m.Active(), 3)

	m.Unsubscribe("b")
	assert.Zero(t, feed.OpenCount("b"))

	m.UnsubscribeAll()
	assert.Empty(t, m.Active())
	assert.Zero(t, feed.OpenCount("a"))
	assert.Zero(t, feed.OpenCount("c"))
}

func TestUnsubscribeWaitsForRunningCallback(t *testing.T) {
	feed := NewMemoryFeed()
	m := NewManager(feed)
	defer m.UnsubscribeAll()

	entered := make(chan struct{})
	var running atomic.Bool
	_, err := m.Subscribe(context.Background(), "l1", Handlers{
		OnInsert: func(models.ChangeEvent) {
			running.Store(true)
			close(entered)
			time.Sleep(100 * time.Millisecond)
			running.Store(false)
		},
	})
	require.NoError(t, err)

	feed.Publish(itemEvent(t, models.ChangeInsert, "l1", "i1"))
	<-entered
	m.Unsubscribe("l1")
	assert.False(t, running.Load(), "callback still running after Unsubscribe returned")
}

func TestResubscribeWaitsForReplacedCallback(t *testing.T) {
	feed := NewMemoryFeed()
	m := NewManager(feed)
	defer m.UnsubscribeAll()
	ctx := context.Background()

	entered := make(chan struct{})
	var oldRunning, overlapped atomic.Bool
	_, err := m.Subscribe(ctx, "l1", Handlers{
		OnInsert: func(models.ChangeEvent) {
			oldRunning.Store(true)
			close(entered)
			time.Sleep(100 * time.Millisecond)
			oldRunning.Store(false)
		},
	})
	require.NoError(t, err)

	feed.Publish(itemEvent(t, models.ChangeInsert, "l1", "i1"))
	<-entered
	var calls atomic.Int32
	_, err = m.Subscribe(ctx, "l1", Handlers{
		OnInsert: func(models.ChangeEvent) {
			if oldRunning.Load() {
				overlapped.Store(true)
			}
			calls.Add(1)
		},
	})
	require.NoError(t, err)
	assert.False(t, oldRunning.Load(), "Subscribe returned while the replaced callback ran")

	feed.Publish(itemEvent(t, models.ChangeInsert, "l1", "i2"))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, overlapped.Load())
}

func TestHandlerCanResubscribeItsOwnList(t *testing.T) {
	feed := NewMemoryFeed()
	m := NewManager(feed)
	defer m.UnsubscribeAll()
	ctx := context.Background()

	resubscribed := make(chan error, 1)
	_, err := m.Subscribe(ctx, "l1", Handlers{
		OnInsert: func(models.ChangeEvent) {
			_, err := m.Subscribe(ctx, "l1", Handlers{})
			resubscribed <- err
		},
	})
	require.NoError(t, err)

	feed.Publish(itemEvent(t, models.ChangeInsert, "l1", "i1"))
	select {
	case err := <-resubscribed:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("handler deadlocked resubscribing its own list")
	}
	assert.Equal(t, 1, feed.OpenCount("l1"))
}

func TestGoroutineID(t *testing.T) {
	id := goroutineID()
	assert.NotZero(t, id)
	assert.Equal(t, id, goroutineID())

	other := make(chan uint64)
	go func() { other <- goroutineID() }()
	assert.NotEqual(t, id, <-other)
}

func TestHandlerPanicDoesNotStopDelivery(t *testing.T) {
	feed := NewMemoryFeed()
	m := NewManager(feed)
	defer m.UnsubscribeAll()

	var calls atomic.Int32
	_, err := m.Subscribe(context.Background(), "l1", Handlers{
		OnInsert: func(models.ChangeEvent) {
			if calls.Add(1) == 1 {
				panic("boom")
			}
		},
	})
	require.NoError(t, err)

	feed.Publish(itemEvent(t, models.ChangeInsert, "l1", "i1"))
	feed.Publish(itemEvent(t, models.ChangeInsert, "l1", "i2"))
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestScopedReleasesOnPanic(t *testing.T) {
	feed := NewMemoryFeed()

	assert.Panics(t, func() {
		_ = Scoped(feed, func(m *Manager) error {
			if _, err := m.Subscribe(context.Background(), "l1", Handlers{}); err != nil {
				return err
			}
			panic("caller failed")
		})
	})
	assert.Zero(t, feed.OpenCount("l1"))

	errStop := errors.New("stop")
	err := Scoped(feed, func(m *Manager) error {
		_, err := m.Subscribe(context.Background(), "l2", Handlers{})
		require.NoError(t, err)
		return errStop
	})
	assert.ErrorIs(t, err, errStop)
	assert.Zero(t, feed.OpenCount("l2"))
}

func TestSubscribeRejectsEmptyList(t *testing.T) {
	m := NewManager(NewMemoryFeed())
	_, err := m.Subscribe(context.Background(), "", Handlers{})
	assert.Error(t, err)
}

func TestReconnectDelay(t *testing.T) {
	for attempt := 1; attempt < 20; attempt++ {
		d := reconnectDelay(attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Duration(float64(reconnectMax)*(1+reconnectJitter)))
	}
	assert.Less(t, reconnectDelay(1), time.Second)
}
