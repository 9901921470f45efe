package realtime

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colabottles/basketbuddy/internal/models"
	"github.com/colabottles/basketbuddy/internal/remote"
	"github.com/colabottles/basketbuddy/internal/remote/server"
)

func TestWebSocketFeedReceivesBroadcasts(t *testing.T) {
	srv, err := server.New(server.Config{BlobDir: t.TempDir(), Token: "tok"})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Close()
	})

	ctx := context.Background()
	m := NewManager(NewWebSocketFeed(ts.URL, "tok", "u1"))
	defer m.UnsubscribeAll()

	var mu sync.Mutex
	var got []models.ChangeEvent
	record := func(ev models.ChangeEvent) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	}
	_, err = m.Subscribe(ctx, "l1", Handlers{OnInsert: record, OnUpdate: record, OnDelete: record})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return srv.Hub().Subscribers("l1") == 1 }, time.Second, 5*time.Millisecond)

	client := remote.NewHTTPClient(remote.Config{BaseURL: ts.URL, Token: "tok", UserID: "u1"})
	item := models.Item{ID: "i1", ListID: "l1", Text: "Milk", CreatedAt: t0, UpdatedAt: t0}
	require.NoError(t, client.Upsert(ctx, item))
	item.Checked = true
	item.UpdatedAt = t0.Add(time.Second)
	require.NoError(t, client.Update(ctx, item, []string{models.FieldChecked, models.FieldUpdatedAt}))
	require.NoError(t, client.Delete(ctx, models.TableListItems, "i1"))
	require.NoError(t, client.Upsert(ctx, models.Item{ID: "x", ListID: "l2", Text: "other", CreatedAt: t0, UpdatedAt: t0}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, models.ChangeInsert, got[0].Type)
	assert.Equal(t, models.ChangeUpdate, got[1].Type)
	assert.Equal(t, models.ChangeDelete, got[2].Type)

	rec, err := got[1].Record()
	require.NoError(t, err)
	assert.True(t, rec.(models.Item).Checked)
}

func TestWebSocketFeedRejectsBadToken(t *testing.T) {
	srv, err := server.New(server.Config{BlobDir: t.TempDir(), Token: "tok"})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Close()
	})

	feed := NewWebSocketFeed(ts.URL, "wrong", "u1")
	_, err = feed.Open(context.Background(), "l1")
	assert.Error(t, err)
}

func TestWebSocketFeedCloseEndsEvents(t *testing.T) {
	srv, err := server.New(server.Config{BlobDir: t.TempDir(), Token: "tok"})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Close()
	})

	ch, err := NewWebSocketFeed(ts.URL, "tok", "u1").Open(context.Background(), "l1")
	require.NoError(t, err)
	require.NoError(t, ch.Close())

	select {
	case _, ok := <-ch.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed")
	}
}
