// Package queue provides unit tests for the outbox.
package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/colabottles/basketbuddy/internal/db"
	apperrors "github.com/colabottles/basketbuddy/internal/errors"
	"github.com/colabottles/basketbuddy/internal/models"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestOutbox(t *testing.T, opts ...Option) (*Outbox, *fakeClock) {
	t.Helper()
	d, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("db.Open failed: %v", err)
	}
	repo := db.NewRepository(d.DB)
	t.Cleanup(func() {
		repo.Close()
		d.Close()
	})

	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return New(repo, opts...), clock
}

func testList(id string) models.List {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return models.List{ID: id, Name: "Groceries", OwnerID: "u1", CreatedAt: at, UpdatedAt: at}
}

// TestEnqueue tests appending an operation.
func TestEnqueue(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOutbox(t)

	op, err := o.Enqueue(ctx, models.OpCreate, testList("l1"))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if op.ID == "" {
		t.Error("Expected op ID to be set")
	}
	if op.Table() != models.TableLists {
		t.Errorf("Expected lists table, got %s", op.Table())
	}
	if op.Status != models.OpStatusPending || op.Synced || op.Retries != 0 {
		t.Errorf("unexpected initial state: %+v", op)
	}

	pending, err := o.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != op.ID {
		t.Errorf("Pending() = %+v, want the enqueued op", pending)
	}
}

// TestEnqueueRejectsBadInput tests validation of type, payload and fields.
func TestEnqueueRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOutbox(t)

	tests := []struct {
		name    string
		typ     models.OpType
		payload models.Payload
		fields  []string
	}{
		{"unknown type", "UPSERT", testList("l1"), nil},
		{"nil payload", models.OpCreate, nil, nil},
		{"fields on create", models.OpCreate, testList("l1"), []string{models.FieldName}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Enqueue(ctx, tt.typ, tt.payload, tt.fields...)
			if !apperrors.Is(err, apperrors.ErrInvalid) {
				t.Errorf("Enqueue() error = %v, want INVALID_INPUT", err)
			}
		})
	}
}

// TestEnqueueAppendsDuplicates tests that entries for the same row are not
// coalesced.
func TestEnqueueAppendsDuplicates(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOutbox(t)

	list := testList("l1")
	o.Enqueue(ctx, models.OpCreate, list)
	o.Enqueue(ctx, models.OpUpdate, list, models.FieldName, models.FieldUpdatedAt)

	pending, _ := o.Pending(ctx)
	if len(pending) != 2 {
		t.Fatalf("Expected 2 pending entries, got %d", len(pending))
	}
	if pending[0].Type != models.OpCreate || pending[1].Type != models.OpUpdate {
		t.Errorf("FIFO order broken: %s then %s", pending[0].Type, pending[1].Type)
	}
}

// TestPendingOrderSameMillisecond tests insertion order breaks timestamp ties.
func TestPendingOrderSameMillisecond(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOutbox(t)

	var ids []string
	for _, id := range []string{"a", "b", "c", "d"} {
		op, err := o.Enqueue(ctx, models.OpCreate, testList(id))
		if err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
		ids = append(ids, op.ID)
	}

	pending, _ := o.Pending(ctx)
	for i, op := range pending {
		if op.ID != ids[i] {
			t.Fatalf("pending[%d] = %s, want %s", i, op.ID, ids[i])
		}
	}
}

// TestMarkComplete tests completion and purge.
func TestMarkComplete(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOutbox(t)

	op, _ := o.Enqueue(ctx, models.OpCreate, testList("l1"))
	if err := o.MarkComplete(ctx, op.ID); err != nil {
		t.Fatalf("MarkComplete failed: %v", err)
	}

	pending, _ := o.Pending(ctx)
	if len(pending) != 0 {
		t.Errorf("Expected 0 pending after complete, got %d", len(pending))
	}

	stats, _ := o.Stats(ctx)
	if stats.Synced != 1 {
		t.Errorf("Stats().Synced = %d, want 1", stats.Synced)
	}

	n, err := o.PurgeSynced(ctx)
	if err != nil {
		t.Fatalf("PurgeSynced failed: %v", err)
	}
	if n != 1 {
		t.Errorf("PurgeSynced() = %d, want 1", n)
	}

	if err := o.MarkComplete(ctx, "missing"); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("MarkComplete(missing) = %v, want NOT_FOUND", err)
	}
}

// TestMarkFailedDefers tests a transient failure schedules a retry.
func TestMarkFailedDefers(t *testing.T) {
	ctx := context.Background()
	o, clock := newTestOutbox(t)

	op, _ := o.Enqueue(ctx, models.OpCreate, testList("l1"))
	dead, err := o.MarkFailed(ctx, op.ID, errors.New("connection refused"), false)
	if err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	if dead {
		t.Fatal("first transient failure should not dead-letter")
	}

	pending, _ := o.Pending(ctx)
	if len(pending) != 0 {
		t.Errorf("deferred entry is still ready: %d", len(pending))
	}

	next, ok, err := o.NextRetryAt(ctx)
	if err != nil || !ok {
		t.Fatalf("NextRetryAt() = %v, %v", ok, err)
	}
	if want := clock.Now().Add(2 * time.Second); !next.Equal(want) {
		t.Errorf("NextRetryAt() = %v, want %v", next, want)
	}

	clock.Advance(2 * time.Second)
	pending, _ = o.Pending(ctx)
	if len(pending) != 1 {
		t.Fatalf("Expected entry ready after backoff, got %d", len(pending))
	}
	if pending[0].Retries != 1 || pending[0].LastError != "connection refused" {
		t.Errorf("retry bookkeeping wrong: %+v", pending[0])
	}
}

// TestPendingKeepsRowOrder tests that a row's later entries wait out the
// backoff of its first one while other rows stay ready.
func TestPendingKeepsRowOrder(t *testing.T) {
	ctx := context.Background()
	o, clock := newTestOutbox(t)

	first, _ := o.Enqueue(ctx, models.OpCreate, testList("l1"))
	rename := testList("l1")
	rename.Name = "Weekly"
	o.Enqueue(ctx, models.OpUpdate, rename, models.FieldName, models.FieldUpdatedAt)
	other, _ := o.Enqueue(ctx, models.OpCreate, testList("l2"))

	if _, err := o.MarkFailed(ctx, first.ID, errors.New("timeout"), false); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	pending, _ := o.Pending(ctx)
	if len(pending) != 1 || pending[0].ID != other.ID {
		t.Errorf("Pending() = %+v, want only l2", pending)
	}
	if queued, err := o.HasPending(ctx, models.TableLists, "l1"); err != nil || !queued {
		t.Errorf("HasPending(l1) = %v, %v", queued, err)
	}

	clock.Advance(2 * time.Second)
	pending, _ = o.Pending(ctx)
	if len(pending) != 3 || pending[0].ID != first.ID || pending[1].Type != models.OpUpdate {
		t.Errorf("Pending() after backoff = %+v, want create then rename", pending)
	}
}

// TestMarkFailedMaxRetries tests the retry bound dead-letters an entry.
func TestMarkFailedMaxRetries(t *testing.T) {
	ctx := context.Background()
	o, clock := newTestOutbox(t, WithPolicy(RetryPolicy{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: time.Minute}))

	op, _ := o.Enqueue(ctx, models.OpCreate, testList("l1"))
	cause := apperrors.New(apperrors.ErrTransientNetwork, "offline")

	for i := 1; i <= 3; i++ {
		dead, err := o.MarkFailed(ctx, op.ID, cause, false)
		if err != nil {
			t.Fatalf("MarkFailed failed on attempt %d: %v", i, err)
		}
		if dead != (i == 3) {
			t.Errorf("attempt %d: dead = %v", i, dead)
		}
		clock.Advance(time.Minute)
	}

	pending, _ := o.Pending(ctx)
	if len(pending) != 0 {
		t.Errorf("dead entry still pending")
	}
	letters, err := o.DeadLetters(ctx)
	if err != nil {
		t.Fatalf("DeadLetters failed: %v", err)
	}
	if len(letters) != 1 || letters[0].Retries != 3 {
		t.Errorf("DeadLetters() = %+v", letters)
	}
}

// TestMarkFailedPermanent tests a permanent rejection dead-letters at once.
func TestMarkFailedPermanent(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOutbox(t)

	op, _ := o.Enqueue(ctx, models.OpCreate, testList("l1"))
	dead, err := o.MarkFailed(ctx, op.ID, apperrors.New(apperrors.ErrRemoteRejected, "bad row"), true)
	if err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	if !dead {
		t.Error("permanent failure should dead-letter")
	}

	stats, _ := o.Stats(ctx)
	if stats.Dead != 1 || stats.Pending != 0 {
		t.Errorf("Stats() = %+v", stats)
	}
}

// TestRequeue tests dead entries return to the queue with a fresh budget.
func TestRequeue(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOutbox(t)

	op, _ := o.Enqueue(ctx, models.OpCreate, testList("l1"))
	o.MarkFailed(ctx, op.ID, errors.New("rejected"), true)

	n, err := o.Requeue(ctx)
	if err != nil {
		t.Fatalf("Requeue failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Requeue() = %d, want 1", n)
	}

	pending, _ := o.Pending(ctx)
	if len(pending) != 1 {
		t.Fatalf("Expected 1 pending after requeue, got %d", len(pending))
	}
	if pending[0].Retries != 0 || pending[0].LastError != "" {
		t.Errorf("requeued entry not reset: %+v", pending[0])
	}
}

// TestBackoff tests the exponential schedule and its cap.
func TestBackoff(t *testing.T) {
	p := DefaultRetryPolicy()

	tests := []struct {
		retries int
		want    time.Duration
	}{
		{0, 0},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{7, 128 * time.Second},
		{8, 256 * time.Second},
		{9, 5 * time.Minute},
		{60, 5 * time.Minute},
	}
	for _, tt := range tests {
		if got := p.Backoff(tt.retries); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.retries, got, tt.want)
		}
	}
}
