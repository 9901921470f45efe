// Package queue provides the durable outbox of mutations that still have to
// reach the remote store, with exponential backoff and dead-lettering.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/colabottles/basketbuddy/internal/db"
	apperrors "github.com/colabottles/basketbuddy/internal/errors"
	"github.com/colabottles/basketbuddy/internal/logging"
	"github.com/colabottles/basketbuddy/internal/models"
	"github.com/colabottles/basketbuddy/internal/uuid"
)

// RetryPolicy bounds how often a failing entry is replayed.
type RetryPolicy struct {
	MaxRetries int           // entries dead-letter once retries reaches this
	BaseDelay  time.Duration // delay after the first failure
	MaxDelay   time.Duration // backoff cap
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 10,
		BaseDelay:  2 * time.Second,
		MaxDelay:   5 * time.Minute,
	}
}

// Backoff returns the delay before retry number retries (1-based).
// Formula: BaseDelay * 2^(retries-1), capped at MaxDelay.
func (p RetryPolicy) Backoff(retries int) time.Duration {
	if retries < 1 {
		return 0
	}
	shift := retries - 1
	if shift > 30 {
		shift = 30
	}
	backoff := p.BaseDelay << uint(shift)
	if backoff <= 0 || backoff > p.MaxDelay {
		backoff = p.MaxDelay
	}
	return backoff
}

// Stats is a point-in-time count of outbox entries.
type Stats struct {
	Pending int `json:"pending"`
	Dead    int `json:"dead"`
	Synced  int `json:"synced"` // delivered, awaiting purge
}

// Outbox is the FIFO of unsent mutations, persisted in the local store.
type Outbox struct {
	repo   db.OutboxRepository
	policy RetryPolicy
	now    func() time.Time
}

// Option configures an Outbox.
type Option func(*Outbox)

// WithPolicy overrides the retry policy.
func WithPolicy(p RetryPolicy) Option {
	return func(o *Outbox) { o.policy = p }
}

// WithClock overrides the clock used for timestamps and backoff.
func WithClock(now func() time.Time) Option {
	return func(o *Outbox) { o.now = now }
}

// New creates an Outbox over repo.
func New(repo db.OutboxRepository, opts ...Option) *Outbox {
	o := &Outbox{
		repo:   repo,
		policy: DefaultRetryPolicy(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Policy returns the retry policy in effect.
func (o *Outbox) Policy() RetryPolicy {
	return o.policy
}

// Enqueue appends a mutation. Appending never checks for an existing entry
// for the same row; replay is idempotent.
func (o *Outbox) Enqueue(ctx context.Context, typ models.OpType, payload models.Payload, fields ...string) (*models.SyncOperation, error) {
	if !typ.Valid() {
		return nil, apperrors.Newf(apperrors.ErrInvalid, "unknown operation type %q", typ)
	}
	if payload == nil {
		return nil, apperrors.New(apperrors.ErrInvalid, "operation has no payload")
	}
	if len(fields) > 0 && typ != models.OpUpdate {
		return nil, apperrors.Newf(apperrors.ErrInvalid, "%s operation cannot carry fields", typ)
	}

	op := &models.SyncOperation{
		ID:        uuid.NewOrdered(),
		Type:      typ,
		Data:      payload,
		Fields:    fields,
		Timestamp: models.Stamp(o.now()),
		Status:    models.OpStatusPending,
	}
	if err := o.repo.PutOperation(ctx, op); err != nil {
		return nil, err
	}

	logging.Debug("outbox entry enqueued", map[string]interface{}{
		"component": "outbox",
		"op_id":     op.ID,
		"type":      string(op.Type),
		"table":     string(op.Table()),
		"entity_id": op.EntityID(),
	})
	return op, nil
}

// Pending returns unsynced, non-dead entries that are due, oldest first.
// Entries queued behind a deferred entry for the same row are left out
// until it is delivered.
func (o *Outbox) Pending(ctx context.Context) ([]models.SyncOperation, error) {
	return o.repo.ReadyOperations(ctx, o.now())
}

// HasPending reports whether a row still has undelivered entries.
func (o *Outbox) HasPending(ctx context.Context, table models.Table, entityID string) (bool, error) {
	return o.repo.HasPendingOperations(ctx, table, entityID)
}

// MarkComplete flags an entry as delivered.
func (o *Outbox) MarkComplete(ctx context.Context, id string) error {
	return o.repo.MarkOperationSynced(ctx, id)
}

// MarkFailed records a failed replay. The entry is deferred by the backoff
// for its new retry count, or dead-lettered when the failure is permanent or
// the retry bound is reached. It reports whether the entry is now dead.
func (o *Outbox) MarkFailed(ctx context.Context, id string, cause error, permanent bool) (bool, error) {
	op, err := o.repo.GetOperation(ctx, id)
	if err != nil {
		return false, err
	}

	op.Retries++
	if cause != nil {
		op.LastError = cause.Error()
	}
	now := o.now()
	dead := permanent || (o.policy.MaxRetries > 0 && op.Retries >= o.policy.MaxRetries)
	if dead {
		op.Status = models.OpStatusDead
		op.NextRetryAt = time.Time{}
	} else {
		op.NextRetryAt = models.Stamp(now.Add(o.policy.Backoff(op.Retries)))
	}

	if err := o.repo.PutOperation(ctx, op); err != nil {
		return false, fmt.Errorf("failed to record outbox failure: %w", err)
	}

	ctxMap := map[string]interface{}{
		"component": "outbox",
		"op_id":     op.ID,
		"retries":   op.Retries,
	}
	if dead {
		logging.WarnErr("outbox entry dead-lettered", cause, ctxMap)
	} else {
		ctxMap["next_retry_at"] = op.NextRetryAt
		logging.Debug("outbox entry deferred", ctxMap)
	}
	return dead, nil
}

// PurgeSynced deletes every delivered entry and returns how many went.
func (o *Outbox) PurgeSynced(ctx context.Context) (int64, error) {
	return o.repo.DeleteSyncedOperations(ctx)
}

// DeadLetters returns entries that stopped retrying, oldest first.
func (o *Outbox) DeadLetters(ctx context.Context) ([]models.SyncOperation, error) {
	return o.repo.OperationsByStatus(ctx, models.OpStatusDead)
}

// Requeue resets every dead entry to pending with a fresh retry budget and
// returns how many were reset.
func (o *Outbox) Requeue(ctx context.Context) (int, error) {
	dead, err := o.DeadLetters(ctx)
	if err != nil {
		return 0, err
	}

	for i := range dead {
		op := &dead[i]
		op.Status = models.OpStatusPending
		op.Retries = 0
		op.NextRetryAt = time.Time{}
		op.LastError = ""
		if err := o.repo.PutOperation(ctx, op); err != nil {
			return i, fmt.Errorf("failed to requeue %s: %w", op.ID, err)
		}
	}

	if len(dead) > 0 {
		logging.Info("dead outbox entries requeued", map[string]interface{}{
			"component": "outbox",
			"count":     len(dead),
		})
	}
	return len(dead), nil
}

// Stats counts entries by state.
func (o *Outbox) Stats(ctx context.Context) (Stats, error) {
	counts, synced, err := o.repo.OperationCounts(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Pending: counts[models.OpStatusPending],
		Dead:    counts[models.OpStatusDead],
		Synced:  synced,
	}, nil
}

// NextRetryAt returns when the earliest pending entry becomes due. A time
// at or before now means an entry is ready.
func (o *Outbox) NextRetryAt(ctx context.Context) (time.Time, bool, error) {
	return o.repo.EarliestRetry(ctx)
}
