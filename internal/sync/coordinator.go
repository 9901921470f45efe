// Package sync replays the outbox against the remote store whenever
// connectivity returns.
package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/colabottles/basketbuddy/internal/db"
	apperrors "github.com/colabottles/basketbuddy/internal/errors"
	"github.com/colabottles/basketbuddy/internal/logging"
	"github.com/colabottles/basketbuddy/internal/models"
	"github.com/colabottles/basketbuddy/internal/remote"
	"github.com/colabottles/basketbuddy/internal/sync/connectivity"
	"github.com/colabottles/basketbuddy/internal/sync/queue"
)

// State is the coordinator's drain state.
type State string

const (
	StateIdle     State = "idle"
	StateDraining State = "draining"
)

// SkipReason says why a drain did nothing.
type SkipReason string

const (
	SkipNone    SkipReason = ""
	SkipOffline SkipReason = "offline"
	SkipBusy    SkipReason = "busy"
)

// OpFailure describes one outbox entry that failed to replay.
type OpFailure struct {
	OpID     string
	Type     models.OpType
	Table    models.Table
	EntityID string
	Err      error
	Dead     bool
}

// DrainResult summarizes one drain.
type DrainResult struct {
	Skipped   SkipReason
	Attempted int
	Synced    int
	Failed    int
	Dead      int
	Held      int // left for a later drain behind a failed entry for the same row
	Purged    int64
	Failures  []OpFailure
	StartTime time.Time
	Duration  time.Duration
}

// Coordinator drains the outbox. At most one drain runs at a time.
type Coordinator struct {
	outbox  *queue.Outbox
	store   remote.Store
	monitor *connectivity.Monitor
	meta    db.MetadataRepository
	now     func() time.Time

	draining atomic.Bool
	trigger  chan struct{}

	mu         gosync.RWMutex
	handler    EventHandler
	lastResult *DrainResult
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(outbox *queue.Outbox, store remote.Store, monitor *connectivity.Monitor, meta db.MetadataRepository, opts ...Option) *Coordinator {
	c := &Coordinator{
		outbox:  outbox,
		store:   store,
		monitor: monitor,
		meta:    meta,
		now:     func() time.Time { return time.Now().UTC() },
		trigger: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetEventHandler sets the handler for drain events. Nil clears it.
func (c *Coordinator) SetEventHandler(h EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

func (c *Coordinator) emit(ev Event) {
	c.mu.RLock()
	h := c.handler
	c.mu.RUnlock()
	if h == nil {
		return
	}
	ev.Time = c.now()
	defer func() {
		if r := recover(); r != nil {
			logging.Warn("sync event handler panicked", map[string]interface{}{
				"component": "coordinator",
				"event":     string(ev.Type),
				"panic":     r,
			})
		}
	}()
	h(ev)
}

// Drain replays every due outbox entry in FIFO order. Failures are recorded
// on the entry and never stop the loop, but once an entry fails every later
// entry for the same row waits for a later drain. The returned error is set
// only when the outbox itself could not be read.
func (c *Coordinator) Drain(ctx context.Context) (*DrainResult, error) {
	if !c.monitor.IsOnline() {
		return &DrainResult{Skipped: SkipOffline}, nil
	}
	if !c.draining.CompareAndSwap(false, true) {
		return &DrainResult{Skipped: SkipBusy}, nil
	}
	defer c.draining.Store(false)

	result := &DrainResult{StartTime: c.now()}
	c.emit(Event{Type: EventDrainStarted})

	ops, err := c.outbox.Pending(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read outbox: %w", err)
	}

	blocked := make(map[rowKey]bool)
	for i := range ops {
		op := &ops[i]
		key := rowKey{op.Table(), op.EntityID()}
		if blocked[key] {
			result.Held++
			continue
		}
		result.Attempted++

		err := remote.Apply(ctx, c.store, op.Type, op.Data, op.Fields)
		if err == nil {
			if err := c.outbox.MarkComplete(ctx, op.ID); err != nil {
				logging.Error("failed to mark outbox entry complete", err, map[string]interface{}{
					"component": "coordinator",
					"op_id":     op.ID,
				})
				blocked[key] = true
				continue
			}
			result.Synced++
			continue
		}

		blocked[key] = true
		failure := OpFailure{
			OpID:     op.ID,
			Type:     op.Type,
			Table:    op.Table(),
			EntityID: op.EntityID(),
			Err:      apperrors.Wrap(apperrors.ErrReplayFailed, "replay failed", err),
		}
		dead, markErr := c.outbox.MarkFailed(ctx, op.ID, err, apperrors.IsPermanent(err))
		if markErr != nil {
			logging.Error("failed to record replay failure", markErr, map[string]interface{}{
				"component": "coordinator",
				"op_id":     op.ID,
			})
		}
		failure.Dead = dead
		result.Failed++
		if dead {
			result.Dead++
		}
		result.Failures = append(result.Failures, failure)

		logging.WarnErr("outbox replay failed", err, map[string]interface{}{
			"component": "coordinator",
			"op_id":     op.ID,
			"type":      string(op.Type),
			"table":     string(op.Table()),
			"entity_id": op.EntityID(),
			"dead":      dead,
		})
		c.emit(Event{Type: EventOpFailed, Failure: &failure})
	}

	purged, err := c.outbox.PurgeSynced(ctx)
	if err != nil {
		logging.WarnErr("failed to purge synced outbox entries", err, map[string]interface{}{"component": "coordinator"})
	}
	result.Purged = purged

	if err := c.meta.SetLastSync(ctx, c.now()); err != nil {
		logging.WarnErr("failed to record last sync", err, map[string]interface{}{"component": "coordinator"})
	}

	result.Duration = c.now().Sub(result.StartTime)
	c.mu.Lock()
	c.lastResult = result
	c.mu.Unlock()

	logging.Info("outbox drained", map[string]interface{}{
		"component": "coordinator",
		"attempted": result.Attempted,
		"synced":    result.Synced,
		"failed":    result.Failed,
		"dead":      result.Dead,
		"held":      result.Held,
		"purged":    result.Purged,
	})
	c.emit(Event{Type: EventDrainCompleted, Result: result})
	return result, nil
}

type rowKey struct {
	table models.Table
	id    string
}

// Trigger asks a running Run loop to drain. It never blocks.
func (c *Coordinator) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Run drains once at start if online, on every offline-to-online
// transition, on Trigger, and when the earliest deferred entry comes due.
// It returns when ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	cancel := c.monitor.Subscribe(func(online bool) {
		if online {
			c.Trigger()
		}
	})
	defer cancel()

	if c.monitor.IsOnline() {
		c.Trigger()
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.trigger:
		case <-timer.C:
		}

		if _, err := c.Drain(ctx); err != nil {
			logging.Error("drain failed", err, map[string]interface{}{"component": "coordinator"})
		}
		c.schedule(ctx, timer)
	}
}

// schedule arms timer for the earliest deferred entry.
func (c *Coordinator) schedule(ctx context.Context, timer *time.Timer) {
	next, ok, err := c.outbox.NextRetryAt(ctx)
	if err != nil || !ok {
		return
	}
	wait := next.Sub(c.now())
	if wait < 0 {
		wait = 0
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(wait)
}

// Status returns a snapshot of the coordinator and outbox.
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	st := Status{State: StateIdle, Online: c.monitor.IsOnline()}
	if c.draining.Load() {
		st.State = StateDraining
	}

	c.mu.RLock()
	if c.lastResult != nil {
		r := *c.lastResult
		st.LastResult = &r
	}
	c.mu.RUnlock()

	last, ok, err := c.meta.LastSync(ctx)
	if err != nil {
		return st, err
	}
	if ok {
		st.LastSync = &last
	}

	stats, err := c.outbox.Stats(ctx)
	if err != nil {
		return st, err
	}
	st.Outbox = stats
	return st, nil
}
