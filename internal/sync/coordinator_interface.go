package sync

import (
	"context"
	"time"

	"github.com/colabottles/basketbuddy/internal/sync/queue"
)

// Syncer is the coordinator surface the engine and CLI depend on.
type Syncer interface {
	// Drain replays due outbox entries once.
	Drain(ctx context.Context) (*DrainResult, error)

	// Run drains on connectivity transitions until ctx is done.
	Run(ctx context.Context) error

	// SetEventHandler sets the handler for drain events.
	SetEventHandler(handler EventHandler)

	// Status returns a snapshot of drain state and outbox counts.
	Status(ctx context.Context) (Status, error)
}

var _ Syncer = (*Coordinator)(nil)

// EventType names a drain event.
type EventType string

const (
	EventDrainStarted   EventType = "drain.started"
	EventDrainCompleted EventType = "drain.completed"
	EventOpFailed       EventType = "op.failed"
)

// Event is delivered to the EventHandler during a drain.
type Event struct {
	Type    EventType
	Time    time.Time
	Result  *DrainResult // drain.completed
	Failure *OpFailure   // op.failed
}

// EventHandler receives drain events. Panics are recovered.
type EventHandler func(Event)

// Status is a point-in-time view of the coordinator.
type Status struct {
	State      State
	Online     bool
	LastSync   *time.Time
	LastResult *DrainResult
	Outbox     queue.Stats
}
