package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ChangeType is the row-level event kind a change feed delivers.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent is one message on a per-list change feed.
type ChangeEvent struct {
	Table      Table           `json:"table"`
	Type       ChangeType      `json:"type"`
	ListID     string          `json:"list_id"`
	New        json.RawMessage `json:"new,omitempty"`
	Old        json.RawMessage `json:"old,omitempty"`
	CommitTime time.Time       `json:"commit_time"`
}

// NewChangeEvent builds an event for row p. DELETE events carry the row in
// Old, the others in New.
func NewChangeEvent(typ ChangeType, p Payload, at time.Time) (ChangeEvent, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return ChangeEvent{}, fmt.Errorf("failed to encode change row: %w", err)
	}
	ev := ChangeEvent{
		Table:      p.Table(),
		Type:       typ,
		ListID:     p.ParentListID(),
		CommitTime: at,
	}
	if typ == ChangeDelete {
		ev.Old = raw
	} else {
		ev.New = raw
	}
	return ev, nil
}

// Record decodes the row the event is about.
func (e ChangeEvent) Record() (Payload, error) {
	raw := e.New
	if e.Type == ChangeDelete {
		raw = e.Old
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%s event on %s has no row", e.Type, e.Table)
	}
	return DecodePayload(e.Table, raw)
}

// Envelope types sent on the realtime socket.
const (
	EnvelopeSubscribed = "subscribed"
	EnvelopeChange     = "change"
)

// Envelope frames every realtime socket message.
type Envelope struct {
	Type      string       `json:"type"`
	ListID    string       `json:"list_id,omitempty"`
	Data      *ChangeEvent `json:"data,omitempty"`
	Timestamp int64        `json:"timestamp"`
}
