package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// OpType is the kind of mutation an outbox entry replays.
type OpType string

const (
	OpCreate OpType = "CREATE"
	OpUpdate OpType = "UPDATE"
	OpDelete OpType = "DELETE"
)

// Valid reports whether t is a known operation type.
func (t OpType) Valid() bool {
	return t == OpCreate || t == OpUpdate || t == OpDelete
}

// OpStatus tracks an outbox entry through the retry policy.
type OpStatus string

const (
	OpStatusPending OpStatus = "pending"
	OpStatusDead    OpStatus = "dead"
)

// Payload is the row snapshot an outbox entry carries. Only List, Item and
// Category implement it, so the table of an operation always follows from
// its payload type.
type Payload interface {
	Table() Table
	EntityID() string
	// ParentListID is the list a row belongs to; a List is its own parent.
	ParentListID() string
	// Version is the timestamp last-writer-wins compares.
	Version() time.Time
	isPayload()
}

func (l List) Table() Table         { return TableLists }
func (l List) EntityID() string     { return l.ID }
func (l List) ParentListID() string { return l.ID }
func (l List) Version() time.Time   { return l.UpdatedAt }
func (List) isPayload()             {}

func (i Item) Table() Table         { return TableListItems }
func (i Item) EntityID() string     { return i.ID }
func (i Item) ParentListID() string { return i.ListID }
func (i Item) Version() time.Time   { return i.UpdatedAt }
func (Item) isPayload()             {}

func (c Category) Table() Table         { return TableCategories }
func (c Category) EntityID() string     { return c.ID }
func (c Category) ParentListID() string { return c.ListID }
func (c Category) Version() time.Time   { return c.CreatedAt }
func (Category) isPayload()             {}

// SyncOperation is one outbox entry: an immutable snapshot of a mutation
// that still has to reach the remote store.
type SyncOperation struct {
	ID        string
	Type      OpType
	Data      Payload
	Fields    []string // columns an UPDATE carries
	Timestamp time.Time
	Synced    bool
	Retries   int

	NextRetryAt time.Time
	Status      OpStatus
	LastError   string
}

// Table returns the table the operation targets.
func (op *SyncOperation) Table() Table {
	if op.Data == nil {
		return ""
	}
	return op.Data.Table()
}

// EntityID returns the id of the row the operation targets.
func (op *SyncOperation) EntityID() string {
	if op.Data == nil {
		return ""
	}
	return op.Data.EntityID()
}

// DecodePayload rebuilds a typed payload from its table tag and JSON form.
func DecodePayload(table Table, raw []byte) (Payload, error) {
	switch table {
	case TableLists:
		var l List
		if err := json.Unmarshal(raw, &l); err != nil {
			return nil, fmt.Errorf("failed to decode list payload: %w", err)
		}
		return l, nil
	case TableListItems:
		var i Item
		if err := json.Unmarshal(raw, &i); err != nil {
			return nil, fmt.Errorf("failed to decode item payload: %w", err)
		}
		return i, nil
	case TableCategories:
		var c Category
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("failed to decode category payload: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown payload table %q", table)
	}
}

// Columns returns the JSON-encoded values of the named columns of p.
// An empty fields list selects every column.
func Columns(p Payload, fields []string) (map[string]json.RawMessage, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s row: %w", p.Table(), err)
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, fmt.Errorf("failed to split %s row: %w", p.Table(), err)
	}
	if len(fields) == 0 {
		return all, nil
	}

	out := make(map[string]json.RawMessage, len(fields))
	for _, f := range fields {
		v, ok := all[f]
		if !ok {
			return nil, fmt.Errorf("unknown column %q on %s", f, p.Table())
		}
		out[f] = v
	}
	return out, nil
}

// ApplyColumns overlays cols onto dst. The id column is never overwritten.
func ApplyColumns[T Payload](dst T, cols map[string]json.RawMessage) (T, error) {
	var out T
	base, err := Columns(dst, nil)
	if err != nil {
		return out, err
	}
	for k, v := range cols {
		if k == "id" {
			continue
		}
		base[k] = v
	}
	raw, err := json.Marshal(base)
	if err != nil {
		return out, fmt.Errorf("failed to encode patched row: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("failed to decode patched row: %w", err)
	}
	return out, nil
}

// Patch copies the named columns of src onto dst.
func Patch[T Payload](dst, src T, fields []string) (T, error) {
	cols, err := Columns(src, fields)
	if err != nil {
		var zero T
		return zero, err
	}
	return ApplyColumns(dst, cols)
}
