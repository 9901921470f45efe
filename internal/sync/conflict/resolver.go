// Package conflict decides between a local and a remote copy of the same row
// using last-writer-wins on the row's version timestamp.
package conflict

import (
	"github.com/colabottles/basketbuddy/internal/logging"
	"github.com/colabottles/basketbuddy/internal/models"
)

// Side names which copy of a row won.
type Side string

const (
	SideLocal  Side = "local"
	SideRemote Side = "remote"
)

// Resolver applies last-writer-wins. Tie decides equal timestamps.
type Resolver struct {
	tie Side
}

// NewResolver creates a Resolver that hands ties to the given side.
func NewResolver(tie Side) *Resolver {
	if tie != SideRemote {
		tie = SideLocal
	}
	return &Resolver{tie: tie}
}

// Conflict is a pair of copies of one row.
type Conflict struct {
	Local  models.Payload
	Remote models.Payload
}

// ResolveResult is the outcome of a resolution.
type ResolveResult struct {
	Winner models.Payload
	Loser  models.Payload
	Side   Side
}

// Resolve picks the newer copy of c.
func (r *Resolver) Resolve(c Conflict) (*ResolveResult, error) {
	if c.Local == nil || c.Remote == nil {
		return nil, ErrInvalidConflict
	}
	if c.Local.Table() != c.Remote.Table() {
		return nil, ErrTableMismatch
	}
	if c.Local.EntityID() != c.Remote.EntityID() {
		return nil, ErrItemIDMismatch
	}

	lv, rv := c.Local.Version(), c.Remote.Version()
	side := r.tie
	switch {
	case lv.After(rv):
		side = SideLocal
	case rv.After(lv):
		side = SideRemote
	}

	res := &ResolveResult{Side: side, Winner: c.Local, Loser: c.Remote}
	if side == SideRemote {
		res.Winner, res.Loser = c.Remote, c.Local
	}

	if !lv.Equal(rv) {
		logging.Debug("Conflict resolved using last-write-wins", map[string]interface{}{
			"table":            string(c.Local.Table()),
			"entity_id":        c.Local.EntityID(),
			"winner_side":      string(side),
			"local_timestamp":  lv,
			"remote_timestamp": rv,
		})
	}
	return res, nil
}

// Merge returns the copy to keep, treating a missing local row as a loss
// for local. It is the put-by-id rule shared by fetch merges and realtime.
func (r *Resolver) Merge(local, remote models.Payload) (models.Payload, Side, error) {
	if local == nil {
		return remote, SideRemote, nil
	}
	res, err := r.Resolve(Conflict{Local: local, Remote: remote})
	if err != nil {
		return nil, "", err
	}
	return res.Winner, res.Side, nil
}

// Errors
var (
	ErrInvalidConflict = &ConflictError{Message: "invalid conflict: both copies must be non-nil"}
	ErrItemIDMismatch  = &ConflictError{Message: "row ID mismatch"}
	ErrTableMismatch   = &ConflictError{Message: "row table mismatch"}
)

// ConflictError represents a conflict resolution error.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// IsConflictError checks if an error is a ConflictError.
func IsConflictError(err error) bool {
	_, ok := err.(*ConflictError)
	return ok
}
