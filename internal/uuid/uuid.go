// Package uuid mints the identifiers used for entities and outbox entries.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// New mints a random (v4) entity id. Entity ids are minted once at creation
// and never reused, so the remote store can upsert by id.
func New() string {
	return uuid.New().String()
}

// NewOrdered mints a time-ordered (v7) id. Outbox entries use it so that ids
// sort in enqueue order.
func NewOrdered() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// IsValid reports whether s is a canonical v4 or v7 UUID string.
func IsValid(s string) bool {
	if len(s) != 36 {
		return false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	if id.Variant() != uuid.RFC4122 {
		return false
	}
	v := id.Version()
	return v == 4 || v == 7
}

// Validate returns an error if s is not an id minted by this package.
func Validate(s string) error {
	if !IsValid(s) {
		return fmt.Errorf("invalid id format: %q", s)
	}
	return nil
}
