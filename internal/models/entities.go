// Package models provides data model definitions for basketbuddy.
package models

import "time"

// Table names a remote table. Local table names differ (see db package) but
// every row is keyed by the same id on both sides.
type Table string

const (
	TableLists      Table = "lists"
	TableListItems  Table = "list_items"
	TableCategories Table = "categories"
	TableListShares Table = "list_shares"
)

// Column names carried by partial updates.
const (
	FieldName      = "name"
	FieldText      = "text"
	FieldChecked   = "checked"
	FieldItemOrder = "item_order"
	FieldCategory  = "category"
	FieldNotes     = "notes"
	FieldImageURL  = "image_url"
	FieldColor     = "color"
	FieldUpdatedAt = "updated_at"
)

// DefaultCategoryColor is assigned when a category is created without one.
const DefaultCategoryColor = "#9333ea"

// List is a grocery list owned by exactly one user.
type List struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Item is one entry on a list. Category references a Category by name.
type Item struct {
	ID        string    `json:"id"`
	ListID    string    `json:"list_id"`
	Text      string    `json:"text"`
	Checked   bool      `json:"checked"`
	ItemOrder int       `json:"item_order"`
	Category  *string   `json:"category"`
	Notes     *string   `json:"notes"`
	ImageURL  *string   `json:"image_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Category groups items on a list. It has no updated_at; created_at is its
// only timestamp.
type Category struct {
	ID        string    `json:"id"`
	ListID    string    `json:"list_id"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	ItemOrder int       `json:"item_order"`
	CreatedAt time.Time `json:"created_at"`
}

// Permission is the access level granted by a share.
type Permission string

const (
	PermissionView Permission = "view"
	PermissionEdit Permission = "edit"
)

// ListShare grants another user access to a list.
type ListShare struct {
	ID              string     `json:"id"`
	ListID          string     `json:"list_id"`
	UserID          string     `json:"user_id"`
	PermissionLevel Permission `json:"permission_level"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Stamp normalizes a wall-clock reading to the precision rows are stored at.
func Stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// FromMillis converts a stored Unix millisecond value back to a timestamp.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
