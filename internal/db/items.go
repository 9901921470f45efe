package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/colabottles/basketbuddy/internal/models"
)

const itemColumns = "id, list_id, text, checked, item_order, category, notes, image_url, created_at, updated_at"

func scanItem(s interface{ Scan(...interface{}) error }) (*models.Item, error) {
	var it models.Item
	var checked int
	var category, notes, imageURL sql.NullString
	var created, updated int64
	err := s.Scan(&it.ID, &it.ListID, &it.Text, &checked, &it.ItemOrder,
		&category, &notes, &imageURL, &created, &updated)
	if err != nil {
		return nil, err
	}
	it.Checked = checked != 0
	it.Category = fromNullable(category)
	it.Notes = fromNullable(notes)
	it.ImageURL = fromNullable(imageURL)
	it.CreatedAt = models.FromMillis(created)
	it.UpdatedAt = models.FromMillis(updated)
	return &it, nil
}

func collectItems(rows *sql.Rows) ([]models.Item, error) {
	defer rows.Close()
	var out []models.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		out = append(out, *it)
	}
	return out, rows.Err()
}

// GetItem retrieves an item by id.
func (r *Repository) GetItem(ctx context.Context, id string) (*models.Item, error) {
	row, err := r.queryRow(ctx, "SELECT "+itemColumns+" FROM listItems WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(tableItems, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item %s: %w", id, err)
	}
	return it, nil
}

// AllItems returns every item.
func (r *Repository) AllItems(ctx context.Context) ([]models.Item, error) {
	rows, err := r.query(ctx, "SELECT "+itemColumns+" FROM listItems ORDER BY list_id, item_order, id")
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	return collectItems(rows)
}

// ItemsByList returns a list's items in display order.
func (r *Repository) ItemsByList(ctx context.Context, listID string) ([]models.Item, error) {
	rows, err := r.query(ctx, "SELECT "+itemColumns+" FROM listItems WHERE list_id = ? ORDER BY item_order, created_at, id", listID)
	if err != nil {
		return nil, fmt.Errorf("failed to query items of list %s: %w", listID, err)
	}
	return collectItems(rows)
}

// ItemsByCategory returns the items of a list filed under a category name.
func (r *Repository) ItemsByCategory(ctx context.Context, listID, category string) ([]models.Item, error) {
	rows, err := r.query(ctx, "SELECT "+itemColumns+" FROM listItems WHERE list_id = ? AND category = ? ORDER BY item_order, id", listID, category)
	if err != nil {
		return nil, fmt.Errorf("failed to query items by category: %w", err)
	}
	return collectItems(rows)
}

// ItemsUpdatedSince returns items whose updated_at is at or after since.
func (r *Repository) ItemsUpdatedSince(ctx context.Context, since time.Time) ([]models.Item, error) {
	rows, err := r.query(ctx, "SELECT "+itemColumns+" FROM listItems WHERE updated_at >= ? ORDER BY updated_at", millis(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query items by update time: %w", err)
	}
	return collectItems(rows)
}

// MaxItemOrder returns the highest item_order on a list and whether the list
// has any items.
func (r *Repository) MaxItemOrder(ctx context.Context, listID string) (int, bool, error) {
	row, err := r.queryRow(ctx, "SELECT MAX(item_order) FROM listItems WHERE list_id = ?", listID)
	if err != nil {
		return 0, false, err
	}
	var highest sql.NullInt64
	if err := row.Scan(&highest); err != nil {
		return 0, false, fmt.Errorf("failed to read max item order: %w", err)
	}
	return int(highest.Int64), highest.Valid, nil
}

// PutItem upserts an item by id.
func (r *Repository) PutItem(ctx context.Context, it *models.Item) error {
	_, err := r.exec(ctx, "put item "+it.ID, `
	INSERT INTO listItems (`+itemColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		list_id = excluded.list_id,
		text = excluded.text,
		checked = excluded.checked,
		item_order = excluded.item_order,
		category = excluded.category,
		notes = excluded.notes,
		image_url = excluded.image_url,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at`,
		it.ID, it.ListID, it.Text, boolInt(it.Checked), it.ItemOrder,
		nullable(it.Category), nullable(it.Notes), nullable(it.ImageURL),
		millis(it.CreatedAt), millis(it.UpdatedAt))
	return err
}

// DeleteItem removes an item. Deleting a missing item is not an error.
func (r *Repository) DeleteItem(ctx context.Context, id string) error {
	_, err := r.exec(ctx, "delete item "+id, "DELETE FROM listItems WHERE id = ?", id)
	return err
}
