package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/colabottles/basketbuddy/internal/models"
)

const categoryColumns = "id, list_id, name, color, item_order, created_at"

func scanCategory(s interface{ Scan(...interface{}) error }) (*models.Category, error) {
	var c models.Category
	var created int64
	if err := s.Scan(&c.ID, &c.ListID, &c.Name, &c.Color, &c.ItemOrder, &created); err != nil {
		return nil, err
	}
	c.CreatedAt = models.FromMillis(created)
	return &c, nil
}

func collectCategories(rows *sql.Rows) ([]models.Category, error) {
	defer rows.Close()
	var out []models.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// GetCategory retrieves a category by id.
func (r *Repository) GetCategory(ctx context.Context, id string) (*models.Category, error) {
	row, err := r.queryRow(ctx, "SELECT "+categoryColumns+" FROM categories WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	c, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(tableCategories, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category %s: %w", id, err)
	}
	return c, nil
}

// AllCategories returns every category.
func (r *Repository) AllCategories(ctx context.Context) ([]models.Category, error) {
	rows, err := r.query(ctx, "SELECT "+categoryColumns+" FROM categories ORDER BY list_id, item_order, id")
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	return collectCategories(rows)
}

// CategoriesByList returns a list's categories in display order.
func (r *Repository) CategoriesByList(ctx context.Context, listID string) ([]models.Category, error) {
	rows, err := r.query(ctx, "SELECT "+categoryColumns+" FROM categories WHERE list_id = ? ORDER BY item_order, id", listID)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories of list %s: %w", listID, err)
	}
	return collectCategories(rows)
}

// MaxCategoryOrder returns the highest category item_order on a list and
// whether the list has any categories.
func (r *Repository) MaxCategoryOrder(ctx context.Context, listID string) (int, bool, error) {
	row, err := r.queryRow(ctx, "SELECT MAX(item_order) FROM categories WHERE list_id = ?", listID)
	if err != nil {
		return 0, false, err
	}
	var highest sql.NullInt64
	if err := row.Scan(&highest); err != nil {
		return 0, false, fmt.Errorf("failed to read max category order: %w", err)
	}
	return int(highest.Int64), highest.Valid, nil
}

// PutCategory upserts a category by id.
func (r *Repository) PutCategory(ctx context.Context, c *models.Category) error {
	_, err := r.exec(ctx, "put category "+c.ID, `
	INSERT INTO categories (`+categoryColumns+`) VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		list_id = excluded.list_id,
		name = excluded.name,
		color = excluded.color,
		item_order = excluded.item_order,
		created_at = excluded.created_at`,
		c.ID, c.ListID, c.Name, c.Color, c.ItemOrder, millis(c.CreatedAt))
	return err
}

// DeleteCategory removes a category. Items keep their category name.
func (r *Repository) DeleteCategory(ctx context.Context, id string) error {
	_, err := r.exec(ctx, "delete category "+id, "DELETE FROM categories WHERE id = ?", id)
	return err
}
