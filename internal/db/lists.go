package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/colabottles/basketbuddy/internal/models"
)

const listColumns = "id, name, owner_id, created_at, updated_at"

func scanList(s interface{ Scan(...interface{}) error }) (*models.List, error) {
	var l models.List
	var created, updated int64
	if err := s.Scan(&l.ID, &l.Name, &l.OwnerID, &created, &updated); err != nil {
		return nil, err
	}
	l.CreatedAt = models.FromMillis(created)
	l.UpdatedAt = models.FromMillis(updated)
	return &l, nil
}

func collectLists(rows *sql.Rows) ([]models.List, error) {
	defer rows.Close()
	var out []models.List
	for rows.Next() {
		l, err := scanList(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan list: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// GetList retrieves a list by id.
func (r *Repository) GetList(ctx context.Context, id string) (*models.List, error) {
	row, err := r.queryRow(ctx, "SELECT "+listColumns+" FROM lists WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	l, err := scanList(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(tableLists, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get list %s: %w", id, err)
	}
	return l, nil
}

// AllLists returns every list, most recently updated first.
func (r *Repository) AllLists(ctx context.Context) ([]models.List, error) {
	rows, err := r.query(ctx, "SELECT "+listColumns+" FROM lists ORDER BY updated_at DESC, id")
	if err != nil {
		return nil, fmt.Errorf("failed to query lists: %w", err)
	}
	return collectLists(rows)
}

// ListsUpdatedSince returns lists whose updated_at is at or after since.
func (r *Repository) ListsUpdatedSince(ctx context.Context, since time.Time) ([]models.List, error) {
	rows, err := r.query(ctx, "SELECT "+listColumns+" FROM lists WHERE updated_at >= ? ORDER BY updated_at", millis(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query lists by update time: %w", err)
	}
	return collectLists(rows)
}

// PutList upserts a list by id.
func (r *Repository) PutList(ctx context.Context, l *models.List) error {
	_, err := r.exec(ctx, "put list "+l.ID, `
	INSERT INTO lists (`+listColumns+`) VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		owner_id = excluded.owner_id,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at`,
		l.ID, l.Name, l.OwnerID, millis(l.CreatedAt), millis(l.UpdatedAt))
	return err
}

// DeleteList removes a single list row. Use DeleteListCascade to also drop
// its items, categories and shares.
func (r *Repository) DeleteList(ctx context.Context, id string) error {
	_, err := r.exec(ctx, "delete list "+id, "DELETE FROM lists WHERE id = ?", id)
	return err
}

// DeleteListCascade removes a list together with every row that belongs to
// it, in one transaction.
func (r *Repository) DeleteListCascade(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("begin cascade delete", err)
	}
	defer tx.Rollback()

	for _, table := range []string{tableItems, tableCategories, tableShares} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE list_id = ?", id); err != nil {
			return persistErr("delete "+table+" of list "+id, err)
		}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM lists WHERE id = ?", id); err != nil {
		return persistErr("delete list "+id, err)
	}
	if err := tx.Commit(); err != nil {
		return persistErr("commit cascade delete", err)
	}
	return nil
}
