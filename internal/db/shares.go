package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/colabottles/basketbuddy/internal/models"
)

const shareColumns = "id, list_id, user_id, permission_level, created_at"

func scanShare(s interface{ Scan(...interface{}) error }) (*models.ListShare, error) {
	var sh models.ListShare
	var perm string
	var created int64
	if err := s.Scan(&sh.ID, &sh.ListID, &sh.UserID, &perm, &created); err != nil {
		return nil, err
	}
	sh.PermissionLevel = models.Permission(perm)
	sh.CreatedAt = models.FromMillis(created)
	return &sh, nil
}

func collectShares(rows *sql.Rows) ([]models.ListShare, error) {
	defer rows.Close()
	var out []models.ListShare
	for rows.Next() {
		sh, err := scanShare(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan share: %w", err)
		}
		out = append(out, *sh)
	}
	return out, rows.Err()
}

// GetShare retrieves a share by id.
func (r *Repository) GetShare(ctx context.Context, id string) (*models.ListShare, error) {
	row, err := r.queryRow(ctx, "SELECT "+shareColumns+" FROM listShares WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	sh, err := scanShare(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(tableShares, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get share %s: %w", id, err)
	}
	return sh, nil
}

// AllShares returns every cached share.
func (r *Repository) AllShares(ctx context.Context) ([]models.ListShare, error) {
	rows, err := r.query(ctx, "SELECT "+shareColumns+" FROM listShares ORDER BY list_id, created_at")
	if err != nil {
		return nil, fmt.Errorf("failed to query shares: %w", err)
	}
	return collectShares(rows)
}

// SharesByList returns the shares granted on a list.
func (r *Repository) SharesByList(ctx context.Context, listID string) ([]models.ListShare, error) {
	rows, err := r.query(ctx, "SELECT "+shareColumns+" FROM listShares WHERE list_id = ? ORDER BY created_at, id", listID)
	if err != nil {
		return nil, fmt.Errorf("failed to query shares of list %s: %w", listID, err)
	}
	return collectShares(rows)
}

// PutShare upserts a share by id.
func (r *Repository) PutShare(ctx context.Context, sh *models.ListShare) error {
	_, err := r.exec(ctx, "put share "+sh.ID, `
	INSERT INTO listShares (`+shareColumns+`) VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		list_id = excluded.list_id,
		user_id = excluded.user_id,
		permission_level = excluded.permission_level,
		created_at = excluded.created_at`,
		sh.ID, sh.ListID, sh.UserID, string(sh.PermissionLevel), millis(sh.CreatedAt))
	return err
}

// DeleteShare removes a cached share.
func (r *Repository) DeleteShare(ctx context.Context, id string) error {
	_, err := r.exec(ctx, "delete share "+id, "DELETE FROM listShares WHERE id = ?", id)
	return err
}
