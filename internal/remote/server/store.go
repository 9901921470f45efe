package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/colabottles/basketbuddy/internal/models"
)

var (
	errNotFound   = errors.New("row not found")
	errBadRequest = errors.New("bad request")
)

const schema = `
CREATE TABLE IF NOT EXISTS lists (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS list_items (
	id TEXT PRIMARY KEY,
	list_id TEXT NOT NULL,
	text TEXT NOT NULL,
	checked INTEGER NOT NULL DEFAULT 0,
	item_order INTEGER NOT NULL DEFAULT 0,
	category TEXT,
	notes TEXT,
	image_url TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_list_items_list ON list_items(list_id);
CREATE TABLE IF NOT EXISTS categories (
	id TEXT PRIMARY KEY,
	list_id TEXT NOT NULL,
	name TEXT NOT NULL,
	color TEXT NOT NULL,
	item_order INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_categories_list ON categories(list_id);
CREATE TABLE IF NOT EXISTS list_shares (
	id TEXT PRIMARY KEY,
	list_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	permission_level TEXT NOT NULL CHECK(permission_level IN ('view', 'edit')),
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_list_shares_list ON list_shares(list_id);
CREATE INDEX IF NOT EXISTS idx_list_shares_user ON list_shares(user_id);
CREATE TABLE IF NOT EXISTS blobs (
	path TEXT PRIMARY KEY,
	hash TEXT NOT NULL,
	content_type TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_blobs_hash ON blobs(hash);
`

// rowStore is the remote's sqlite table store. Writes are last-writer-wins
// on updated_at; rows are never referenced by foreign key so replays may
// arrive in any order.
type rowStore struct {
	db *sql.DB
}

func openRowStore(path string) (*rowStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		dsn = path
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open remote database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to set %s: %w", pragma, err)
		}
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create remote schema: %w", err)
	}
	return &rowStore{db: sqlDB}, nil
}

func (s *rowStore) Close() error {
	return s.db.Close()
}

// decodeRow parses a request body into the typed row of table.
func decodeRow(table models.Table, raw []byte) (interface{}, error) {
	if table == models.TableListShares {
		var sh models.ListShare
		if err := json.Unmarshal(raw, &sh); err != nil {
			return nil, fmt.Errorf("%w: %v", errBadRequest, err)
		}
		return sh, nil
	}
	p, err := models.DecodePayload(table, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return p, nil
}

// upsert writes row and reports whether it was applied and whether it was
// new. A row older than the stored copy is ignored.
func (s *rowStore) upsert(ctx context.Context, row interface{}) (applied, inserted bool, err error) {
	var id string
	var res sql.Result
	switch r := row.(type) {
	case models.List:
		if r.ID == "" || r.OwnerID == "" {
			return false, false, fmt.Errorf("%w: list needs id and owner_id", errBadRequest)
		}
		id = r.ID
		inserted, err = s.missing(ctx, "lists", id)
		if err != nil {
			return false, false, err
		}
		res, err = s.db.ExecContext(ctx, `
		INSERT INTO lists (id, name, owner_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			updated_at = excluded.updated_at
		WHERE excluded.updated_at >= lists.updated_at`,
			r.ID, r.Name, r.OwnerID, r.CreatedAt.UnixMilli(), r.UpdatedAt.UnixMilli())
	case models.Item:
		if r.ID == "" || r.ListID == "" {
			return false, false, fmt.Errorf("%w: item needs id and list_id", errBadRequest)
		}
		id = r.ID
		inserted, err = s.missing(ctx, "list_items", id)
		if err != nil {
			return false, false, err
		}
		res, err = s.db.ExecContext(ctx, `
		INSERT INTO list_items (id, list_id, text, checked, item_order, category, notes, image_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			checked = excluded.checked,
			item_order = excluded.item_order,
			category = excluded.category,
			notes = excluded.notes,
			image_url = excluded.image_url,
			updated_at = excluded.updated_at
		WHERE excluded.updated_at >= list_items.updated_at`,
			r.ID, r.ListID, r.Text, r.Checked, r.ItemOrder, nullString(r.Category), nullString(r.Notes),
			nullString(r.ImageURL), r.CreatedAt.UnixMilli(), r.UpdatedAt.UnixMilli())
	case models.Category:
		if r.ID == "" || r.ListID == "" || r.Name == "" {
			return false, false, fmt.Errorf("%w: category needs id, list_id and name", errBadRequest)
		}
		id = r.ID
		inserted, err = s.missing(ctx, "categories", id)
		if err != nil {
			return false, false, err
		}
		res, err = s.db.ExecContext(ctx, `
		INSERT INTO categories (id, list_id, name, color, item_order, created_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			color = excluded.color,
			item_order = excluded.item_order`,
			r.ID, r.ListID, r.Name, r.Color, r.ItemOrder, r.CreatedAt.UnixMilli())
	case models.ListShare:
		if r.ID == "" || r.ListID == "" || r.UserID == "" {
			return false, false, fmt.Errorf("%w: share needs id, list_id and user_id", errBadRequest)
		}
		if r.PermissionLevel != models.PermissionView && r.PermissionLevel != models.PermissionEdit {
			return false, false, fmt.Errorf("%w: unknown permission %q", errBadRequest, r.PermissionLevel)
		}
		id = r.ID
		inserted, err = s.missing(ctx, "list_shares", id)
		if err != nil {
			return false, false, err
		}
		res, err = s.db.ExecContext(ctx, `
		INSERT INTO list_shares (id, list_id, user_id, permission_level, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET permission_level = excluded.permission_level`,
			r.ID, r.ListID, r.UserID, string(r.PermissionLevel), r.CreatedAt.UnixMilli())
	default:
		return false, false, fmt.Errorf("%w: unsupported row %T", errBadRequest, row)
	}
	if err != nil {
		return false, false, fmt.Errorf("failed to upsert %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, false, fmt.Errorf("failed to count upsert of %s: %w", id, err)
	}
	return n > 0, inserted, nil
}

func (s *rowStore) missing(ctx context.Context, table, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+" WHERE id = ?", id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to look up %s %s: %w", table, id, err)
	}
	return n == 0, nil
}

// patch overlays cols onto the stored row and returns the result. A missing
// row yields errNotFound; a patch older than the stored row is ignored and
// returns ok=false.
func (s *rowStore) patch(ctx context.Context, table models.Table, id string, cols map[string]json.RawMessage) (models.Payload, bool, error) {
	current, err := s.get(ctx, table, id)
	if err != nil {
		return nil, false, err
	}

	var next models.Payload
	switch cur := current.(type) {
	case models.List:
		next, err = models.ApplyColumns(cur, cols)
	case models.Item:
		next, err = models.ApplyColumns(cur, cols)
	case models.Category:
		next, err = models.ApplyColumns(cur, cols)
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if next.Version().Before(current.Version()) {
		return current, false, nil
	}

	applied, _, err := s.upsert(ctx, next)
	if err != nil {
		return nil, false, err
	}
	return next, applied, nil
}

// get loads one list, item or category.
func (s *rowStore) get(ctx context.Context, table models.Table, id string) (models.Payload, error) {
	var rows []models.Payload
	var err error
	switch table {
	case models.TableLists:
		var ls []models.List
		ls, err = s.lists(ctx, "WHERE id = ?", id)
		for _, l := range ls {
			rows = append(rows, l)
		}
	case models.TableListItems:
		var its []models.Item
		its, err = s.items(ctx, "WHERE id = ?", id)
		for _, it := range its {
			rows = append(rows, it)
		}
	case models.TableCategories:
		var cs []models.Category
		cs, err = s.categories(ctx, "WHERE id = ?", id)
		for _, c := range cs {
			rows = append(rows, c)
		}
	default:
		return nil, fmt.Errorf("%w: unknown table %s", errBadRequest, table)
	}
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errNotFound
	}
	return rows[0], nil
}

// remove deletes a row and, for lists, everything that hangs off it. It
// returns the deleted row, or nil when nothing was there.
func (s *rowStore) remove(ctx context.Context, table models.Table, id string) (models.Payload, error) {
	if table == models.TableListShares {
		_, err := s.db.ExecContext(ctx, "DELETE FROM list_shares WHERE id = ?", id)
		return nil, err
	}
	row, err := s.get(ctx, table, id)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback()

	stmts := []string{"DELETE FROM " + string(table) + " WHERE id = ?"}
	if table == models.TableLists {
		stmts = append([]string{
			"DELETE FROM list_items WHERE list_id = ?",
			"DELETE FROM categories WHERE list_id = ?",
			"DELETE FROM list_shares WHERE list_id = ?",
		}, stmts...)
	}
	for _, q := range stmts {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return nil, fmt.Errorf("failed to delete %s %s: %w", table, id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit delete: %w", err)
	}
	return row, nil
}

// visibleLists returns lists owned by or shared with user, newest first.
func (s *rowStore) visibleLists(ctx context.Context, user string) ([]models.List, error) {
	return s.lists(ctx, `WHERE owner_id = ? OR id IN (SELECT list_id FROM list_shares WHERE user_id = ?)
		ORDER BY updated_at DESC`, user, user)
}

func (s *rowStore) lists(ctx context.Context, where string, args ...interface{}) ([]models.List, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, owner_id, created_at, updated_at FROM lists "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query lists: %w", err)
	}
	defer rows.Close()

	out := []models.List{}
	for rows.Next() {
		var l models.List
		var created, updated int64
		if err := rows.Scan(&l.ID, &l.Name, &l.OwnerID, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan list: %w", err)
		}
		l.CreatedAt, l.UpdatedAt = models.FromMillis(created), models.FromMillis(updated)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *rowStore) items(ctx context.Context, where string, args ...interface{}) ([]models.Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, list_id, text, checked, item_order, category, notes, image_url,
		created_at, updated_at FROM list_items `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	out := []models.Item{}
	for rows.Next() {
		var it models.Item
		var category, notes, image sql.NullString
		var created, updated int64
		if err := rows.Scan(&it.ID, &it.ListID, &it.Text, &it.Checked, &it.ItemOrder, &category, &notes, &image,
			&created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		it.Category, it.Notes, it.ImageURL = fromNull(category), fromNull(notes), fromNull(image)
		it.CreatedAt, it.UpdatedAt = models.FromMillis(created), models.FromMillis(updated)
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *rowStore) categories(ctx context.Context, where string, args ...interface{}) ([]models.Category, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, list_id, name, color, item_order, created_at FROM categories "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	out := []models.Category{}
	for rows.Next() {
		var c models.Category
		var created int64
		if err := rows.Scan(&c.ID, &c.ListID, &c.Name, &c.Color, &c.ItemOrder, &created); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		c.CreatedAt = models.FromMillis(created)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *rowStore) shares(ctx context.Context, listID string) ([]models.ListShare, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, list_id, user_id, permission_level, created_at FROM list_shares
		WHERE list_id = ? ORDER BY created_at, id`, listID)
	if err != nil {
		return nil, fmt.Errorf("failed to query shares: %w", err)
	}
	defer rows.Close()

	out := []models.ListShare{}
	for rows.Next() {
		var sh models.ListShare
		var perm string
		var created int64
		if err := rows.Scan(&sh.ID, &sh.ListID, &sh.UserID, &perm, &created); err != nil {
			return nil, fmt.Errorf("failed to scan share: %w", err)
		}
		sh.PermissionLevel = models.Permission(perm)
		sh.CreatedAt = models.FromMillis(created)
		out = append(out, sh)
	}
	return out, rows.Err()
}

// =====================================================
// Blob index
// =====================================================

func (s *rowStore) putBlob(ctx context.Context, path, hash, contentType string) (previous string, err error) {
	err = s.db.QueryRowContext(ctx, "SELECT hash FROM blobs WHERE path = ?", path).Scan(&previous)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to look up blob %s: %w", path, err)
	}
	_, err = s.db.ExecContext(ctx, `
	INSERT INTO blobs (path, hash, content_type, created_at) VALUES (?, ?, ?, ?)
	ON CONFLICT(path) DO UPDATE SET hash = excluded.hash, content_type = excluded.content_type`,
		path, hash, contentType, time.Now().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("failed to record blob %s: %w", path, err)
	}
	return previous, nil
}

func (s *rowStore) getBlob(ctx context.Context, path string) (hash, contentType string, err error) {
	err = s.db.QueryRowContext(ctx, "SELECT hash, content_type FROM blobs WHERE path = ?", path).Scan(&hash, &contentType)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", errNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to look up blob %s: %w", path, err)
	}
	return hash, contentType, nil
}

// removeBlob drops the path and returns its hash when no other path still
// points at the same content.
func (s *rowStore) removeBlob(ctx context.Context, path string) (orphan string, err error) {
	hash, _, err := s.getBlob(ctx, path)
	if errors.Is(err, errNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM blobs WHERE path = ?", path); err != nil {
		return "", fmt.Errorf("failed to delete blob %s: %w", path, err)
	}
	return s.orphaned(ctx, hash)
}

func (s *rowStore) orphaned(ctx context.Context, hash string) (string, error) {
	if hash == "" {
		return "", nil
	}
	var refs int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM blobs WHERE hash = ?", hash).Scan(&refs); err != nil {
		return "", fmt.Errorf("failed to count blob refs: %w", err)
	}
	if refs > 0 {
		return "", nil
	}
	return hash, nil
}

func nullString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func fromNull(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func validTable(t string) (models.Table, bool) {
	switch models.Table(t) {
	case models.TableLists, models.TableListItems, models.TableCategories, models.TableListShares:
		return models.Table(t), true
	}
	return "", false
}
