package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/colabottles/basketbuddy/internal/errors"
)

// Repository provides typed get/put/delete and index lookups over the local
// tables. Every write error is returned wrapped as LOCAL_PERSISTENCE.
type Repository struct {
	db *sql.DB

	// Statements are prepared on first use and cached for reuse.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// PrepareStmt gets or creates a prepared statement from cache.
func (r *Repository) PrepareStmt(ctx context.Context, query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.stmtCache.Delete(key)
		return true
	})
	return firstErr
}

// exec runs a cached write statement.
func (r *Repository) exec(ctx context.Context, op, query string, args ...interface{}) (sql.Result, error) {
	stmt, err := r.PrepareStmt(ctx, query)
	if err != nil {
		return nil, persistErr(op, err)
	}
	res, err := stmt.ExecContext(ctx, args...)
	if err != nil {
		return nil, persistErr(op, err)
	}
	return res, nil
}

// query runs a cached read statement.
func (r *Repository) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	stmt, err := r.PrepareStmt(ctx, query)
	if err != nil {
		return nil, err
	}
	return stmt.QueryContext(ctx, args...)
}

// queryRow runs a cached single-row read statement.
func (r *Repository) queryRow(ctx context.Context, query string, args ...interface{}) (*sql.Row, error) {
	stmt, err := r.PrepareStmt(ctx, query)
	if err != nil {
		return nil, err
	}
	return stmt.QueryRowContext(ctx, args...), nil
}

// ClearAll empties every entity table, the outbox and the metadata.
func (r *Repository) ClearAll(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("begin clear", err)
	}
	defer tx.Rollback()

	for _, table := range []string{tableItems, tableCategories, tableShares, tableLists, tableSyncQueue, tableMetadata} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return persistErr("clear "+table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return persistErr("commit clear", err)
	}
	return nil
}

// =====================================================
// Metadata
// =====================================================

// MetaLastSync is the metadata key holding the last completed drain time.
const MetaLastSync = "lastSync"

// GetMeta returns the value stored under key and whether it exists.
func (r *Repository) GetMeta(ctx context.Context, key string) (string, bool, error) {
	row, err := r.queryRow(ctx, "SELECT value FROM metadata WHERE key = ?", key)
	if err != nil {
		return "", false, err
	}
	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read metadata %s: %w", key, err)
	}
	return value, true, nil
}

// SetMeta upserts a metadata value.
func (r *Repository) SetMeta(ctx context.Context, key, value string) error {
	_, err := r.exec(ctx, "set metadata "+key,
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// LastSync returns the time of the last completed drain, if any.
func (r *Repository) LastSync(ctx context.Context) (time.Time, bool, error) {
	v, ok, err := r.GetMeta(ctx, MetaLastSync)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse %s: %w", MetaLastSync, err)
	}
	return t, true, nil
}

// SetLastSync records the time of a completed drain.
func (r *Repository) SetLastSync(ctx context.Context, at time.Time) error {
	return r.SetMeta(ctx, MetaLastSync, at.UTC().Format(time.RFC3339Nano))
}

// =====================================================
// Helpers
// =====================================================

func persistErr(op string, err error) error {
	return apperrors.Wrap(apperrors.ErrLocalPersistence, "failed to "+op, err)
}

func notFound(table, id string) error {
	return apperrors.Newf(apperrors.ErrNotFound, "%s %s not found", table, id)
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// affected maps a zero-row write onto NOT_FOUND.
func affected(res sql.Result, table, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr("count affected rows", err)
	}
	if n == 0 {
		return notFound(table, id)
	}
	return nil
}
