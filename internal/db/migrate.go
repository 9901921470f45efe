package db

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/colabottles/basketbuddy/internal/errors"
	"github.com/colabottles/basketbuddy/internal/logging"
)

// Local table names.
const (
	tableLists      = "lists"
	tableItems      = "listItems"
	tableShares     = "listShares"
	tableCategories = "categories"
	tableSyncQueue  = "syncQueue"
	tableMetadata   = "metadata"
)

// Index names, one per lookup the repository offers.
const (
	IndexListsByUpdated       = "lists_by_updated"
	IndexItemsByList          = "listItems_by_list"
	IndexItemsByUpdated       = "listItems_by_updated"
	IndexItemsByCategory      = "listItems_by_category"
	IndexCategoriesByList     = "categories_by_list"
	IndexSharesByList         = "listShares_by_list"
	IndexSyncQueueBySynced    = "syncQueue_by_synced"
	IndexSyncQueueByTimestamp = "syncQueue_by_timestamp"
	IndexSyncQueueByEntity    = "syncQueue_by_entity"
)

// indexSpec describes an index a schema version requires.
type indexSpec struct {
	name    string
	table   string
	columns string
}

func (s indexSpec) ddl() string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", s.name, s.table, s.columns)
}

// migration is one additive schema step.
type migration struct {
	version     int
	description string
	statements  []string
	indexes     []indexSpec
}

func (m migration) checksum() string {
	h := sha256.New()
	for _, s := range m.statements {
		h.Write([]byte(s))
	}
	for _, ix := range m.indexes {
		h.Write([]byte(ix.ddl()))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// LatestVersion is the schema version Open migrates to.
const LatestVersion = 3

var migrations = []migration{
	{
		version:     1,
		description: "initial_schema",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS lists (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				owner_id TEXT NOT NULL,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS listItems (
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
			)`,
			`CREATE TABLE IF NOT EXISTS listShares (
				id TEXT PRIMARY KEY,
				list_id TEXT NOT NULL,
				user_id TEXT NOT NULL,
				permission_level TEXT NOT NULL CHECK(permission_level IN ('view', 'edit')),
				created_at INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS categories (
				id TEXT PRIMARY KEY,
				list_id TEXT NOT NULL,
				name TEXT NOT NULL,
				color TEXT NOT NULL,
				item_order INTEGER NOT NULL DEFAULT 0,
				created_at INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS syncQueue (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				id TEXT NOT NULL UNIQUE,
				type TEXT NOT NULL CHECK(type IN ('CREATE', 'UPDATE', 'DELETE')),
				table_name TEXT NOT NULL,
				entity_id TEXT NOT NULL,
				data TEXT NOT NULL,
				fields TEXT NOT NULL DEFAULT '',
				timestamp INTEGER NOT NULL,
				synced INTEGER NOT NULL DEFAULT 0,
				retries INTEGER NOT NULL DEFAULT 0,
				next_retry_at INTEGER NOT NULL DEFAULT 0,
				status TEXT NOT NULL DEFAULT 'pending',
				last_error TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE TABLE IF NOT EXISTS metadata (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL
			)`,
		},
		indexes: []indexSpec{
			{IndexListsByUpdated, tableLists, "updated_at"},
			{IndexItemsByList, tableItems, "list_id, item_order"},
			{IndexItemsByUpdated, tableItems, "updated_at"},
			{IndexCategoriesByList, tableCategories, "list_id, item_order"},
			{IndexSharesByList, tableShares, "list_id"},
			{IndexSyncQueueBySynced, tableSyncQueue, "synced, status"},
			{IndexSyncQueueByTimestamp, tableSyncQueue, "timestamp, seq"},
		},
	},
	{
		version:     2,
		description: "items_by_category",
		indexes: []indexSpec{
			{IndexItemsByCategory, tableItems, "list_id, category"},
		},
	},
	{
		version:     3,
		description: "sync_queue_by_entity",
		indexes: []indexSpec{
			{IndexSyncQueueByEntity, tableSyncQueue, "table_name, entity_id, synced, status"},
		},
	},
}

// Migration represents an applied schema migration.
type Migration struct {
	Version     int
	AppliedAt   time.Time
	Description string
	Checksum    string
}

// Migrator applies the built-in schema versions in order.
type Migrator struct {
	db *sql.DB
}

// NewMigrator creates a new Migrator instance.
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// Initialize creates the schema_migrations table if it doesn't exist.
func (m *Migrator) Initialize(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0),
		checksum TEXT NOT NULL CHECK(length(checksum) = 64)
	);`
	_, err := m.db.ExecContext(ctx, query)
	return err
}

// CurrentVersion returns the current schema version.
func (m *Migrator) CurrentVersion(ctx context.Context) (int, error) {
	var version int
	err := m.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// GetAppliedMigrations returns all applied migrations.
func (m *Migrator) GetAppliedMigrations(ctx context.Context) ([]Migration, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT version, applied_at, description, checksum FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var applied []Migration
	for rows.Next() {
		var mig Migration
		var appliedAt int64
		if err := rows.Scan(&mig.Version, &appliedAt, &mig.Description, &mig.Checksum); err != nil {
			return nil, err
		}
		mig.AppliedAt = time.Unix(appliedAt, 0)
		applied = append(applied, mig)
	}
	return applied, rows.Err()
}

// Up applies every pending migration.
func (m *Migrator) Up(ctx context.Context) error {
	return m.UpTo(ctx, LatestVersion)
}

// UpTo applies pending migrations up to and including target. A store that
// is already newer than this build knows about is refused.
func (m *Migrator) UpTo(ctx context.Context, target int) error {
	if err := m.Initialize(ctx); err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "failed to create schema_migrations", err)
	}

	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "failed to read schema version", err)
	}
	if current > LatestVersion {
		return apperrors.Newf(apperrors.ErrMigration, "store schema v%d is newer than supported v%d", current, LatestVersion)
	}

	for _, mig := range migrations {
		if mig.version <= current || mig.version > target {
			continue
		}
		if err := m.apply(ctx, mig); err != nil {
			return apperrors.Wrap(apperrors.ErrMigration, fmt.Sprintf("failed to apply migration V%d", mig.version), err)
		}
		logging.Info("Applied schema migration", map[string]interface{}{
			"component":   "db",
			"version":     mig.version,
			"description": mig.description,
		})
	}
	return nil
}

func (m *Migrator) apply(ctx context.Context, mig migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range mig.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute %q: %w", firstLine(stmt), err)
		}
	}
	for _, ix := range mig.indexes {
		if err := ensureIndex(ctx, tx, ix); err != nil {
			return err
		}
	}

	query := `INSERT INTO schema_migrations (version, applied_at, description, checksum)
			  VALUES (?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, query, mig.version, time.Now().Unix(), mig.description, mig.checksum()); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}

// ensureIndex creates ix unless an index of that name already exists.
func ensureIndex(ctx context.Context, tx *sql.Tx, ix indexSpec) error {
	var n int
	err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?", ix.name).Scan(&n)
	if err != nil {
		return fmt.Errorf("failed to look up index %s: %w", ix.name, err)
	}
	if n > 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx, ix.ddl()); err != nil {
		return fmt.Errorf("failed to create index %s: %w", ix.name, err)
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
