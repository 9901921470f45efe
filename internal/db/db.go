// Package db provides the local persistent store: a versioned sqlite schema
// with one table per entity plus the outbox and a metadata table.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// FileName is the database file created inside the data directory.
const FileName = "basketbuddy.db"

// DB wraps the sql.DB with basketbuddy-specific configuration.
type DB struct {
	*sql.DB
	path string
}

// Open opens the local store in dataDir and migrates it to LatestVersion.
// The database is opened with:
// - WAL mode so readers never block the writer
// - Foreign key constraints enabled
// - A single connection, sqlite allows one writer
func Open(dataDir string) (*DB, error) {
	return open(dataDir, LatestVersion)
}

func open(dataDir string, version int) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	path := filepath.Join(dataDir, FileName)

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	m := NewMigrator(sqlDB)
	if err := m.UpTo(context.Background(), version); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return &DB{DB: sqlDB, path: path}, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
