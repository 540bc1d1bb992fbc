// Package store wraps the embedded SQLite database that holds all local
// records and the sync queue.
//
// The store owns connection setup (WAL, busy timeout, foreign keys), schema
// creation, and the transaction primitive every mutating path goes through.
// Writers are serialized in-process on top of SQLite's own single-writer
// rule so a busy database surfaces as a short wait instead of an error.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// TimeFormat is the text form of timestamps in every table. Fractional
// seconds are fixed-width so text comparison matches chronological order;
// queue FIFO depends on that.
const TimeFormat = "2006-01-02T15:04:05.000000000Z"

// Store is a handle to the local database.
type Store struct {
	db   *sql.DB
	path string

	// writeMu serializes mutating transactions. SQLite allows a single
	// writer; funneling writers here keeps lock contention out of the
	// busy handler.
	writeMu sync.Mutex
}

// Open opens (creating if necessary) the database at path. Call InitSchema
// before first use.
//
// Pragmas ride on the DSN so every pooled connection gets them;
// foreign_keys and busy_timeout are per-connection settings, and the id
// adoption cascade depends on foreign keys being on everywhere.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := "file:" + path +
		"?_pragma=journal_mode(wal)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=synchronous(normal)"

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Store{db: db, path: path}, nil
}

// InitSchema creates all tables and indexes. Safe to call repeatedly.
func (s *Store) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS inventory (
		id TEXT PRIMARY KEY,
		temp_id TEXT,
		user_id TEXT NOT NULL,
		store_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		quantity INTEGER NOT NULL DEFAULT 0,
		unit_cost REAL NOT NULL DEFAULT 0,
		unit_price REAL NOT NULL DEFAULT 0,
		synced INTEGER NOT NULL DEFAULT 0,
		is_offline INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_inventory_temp_id ON inventory(temp_id);
	CREATE INDEX IF NOT EXISTS idx_inventory_user ON inventory(user_id);
	CREATE INDEX IF NOT EXISTS idx_inventory_synced ON inventory(synced);

	CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		temp_id TEXT,
		user_id TEXT NOT NULL,
		store_id TEXT NOT NULL DEFAULT '',
		total REAL NOT NULL DEFAULT 0,
		payment_method TEXT NOT NULL DEFAULT 'cash',
		sold_at TEXT NOT NULL,
		synced INTEGER NOT NULL DEFAULT 0,
		is_offline INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sales_user ON sales(user_id);
	CREATE INDEX IF NOT EXISTS idx_sales_synced ON sales(synced);
	CREATE INDEX IF NOT EXISTS idx_sales_sold_at ON sales(sold_at);

	CREATE TABLE IF NOT EXISTS sale_items (
		id TEXT PRIMARY KEY,
		sale_id TEXT NOT NULL REFERENCES sales(id) ON DELETE CASCADE ON UPDATE CASCADE,
		inventory_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		quantity INTEGER NOT NULL,
		unit_price REAL NOT NULL,
		line_total REAL NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sale_items_sale ON sale_items(sale_id);
	CREATE INDEX IF NOT EXISTS idx_sale_items_inventory ON sale_items(inventory_id);

	CREATE TABLE IF NOT EXISTS expenses (
		id TEXT PRIMARY KEY,
		temp_id TEXT,
		user_id TEXT NOT NULL,
		store_id TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL,
		amount REAL NOT NULL DEFAULT 0,
		note TEXT NOT NULL DEFAULT '',
		spent_at TEXT NOT NULL,
		synced INTEGER NOT NULL DEFAULT 0,
		is_offline INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_expenses_user ON expenses(user_id);
	CREATE INDEX IF NOT EXISTS idx_expenses_spent_at ON expenses(spent_at);

	CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL UNIQUE,
		store_name TEXT NOT NULL DEFAULT '',
		currency TEXT NOT NULL DEFAULT 'USD',
		synced INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_queue (
		operation_key TEXT PRIMARY KEY,
		table_name TEXT NOT NULL,
		record_id TEXT NOT NULL,
		operation_type TEXT NOT NULL CHECK (operation_type IN ('INSERT', 'UPDATE', 'DELETE')),
		data TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 3,
		synced INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sync_queue_pending ON sync_queue(synced, created_at);
	CREATE INDEX IF NOT EXISTS idx_sync_queue_record ON sync_queue(table_name, record_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// WithTx runs fn inside a write transaction, committing when fn returns
// nil and rolling back otherwise. All mutating paths go through here.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DB exposes the underlying handle for read paths.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	// Best effort; close proceeds regardless.
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// FormatTime renders a timestamp in the canonical column format.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// ParseTime reads a timestamp written by FormatTime. It also accepts
// RFC 3339 for rows imported from other devices.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeFormat, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// NullString converts an optional text value for scanning into a column.
func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// StringOrEmpty unwraps a nullable text column.
func StringOrEmpty(ns sql.NullString) string {
	if !ns.Valid {
		return ""
	}
	return ns.String
}
