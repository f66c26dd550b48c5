// Package sqlite is the default persist.Store implementation: a
// SQLite-backed key-value table gated by an ordered migration list.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/log"
	_ "modernc.org/sqlite"

	"github.com/na7dx/packetnode/internal/persist"
)

// migrations holds the ordered list of DDL statements that bring the
// schema up to date. Index i corresponds to version i+1; append, never
// edit or reorder.
var migrations = []string{
	// v1: generic key-value store backing persist.Store.
	`CREATE TABLE IF NOT EXISTS kv_store (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	// v2: last-heard station tracking, keyed separately from the
	// generic kv_store so future components can query it directly.
	`CREATE TABLE IF NOT EXISTS last_heard (
		callsign  TEXT PRIMARY KEY,
		channel   TEXT NOT NULL,
		heard_at  DATETIME NOT NULL
	)`,
	// v3: enable WAL mode for concurrent readers.
	`PRAGMA journal_mode=WAL`,
}

// Store is a SQLite-backed persist.Store.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

// Open opens (or creates) the SQLite database at path and applies any
// pending migrations. Use ":memory:" for ephemeral storage in tests.
func Open(path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("persist/sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	s := &Store{db: db, logger: logger.With("component", "persist-sqlite")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("persist/sqlite: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i, stmt := range migrations {
		v := i + 1
		if v <= current {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", v, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_migrations(version) VALUES(?)`, v); err != nil {
			return fmt.Errorf("record migration %d: %w", v, err)
		}
		s.logger.Debug("applied migration", "version", v)
	}
	return nil
}

// Close releases the database connection.
func (s *Store) Close() error { return s.db.Close() }

// Load implements persist.Store.
func (s *Store) Load(ctx context.Context, key string, out any) error {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return persist.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("persist/sqlite: load %q: %w", key, err)
	}
	return json.Unmarshal([]byte(raw), out)
}

// Save implements persist.Store. A single UPSERT statement makes the
// write atomic: there is no window where a reader observes a deleted-
// then-not-yet-reinserted row.
func (s *Store) Save(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kv_store(key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, string(raw))
	if err != nil {
		return fmt.Errorf("persist/sqlite: save %q: %w", key, err)
	}
	return nil
}

// RecordLastHeard upserts a station's most recent heard time.
func (s *Store) RecordLastHeard(ctx context.Context, callsignStr, channel string, heardAt string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO last_heard(callsign, channel, heard_at) VALUES (?, ?, ?)
		ON CONFLICT(callsign) DO UPDATE SET channel = excluded.channel, heard_at = excluded.heard_at
	`, callsignStr, channel, heardAt)
	return err
}

// LastHeard returns the channel and heard_at most recently recorded
// for callsignStr, and false if the station has never been recorded.
func (s *Store) LastHeard(ctx context.Context, callsignStr string) (channel, heardAt string, ok bool) {
	err := s.db.QueryRowContext(ctx, `SELECT channel, heard_at FROM last_heard WHERE callsign = ?`, callsignStr).Scan(&channel, &heardAt)
	if err != nil {
		return "", "", false
	}
	return channel, heardAt, true
}
