// Package audit records service-control actions in a local SQLite database so
// operators can see which actions the agent performed and how they ended.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// MaxRecent bounds how many actions Recent returns.
const MaxRecent = 500

// Action is one audited service-control invocation.
type Action struct {
	ID         int64  `json:"id"`
	Action     string `json:"action"`
	Unit       string `json:"unit"`
	Succeeded  bool   `json:"succeeded"`
	ExitCode   int    `json:"exit_code"`
	Error      string `json:"error,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	CreatedAt  string `json:"created_at"` // RFC 3339, UTC
}

// Store is an append-only action log backed by SQLite. A nil *Store is valid
// and records nothing.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates or opens the database at dbPath, creating parent directories.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=rwc&_journal_mode=WAL", dbPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []func(*sql.DB) error{
		migrateV1,
		migrateV2,
	}

	for i := version; i < len(migrations); i++ {
		slog.Info("Applying audit migration", "version", i+1)
		if err := migrations[i](s.db); err != nil {
			return fmt.Errorf("migration v%d: %w", i+1, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", i+1); err != nil {
			return fmt.Errorf("record migration v%d: %w", i+1, err)
		}
	}

	return nil
}

// migrateV1 creates the service_actions table.
func migrateV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS service_actions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			action TEXT NOT NULL,
			unit TEXT NOT NULL,
			succeeded INTEGER NOT NULL,
			exit_code INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_service_actions_created ON service_actions(created_at);
	`)
	return err
}

// migrateV2 adds request_id so entries can be matched to access log lines.
func migrateV2(db *sql.DB) error {
	_, err := db.Exec(`ALTER TABLE service_actions ADD COLUMN request_id TEXT NOT NULL DEFAULT ''`)
	return err
}

// Record appends an action. CreatedAt defaults to now.
func (s *Store) Record(ctx context.Context, a Action) error {
	if s == nil {
		return nil
	}
	if a.CreatedAt == "" {
		a.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO service_actions (action, unit, succeeded, exit_code, error, request_id, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.Action, a.Unit, a.Succeeded, a.ExitCode, a.Error, a.RequestID, a.DurationMs, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

// Recent returns up to limit actions, newest first. limit is clamped to
// [1, MaxRecent].
func (s *Store) Recent(ctx context.Context, limit int) ([]Action, error) {
	if s == nil {
		return []Action{}, nil
	}
	limit = max(1, min(limit, MaxRecent))

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action, unit, succeeded, exit_code, error, request_id, duration_ms, created_at
		FROM service_actions
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	actions := []Action{}
	for rows.Next() {
		var a Action
		if err := rows.Scan(&a.ID, &a.Action, &a.Unit, &a.Succeeded, &a.ExitCode,
			&a.Error, &a.RequestID, &a.DurationMs, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}
	return actions, nil
}
