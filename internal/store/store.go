// Package store provides SQLite persistence for the monitoring engine.
// The engine assumes a single writer process; the pool is capped at one
// connection so every read-modify-write against the file is serialized.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO
)

// ErrNotFound is returned when a looked-up entity does not exist.
var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

// Open initializes the SQLite store at path and runs migrations.
// WAL mode and busy_timeout match a read-heavy dashboard workload.
func Open(path string) (*Store, error) {
	// modernc.org/sqlite takes pragmas via _pragma=name(value) in the DSN.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS stalls (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		location TEXT NOT NULL,
		stall_number INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS stall_statuses (
		stall_id TEXT PRIMARY KEY REFERENCES stalls(id),
		current_score REAL NOT NULL,
		state TEXT NOT NULL CHECK(state IN ('ok', 'light_deterioration', 'severe_deterioration', 'invalid')),
		last_updated TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		stall_id TEXT NOT NULL REFERENCES stalls(id),
		started_at TEXT NOT NULL,
		ended_at TEXT,
		exit_event TEXT,
		status TEXT NOT NULL CHECK(status IN ('active', 'completed'))
	);

	-- At most one active session per stall, enforced by the schema.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_one_active
		ON sessions(stall_id) WHERE status = 'active';
	CREATE INDEX IF NOT EXISTS idx_sessions_stall_started
		ON sessions(stall_id, started_at);

	CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		kind TEXT NOT NULL CHECK(kind IN ('before', 'after')),
		score REAL NOT NULL,
		confidence REAL NOT NULL,
		taken_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS assessments (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL UNIQUE REFERENCES sessions(id),
		before_score REAL NOT NULL,
		after_score REAL NOT NULL,
		confidence REAL NOT NULL,
		result TEXT NOT NULL,
		change_metadata TEXT,
		assessed_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_assessments_assessed_at ON assessments(assessed_at);

	CREATE TABLE IF NOT EXISTS cleaning_triggers (
		id TEXT PRIMARY KEY,
		stall_id TEXT NOT NULL REFERENCES stalls(id),
		session_id TEXT NOT NULL REFERENCES sessions(id),
		severity TEXT NOT NULL CHECK(severity IN ('light', 'severe')),
		status TEXT NOT NULL CHECK(status IN ('active', 'acknowledged', 'completed', 'false_positive')),
		change_metadata TEXT,
		confidence REAL NOT NULL,
		created_at TEXT NOT NULL,
		acknowledged_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_triggers_stall ON cleaning_triggers(stall_id);
	CREATE INDEX IF NOT EXISTS idx_triggers_status ON cleaning_triggers(status);

	CREATE TABLE IF NOT EXISTS cleaning_receipts (
		id TEXT PRIMARY KEY,
		trigger_id TEXT NOT NULL UNIQUE REFERENCES cleaning_triggers(id),
		completed_at TEXT NOT NULL,
		notes TEXT
	);

	CREATE TABLE IF NOT EXISTS event_logs (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		stall_id TEXT,
		session_id TEXT,
		payload TEXT,
		logged_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_event_logs_logged_at ON event_logs(logged_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Timestamps are stored as fixed-width RFC3339 with nanoseconds in UTC.
// The width never varies (RFC3339Nano drops a zero fractional part), so the
// lexicographic comparisons in the SQL match chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// execContext is a small helper for write statements where only the error
// matters.
func (s *Store) execContext(ctx context.Context, query string, args ...any) error {
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}
