// Package store persists protocol session records in SQLite, so active
// conversations survive server restarts and clients can resume a prior
// session with its context and message count intact.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/clinvia/assist/internal/protocol"
)

// SQLiteStore is a protocol.SessionStore backed by a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (or creates) a SQLiteStore at the given path and runs the
// schema migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS sessions (
    id            TEXT    PRIMARY KEY,
    user_id       TEXT    NOT NULL,
    state         TEXT    NOT NULL,
    context       TEXT    NOT NULL DEFAULT '{}',  -- JSON object
    message_count INTEGER NOT NULL DEFAULT 0,
    created_at    INTEGER NOT NULL,               -- Unix timestamp (seconds)
    last_activity INTEGER NOT NULL,
    expires_at    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions (user_id);
CREATE INDEX IF NOT EXISTS idx_sessions_last_activity ON sessions (last_activity);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Save inserts or replaces a session record.
func (s *SQLiteStore) Save(ctx context.Context, rec protocol.SessionRecord) error {
	sessionCtx, err := json.Marshal(rec.Context)
	if err != nil {
		return fmt.Errorf("store: marshal session context: %w", err)
	}

	const q = `
INSERT OR REPLACE INTO sessions (id, user_id, state, context, message_count, created_at, last_activity, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, q,
		rec.ID, rec.UserID, string(rec.State), string(sessionCtx),
		rec.MessageCount, rec.CreatedAt.Unix(), rec.LastActivity.Unix(),
		unixOrZero(rec.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("store: save session %s: %w", rec.ID, err)
	}
	return nil
}

// Load returns the session record with the given id. The second return is
// false when no such session exists.
func (s *SQLiteStore) Load(ctx context.Context, id string) (protocol.SessionRecord, bool, error) {
	const q = `
SELECT id, user_id, state, context, message_count, created_at, last_activity, expires_at
FROM sessions WHERE id = ?`

	var (
		rec          protocol.SessionRecord
		state        string
		rawCtx       string
		createdAt    int64
		lastActivity int64
		expiresAt    int64
	)
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&rec.ID, &rec.UserID, &state, &rawCtx,
		&rec.MessageCount, &createdAt, &lastActivity, &expiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return protocol.SessionRecord{}, false, nil
	}
	if err != nil {
		return protocol.SessionRecord{}, false, fmt.Errorf("store: load session %s: %w", id, err)
	}

	rec.State = protocol.State(state)
	rec.CreatedAt = time.Unix(createdAt, 0)
	rec.LastActivity = time.Unix(lastActivity, 0)
	if expiresAt > 0 {
		rec.ExpiresAt = time.Unix(expiresAt, 0)
	}
	if err := json.Unmarshal([]byte(rawCtx), &rec.Context); err != nil {
		return protocol.SessionRecord{}, false, fmt.Errorf("store: unmarshal session context: %w", err)
	}
	return rec, true, nil
}

// Delete removes a session record. Deleting a missing session is not an
// error.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete session %s: %w", id, err)
	}
	return nil
}

// DeleteExpired removes sessions whose last activity predates the cutoff,
// returning how many were removed. The engine sweeps live sessions itself;
// this reclaims rows left behind by unclean shutdowns.
func (s *SQLiteStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE last_activity < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("store: delete expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: delete expired sessions: %w", err)
	}
	return n, nil
}

// Ping verifies the database file is still reachable and writable enough
// to answer a query. Used by readiness probes.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// unixOrZero maps the zero time to 0 rather than a negative Unix value.
func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
