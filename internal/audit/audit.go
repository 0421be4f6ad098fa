// Package audit persists the compliance trail required for handling
// personal health data: who asked what, which sources grounded the answer,
// and when. Entries go to SQLite for retention and to the structured log
// for live inspection. Query and response text is never stored — only
// lengths — so the audit trail itself cannot leak patient data.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Entry is one audited assistant interaction.
type Entry struct {
	// SessionID and UserID identify the conversation.
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`

	// TenantID scopes the entry to one clinic.
	TenantID string `json:"tenant_id"`

	// PatientID is set when the interaction touched one patient's data.
	PatientID string `json:"patient_id,omitempty"`

	// Intent is the classified intent of the query.
	Intent string `json:"intent"`

	// Sources are the datastore tables or documents that grounded the
	// response.
	Sources []string `json:"sources,omitempty"`

	// QueryChars and ResponseChars are text lengths; the text itself is
	// deliberately not retained.
	QueryChars    int `json:"query_chars"`
	ResponseChars int `json:"response_chars"`

	// Masked is true when the response was delivered with personal data
	// masked for the caller's role.
	Masked bool `json:"masked"`
}

// Logger writes audit entries. Safe for concurrent use.
type Logger struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (or creates) the audit database at path and runs the schema
// migration. Use ":memory:" in tests.
func Open(path string, log *slog.Logger) (*Logger, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if log == nil {
		log = slog.Default()
	}
	a := &Logger{db: db, log: log}
	if err := a.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

// migrate creates the schema if it does not already exist.
func (a *Logger) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS audit_log (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id     TEXT    NOT NULL,
    user_id        TEXT    NOT NULL,
    tenant_id      TEXT    NOT NULL,
    patient_id     TEXT    NOT NULL DEFAULT '',
    intent         TEXT    NOT NULL DEFAULT '',
    sources        TEXT    NOT NULL DEFAULT '',
    query_chars    INTEGER NOT NULL DEFAULT 0,
    response_chars INTEGER NOT NULL DEFAULT 0,
    masked         INTEGER NOT NULL DEFAULT 0,
    created_at     INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_audit_tenant_created ON audit_log (tenant_id, created_at);
`
	if _, err := a.db.Exec(ddl); err != nil {
		return fmt.Errorf("audit: migrate: %w", err)
	}
	return nil
}

// Record persists one entry and mirrors it to the structured log.
func (a *Logger) Record(ctx context.Context, e Entry) error {
	const q = `
INSERT INTO audit_log (session_id, user_id, tenant_id, patient_id, intent, sources, query_chars, response_chars, masked, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	masked := 0
	if e.Masked {
		masked = 1
	}
	_, err := a.db.ExecContext(ctx, q,
		e.SessionID, e.UserID, e.TenantID, e.PatientID, e.Intent,
		strings.Join(e.Sources, ","), e.QueryChars, e.ResponseChars, masked,
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("audit: record: %w", err)
	}

	a.log.Info("assistant interaction audited",
		slog.String("session_id", e.SessionID),
		slog.String("user_id", e.UserID),
		slog.String("tenant_id", e.TenantID),
		slog.String("intent", e.Intent),
		slog.Int("sources", len(e.Sources)),
		slog.Bool("masked", e.Masked),
	)
	return nil
}

// RecentByTenant returns up to n most recent entries for one tenant,
// newest first, for the administrative surface.
func (a *Logger) RecentByTenant(ctx context.Context, tenantID string, n int) ([]Entry, error) {
	if n <= 0 {
		n = 50
	}
	const q = `
SELECT session_id, user_id, tenant_id, patient_id, intent, sources, query_chars, response_chars, masked
FROM   audit_log
WHERE  tenant_id = ?
ORDER  BY created_at DESC, id DESC
LIMIT  ?`

	rows, err := a.db.QueryContext(ctx, q, tenantID, n)
	if err != nil {
		return nil, fmt.Errorf("audit: recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var sources string
		var masked int
		if err := rows.Scan(&e.SessionID, &e.UserID, &e.TenantID, &e.PatientID, &e.Intent, &sources, &e.QueryChars, &e.ResponseChars, &masked); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		if sources != "" {
			e.Sources = strings.Split(sources, ",")
		}
		e.Masked = masked == 1
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (a *Logger) Close() error {
	return a.db.Close()
}
