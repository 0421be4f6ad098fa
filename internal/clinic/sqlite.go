package clinic

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// SQLiteStore is a Datastore backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// Open opens (or creates) a SQLiteStore at the given path and runs the
// schema migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("clinic: open %s: %w", path, err)
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
CREATE TABLE IF NOT EXISTS clients (
    id          TEXT    PRIMARY KEY,
    tenant_id   TEXT    NOT NULL,
    name        TEXT    NOT NULL,
    cpf         TEXT    NOT NULL DEFAULT '',
    phone       TEXT    NOT NULL DEFAULT '',
    email       TEXT    NOT NULL DEFAULT '',
    last_visit  INTEGER NOT NULL DEFAULT 0,  -- Unix timestamp (seconds)
    notes       TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_clients_tenant_name ON clients (tenant_id, name);

CREATE TABLE IF NOT EXISTS appointments (
    id            TEXT    PRIMARY KEY,
    tenant_id     TEXT    NOT NULL,
    client_id     TEXT    NOT NULL DEFAULT '',
    client_name   TEXT    NOT NULL,
    procedure     TEXT    NOT NULL,
    scheduled_at  INTEGER NOT NULL,
    professional  TEXT    NOT NULL DEFAULT '',
    status        TEXT    NOT NULL CHECK(status IN ('scheduled','completed','cancelled'))
);
CREATE INDEX IF NOT EXISTS idx_appointments_tenant_time ON appointments (tenant_id, scheduled_at);

CREATE TABLE IF NOT EXISTS financial_records (
    id           TEXT    PRIMARY KEY,
    tenant_id    TEXT    NOT NULL,
    client_name  TEXT    NOT NULL,
    description  TEXT    NOT NULL,
    amount_cents INTEGER NOT NULL,
    status       TEXT    NOT NULL CHECK(status IN ('paid','pending','overdue')),
    due_date     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_financial_tenant_due ON financial_records (tenant_id, due_date);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("clinic: migrate: %w", err)
	}
	return nil
}

// SearchClients returns clients whose name contains term (case-insensitive)
// or whose CPF equals it, most recently visited first.
func (s *SQLiteStore) SearchClients(ctx context.Context, tenantID, term string, limit int) ([]Client, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
SELECT id, tenant_id, name, cpf, phone, email, last_visit, notes
FROM   clients
WHERE  tenant_id = ? AND (name LIKE ? COLLATE NOCASE OR cpf = ?)
ORDER  BY last_visit DESC, name ASC
LIMIT  ?`

	pattern := "%" + strings.TrimSpace(term) + "%"
	cpf := strings.NewReplacer(".", "", "-", "").Replace(strings.TrimSpace(term))
	rows, err := s.db.QueryContext(ctx, q, tenantID, pattern, cpf, limit)
	if err != nil {
		return nil, fmt.Errorf("clinic: search clients: %w", err)
	}
	defer rows.Close()

	var out []Client
	for rows.Next() {
		var c Client
		var lastVisit int64
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Name, &c.CPF, &c.Phone, &c.Email, &lastVisit, &c.Notes); err != nil {
			return nil, fmt.Errorf("clinic: scan client: %w", err)
		}
		if lastVisit > 0 {
			c.LastVisit = time.Unix(lastVisit, 0)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpcomingAppointments returns scheduled appointments at or after from,
// soonest first.
func (s *SQLiteStore) UpcomingAppointments(ctx context.Context, tenantID, clientName string, from time.Time, limit int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 10
	}
	q := `
SELECT id, tenant_id, client_id, client_name, procedure, scheduled_at, professional, status
FROM   appointments
WHERE  tenant_id = ? AND scheduled_at >= ? AND status = 'scheduled'`
	args := []any{tenantID, from.Unix()}
	if clientName != "" {
		q += ` AND client_name LIKE ? COLLATE NOCASE`
		args = append(args, "%"+clientName+"%")
	}
	q += ` ORDER BY scheduled_at ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("clinic: upcoming appointments: %w", err)
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		var a Appointment
		var at int64
		if err := rows.Scan(&a.ID, &a.TenantID, &a.ClientID, &a.ClientName, &a.Procedure, &at, &a.Professional, &a.Status); err != nil {
			return nil, fmt.Errorf("clinic: scan appointment: %w", err)
		}
		a.ScheduledAt = time.Unix(at, 0)
		out = append(out, a)
	}
	return out, rows.Err()
}

// AppointmentHistory returns appointments of every status, newest first.
func (s *SQLiteStore) AppointmentHistory(ctx context.Context, tenantID string, limit int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
SELECT id, tenant_id, client_id, client_name, procedure, scheduled_at, professional, status
FROM   appointments
WHERE  tenant_id = ?
ORDER  BY scheduled_at DESC
LIMIT  ?`

	rows, err := s.db.QueryContext(ctx, q, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("clinic: appointment history: %w", err)
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		var a Appointment
		var at int64
		if err := rows.Scan(&a.ID, &a.TenantID, &a.ClientID, &a.ClientName, &a.Procedure, &at, &a.Professional, &a.Status); err != nil {
			return nil, fmt.Errorf("clinic: scan appointment: %w", err)
		}
		a.ScheduledAt = time.Unix(at, 0)
		out = append(out, a)
	}
	return out, rows.Err()
}

// FinancialRecords returns financial entries, newest due date first.
func (s *SQLiteStore) FinancialRecords(ctx context.Context, tenantID, clientName, status string, limit int) ([]FinancialRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	q := `
SELECT id, tenant_id, client_name, description, amount_cents, status, due_date
FROM   financial_records
WHERE  tenant_id = ?`
	args := []any{tenantID}
	if clientName != "" {
		q += ` AND client_name LIKE ? COLLATE NOCASE`
		args = append(args, "%"+clientName+"%")
	}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY due_date DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("clinic: financial records: %w", err)
	}
	defer rows.Close()

	var out []FinancialRecord
	for rows.Next() {
		var f FinancialRecord
		var due int64
		if err := rows.Scan(&f.ID, &f.TenantID, &f.ClientName, &f.Description, &f.AmountCents, &f.Status, &due); err != nil {
			return nil, fmt.Errorf("clinic: scan financial record: %w", err)
		}
		f.DueDate = time.Unix(due, 0)
		out = append(out, f)
	}
	return out, rows.Err()
}

// PutClient inserts or replaces a client record.
func (s *SQLiteStore) PutClient(ctx context.Context, c Client) error {
	const q = `
INSERT OR REPLACE INTO clients (id, tenant_id, name, cpf, phone, email, last_visit, notes)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	var lastVisit int64
	if !c.LastVisit.IsZero() {
		lastVisit = c.LastVisit.Unix()
	}
	cpf := strings.NewReplacer(".", "", "-", "").Replace(c.CPF)
	if _, err := s.db.ExecContext(ctx, q, c.ID, c.TenantID, c.Name, cpf, c.Phone, c.Email, lastVisit, c.Notes); err != nil {
		return fmt.Errorf("clinic: put client: %w", err)
	}
	return nil
}

// PutAppointment inserts or replaces an appointment.
func (s *SQLiteStore) PutAppointment(ctx context.Context, a Appointment) error {
	const q = `
INSERT OR REPLACE INTO appointments (id, tenant_id, client_id, client_name, procedure, scheduled_at, professional, status)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, a.ID, a.TenantID, a.ClientID, a.ClientName, a.Procedure, a.ScheduledAt.Unix(), a.Professional, a.Status); err != nil {
		return fmt.Errorf("clinic: put appointment: %w", err)
	}
	return nil
}

// PutFinancialRecord inserts or replaces a financial entry.
func (s *SQLiteStore) PutFinancialRecord(ctx context.Context, f FinancialRecord) error {
	const q = `
INSERT OR REPLACE INTO financial_records (id, tenant_id, client_name, description, amount_cents, status, due_date)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, f.ID, f.TenantID, f.ClientName, f.Description, f.AmountCents, f.Status, f.DueDate.Unix()); err != nil {
		return fmt.Errorf("clinic: put financial record: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
