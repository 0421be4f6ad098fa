// Package clinic provides the structured datastore behind intent-directed
// queries: clients, appointments and financial records, scoped per tenant.
// The assistant layer reads it for client_search, appointment_query and
// financial_query intents; the ingestion pipeline reads it to render rows
// into the retrieval indexes.
package clinic

import (
	"context"
	"time"
)

// Client is one patient record of a clinic.
type Client struct {
	ID       string
	TenantID string
	Name     string
	CPF      string
	Phone    string
	Email    string
	// LastVisit is the date of the most recent completed appointment.
	LastVisit time.Time
	Notes     string
}

// Appointment is one scheduled or completed procedure.
type Appointment struct {
	ID           string
	TenantID     string
	ClientID     string
	ClientName   string
	Procedure    string
	ScheduledAt  time.Time
	Professional string
	// Status is scheduled, completed or cancelled.
	Status string
}

// FinancialRecord is one charge or payment entry.
type FinancialRecord struct {
	ID          string
	TenantID    string
	ClientName  string
	Description string
	// AmountCents is the value in centavos; integer arithmetic avoids
	// float drift on sums.
	AmountCents int64
	// Status is paid, pending or overdue.
	Status  string
	DueDate time.Time
}

// Datastore is the read/write surface over the clinic's structured data.
// Every method is scoped to one tenant. Implementations must be safe for
// concurrent use.
type Datastore interface {
	// SearchClients returns clients whose name contains term or whose CPF
	// equals it, most recently visited first.
	SearchClients(ctx context.Context, tenantID, term string, limit int) ([]Client, error)

	// UpcomingAppointments returns appointments scheduled at or after from,
	// soonest first. clientName optionally narrows to one client.
	UpcomingAppointments(ctx context.Context, tenantID, clientName string, from time.Time, limit int) ([]Appointment, error)

	// AppointmentHistory returns appointments of every status, newest
	// first, for indexing into the retrieval layer.
	AppointmentHistory(ctx context.Context, tenantID string, limit int) ([]Appointment, error)

	// FinancialRecords returns financial entries, newest due date first.
	// clientName and status optionally narrow the result.
	FinancialRecords(ctx context.Context, tenantID, clientName, status string, limit int) ([]FinancialRecord, error)

	// PutClient inserts or replaces a client record.
	PutClient(ctx context.Context, c Client) error

	// PutAppointment inserts or replaces an appointment.
	PutAppointment(ctx context.Context, a Appointment) error

	// PutFinancialRecord inserts or replaces a financial entry.
	PutFinancialRecord(ctx context.Context, f FinancialRecord) error

	// Close releases any resources held by the datastore.
	Close() error
}
