package ingestion

import (
	"fmt"
	"strings"

	"github.com/clinvia/assist/internal/clinic"
	"github.com/clinvia/assist/internal/rag"
)

// Structured rows are rendered unmasked into the indexes; masking is a
// presentation concern applied at retrieval time for the caller's role.
// Access levels keep the rows away from roles that may not query them at
// all.

// clientRecord renders one client row for the retrieval indexes.
func clientRecord(c clinic.Client) rag.Record {
	var b strings.Builder
	fmt.Fprintf(&b, "Cliente %s", c.Name)
	if c.CPF != "" {
		fmt.Fprintf(&b, ", CPF %s", c.CPF)
	}
	if c.Phone != "" {
		fmt.Fprintf(&b, ", telefone %s", c.Phone)
	}
	if c.Email != "" {
		fmt.Fprintf(&b, ", email %s", c.Email)
	}
	if !c.LastVisit.IsZero() {
		fmt.Fprintf(&b, ". Última visita em %s", c.LastVisit.Format("02/01/2006"))
	}
	if c.Notes != "" {
		fmt.Fprintf(&b, ". Observações: %s", c.Notes)
	}

	return rag.Record{
		ID:          "client-" + c.ID,
		Content:     b.String(),
		Source:      "clients",
		Table:       "clients",
		TenantID:    c.TenantID,
		AccessLevel: "staff",
		Metadata:    map[string]string{"client_id": c.ID},
	}
}

// appointmentRecord renders one appointment row, status included so past
// and cancelled appointments are findable by period vocabulary.
func appointmentRecord(a clinic.Appointment) rag.Record {
	var b strings.Builder
	fmt.Fprintf(&b, "Agendamento de %s: %s em %s",
		a.ClientName, a.Procedure, a.ScheduledAt.Format("02/01/2006 15:04"))
	if a.Professional != "" {
		fmt.Fprintf(&b, " com %s", a.Professional)
	}
	switch a.Status {
	case "completed":
		b.WriteString(". Consulta concluída (passada)")
	case "cancelled":
		b.WriteString(". Consulta cancelada")
	default:
		b.WriteString(". Consulta agendada")
	}

	return rag.Record{
		ID:          "appointment-" + a.ID,
		Content:     b.String(),
		Source:      "appointments",
		Table:       "appointments",
		TenantID:    a.TenantID,
		AccessLevel: "staff",
		Metadata: map[string]string{
			"appointment_id": a.ID,
			"status":         a.Status,
		},
	}
}

// financialRecord renders one financial entry.
func financialRecord(f clinic.FinancialRecord) rag.Record {
	content := fmt.Sprintf("Registro financeiro de %s: %s, R$ %d,%02d, status %s, vencimento %s",
		f.ClientName, f.Description,
		f.AmountCents/100, f.AmountCents%100,
		f.Status, f.DueDate.Format("02/01/2006"),
	)

	return rag.Record{
		ID:          "financial-" + f.ID,
		Content:     content,
		Source:      "financial_records",
		Table:       "financial",
		TenantID:    f.TenantID,
		AccessLevel: "admin",
		Metadata: map[string]string{
			"record_id": f.ID,
			"status":    f.Status,
		},
	}
}
