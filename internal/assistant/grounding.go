package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/clinvia/assist/internal/clinic"
	"github.com/clinvia/assist/internal/logging"
	"github.com/clinvia/assist/internal/rag"
)

// Query is one grounding request: the user's utterance plus the identity
// attributes that scope what may be retrieved.
type Query struct {
	TenantID  string
	UserID    string
	Role      string
	PatientID string
	Content   string
}

// Grounding is the retrieved context for one query, ready for prompt
// assembly. Snippets are already masked for the caller's role.
type Grounding struct {
	Intent   Intent
	Entities Entities

	// Snippets are rendered context lines for the model prompt.
	Snippets []string

	// Sources names where the snippets came from, for the audit trail.
	Sources []string

	// Structured is true when the snippets came from the clinic datastore
	// rather than the knowledge indexes.
	Structured bool

	// Results carries structured rows for the client to render directly
	// (tables, cards). Keys are table names.
	Results map[string]any
}

// Empty reports whether grounding found nothing to stand a response on.
func (g Grounding) Empty() bool {
	return len(g.Snippets) == 0
}

// Grounder dispatches a classified query to the structured datastore or
// the hybrid knowledge retriever.
type Grounder struct {
	data      clinic.Datastore
	retriever rag.Retriever
	topK      int
}

// NewGrounder constructs a Grounder. Both backends are required; topK <= 0
// selects 5.
func NewGrounder(data clinic.Datastore, retriever rag.Retriever, topK int) (*Grounder, error) {
	if data == nil {
		return nil, fmt.Errorf("assistant: datastore must not be nil")
	}
	if retriever == nil {
		return nil, fmt.Errorf("assistant: retriever must not be nil")
	}
	if topK <= 0 {
		topK = 5
	}
	return &Grounder{data: data, retriever: retriever, topK: topK}, nil
}

// roleAccessLevels maps a user role onto the record access levels it may
// retrieve. Unknown roles see public records only.
func roleAccessLevels(role string) []string {
	switch role {
	case "admin":
		return []string{"public", "staff", "admin"}
	case "doctor", "staff":
		return []string{"public", "staff"}
	default:
		return []string{"public"}
	}
}

// Ground classifies the query, extracts entities, and retrieves the
// context the response will stand on. client_search, appointment_query and
// financial_query read the structured datastore; everything else goes
// through hybrid knowledge retrieval. A datastore failure degrades to
// knowledge retrieval rather than failing the query.
func (g *Grounder) Ground(ctx context.Context, q Query) (Grounding, error) {
	intent := ClassifyIntent(q.Content)
	ents := ExtractEntities(q.Content, intent)
	out := Grounding{Intent: intent, Entities: ents, Results: make(map[string]any)}

	var err error
	switch intent {
	case IntentClientSearch:
		err = g.groundClients(ctx, q, &out)
	case IntentAppointmentQuery:
		err = g.groundAppointments(ctx, q, &out)
	case IntentFinancialQuery:
		err = g.groundFinancial(ctx, q, &out)
	}
	if err != nil {
		logging.FromContext(ctx).Warn("structured grounding failed, degrading to knowledge retrieval",
			slog.String("intent", string(intent)),
			slog.Any("error", err),
		)
	}

	if out.Structured && !out.Empty() {
		return out, nil
	}
	return out, g.groundKnowledge(ctx, q, &out)
}

// groundClients renders client rows matching the extracted name or CPF.
func (g *Grounder) groundClients(ctx context.Context, q Query, out *Grounding) error {
	term := q.Content
	if len(out.Entities.Names) > 0 {
		term = out.Entities.Names[0]
	}
	if out.Entities.CPF != "" {
		term = out.Entities.CPF
	}

	clients, err := g.data.SearchClients(ctx, q.TenantID, term, g.topK)
	if err != nil {
		return err
	}

	out.Structured = true
	for _, c := range clients {
		out.Snippets = append(out.Snippets, renderClient(c, q.Role))
	}
	if len(clients) > 0 {
		out.Sources = append(out.Sources, "clients")
		out.Results["clients"] = renderClientRows(clients, q.Role)
	}
	return nil
}

// groundAppointments renders upcoming appointments. Past and cancelled
// periods have no structured query; they fall through to the knowledge
// indexes, which also hold appointment history.
func (g *Grounder) groundAppointments(ctx context.Context, q Query, out *Grounding) error {
	if p := out.Entities.Period; p != "" && p != "upcoming" {
		return nil
	}

	var clientName string
	if len(out.Entities.Names) > 0 {
		clientName = out.Entities.Names[0]
	}

	appts, err := g.data.UpcomingAppointments(ctx, q.TenantID, clientName, time.Now(), g.topK)
	if err != nil {
		return err
	}

	out.Structured = true
	for _, a := range appts {
		out.Snippets = append(out.Snippets, renderAppointment(a))
	}
	if len(appts) > 0 {
		out.Sources = append(out.Sources, "appointments")
		out.Results["appointments"] = renderAppointmentRows(appts)
	}
	return nil
}

// groundFinancial renders financial entries matching the extracted status.
func (g *Grounder) groundFinancial(ctx context.Context, q Query, out *Grounding) error {
	var clientName string
	if len(out.Entities.Names) > 0 {
		clientName = out.Entities.Names[0]
	}

	recs, err := g.data.FinancialRecords(ctx, q.TenantID, clientName, out.Entities.PaymentStatus, g.topK)
	if err != nil {
		return err
	}

	out.Structured = true
	for _, f := range recs {
		out.Snippets = append(out.Snippets, renderFinancial(f))
	}
	if len(recs) > 0 {
		out.Sources = append(out.Sources, "financial_records")
		out.Results["financial_records"] = renderFinancialRows(recs)
	}
	return nil
}

// groundKnowledge runs hybrid retrieval over the knowledge indexes. The
// query is prefixed with the intent vocabulary so domain terms steer the
// keyword path even when the user phrased the question loosely.
func (g *Grounder) groundKnowledge(ctx context.Context, q Query, out *Grounding) error {
	searchQuery := q.Content
	if out.Intent != IntentGeneral {
		searchQuery = strings.ReplaceAll(string(out.Intent), "_", " ") + " " + q.Content
	}

	results, err := g.retriever.Retrieve(ctx, searchQuery, rag.Filter{
		TenantID:     q.TenantID,
		AccessLevels: roleAccessLevels(q.Role),
	}, g.topK)
	if err != nil {
		return fmt.Errorf("assistant: knowledge retrieval: %w", err)
	}

	for _, res := range results {
		out.Snippets = append(out.Snippets, ScrubPII(res.Record.Content, q.Role))
		if res.Record.Source != "" {
			out.Sources = append(out.Sources, res.Record.Source)
		}
	}
	return nil
}

// renderClient formats one client row for the prompt, masked for the role.
func renderClient(c clinic.Client, role string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cliente: %s", c.Name)
	if c.CPF != "" {
		fmt.Fprintf(&b, " | CPF: %s", MaskCPFForRole(c.CPF, role))
	}
	if c.Phone != "" {
		fmt.Fprintf(&b, " | Telefone: %s", MaskPhoneForRole(c.Phone, role))
	}
	if c.Email != "" {
		fmt.Fprintf(&b, " | Email: %s", MaskEmailForRole(c.Email, role))
	}
	if !c.LastVisit.IsZero() {
		fmt.Fprintf(&b, " | Última visita: %s", c.LastVisit.Format("02/01/2006"))
	}
	return b.String()
}

// renderClientRows builds the structured rows the client UI renders.
func renderClientRows(clients []clinic.Client, role string) []map[string]string {
	rows := make([]map[string]string, 0, len(clients))
	for _, c := range clients {
		rows = append(rows, map[string]string{
			"name":  c.Name,
			"cpf":   MaskCPFForRole(c.CPF, role),
			"phone": MaskPhoneForRole(c.Phone, role),
			"email": MaskEmailForRole(c.Email, role),
		})
	}
	return rows
}

// renderAppointment formats one appointment for the prompt.
func renderAppointment(a clinic.Appointment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Agendamento: %s — %s em %s", a.ClientName, a.Procedure, a.ScheduledAt.Format("02/01/2006 15:04"))
	if a.Professional != "" {
		fmt.Fprintf(&b, " com %s", a.Professional)
	}
	return b.String()
}

func renderAppointmentRows(appts []clinic.Appointment) []map[string]string {
	rows := make([]map[string]string, 0, len(appts))
	for _, a := range appts {
		rows = append(rows, map[string]string{
			"client":       a.ClientName,
			"procedure":    a.Procedure,
			"scheduled_at": a.ScheduledAt.Format(time.RFC3339),
			"professional": a.Professional,
		})
	}
	return rows
}

// renderFinancial formats one financial entry for the prompt. Amounts are
// centavos rendered as reais.
func renderFinancial(f clinic.FinancialRecord) string {
	return fmt.Sprintf("Financeiro: %s — %s, R$ %d,%02d (%s), vencimento %s",
		f.ClientName, f.Description,
		f.AmountCents/100, f.AmountCents%100,
		f.Status, f.DueDate.Format("02/01/2006"),
	)
}

func renderFinancialRows(recs []clinic.FinancialRecord) []map[string]string {
	rows := make([]map[string]string, 0, len(recs))
	for _, f := range recs {
		rows = append(rows, map[string]string{
			"client":      f.ClientName,
			"description": f.Description,
			"amount":      fmt.Sprintf("R$ %d,%02d", f.AmountCents/100, f.AmountCents%100),
			"status":      f.Status,
			"due_date":    f.DueDate.Format(time.RFC3339),
		})
	}
	return rows
}
