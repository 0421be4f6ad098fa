// Package assistant implements the query understanding and grounding
// pipeline behind every user message: intent classification, entity
// extraction, intent-directed retrieval, privacy-aware context assembly,
// and response generation through the configured chat model.
package assistant

import "strings"

// Intent is the classified purpose of a user query. It selects the
// grounding path (structured datastore vs. knowledge retrieval) and is
// surfaced to the client in response metadata.
type Intent string

const (
	IntentClientSearch       Intent = "client_search"
	IntentAppointmentQuery   Intent = "appointment_query"
	IntentFinancialQuery     Intent = "financial_query"
	IntentScheduleManagement Intent = "schedule_management"
	IntentReportGeneration   Intent = "report_generation"
	IntentGeneral            Intent = "general"
)

// intentTerms maps each intent to its trigger vocabulary. Matching is
// substring-based on the lowercased query, Portuguese first with English
// fallbacks since clinic staff mix both.
var intentTerms = []struct {
	intent Intent
	terms  []string
}{
	{IntentClientSearch, []string{
		"buscar", "procurar", "achar", "paciente", "cliente",
		"search", "find", "patient", "client",
	}},
	{IntentAppointmentQuery, []string{
		"consulta", "agendamento", "marcação", "compromisso",
		"appointment", "booking",
	}},
	{IntentFinancialQuery, []string{
		"financeiro", "pagamento", "fatura", "valor", "dinheiro",
		"financial", "payment", "invoice",
	}},
	{IntentScheduleManagement, []string{
		"agenda", "marcar", "cancelar", "remarcar",
		"schedule", "cancel", "reschedule",
	}},
	{IntentReportGeneration, []string{
		"relatório", "relatorio", "resumo",
		"report", "summary",
	}},
}

// ClassifyIntent returns the intent of a user query. The term groups are
// checked in a fixed priority order and the first match wins, so a query
// naming both a patient and an appointment resolves to client_search.
// Queries matching nothing are general and go through knowledge retrieval.
func ClassifyIntent(query string) Intent {
	lower := strings.ToLower(query)
	for _, group := range intentTerms {
		for _, term := range group.terms {
			if strings.Contains(lower, term) {
				return group.intent
			}
		}
	}
	return IntentGeneral
}
