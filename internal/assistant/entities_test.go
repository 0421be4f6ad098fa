package assistant

import (
	"reflect"
	"testing"
)

func TestExtractEntitiesNames(t *testing.T) {
	cases := []struct {
		query string
		want  []string
	}{
		{"buscar paciente Maria Silva", []string{"Maria Silva"}},
		{"agendar João Souza e Ana Paula", []string{"João Souza", "Ana Paula"}},
		{"buscar maria silva", nil}, // lowercase is not a name
		{"procurar o cliente", nil}, // no name at all
		{"buscar Maria", nil},       // a single capitalized word is ambiguous
	}
	for _, tc := range cases {
		got := ExtractEntities(tc.query, IntentClientSearch).Names
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("Names(%q) = %v, want %v", tc.query, got, tc.want)
		}
	}
}

func TestExtractEntitiesCPFAndDates(t *testing.T) {
	e := ExtractEntities("fatura do CPF 123.456.789-00 vencida em 15/03/2026", IntentFinancialQuery)
	if e.CPF != "123.456.789-00" {
		t.Errorf("CPF = %q, want punctuated form preserved", e.CPF)
	}
	if !reflect.DeepEqual(e.Dates, []string{"15/03/2026"}) {
		t.Errorf("Dates = %v", e.Dates)
	}

	e = ExtractEntities("cliente 12345678900", IntentClientSearch)
	if e.CPF != "12345678900" {
		t.Errorf("bare CPF = %q", e.CPF)
	}

	e = ExtractEntities("consulta em 1/2/2026", IntentAppointmentQuery)
	if !reflect.DeepEqual(e.Dates, []string{"1/2/2026"}) {
		t.Errorf("short date = %v", e.Dates)
	}
}

func TestExtractEntitiesPeriod(t *testing.T) {
	cases := []struct {
		query  string
		intent Intent
		want   string
	}{
		{"próximas consultas de Maria", IntentAppointmentQuery, "upcoming"},
		{"consultas passadas", IntentAppointmentQuery, "past"},
		{"histórico de consultas", IntentAppointmentQuery, "past"},
		{"consulta cancelada ontem", IntentAppointmentQuery, "cancelled"},
		{"minha agenda", IntentScheduleManagement, "upcoming"},
		{"consultas de Maria", IntentAppointmentQuery, ""},
		// Period is only extracted for appointment intents.
		{"próximo pagamento", IntentFinancialQuery, ""},
	}
	for _, tc := range cases {
		if got := ExtractEntities(tc.query, tc.intent).Period; got != tc.want {
			t.Errorf("Period(%q, %s) = %q, want %q", tc.query, tc.intent, got, tc.want)
		}
	}
}

func TestExtractEntitiesPaymentStatus(t *testing.T) {
	cases := []struct {
		query  string
		intent Intent
		want   string
	}{
		{"faturas pendentes", IntentFinancialQuery, "pending"},
		{"valores em aberto", IntentFinancialQuery, "pending"},
		{"o que já foi pago", IntentFinancialQuery, "paid"},
		{"fatura de Maria", IntentFinancialQuery, ""},
		// Status is only extracted for financial queries.
		{"consulta pendente", IntentAppointmentQuery, ""},
	}
	for _, tc := range cases {
		if got := ExtractEntities(tc.query, tc.intent).PaymentStatus; got != tc.want {
			t.Errorf("PaymentStatus(%q, %s) = %q, want %q", tc.query, tc.intent, got, tc.want)
		}
	}
}
