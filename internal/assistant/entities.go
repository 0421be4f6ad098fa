package assistant

import (
	"regexp"
	"strings"
)

// Entities are the structured fragments extracted from a user query. All
// fields are optional; extraction never fails, it just finds less.
type Entities struct {
	// Names are capitalized first+last name pairs found in the query.
	Names []string

	// CPF is the first Brazilian taxpayer id found, punctuation included
	// as typed.
	CPF string

	// Dates are dd/mm/yyyy occurrences, as typed.
	Dates []string

	// Period narrows appointment queries: upcoming, past or cancelled.
	Period string

	// PaymentStatus narrows financial queries: pending or paid.
	PaymentStatus string
}

var (
	// namePattern matches two adjacent capitalized words, accented
	// letters included (João Souza, María Oliveira).
	namePattern = regexp.MustCompile(`\p{Lu}\p{Ll}+ \p{Lu}\p{Ll}+`)

	// cpfPattern matches a CPF with or without punctuation.
	cpfPattern = regexp.MustCompile(`\d{3}\.?\d{3}\.?\d{3}-?\d{2}`)

	// datePattern matches Brazilian dd/mm/yyyy dates.
	datePattern = regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{4}`)
)

// periodTerms and statusTerms narrow intent-specific entities the same way
// intent classification works: first lowercase substring match wins.
var periodTerms = []struct {
	period string
	terms  []string
}{
	{"upcoming", []string{"próxima", "próximo", "futura", "futuro", "agenda"}},
	{"past", []string{"passada", "passado", "anterior", "histórico"}},
	{"cancelled", []string{"cancelada", "cancelado"}},
}

var statusTerms = []struct {
	status string
	terms  []string
}{
	{"pending", []string{"pendente", "aberto"}},
	{"paid", []string{"pago", "liquidado", "pagamento"}},
}

// ExtractEntities pulls names, documents, dates and intent-specific
// qualifiers out of a user query.
func ExtractEntities(query string, intent Intent) Entities {
	var e Entities

	e.Names = namePattern.FindAllString(query, -1)
	e.CPF = cpfPattern.FindString(query)
	e.Dates = datePattern.FindAllString(query, -1)

	lower := strings.ToLower(query)
	switch intent {
	case IntentAppointmentQuery, IntentScheduleManagement:
		for _, group := range periodTerms {
			if containsAny(lower, group.terms) {
				e.Period = group.period
				break
			}
		}
	case IntentFinancialQuery:
		for _, group := range statusTerms {
			if containsAny(lower, group.terms) {
				e.PaymentStatus = group.status
				break
			}
		}
	}

	return e
}

// containsAny reports whether s contains any of the terms.
func containsAny(s string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(s, term) {
			return true
		}
	}
	return false
}
