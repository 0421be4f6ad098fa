package assistant

import (
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/clinvia/assist/internal/protocol"
)

// systemPrompt is the fixed persona and guidance for every generation.
const systemPrompt = `Você é o assistente virtual de uma clínica de estética.
Seu papel é ajudar a equipe da clínica com informações sobre clientes,
agendamentos, financeiro e procedimentos.

Diretrizes:
- Responda em português, de forma clara e objetiva
- Priorize a privacidade dos clientes e a segurança dos dados
- Baseie as respostas apenas no contexto fornecido
- Se o contexto não for suficiente, peça mais detalhes
- Mantenha sempre um tom profissional`

// buildComplianceContext renders the data-handling constraints injected as
// a second system message on every generation.
func buildComplianceContext(q Query) string {
	parts := []string{
		"Requisitos de conformidade e segurança:",
		"- Todos os dados pessoais devem ser tratados conforme a LGPD",
		"- Nunca exponha dados sensíveis de clientes sem autorização",
		"- Mantenha a confidencialidade e a integridade dos dados",
		"- Siga as boas práticas de proteção de dados de saúde",
	}
	if q.PatientID != "" {
		parts = append(parts, fmt.Sprintf("- Acessando dados do paciente: %s", q.PatientID))
	}
	parts = append(parts,
		fmt.Sprintf("- Usuário: %s", q.UserID),
		fmt.Sprintf("- Data/hora: %s", time.Now().Format(time.RFC3339)),
	)
	return strings.Join(parts, "\n")
}

// buildMessages assembles the full message slice for one generation:
// system prompt, compliance context, grounding snippets, prior turns
// trimmed to the token budget, and the current query.
func buildMessages(q Query, g Grounding, history []protocol.Turn, maxTokens int) []*schema.Message {
	if maxTokens <= 0 {
		maxTokens = defaultMaxContextTokens
	}

	fixed := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.SystemMessage(buildComplianceContext(q)),
	}
	if !g.Empty() {
		var b strings.Builder
		b.WriteString("Contexto relevante:\n")
		for _, snippet := range g.Snippets {
			b.WriteString("- ")
			b.WriteString(snippet)
			b.WriteString("\n")
		}
		fixed = append(fixed, schema.SystemMessage(b.String()))
	}
	fixed = append(fixed, schema.UserMessage(q.Content))

	var historyMsgs []*schema.Message
	for _, turn := range history {
		historyMsgs = append(historyMsgs,
			schema.UserMessage(turn.Query),
			schema.AssistantMessage(turn.Response, nil),
		)
	}
	historyMsgs = trimHistory(fixed, historyMsgs, maxTokens)

	// Final order: system prompts, history, grounding, current query.
	out := make([]*schema.Message, 0, len(fixed)+len(historyMsgs))
	out = append(out, fixed[:2]...)
	out = append(out, historyMsgs...)
	out = append(out, fixed[2:]...)
	return out
}
