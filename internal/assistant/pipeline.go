package assistant

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"

	"github.com/clinvia/assist/internal/audit"
	"github.com/clinvia/assist/internal/logging"
	"github.com/clinvia/assist/internal/protocol"
)

// Templated replies for the paths where calling the model would add
// nothing or is impossible.
const (
	// clarificationReply answers queries grounding found nothing for.
	clarificationReply = "Desculpe, não entendi sua pergunta. Por favor, tente perguntar sobre pacientes, agendamentos ou dados financeiros."

	// noRecordsReply answers structured queries that matched no rows.
	noRecordsReply = "Não encontrei registros para a sua consulta. Verifique o nome ou o período e tente novamente."

	// apologyReply answers queries the model failed to respond to.
	apologyReply = "Desculpe, ocorreu um erro ao processar sua solicitação. Por favor, tente novamente."
)

// Identity is the resolved tenancy and clearance of one user.
type Identity struct {
	TenantID string
	Role     string
}

// IdentityResolver maps an authenticated user id to its tenant and role.
// The server wires this to its user directory.
type IdentityResolver interface {
	Resolve(ctx context.Context, userID string) (Identity, error)
}

// StaticIdentities is an IdentityResolver backed by a fixed map, used for
// single-clinic deployments and tests.
type StaticIdentities struct {
	// Default is returned for users missing from Users. A zero Default
	// makes unknown users an error.
	Default Identity
	Users   map[string]Identity
}

// Resolve implements IdentityResolver.
func (s StaticIdentities) Resolve(_ context.Context, userID string) (Identity, error) {
	if id, ok := s.Users[userID]; ok {
		return id, nil
	}
	if s.Default.TenantID != "" {
		return s.Default, nil
	}
	return Identity{}, fmt.Errorf("assistant: unknown user %q", userID)
}

// Pipeline implements protocol.Responder: classify, extract, ground,
// assemble, generate, scrub. Model failures never propagate as errors —
// the caller gets a templated apology with a retry affordance, keeping the
// conversation alive.
type Pipeline struct {
	grounder  *Grounder
	chat      model.ToolCallingChatModel
	identity  IdentityResolver
	auditor   *audit.Logger
	maxTokens int
}

// NewPipeline constructs a Pipeline. auditor may be nil to disable the
// audit trail (tests); everything else is required.
func NewPipeline(grounder *Grounder, chat model.ToolCallingChatModel, identity IdentityResolver, auditor *audit.Logger, maxContextTokens int) (*Pipeline, error) {
	if grounder == nil {
		return nil, fmt.Errorf("assistant: grounder must not be nil")
	}
	if chat == nil {
		return nil, fmt.Errorf("assistant: chat model must not be nil")
	}
	if identity == nil {
		return nil, fmt.Errorf("assistant: identity resolver must not be nil")
	}
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Pipeline{
		grounder:  grounder,
		chat:      chat,
		identity:  identity,
		auditor:   auditor,
		maxTokens: maxContextTokens,
	}, nil
}

// Respond produces the assistant's reply for one user turn.
func (p *Pipeline) Respond(ctx context.Context, req protocol.Request) (protocol.Reply, error) {
	log := logging.FromContext(ctx)

	id, err := p.identity.Resolve(ctx, req.UserID)
	if err != nil {
		return protocol.Reply{}, err
	}

	q := Query{
		TenantID:  id.TenantID,
		UserID:    req.UserID,
		Role:      id.Role,
		PatientID: req.PatientID,
		Content:   req.Content,
	}

	grounding, err := p.grounder.Ground(ctx, q)
	if err != nil {
		// Retrieval is fully down; answer with the apology rather than
		// killing the turn.
		log.Error("grounding failed", slog.Any("error", err))
		return p.finish(ctx, req.SessionID, q, grounding, apologyReply, retryAction()), nil
	}

	if grounding.Empty() {
		reply := clarificationReply
		if grounding.Structured {
			reply = noRecordsReply
		}
		return p.finish(ctx, req.SessionID, q, grounding, reply, nil), nil
	}

	msgs := buildMessages(q, grounding, req.History, p.maxTokens)
	resp, err := p.chat.Generate(ctx, msgs)
	if err != nil {
		log.Error("generation failed",
			slog.String("intent", string(grounding.Intent)),
			slog.Any("error", err),
		)
		return p.finish(ctx, req.SessionID, q, grounding, apologyReply, retryAction()), nil
	}

	content := ScrubPII(resp.Content, q.Role)
	return p.finish(ctx, req.SessionID, q, grounding, content, suggestedActions(grounding.Intent)), nil
}

// finish assembles the Reply and writes the audit entry.
func (p *Pipeline) finish(ctx context.Context, sessionID string, q Query, g Grounding, content string, actions []protocol.Action) protocol.Reply {
	reply := protocol.Reply{
		Content: content,
		Intent:  string(g.Intent),
		Actions: actions,
	}
	if len(g.Results) > 0 {
		reply.Context = make(map[string]any, len(g.Results))
		for k, v := range g.Results {
			reply.Context[k] = v
		}
	}

	if p.auditor != nil {
		err := p.auditor.Record(ctx, audit.Entry{
			SessionID:     sessionID,
			UserID:        q.UserID,
			TenantID:      q.TenantID,
			PatientID:     q.PatientID,
			Intent:        string(g.Intent),
			Sources:       g.Sources,
			QueryChars:    len(q.Content),
			ResponseChars: len(content),
			Masked:        !Unmasked(q.Role),
		})
		if err != nil {
			logging.FromContext(ctx).Warn("audit record failed", slog.Any("error", err))
		}
	}
	return reply
}

// retryAction is the affordance attached to apology replies.
func retryAction() []protocol.Action {
	return []protocol.Action{{Type: "retry", Label: "Tentar novamente"}}
}

// suggestedActions maps intents to follow-up affordances for the client.
func suggestedActions(intent Intent) []protocol.Action {
	switch intent {
	case IntentAppointmentQuery, IntentScheduleManagement:
		return []protocol.Action{{Type: "navigate_to", Label: "Abrir agenda", Target: "/schedule"}}
	case IntentFinancialQuery:
		return []protocol.Action{{Type: "navigate_to", Label: "Abrir financeiro", Target: "/financial"}}
	case IntentReportGeneration:
		return []protocol.Action{{Type: "export_data", Label: "Exportar relatório", Target: "report"}}
	default:
		return nil
	}
}
