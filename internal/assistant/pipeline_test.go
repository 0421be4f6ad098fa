package assistant

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/clinvia/assist/internal/audit"
	"github.com/clinvia/assist/internal/clinic"
	"github.com/clinvia/assist/internal/protocol"
)

// fakeChatModel returns a canned reply and records the prompt it saw.
type fakeChatModel struct {
	reply string
	err   error

	gotMessages []*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, in []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.gotMessages = in
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming not supported")
}

func (f *fakeChatModel) WithTools([]*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return f, nil
}

func testIdentities() StaticIdentities {
	return StaticIdentities{
		Default: Identity{TenantID: "clinic-1", Role: "staff"},
		Users: map[string]Identity{
			"dr-ana": {TenantID: "clinic-1", Role: "doctor"},
		},
	}
}

func newTestPipeline(t *testing.T, data *fakeDatastore, ret *fakeRetriever, chat *fakeChatModel) *Pipeline {
	t.Helper()
	g, err := NewGrounder(data, ret, 5)
	if err != nil {
		t.Fatal(err)
	}
	p, err := NewPipeline(g, chat, testIdentities(), nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestPipelineRespondSurfacesIntentAndActions(t *testing.T) {
	data := &fakeDatastore{appointments: []clinic.Appointment{{
		ClientName: "Maria Silva",
		Procedure:  "Limpeza de pele",
	}}}
	chat := &fakeChatModel{reply: "Maria Silva tem uma limpeza de pele agendada."}
	p := newTestPipeline(t, data, &fakeRetriever{}, chat)

	reply, err := p.Respond(context.Background(), protocol.Request{
		SessionID: "s1",
		UserID:    "u1",
		Content:   "Quais são os próximos agendamentos?",
	})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Intent != "appointment_query" {
		t.Errorf("Intent = %q", reply.Intent)
	}
	if reply.Content != chat.reply {
		t.Errorf("Content = %q", reply.Content)
	}
	if len(reply.Actions) != 1 || reply.Actions[0].Type != "navigate_to" || reply.Actions[0].Target != "/schedule" {
		t.Errorf("Actions = %+v", reply.Actions)
	}
	if _, ok := reply.Context["appointments"]; !ok {
		t.Error("Context missing structured appointment rows")
	}
}

func TestPipelinePromptCarriesComplianceAndContext(t *testing.T) {
	data := &fakeDatastore{clients: []clinic.Client{{Name: "Maria Silva"}}}
	chat := &fakeChatModel{reply: "ok"}
	p := newTestPipeline(t, data, &fakeRetriever{}, chat)

	_, err := p.Respond(context.Background(), protocol.Request{
		SessionID: "s1",
		UserID:    "u1",
		PatientID: "pat-9",
		Content:   "buscar paciente Maria Silva",
		History: []protocol.Turn{
			{Query: "bom dia", Response: "Bom dia! Como posso ajudar?"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	msgs := chat.gotMessages
	if len(msgs) != 6 {
		t.Fatalf("got %d messages, want system, compliance, 2 history, context, query", len(msgs))
	}
	if msgs[0].Role != schema.System || !strings.Contains(msgs[0].Content, "assistente virtual") {
		t.Errorf("first message is not the persona prompt: %+v", msgs[0])
	}
	if !strings.Contains(msgs[1].Content, "LGPD") || !strings.Contains(msgs[1].Content, "pat-9") {
		t.Errorf("compliance message = %q", msgs[1].Content)
	}
	if msgs[2].Role != schema.User || msgs[2].Content != "bom dia" {
		t.Errorf("history user turn = %+v", msgs[2])
	}
	if msgs[3].Role != schema.Assistant {
		t.Errorf("history assistant turn = %+v", msgs[3])
	}
	if !strings.Contains(msgs[4].Content, "Contexto relevante") || !strings.Contains(msgs[4].Content, "Maria Silva") {
		t.Errorf("grounding message = %q", msgs[4].Content)
	}
	if msgs[5].Role != schema.User || msgs[5].Content != "buscar paciente Maria Silva" {
		t.Errorf("final message = %+v", msgs[5])
	}
}

func TestPipelineClarifiesWhenNothingFound(t *testing.T) {
	chat := &fakeChatModel{reply: "should not be called"}
	p := newTestPipeline(t, &fakeDatastore{}, &fakeRetriever{}, chat)

	reply, err := p.Respond(context.Background(), protocol.Request{
		SessionID: "s1", UserID: "u1", Content: "hmm",
	})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Content != clarificationReply {
		t.Errorf("Content = %q", reply.Content)
	}
	if chat.gotMessages != nil {
		t.Error("model should not run without grounding")
	}
}

func TestPipelineReportsNoRecordsForStructuredMiss(t *testing.T) {
	p := newTestPipeline(t, &fakeDatastore{}, &fakeRetriever{}, &fakeChatModel{reply: "x"})

	reply, err := p.Respond(context.Background(), protocol.Request{
		SessionID: "s1", UserID: "u1", Content: "buscar paciente Maria Silva",
	})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Content != noRecordsReply {
		t.Errorf("Content = %q", reply.Content)
	}
}

func TestPipelineApologizesOnModelFailure(t *testing.T) {
	data := &fakeDatastore{clients: []clinic.Client{{Name: "Maria Silva"}}}
	chat := &fakeChatModel{err: errors.New("rate limited")}
	p := newTestPipeline(t, data, &fakeRetriever{}, chat)

	reply, err := p.Respond(context.Background(), protocol.Request{
		SessionID: "s1", UserID: "u1", Content: "buscar paciente Maria Silva",
	})
	if err != nil {
		t.Fatal("model failure must not propagate:", err)
	}
	if reply.Content != apologyReply {
		t.Errorf("Content = %q", reply.Content)
	}
	if len(reply.Actions) != 1 || reply.Actions[0].Type != "retry" {
		t.Errorf("Actions = %+v, want a retry affordance", reply.Actions)
	}
}

func TestPipelineApologizesWhenRetrievalIsDown(t *testing.T) {
	data := &fakeDatastore{err: errors.New("disk gone")}
	ret := &fakeRetriever{err: errors.New("qdrant down")}
	p := newTestPipeline(t, data, ret, &fakeChatModel{reply: "x"})

	reply, err := p.Respond(context.Background(), protocol.Request{
		SessionID: "s1", UserID: "u1", Content: "buscar paciente Maria Silva",
	})
	if err != nil {
		t.Fatal("retrieval failure must not propagate:", err)
	}
	if reply.Content != apologyReply {
		t.Errorf("Content = %q", reply.Content)
	}
}

func TestPipelineScrubsModelOutput(t *testing.T) {
	data := &fakeDatastore{clients: []clinic.Client{{Name: "Maria Silva"}}}
	chat := &fakeChatModel{reply: "O CPF de Maria é 123.456.789-00 e o email maria@example.com"}
	p := newTestPipeline(t, data, &fakeRetriever{}, chat)

	reply, err := p.Respond(context.Background(), protocol.Request{
		SessionID: "s1", UserID: "u1", Content: "buscar paciente Maria Silva",
	})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(reply.Content, "123.456.789-00") || strings.Contains(reply.Content, "maria@example.com") {
		t.Errorf("reply leaks personal data: %q", reply.Content)
	}

	// A doctor sees the reply untouched.
	reply, err = p.Respond(context.Background(), protocol.Request{
		SessionID: "s2", UserID: "dr-ana", Content: "buscar paciente Maria Silva",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(reply.Content, "123.456.789-00") {
		t.Errorf("doctor reply should be unmasked: %q", reply.Content)
	}
}

func TestPipelineUnknownUserWithoutDefault(t *testing.T) {
	g, _ := NewGrounder(&fakeDatastore{}, &fakeRetriever{}, 5)
	p, err := NewPipeline(g, &fakeChatModel{reply: "x"}, StaticIdentities{
		Users: map[string]Identity{"known": {TenantID: "clinic-1", Role: "staff"}},
	}, nil, 0)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := p.Respond(context.Background(), protocol.Request{UserID: "stranger", Content: "oi"}); err == nil {
		t.Fatal("expected error for unknown user without a default identity")
	}
}

func TestPipelineWritesAuditTrail(t *testing.T) {
	auditor, err := audit.Open(":memory:", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer auditor.Close()

	data := &fakeDatastore{clients: []clinic.Client{{Name: "Maria Silva"}}}
	g, _ := NewGrounder(data, &fakeRetriever{}, 5)
	p, err := NewPipeline(g, &fakeChatModel{reply: "Encontrei Maria Silva."}, testIdentities(), auditor, 0)
	if err != nil {
		t.Fatal(err)
	}

	query := "buscar paciente Maria Silva"
	if _, err := p.Respond(context.Background(), protocol.Request{
		SessionID: "s1", UserID: "u1", Content: query,
	}); err != nil {
		t.Fatal(err)
	}

	entries, err := auditor.RecentByTenant(context.Background(), "clinic-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d audit entries", len(entries))
	}
	e := entries[0]
	if e.Intent != "client_search" || e.SessionID != "s1" || e.UserID != "u1" {
		t.Errorf("entry = %+v", e)
	}
	if e.QueryChars != len(query) {
		t.Errorf("QueryChars = %d, want %d", e.QueryChars, len(query))
	}
	if !e.Masked {
		t.Error("staff responses must be marked masked")
	}
}
