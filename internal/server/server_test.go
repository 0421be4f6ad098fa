package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/clinvia/assist/internal/audit"
	"github.com/clinvia/assist/internal/protocol"
	"github.com/clinvia/assist/internal/store"
)

// testMasterKey seeds per-session ciphers in tests.
var testMasterKey = bytes.Repeat([]byte{0x42}, 32)

// echoResponder answers every turn with an echo of the query, standing in
// for the retrieval+generation pipeline.
type echoResponder struct{}

func (echoResponder) Respond(_ context.Context, req protocol.Request) (protocol.Reply, error) {
	return protocol.Reply{Content: "echo: " + req.Content, Intent: "general"}, nil
}

// newTestServer builds a Server over a real engine, an in-memory session
// store, and the echo responder, mounted on an httptest.Server. mut can
// adjust both configs before construction.
func newTestServer(t *testing.T, mut func(*protocol.Config, *Config)) (*Server, *httptest.Server) {
	t.Helper()

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open session store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	engCfg := protocol.Config{
		MasterKey: testMasterKey,
		// Keep heartbeats out of the way so reads see only responses.
		HeartbeatInterval: time.Hour,
	}
	srvCfg := &Config{Logger: log, AdminToken: "sesame"}
	if mut != nil {
		mut(&engCfg, srvCfg)
	}

	eng, err := protocol.NewEngine(engCfg, protocol.NewRegistry(), st, echoResponder{}, log)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	srv, err := New(eng, srvCfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(srv.stopRL)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

// openResponse decrypts an encrypted response event with the cipher derived
// for its session.
func openResponse(t *testing.T, ev protocol.Event) protocol.ResponsePayload {
	t.Helper()

	if !ev.Encrypted {
		t.Fatalf("response event is not encrypted")
	}
	cipher, err := protocol.NewCipher(testMasterKey, ev.SessionID)
	if err != nil {
		t.Fatalf("derive cipher: %v", err)
	}
	var sealed string
	if err := json.Unmarshal(ev.Data, &sealed); err != nil {
		t.Fatalf("encrypted data is not a string: %v", err)
	}
	plain, err := cipher.Open(sealed)
	if err != nil {
		t.Fatalf("open payload: %v", err)
	}
	var rp protocol.ResponsePayload
	if err := json.Unmarshal(plain, &rp); err != nil {
		t.Fatalf("decode response payload: %v", err)
	}
	return rp
}

func TestHealth(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestReadyReportsFailedProbe(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, func(_ *protocol.Config, cfg *Config) {
		cfg.Pingers = []Pinger{
			NamedPinger{Label: "session-store", Probe: func(context.Context) error { return nil }},
			NamedPinger{Label: "qdrant", Probe: func(context.Context) error {
				return context.DeadlineExceeded
			}},
		}
	})

	resp, err := http.Get(ts.URL + "/api/ready")
	if err != nil {
		t.Fatalf("get ready: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	var body readyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Ready {
		t.Error("expected ready=false")
	}
	if len(body.Checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(body.Checks))
	}
	if !body.Checks[0].OK || body.Checks[1].OK {
		t.Errorf("unexpected check results: %+v", body.Checks)
	}
	if body.Checks[1].Name != "qdrant" || body.Checks[1].Error == "" {
		t.Errorf("failed check should carry name and error, got %+v", body.Checks[1])
	}
}

func TestEventFallbackAnswersOneMessage(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, nil)

	ev, err := protocol.NewEvent(protocol.EventMessage, "", "", protocol.MessagePayload{
		Message: protocol.MessageBody{Content: "olá"},
	})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	frame, _ := json.Marshal(ev)
	body, _ := json.Marshal(eventRequest{UserID: "dr-ana", Event: frame})

	resp, err := http.Post(ts.URL+"/api/event", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post event: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out protocol.Event
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if out.Type != protocol.EventResponse {
		t.Fatalf("expected response event, got %q", out.Type)
	}
	rp := openResponse(t, out)
	if rp.Message.Content != "echo: olá" {
		t.Errorf("unexpected reply %q", rp.Message.Content)
	}
}

func TestEventFallbackReturnsErrorEvent(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, nil)

	frame := []byte(`{"type":"bogus","data":{}}`)
	body, _ := json.Marshal(eventRequest{UserID: "dr-ana", Event: frame})

	resp, err := http.Post(ts.URL+"/api/event", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post event: %v", err)
	}
	defer resp.Body.Close()

	var out protocol.Event
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if out.Type != protocol.EventError {
		t.Fatalf("expected error event, got %q", out.Type)
	}
	var ep protocol.ErrorPayload
	if err := json.Unmarshal(out.Data, &ep); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if ep.Code != protocol.CodeInvalidEventType {
		t.Errorf("expected %s, got %s", protocol.CodeInvalidEventType, ep.Code)
	}
}

func TestEventFallbackRequiresUser(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, nil)

	body := []byte(`{"event":{"type":"heartbeat"}}`)
	resp, err := http.Post(ts.URL+"/api/event", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post event: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
}

func TestAdminSessionsRequiresToken(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/admin/sessions")
	if err != nil {
		t.Fatalf("get sessions: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/admin/sessions", nil)
	req.Header.Set("Authorization", "Bearer sesame")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get sessions with token: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.StatusCode)
	}

	var body sessionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Count != 0 {
		t.Errorf("expected 0 sessions, got %d", body.Count)
	}
}

func TestAdminSurfaceHiddenWithoutToken(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, func(_ *protocol.Config, cfg *Config) {
		cfg.AdminToken = ""
	})

	resp, err := http.Get(ts.URL + "/api/admin/sessions")
	if err != nil {
		t.Fatalf("get sessions: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 when admin disabled, got %d", resp.StatusCode)
	}
}

func TestAdminCleanup(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, nil)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/admin/cleanup",
		strings.NewReader(`{"max_idle_minutes":1}`))
	req.Header.Set("Authorization", "Bearer sesame")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post cleanup: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["swept"] != 0 {
		t.Errorf("expected 0 swept with no sessions, got %d", body["swept"])
	}
}

func TestAdminSyncUnconfigured(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, nil)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/admin/sync",
		strings.NewReader(`{"tenant_id":"clinic-1"}`))
	req.Header.Set("Authorization", "Bearer sesame")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post sync: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when ingestion not wired, got %d", resp.StatusCode)
	}
}

func TestAdminAuditUnconfigured(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, nil)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/admin/audit?tenant_id=clinic-1", nil)
	req.Header.Set("Authorization", "Bearer sesame")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get audit: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when audit not wired, got %d", resp.StatusCode)
	}
}

func TestAdminAuditReturnsRecentEntries(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	auditor, err := audit.Open(":memory:", log)
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	t.Cleanup(func() { auditor.Close() })

	err = auditor.Record(context.Background(), audit.Entry{
		SessionID:     "s-1",
		UserID:        "dr-ana",
		TenantID:      "clinic-1",
		Intent:        "client_search",
		Sources:       []string{"clients"},
		QueryChars:    24,
		ResponseChars: 180,
		Masked:        true,
	})
	if err != nil {
		t.Fatalf("record entry: %v", err)
	}

	_, ts := newTestServer(t, func(_ *protocol.Config, sc *Config) {
		sc.Audit = auditor
	})

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/admin/audit?tenant_id=clinic-1", nil)
	req.Header.Set("Authorization", "Bearer sesame")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get audit: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Count   int           `json:"count"`
		Entries []audit.Entry `json:"entries"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Count != 1 || len(body.Entries) != 1 {
		t.Fatalf("expected exactly one entry, got count=%d len=%d", body.Count, len(body.Entries))
	}
	got := body.Entries[0]
	if got.UserID != "dr-ana" || got.Intent != "client_search" || !got.Masked {
		t.Errorf("unexpected entry: %+v", got)
	}
	if got.QueryChars != 24 || got.ResponseChars != 180 {
		t.Errorf("lengths not preserved: %+v", got)
	}
}

func TestAdminAuditRequiresTenant(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	auditor, err := audit.Open(":memory:", log)
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	t.Cleanup(func() { auditor.Close() })

	_, ts := newTestServer(t, func(_ *protocol.Config, sc *Config) {
		sc.Audit = auditor
	})

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/admin/audit", nil)
	req.Header.Set("Authorization", "Bearer sesame")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get audit: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 without tenant_id, got %d", resp.StatusCode)
	}
}
