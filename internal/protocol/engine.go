package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Version is the protocol version announced in every connection event.
const Version = "1.0"

// Responder produces the assistant's reply for one user turn. The retrieval
// and generation pipeline implements this; the engine only sees the result.
// Implementations must be safe for concurrent use and honour ctx deadlines.
type Responder interface {
	Respond(ctx context.Context, req Request) (Reply, error)
}

// Request is one user turn handed to the Responder.
type Request struct {
	SessionID string
	UserID    string
	Content   string
	PatientID string
	Context   map[string]any
	History   []Turn
}

// Reply is the Responder's answer to one Request.
type Reply struct {
	// Content is the reply text.
	Content string

	// Intent is the classified intent of the originating query, surfaced
	// in response metadata.
	Intent string

	// Actions are client affordances to attach to the response.
	Actions []Action

	// Context carries structured results the client may render directly.
	Context map[string]any
}

// SessionRecord is the durable form of a session, persisted on update and
// close so conversations survive reconnects and restarts.
type SessionRecord struct {
	ID           string
	UserID       string
	State        State
	Context      map[string]any
	MessageCount int64
	CreatedAt    time.Time
	LastActivity time.Time
	ExpiresAt    time.Time
}

// SessionStore persists session records. Implementations must be safe for
// concurrent use.
type SessionStore interface {
	Save(ctx context.Context, rec SessionRecord) error
	Load(ctx context.Context, id string) (SessionRecord, bool, error)
	Delete(ctx context.Context, id string) error
}

// Handler processes one decoded event on one session. Handler errors are
// converted to error events at the dispatch boundary; they never close the
// connection.
type Handler func(ctx context.Context, s *Session, ev Event) error

// Config holds the engine's tunables. Zero values select the defaults.
type Config struct {
	// MaxConnections caps concurrently open sessions. Default 100.
	MaxConnections int

	// HeartbeatInterval is the period of the per-session liveness event.
	// Default 30s.
	HeartbeatInterval time.Duration

	// MaxIdle is the inactivity threshold after which a session is swept.
	// Default 30m.
	MaxIdle time.Duration

	// HistoryLimit caps the turns kept per session. Default 10.
	HistoryLimit int

	// RequestTimeout bounds one retrieval+generation pipeline call.
	// Default 30s.
	RequestTimeout time.Duration

	// Workers bounds pipeline calls in flight across all sessions, so a
	// slow model call on one connection cannot starve the others. Default 8.
	Workers int

	// MasterKey seeds per-session payload encryption keys. Required.
	MasterKey []byte
}

// withDefaults fills unset fields in place.
func (c *Config) withDefaults() {
	if c.MaxConnections <= 0 {
		c.MaxConnections = 100
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.MaxIdle <= 0 {
		c.MaxIdle = 30 * time.Minute
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 10
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 8
	}
}

// Engine owns the session registry and drives the protocol: it creates
// sessions, dispatches decoded events to handlers, runs heartbeats, sweeps
// idle sessions, and fans out broadcasts.
type Engine struct {
	cfg       Config
	registry  *Registry
	store     SessionStore
	responder Responder
	log       *slog.Logger

	// handlers is the fixed event routing table, built once at
	// construction. No runtime mutation.
	handlers map[EventType][]Handler

	// slots is the shared worker semaphore bounding pipeline calls.
	slots chan struct{}
}

// Option customises engine construction.
type Option func(*Engine)

// WithHandler appends an extra handler for the given event type. Handlers
// registered this way run after the defaults, in registration order.
func WithHandler(typ EventType, h Handler) Option {
	return func(e *Engine) {
		e.handlers[typ] = append(e.handlers[typ], h)
	}
}

// NewEngine constructs an Engine. registry, store and responder must not be
// nil; cfg.MasterKey must be set.
func NewEngine(cfg Config, registry *Registry, store SessionStore, responder Responder, log *slog.Logger, opts ...Option) (*Engine, error) {
	if registry == nil {
		return nil, fmt.Errorf("protocol: registry must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("protocol: session store must not be nil")
	}
	if responder == nil {
		return nil, fmt.Errorf("protocol: responder must not be nil")
	}
	if len(cfg.MasterKey) == 0 {
		return nil, fmt.Errorf("protocol: master key must not be empty")
	}
	if log == nil {
		log = slog.Default()
	}
	cfg.withDefaults()

	e := &Engine{
		cfg:       cfg,
		registry:  registry,
		store:     store,
		responder: responder,
		log:       log,
		handlers:  make(map[EventType][]Handler),
		slots:     make(chan struct{}, cfg.Workers),
	}

	// Default routing table. Extensions come in through options, so the
	// table is immutable once NewEngine returns.
	e.handlers[EventConnection] = []Handler{e.handleConnection}
	e.handlers[EventHeartbeat] = []Handler{e.handleHeartbeat}
	e.handlers[EventMessage] = []Handler{e.handleMessage}
	e.handlers[EventFeedback] = []Handler{e.handleFeedback}
	e.handlers[EventAction] = []Handler{e.handleAction}
	e.handlers[EventSessionUpdate] = []Handler{e.handleSessionUpdate}

	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Registry exposes the engine's session registry for read-side consumers
// (admin listing, metrics).
func (e *Engine) Registry() *Registry { return e.registry }

// CapacityReason is the close reason delivered to connections refused at
// the limit.
const CapacityReason = "maximum connections reached"

// CreateSession allocates a session for an authenticated connection,
// registers it, announces it to the peer, and starts its heartbeat task.
// Returns ErrAuthentication for an empty user id and ErrCapacity when the
// connection limit is reached; in both cases nothing is registered.
func (e *Engine) CreateSession(ctx context.Context, conn Conn, userID string) (*Session, error) {
	if userID == "" {
		return nil, ErrAuthentication
	}

	id := uuid.NewString()
	cipher, err := NewCipher(e.cfg.MasterKey, id)
	if err != nil {
		return nil, err
	}

	s := newSession(id, userID, conn, cipher, e.cfg.HistoryLimit)

	// The slot is reserved before the announcement: the limit check and
	// the registration happen in one registry critical section, so racing
	// handshakes cannot all slip below the limit together.
	if !e.registry.addIfBelow(s, e.cfg.MaxConnections) {
		return nil, ErrCapacity
	}

	ev, err := NewEvent(EventConnection, id, userID, ConnectionPayload{
		Status:          "connected",
		SessionID:       id,
		ProtocolVersion: Version,
		Encryption:      CipherName,
	})
	if err != nil {
		e.registry.remove(id)
		return nil, err
	}
	if err := s.SendEvent(ev); err != nil {
		e.registry.remove(id)
		return nil, err
	}

	e.startHeartbeat(s)
	e.persist(ctx, s)

	e.log.Info("session created",
		slog.String("session_id", id),
		slog.String("user_id", userID),
		slog.Int("active", e.registry.Len()),
	)
	return s, nil
}

// startHeartbeat launches the session's liveness goroutine. The goroutine
// owns nothing but a ticker and exits deterministically when the session
// closes — no dangling timers.
func (e *Engine) startHeartbeat(s *Session) {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancelHeartbeat = cancel
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(e.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.SendHeartbeat(); err != nil {
					e.log.Warn("heartbeat send failed",
						slog.String("session_id", s.ID),
						slog.Any("error", err),
					)
					return
				}
			}
		}
	}()
}

// HandleFrame decodes one inbound wire frame and dispatches it. Per-event
// failures are answered with error events on the same connection; only a
// transport-level send failure propagates to the caller, which should then
// disconnect the session.
func (e *Engine) HandleFrame(ctx context.Context, s *Session, frame []byte) error {
	ev, err := DecodeEvent(frame)
	if err != nil {
		return s.SendError(CodeInvalidFormat, "invalid JSON frame")
	}
	if !ev.Type.Valid() {
		return s.SendError(CodeInvalidEventType, fmt.Sprintf("unknown event type %q", ev.Type))
	}

	if ev.Encrypted && len(ev.Data) > 0 {
		plaintext, err := s.OpenPayload(ev.Data)
		if err != nil {
			e.log.Warn("payload decrypt failed",
				slog.String("session_id", s.ID),
				slog.Any("error", err),
			)
			return s.SendError(CodeDecryptFailed, "payload could not be decrypted")
		}
		ev.Data = plaintext
		ev.Encrypted = false
	}

	return e.dispatch(ctx, s, ev)
}

// dispatch routes one decoded event through the handler table. Handler
// errors become error events; the connection survives.
func (e *Engine) dispatch(ctx context.Context, s *Session, ev Event) error {
	s.Touch()

	for _, h := range e.handlers[ev.Type] {
		if err := h(ctx, s, ev); err != nil {
			e.log.Error("event handler failed",
				slog.String("session_id", s.ID),
				slog.String("event_type", string(ev.Type)),
				slog.Any("error", err),
			)
			if sendErr := s.SendError(CodeHandlerError, err.Error()); sendErr != nil {
				return sendErr
			}
		}
	}
	return nil
}

// handleConnection acknowledges the client's connection event and promotes
// the session to AUTHENTICATED.
func (e *Engine) handleConnection(_ context.Context, s *Session, _ Event) error {
	s.setState(StateAuthenticated)
	e.log.Info("session authenticated", slog.String("session_id", s.ID))
	return nil
}

// handleHeartbeat echoes the liveness signal back with the current count.
func (e *Engine) handleHeartbeat(_ context.Context, s *Session, _ Event) error {
	return s.SendHeartbeat()
}

// handleMessage runs the retrieval+generation pipeline for one user turn
// and emits exactly one response event. The pipeline call runs under a
// shared worker slot and a per-request timeout; the session's read loop
// waits for it, which is what guarantees per-connection FIFO ordering of
// responses.
func (e *Engine) handleMessage(ctx context.Context, s *Session, ev Event) error {
	payload, err := DecodePayload(ev)
	if err != nil {
		return err
	}
	msg, ok := payload.(MessagePayload)
	if !ok || msg.Message.Content == "" {
		return s.SendError(CodeInvalidFormat, "message event requires data.message.content")
	}

	// Re-attach durable context when the client resumes a prior session.
	if ev.SessionID != "" && ev.SessionID != s.ID {
		e.resume(ctx, s, ev.SessionID)
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	// Acquire a shared worker slot so pipeline concurrency stays bounded
	// across sessions. Heartbeats run on their own goroutine and are not
	// throttled here.
	select {
	case e.slots <- struct{}{}:
	case <-reqCtx.Done():
		return s.SendError(CodeGenerationFailed, "assistant is busy, please retry")
	}
	defer func() { <-e.slots }()

	reply, err := e.responder.Respond(reqCtx, Request{
		SessionID: s.ID,
		UserID:    s.UserID,
		Content:   msg.Message.Content,
		PatientID: msg.Message.PatientID,
		Context:   s.Context(),
		History:   s.History(),
	})
	if err != nil {
		e.log.Error("pipeline failed",
			slog.String("session_id", s.ID),
			slog.Any("error", err),
		)
		return s.SendError(CodeGenerationFailed, "could not produce a response, please retry")
	}

	resp, err := NewEvent(EventResponse, s.ID, s.UserID, ResponsePayload{
		Message: ResponseBody{
			ID:      uuid.NewString(),
			Content: reply.Content,
			Type:    "text",
			Actions: reply.Actions,
			Context: reply.Context,
		},
	})
	if err != nil {
		return err
	}
	if reply.Intent != "" {
		resp.Metadata = map[string]any{"intent": reply.Intent}
	}
	if err := s.SendEvent(resp); err != nil {
		return err
	}

	s.AppendTurn(msg.Message.Content, reply.Content)
	e.persist(ctx, s)
	return nil
}

// handleFeedback acknowledges a feedback event. Ratings are surfaced in
// the logs for offline analysis.
func (e *Engine) handleFeedback(_ context.Context, s *Session, ev Event) error {
	payload, _ := DecodePayload(ev)
	fb, _ := payload.(FeedbackPayload)
	e.log.Info("feedback received",
		slog.String("session_id", s.ID),
		slog.String("feedback_type", fb.FeedbackType),
	)

	ack, err := NewEvent(EventResponse, s.ID, s.UserID, ResponsePayload{
		Message: ResponseBody{ID: uuid.NewString(), Content: "Feedback recebido, obrigado.", Type: "acknowledgment"},
	})
	if err != nil {
		return err
	}
	return s.SendEvent(ack)
}

// handleAction acknowledges client action requests (export, navigation).
func (e *Engine) handleAction(_ context.Context, s *Session, ev Event) error {
	payload, _ := DecodePayload(ev)
	act, _ := payload.(ActionPayload)

	switch act.ActionType {
	case "export_data", "navigate_to":
		ack, err := NewEvent(EventAction, s.ID, s.UserID, map[string]any{
			"action_type": act.ActionType,
			"target":      act.Target,
			"status":      "success",
		})
		if err != nil {
			return err
		}
		return s.SendEvent(ack)
	default:
		return s.SendError(CodeInvalidFormat, fmt.Sprintf("unknown action type %q", act.ActionType))
	}
}

// handleSessionUpdate re-attaches durable context for a prior session id
// named in the event.
func (e *Engine) handleSessionUpdate(ctx context.Context, s *Session, ev Event) error {
	var body struct {
		PreviousSessionID string `json:"previous_session_id"`
	}
	if len(ev.Data) > 0 {
		_ = json.Unmarshal(ev.Data, &body)
	}
	if body.PreviousSessionID != "" {
		e.resume(ctx, s, body.PreviousSessionID)
	}
	return nil
}

// resume restores durable context from a previous session owned by the
// same user. Foreign or unknown ids are ignored.
func (e *Engine) resume(ctx context.Context, s *Session, previousID string) {
	rec, ok, err := e.store.Load(ctx, previousID)
	if err != nil {
		e.log.Warn("session resume failed", slog.String("previous_id", previousID), slog.Any("error", err))
		return
	}
	if !ok || rec.UserID != s.UserID {
		return
	}
	s.RestoreContext(rec.Context)
	e.log.Info("session context resumed",
		slog.String("session_id", s.ID),
		slog.String("previous_id", previousID),
	)
}

// Disconnect closes the session, removes it from the registry, and
// persists its final record. Transport-level teardown is a normal
// lifecycle transition, not an error path.
func (e *Engine) Disconnect(ctx context.Context, s *Session, final State, reason string) {
	if !final.Terminal() {
		final = StateDisconnected
	}
	s.close(final, reason)
	e.registry.remove(s.ID)
	e.persist(ctx, s)

	e.log.Info("session closed",
		slog.String("session_id", s.ID),
		slog.String("state", string(final)),
		slog.Int("active", e.registry.Len()),
	)
}

// CleanupInactive closes and evicts sessions idle longer than maxIdle
// (engine default when zero). Returns the number of sessions swept.
func (e *Engine) CleanupInactive(ctx context.Context, maxIdle time.Duration) int {
	if maxIdle <= 0 {
		maxIdle = e.cfg.MaxIdle
	}
	cutoff := time.Now().Add(-maxIdle)

	swept := 0
	for _, s := range e.registry.All() {
		if s.LastActivity().Before(cutoff) {
			e.Disconnect(ctx, s, StateDisconnected, "session expired after inactivity")
			swept++
		}
	}
	if swept > 0 {
		e.log.Info("inactive sessions swept", slog.Int("count", swept))
	}
	return swept
}

// Broadcast delivers an event to every live session, best-effort: a failed
// send is logged and the fan-out continues.
func (e *Engine) Broadcast(ev Event) {
	for _, s := range e.registry.All() {
		out := ev
		out.SessionID = s.ID
		out.UserID = s.UserID
		if err := s.SendEvent(out); err != nil {
			e.log.Warn("broadcast send failed",
				slog.String("session_id", s.ID),
				slog.Any("error", err),
			)
		}
	}
}

// SendToUser delivers an event to every live session of one user,
// best-effort.
func (e *Engine) SendToUser(userID string, ev Event) int {
	sent := 0
	for _, s := range e.registry.ByUser(userID) {
		out := ev
		out.SessionID = s.ID
		out.UserID = s.UserID
		if err := s.SendEvent(out); err != nil {
			e.log.Warn("send to user failed",
				slog.String("session_id", s.ID),
				slog.String("user_id", userID),
				slog.Any("error", err),
			)
			continue
		}
		sent++
	}
	return sent
}

// persist writes the session's durable record; failures are logged, never
// fatal to the connection.
func (e *Engine) persist(ctx context.Context, s *Session) {
	rec := SessionRecord{
		ID:           s.ID,
		UserID:       s.UserID,
		State:        s.State(),
		Context:      s.Context(),
		MessageCount: s.MessageCount(),
		CreatedAt:    s.CreatedAt(),
		LastActivity: s.LastActivity(),
		ExpiresAt:    s.LastActivity().Add(e.cfg.MaxIdle),
	}
	if err := e.store.Save(ctx, rec); err != nil {
		e.log.Warn("session persist failed",
			slog.String("session_id", s.ID),
			slog.Any("error", err),
		)
	}
}

// Stats describes one live session for the administrative surface.
type Stats struct {
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	State        State     `json:"state"`
	ConnectedAt  time.Time `json:"connected_at"`
	IdleSeconds  float64   `json:"idle_seconds"`
	MessageCount int64     `json:"message_count"`
}

// SessionStats returns a snapshot of every live session, or only those of
// userID when non-empty.
func (e *Engine) SessionStats(userID string) []Stats {
	var sessions []*Session
	if userID == "" {
		sessions = e.registry.All()
	} else {
		sessions = e.registry.ByUser(userID)
	}

	now := time.Now()
	out := make([]Stats, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, Stats{
			SessionID:    s.ID,
			UserID:       s.UserID,
			State:        s.State(),
			ConnectedAt:  s.CreatedAt(),
			IdleSeconds:  now.Sub(s.LastActivity()).Seconds(),
			MessageCount: s.MessageCount(),
		})
	}
	return out
}
