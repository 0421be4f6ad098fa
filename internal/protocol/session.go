package protocol

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle state of one session's connection.
type State string

const (
	StateConnecting    State = "connecting"
	StateConnected     State = "connected"
	StateAuthenticated State = "authenticated"
	StateDisconnected  State = "disconnected"
	StateError         State = "error"
)

// Terminal reports whether no further transitions leave this state.
func (s State) Terminal() bool {
	return s == StateDisconnected || s == StateError
}

// Conn is the transport beneath one session. The engine never touches the
// WebSocket directly so tests can drive sessions over in-memory fakes.
// Implementations must serialise their own writes if the underlying
// transport requires it; Session already guards WriteFrame with a mutex.
type Conn interface {
	// WriteFrame sends one wire frame to the peer.
	WriteFrame(frame []byte) error

	// Close tears down the transport, best-effort delivering reason.
	Close(reason string) error
}

// Turn is one completed query/response exchange in a session's history.
type Turn struct {
	Query     string    `json:"query"`
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the server-side state of one logical conversation over a
// persistent connection. The owning connection's goroutine is the only
// writer of mutable fields; cross-session access (broadcast, admin) goes
// through the exported, locked methods.
type Session struct {
	// ID is the unique session identifier, allocated at creation.
	ID string

	// UserID is the authenticated user this session belongs to.
	UserID string

	conn   Conn
	cipher *Cipher

	// writeMu serialises frames onto the transport.
	writeMu sync.Mutex

	// mu guards state, lastActivity, context and history.
	mu           sync.Mutex
	state        State
	createdAt    time.Time
	lastActivity time.Time
	context      map[string]any
	history      []Turn
	historyCap   int

	// messageCount counts every event sent on this session. Atomic so the
	// heartbeat goroutine can read it without taking mu.
	messageCount atomic.Int64

	// cancelHeartbeat stops the heartbeat goroutine; set by the engine.
	cancelHeartbeat func()
}

// newSession constructs a session in the CONNECTED state.
func newSession(id, userID string, conn Conn, cipher *Cipher, historyCap int) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		UserID:       userID,
		conn:         conn,
		cipher:       cipher,
		state:        StateConnected,
		createdAt:    now,
		lastActivity: now,
		context:      make(map[string]any),
		historyCap:   historyCap,
	}
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// setState transitions to next unless the session is already terminal.
func (s *Session) setState(next State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Terminal() {
		s.state = next
	}
}

// Touch records activity now, deferring idle expiry.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity returns the time of the most recent send or receive.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// MessageCount returns the number of events sent on this session so far.
func (s *Session) MessageCount() int64 { return s.messageCount.Load() }

// SetContext stores one key in the session's conversation context.
func (s *Session) SetContext(key string, value any) {
	s.mu.Lock()
	s.context[key] = value
	s.mu.Unlock()
}

// Context returns a copy of the session context map.
func (s *Session) Context() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.context))
	for k, v := range s.context {
		out[k] = v
	}
	return out
}

// RestoreContext replaces the session context wholesale, used when a
// durable session is resumed across reconnects.
func (s *Session) RestoreContext(ctx map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.context = make(map[string]any, len(ctx))
	for k, v := range ctx {
		s.context[k] = v
	}
}

// AppendTurn records one completed exchange, evicting the oldest turn once
// the cap is reached. History length never exceeds the cap.
func (s *Session) AppendTurn(query, response string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, Turn{Query: query, Response: response, Timestamp: time.Now()})
	if s.historyCap > 0 && len(s.history) > s.historyCap {
		s.history = s.history[len(s.history)-s.historyCap:]
	}
}

// History returns a copy of the bounded conversation history, oldest first.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}

// SendEvent encodes and writes one event on the session's transport.
// message and response payloads are sealed with the session cipher before
// leaving the process. Every successful send bumps the message count and
// the activity clock.
func (s *Session) SendEvent(ev Event) error {
	if s.State().Terminal() {
		return ErrSessionClosed
	}

	if s.cipher != nil && (ev.Type == EventMessage || ev.Type == EventResponse) && len(ev.Data) > 0 {
		sealed, err := s.cipher.Seal(ev.Data)
		if err != nil {
			return fmt.Errorf("protocol: seal %s payload: %w", ev.Type, err)
		}
		enc, err := json.Marshal(sealed)
		if err != nil {
			return fmt.Errorf("protocol: encode sealed payload: %w", err)
		}
		ev.Data = enc
		ev.Encrypted = true
	}

	frame, err := ev.Encode()
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	err = s.conn.WriteFrame(frame)
	s.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("protocol: write %s event: %w", ev.Type, err)
	}

	s.messageCount.Add(1)
	s.Touch()
	return nil
}

// SendError emits an error event with a stable code and readable message.
func (s *Session) SendError(code, message string) error {
	ev, err := NewEvent(EventError, s.ID, s.UserID, ErrorPayload{Code: code, Message: message})
	if err != nil {
		return err
	}
	return s.SendEvent(ev)
}

// SendHeartbeat emits the periodic liveness event carrying the running
// message count.
func (s *Session) SendHeartbeat() error {
	ev, err := NewEvent(EventHeartbeat, s.ID, s.UserID, HeartbeatPayload{
		Timestamp:    float64(time.Now().UnixNano()) / float64(time.Second),
		MessageCount: s.messageCount.Load(),
	})
	if err != nil {
		return err
	}
	return s.SendEvent(ev)
}

// OpenPayload decrypts an inbound encrypted Data field with the session
// cipher, returning the plaintext JSON.
func (s *Session) OpenPayload(data json.RawMessage) (json.RawMessage, error) {
	var encoded string
	if err := json.Unmarshal(data, &encoded); err != nil {
		return nil, fmt.Errorf("%w: encrypted payload is not a string", ErrDecrypt)
	}
	return s.cipher.Open(encoded)
}

// close transitions to a terminal state and releases the transport and the
// heartbeat goroutine. Idempotent.
func (s *Session) close(final State, reason string) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = final
	cancel := s.cancelHeartbeat
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	_ = s.conn.Close(reason)
}
