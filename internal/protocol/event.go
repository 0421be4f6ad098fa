// Package protocol implements the assistant's bidirectional session protocol:
// typed events multiplexed over one persistent WebSocket connection, with
// per-session payload encryption, heartbeat liveness, and an engine that
// drives the retrieval/generation pipeline for every inbound message.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of a protocol event. One event is exactly
// one wire frame.
type EventType string

const (
	EventConnection    EventType = "connection"
	EventMessage       EventType = "message"
	EventResponse      EventType = "response"
	EventError         EventType = "error"
	EventHeartbeat     EventType = "heartbeat"
	EventAction        EventType = "action"
	EventSessionUpdate EventType = "session_update"
	EventFeedback      EventType = "feedback"
	EventStreamStart   EventType = "stream_start"
	EventStreamChunk   EventType = "stream_chunk"
	EventStreamEnd     EventType = "stream_end"
)

// knownEventTypes is the closed set of event types this protocol version
// understands. Frames carrying anything else are answered with an
// INVALID_EVENT_TYPE error event; the connection stays open.
var knownEventTypes = map[EventType]bool{
	EventConnection:    true,
	EventMessage:       true,
	EventResponse:      true,
	EventError:         true,
	EventHeartbeat:     true,
	EventAction:        true,
	EventSessionUpdate: true,
	EventFeedback:      true,
	EventStreamStart:   true,
	EventStreamChunk:   true,
	EventStreamEnd:     true,
}

// Valid reports whether t is a recognised event type.
func (t EventType) Valid() bool { return knownEventTypes[t] }

// Event is one typed, timestamped unit of wire communication.
// Events are immutable once constructed.
type Event struct {
	// ID uniquely identifies this event.
	ID string `json:"id"`

	// Type selects the payload shape carried in Data.
	Type EventType `json:"type"`

	// Timestamp is Unix seconds with fractional precision, matching the
	// wire format the web client already speaks.
	Timestamp float64 `json:"timestamp"`

	// SessionID identifies the session this event belongs to, when known.
	SessionID string `json:"session_id,omitempty"`

	// UserID identifies the authenticated user, when known.
	UserID string `json:"user_id,omitempty"`

	// Data carries the type-specific payload. For encrypted frames it is a
	// JSON string holding the base64 ciphertext.
	Data json.RawMessage `json:"data,omitempty"`

	// Metadata carries auxiliary key-value pairs (intent, timing, etc.)
	// that are never encrypted.
	Metadata map[string]any `json:"metadata,omitempty"`

	// Encrypted marks Data as ciphertext produced by the session cipher.
	Encrypted bool `json:"encrypted,omitempty"`
}

// NewEvent constructs an Event of the given type with a fresh ID and the
// current timestamp. payload is marshalled into Data; a nil payload leaves
// Data empty.
func NewEvent(typ EventType, sessionID, userID string, payload any) (Event, error) {
	ev := Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
		SessionID: sessionID,
		UserID:    userID,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("protocol: marshal %s payload: %w", typ, err)
		}
		ev.Data = raw
	}
	return ev, nil
}

// DecodeEvent parses one wire frame into an Event. Malformed JSON is the
// caller's cue to answer with an INVALID_FORMAT error event.
func DecodeEvent(frame []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(frame, &ev); err != nil {
		return Event{}, fmt.Errorf("protocol: decode frame: %w", err)
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = float64(time.Now().UnixNano()) / float64(time.Second)
	}
	return ev, nil
}

// Encode serialises the event into its wire frame.
func (e Event) Encode() ([]byte, error) {
	frame, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s event: %w", e.Type, err)
	}
	return frame, nil
}

// Time returns the event timestamp as a time.Time.
func (e Event) Time() time.Time {
	sec := int64(e.Timestamp)
	nsec := int64((e.Timestamp - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}
