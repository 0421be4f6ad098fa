package protocol

import (
	"encoding/json"
	"fmt"
)

// Payload is the decoded, type-specific content of an event's Data field.
// The set of implementations is closed per protocol version; frames whose
// type is recognised but whose body does not fit the expected shape, and
// frames of forward-compatible types we relay without interpreting, decode
// to OpaquePayload.
type Payload interface {
	payloadType() EventType
}

// ConnectionPayload announces a freshly established session to the client.
type ConnectionPayload struct {
	Status          string `json:"status"`
	SessionID       string `json:"session_id"`
	ProtocolVersion string `json:"protocol_version"`
	Encryption      string `json:"encryption"`
}

func (ConnectionPayload) payloadType() EventType { return EventConnection }

// MessagePayload is a user turn submitted for grounding and generation.
type MessagePayload struct {
	Message MessageBody `json:"message"`
}

// MessageBody is the inner message object of a MessagePayload.
type MessageBody struct {
	// Content is the raw user utterance.
	Content string `json:"content"`

	// PatientID optionally scopes the turn to one patient record.
	PatientID string `json:"patient_id,omitempty"`
}

func (MessagePayload) payloadType() EventType { return EventMessage }

// ResponsePayload carries the assistant's reply to one message event.
type ResponsePayload struct {
	Message ResponseBody `json:"message"`
}

// ResponseBody is the inner reply object of a ResponsePayload.
type ResponseBody struct {
	ID      string         `json:"id"`
	Content string         `json:"content"`
	Type    string         `json:"type"`
	Actions []Action       `json:"actions,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// Action is a client affordance attached to a response (retry, navigate,
// export). The client renders actions as buttons.
type Action struct {
	Type   string `json:"type"`
	Label  string `json:"label,omitempty"`
	Target string `json:"target,omitempty"`
}

func (ResponsePayload) payloadType() EventType { return EventResponse }

// ErrorPayload reports a recoverable per-event failure. Code is stable;
// Message is human-readable.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (ErrorPayload) payloadType() EventType { return EventError }

// HeartbeatPayload is the periodic liveness signal. MessageCount lets the
// peer observe forward progress across reconnects.
type HeartbeatPayload struct {
	Timestamp    float64 `json:"timestamp"`
	MessageCount int64   `json:"message_count"`
}

func (HeartbeatPayload) payloadType() EventType { return EventHeartbeat }

// ActionPayload is a client-initiated action request (export, navigation).
type ActionPayload struct {
	ActionType string         `json:"action_type"`
	Target     string         `json:"target,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
}

func (ActionPayload) payloadType() EventType { return EventAction }

// FeedbackPayload carries a user rating of a previous response.
type FeedbackPayload struct {
	FeedbackType string         `json:"feedback_type"`
	ResponseID   string         `json:"response_id,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

func (FeedbackPayload) payloadType() EventType { return EventFeedback }

// OpaquePayload preserves the raw body of frames this build does not
// interpret (stream_*, session_update, malformed-but-typed bodies) so they
// can be relayed or logged without loss.
type OpaquePayload struct {
	Type EventType
	Raw  json.RawMessage
}

func (p OpaquePayload) payloadType() EventType { return p.Type }

// DecodePayload turns an event's Data into its typed payload. The event's
// Data must already be plaintext — decrypt first. Unknown-but-valid event
// types and bodies that fail to parse as their declared shape come back as
// OpaquePayload; only an invalid event type is an error.
func DecodePayload(ev Event) (Payload, error) {
	if !ev.Type.Valid() {
		return nil, fmt.Errorf("protocol: %w: %q", ErrInvalidEventType, ev.Type)
	}

	switch ev.Type {
	case EventConnection:
		return decodeAs[ConnectionPayload](ev)
	case EventMessage:
		return decodeAs[MessagePayload](ev)
	case EventResponse:
		return decodeAs[ResponsePayload](ev)
	case EventError:
		return decodeAs[ErrorPayload](ev)
	case EventHeartbeat:
		return decodeAs[HeartbeatPayload](ev)
	case EventAction:
		return decodeAs[ActionPayload](ev)
	case EventFeedback:
		return decodeAs[FeedbackPayload](ev)
	default:
		return OpaquePayload{Type: ev.Type, Raw: ev.Data}, nil
	}
}

// decodeAs unmarshals ev.Data into T, falling back to OpaquePayload when the
// body does not match the declared shape. A bad body is not a protocol
// violation — handlers decide whether an opaque payload is usable.
func decodeAs[T Payload](ev Event) (Payload, error) {
	var p T
	if len(ev.Data) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return OpaquePayload{Type: ev.Type, Raw: ev.Data}, nil
	}
	return p, nil
}
