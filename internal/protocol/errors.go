package protocol

import "errors"

// Stable error codes carried in error events. Clients branch on these to
// decide whether to offer a retry affordance, so they must never change
// meaning between releases.
const (
	CodeInvalidFormat    = "INVALID_FORMAT"
	CodeInvalidEventType = "INVALID_EVENT_TYPE"
	CodeAuthRequired     = "AUTH_REQUIRED"
	CodeDecryptFailed    = "DECRYPT_FAILED"
	CodeRetrievalFailed  = "RETRIEVAL_FAILED"
	CodeGenerationFailed = "GENERATION_FAILED"
	CodeCapacityExceeded = "CAPACITY_EXCEEDED"
	CodeHandlerError     = "EVENT_HANDLER_ERROR"
)

// Sentinel errors for the protocol engine. Failures in handling a single
// event are converted to error events at the dispatch boundary; only
// transport-level failures terminate a session.
var (
	// ErrAuthentication is returned when a connection presents no user identity.
	ErrAuthentication = errors.New("protocol: user identity required")

	// ErrCapacity is returned when the engine is at its connection limit.
	// The connection is refused at handshake, before it can count against
	// the active total.
	ErrCapacity = errors.New("protocol: maximum connections reached")

	// ErrInvalidEventType is returned for frames whose type is outside the
	// protocol's closed set.
	ErrInvalidEventType = errors.New("protocol: invalid event type")

	// ErrSessionClosed is returned when an operation targets a session whose
	// transport is gone.
	ErrSessionClosed = errors.New("protocol: session closed")

	// ErrDecrypt is returned when an encrypted payload cannot be opened with
	// the session key.
	ErrDecrypt = errors.New("protocol: payload decryption failed")
)
