package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/clinvia/assist/internal/protocol"
)

// bufferConn is an in-process protocol.Conn that collects every frame the
// engine writes. The HTTP event fallback drives a short-lived session over
// it and replies with the last frame produced.
type bufferConn struct {
	frames [][]byte
	closed bool
}

func (c *bufferConn) WriteFrame(frame []byte) error {
	if c.closed {
		return protocol.ErrSessionClosed
	}
	c.frames = append(c.frames, append([]byte(nil), frame...))
	return nil
}

func (c *bufferConn) Close(string) error {
	c.closed = true
	return nil
}

// handleEvent handles POST /api/event: one wire frame in, one response or
// error event out. It exists for clients that cannot hold a WebSocket —
// webhook integrations, cron jobs, constrained embedded widgets. Each call
// runs on its own short-lived session, so the frame format, encryption
// envelope, and handler semantics are exactly those of the socket path.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Event) == 0 {
		http.Error(w, "event is required", http.StatusBadRequest)
		return
	}

	conn := &bufferConn{}
	sess, err := s.engine.CreateSession(r.Context(), conn, req.UserID)
	if err != nil {
		switch {
		case errors.Is(err, protocol.ErrAuthentication):
			http.Error(w, "user_id is required", http.StatusUnauthorized)
		case errors.Is(err, protocol.ErrCapacity):
			s.metrics.refusalsTotal.WithLabelValues("capacity").Inc()
			w.Header().Set("Retry-After", "5")
			http.Error(w, protocol.CapacityReason, http.StatusServiceUnavailable)
		default:
			http.Error(w, "could not create session", http.StatusInternalServerError)
		}
		return
	}

	// A buffer conn cannot fail a write, so HandleFrame cannot error here;
	// malformed frames come back as error events in the buffer.
	_ = s.engine.HandleFrame(r.Context(), sess, req.Event)
	s.engine.Disconnect(r.Context(), sess, protocol.StateDisconnected, "http fallback complete")

	// frames[0] is the connection announcement; the handler's output, if
	// any, follows it.
	out := conn.frames[len(conn.frames)-1]
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}
