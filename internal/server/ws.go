package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/clinvia/assist/internal/logging"
	"github.com/clinvia/assist/internal/protocol"
)

// closeGracePeriod bounds the write of a close control frame during
// teardown. Peers that have already vanished should not stall shutdown.
const closeGracePeriod = time.Second

// wsConn adapts a gorilla WebSocket connection to protocol.Conn. The
// Session serialises WriteFrame calls, so no extra locking is needed here;
// gorilla permits the close control frame to race a data write.
type wsConn struct {
	ws      *websocket.Conn
	metrics *serverMetrics
}

// WriteFrame sends one wire frame as a text message.
func (c *wsConn) WriteFrame(frame []byte) error {
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return err
	}
	c.metrics.framesTotal.WithLabelValues(directionOut).Inc()
	return nil
}

// Close delivers reason in a close control frame, then tears down the
// underlying connection.
func (c *wsConn) Close(reason string) error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
	return c.ws.Close()
}

// handleWebSocket handles GET /ws/{userID}: it upgrades the connection,
// creates a session on the engine, and pumps inbound frames until the
// client goes away. The handshake is completed even when the server is at
// capacity, so the refusal reason reaches the client as a close frame
// instead of an opaque failed upgrade.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	userID := chi.URLParam(r, "userID")

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		log.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	conn := &wsConn{ws: ws, metrics: s.metrics}
	sess, err := s.engine.CreateSession(r.Context(), conn, userID)
	if err != nil {
		s.refuse(conn, err, log)
		return
	}

	ctx := r.Context()
	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			reason := "client disconnected"
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = "connection read failed"
			}
			s.engine.Disconnect(ctx, sess, protocol.StateDisconnected, reason)
			return
		}
		s.metrics.framesTotal.WithLabelValues(directionIn).Inc()

		if err := s.engine.HandleFrame(ctx, sess, frame); err != nil {
			// Only transport-level write failures propagate out of
			// HandleFrame; the session is no longer usable.
			log.Warn("session write failed",
				slog.String("session_id", sess.ID),
				slog.Any("error", err),
			)
			s.engine.Disconnect(ctx, sess, protocol.StateError, "transport write failed")
			return
		}
	}
}

// refuse closes a just-upgraded connection that the engine would not admit,
// with a close code and reason the client can branch on.
func (s *Server) refuse(conn *wsConn, err error, log *slog.Logger) {
	reason := "connection refused"
	switch {
	case errors.Is(err, protocol.ErrCapacity):
		reason = protocol.CapacityReason
		s.metrics.refusalsTotal.WithLabelValues("capacity").Inc()
	case errors.Is(err, protocol.ErrAuthentication):
		reason = "user identity required"
		s.metrics.refusalsTotal.WithLabelValues("auth").Inc()
	default:
		s.metrics.refusalsTotal.WithLabelValues("other").Inc()
	}

	log.Warn("connection refused", slog.String("reason", reason), slog.Any("error", err))

	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = conn.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
	_ = conn.ws.Close()
}
