package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinvia/assist/internal/logging"
	"github.com/clinvia/assist/internal/protocol"
)

// handleAdminSessions handles GET /api/admin/sessions. The optional
// user_id query parameter narrows the listing to one user's sessions.
func (s *Server) handleAdminSessions(w http.ResponseWriter, r *http.Request) {
	stats := s.engine.SessionStats(r.URL.Query().Get("user_id"))
	writeJSON(w, http.StatusOK, sessionsResponse{
		Count:    len(stats),
		Sessions: stats,
	})
}

// handleAdminBroadcast handles POST /api/admin/broadcast: it delivers one
// notice to every live session, best-effort.
func (s *Server) handleAdminBroadcast(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.decodeNotice(w, r)
	if !ok {
		return
	}

	s.engine.Broadcast(ev)

	logging.FromContext(r.Context()).Info("broadcast delivered",
		slog.Int("sessions", s.engine.Registry().Len()),
	)
	writeJSON(w, http.StatusOK, map[string]int{"sessions": s.engine.Registry().Len()})
}

// handleAdminSend handles POST /api/admin/send/{userID}: it delivers one
// notice to every live session of one user.
func (s *Server) handleAdminSend(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.decodeNotice(w, r)
	if !ok {
		return
	}

	userID := chi.URLParam(r, "userID")
	sent := s.engine.SendToUser(userID, ev)

	logging.FromContext(r.Context()).Info("notice sent",
		slog.String("user_id", userID),
		slog.Int("sent", sent),
	)
	writeJSON(w, http.StatusOK, map[string]int{"sent": sent})
}

// decodeNotice reads a messageRequest body and builds the system-notice
// response event that broadcast and send deliver. Reports false after
// writing the error response when the body is unusable.
func (s *Server) decodeNotice(w http.ResponseWriter, r *http.Request) (protocol.Event, bool) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return protocol.Event{}, false
	}
	if req.Content == "" {
		http.Error(w, "content is required", http.StatusBadRequest)
		return protocol.Event{}, false
	}

	// SessionID and UserID are stamped per recipient by the engine.
	ev, err := protocol.NewEvent(protocol.EventResponse, "", "", protocol.ResponsePayload{
		Message: protocol.ResponseBody{
			ID:      uuid.NewString(),
			Content: req.Content,
			Type:    "system_notice",
		},
	})
	if err != nil {
		http.Error(w, "could not build event", http.StatusInternalServerError)
		return protocol.Event{}, false
	}
	return ev, true
}

// handleAdminCleanup handles POST /api/admin/cleanup: it sweeps sessions
// idle past the threshold immediately instead of waiting for the periodic
// sweep.
func (s *Server) handleAdminCleanup(w http.ResponseWriter, r *http.Request) {
	maxIdle := s.cfg.MaxIdle

	var req cleanupRequest
	if r.Body != nil {
		// An empty body means "use the configured threshold".
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.MaxIdleMinutes > 0 {
		maxIdle = time.Duration(req.MaxIdleMinutes) * time.Minute
	}

	swept := s.engine.CleanupInactive(r.Context(), maxIdle)
	writeJSON(w, http.StatusOK, map[string]int{"swept": swept})
}

// handleAdminSync handles POST /api/admin/sync: it re-renders one tenant's
// structured clinic rows into the knowledge indexes so the retrieval layer
// reflects recent record changes.
func (s *Server) handleAdminSync(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Ingestor == nil || s.cfg.Clinic == nil {
		http.Error(w, "ingestion is not configured", http.StatusServiceUnavailable)
		return
	}

	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.TenantID == "" {
		http.Error(w, "tenant_id is required", http.StatusBadRequest)
		return
	}

	log := logging.FromContext(r.Context())
	start := time.Now()
	err := s.cfg.Ingestor.SyncClinicData(r.Context(), s.cfg.Clinic, req.TenantID, func(msg string) {
		log.Info("sync progress", slog.String("step", msg))
	})
	if err != nil {
		log.Error("clinic sync failed",
			slog.String("tenant_id", req.TenantID),
			slog.Any("error", err),
		)
		http.Error(w, "sync failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"tenant_id":        req.TenantID,
		"duration_seconds": time.Since(start).Seconds(),
	})
}

// handleAdminAudit handles GET /api/admin/audit?tenant_id=&limit=: it
// returns the most recent compliance trail entries for one tenant,
// newest first.
func (s *Server) handleAdminAudit(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Audit == nil {
		http.Error(w, "audit trail is not configured", http.StatusServiceUnavailable)
		return
	}

	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		http.Error(w, "tenant_id is required", http.StatusBadRequest)
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := s.cfg.Audit.RecentByTenant(r.Context(), tenantID, limit)
	if err != nil {
		logging.FromContext(r.Context()).Error("audit query failed",
			slog.String("tenant_id", tenantID),
			slog.Any("error", err),
		)
		http.Error(w, "audit query failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(entries),
		"entries": entries,
	})
}
