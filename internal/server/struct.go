package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/clinvia/assist/internal/audit"
	"github.com/clinvia/assist/internal/clinic"
	"github.com/clinvia/assist/internal/ingestion"
	"github.com/clinvia/assist/internal/protocol"
)

// Config holds the HTTP/WebSocket server configuration.
type Config struct {
	// Host is the address to bind to (default: 0.0.0.0).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading a plain HTTP request.
	// WebSocket connections are exempt once upgraded.
	ReadTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// AdminToken is the Bearer token required on /api/admin/* routes.
	// If empty, the admin surface is disabled entirely — unlike a missing
	// token on a protected route, this is not an open-access mode.
	AdminToken string
	// Metrics is the Prometheus registry backing GET /metrics. If nil a
	// private registry is created, which keeps tests hermetic.
	Metrics *prometheus.Registry
	// SweepInterval is the cadence of the idle-session sweep. Defaults to
	// one minute.
	SweepInterval time.Duration
	// MaxIdle is the inactivity threshold handed to the sweep. Defaults to
	// 30 minutes; keep it aligned with the protocol engine's MaxIdle.
	MaxIdle time.Duration
	// Ingestor, when set together with Clinic, enables POST /api/admin/sync
	// to re-index a tenant's structured data into the knowledge indexes.
	Ingestor *ingestion.Pipeline
	// Clinic is the structured datastore read by the sync endpoint.
	Clinic clinic.Datastore
	// Audit, when set, enables GET /api/admin/audit to read the recent
	// compliance trail for one tenant.
	Audit *audit.Logger
}

// Server exposes the session engine over WebSocket and a small HTTP API:
// connection upgrade, a one-shot event fallback, health/readiness, metrics,
// and an authenticated admin surface.
type Server struct {
	// engine drives sessions; the server owns only the transport.
	engine *protocol.Engine
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus instruments owned by this server.
	metrics *serverMetrics
	// upgrader performs the WebSocket handshake on GET /ws/{userID}.
	upgrader websocket.Upgrader
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// messageRequest is the JSON body for the admin broadcast and send routes.
type messageRequest struct {
	// Content is the text delivered to the targeted sessions.
	Content string `json:"content"`
}

// eventRequest is the JSON body for POST /api/event.
type eventRequest struct {
	// UserID identifies the caller; the fallback has no upgrade handshake
	// to carry it in the path.
	UserID string `json:"user_id"`
	// Event is one wire frame, exactly as it would travel on a WebSocket.
	Event json.RawMessage `json:"event"`
}

// sessionsResponse is the JSON response for GET /api/admin/sessions.
type sessionsResponse struct {
	// Count is the number of sessions returned.
	Count int `json:"count"`
	// Sessions lists one snapshot per live session.
	Sessions []protocol.Stats `json:"sessions"`
}

// cleanupRequest is the JSON body for POST /api/admin/cleanup.
type cleanupRequest struct {
	// MaxIdleMinutes overrides the configured idle threshold for this sweep.
	MaxIdleMinutes int `json:"max_idle_minutes"`
}

// syncRequest is the JSON body for POST /api/admin/sync.
type syncRequest struct {
	// TenantID is the clinic whose structured rows are re-indexed.
	TenantID string `json:"tenant_id"`
}
