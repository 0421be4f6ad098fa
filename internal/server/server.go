// Package server exposes the session protocol over the network: a WebSocket
// endpoint feeding frames into the protocol engine, a one-shot HTTP event
// fallback, readiness and liveness probes, Prometheus metrics, and a
// Bearer-authenticated admin surface.
// The server is started by the `clinvia serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clinvia/assist/internal/logging"
	"github.com/clinvia/assist/internal/protocol"
	"github.com/clinvia/assist/internal/version"
)

// New constructs a Server around the given protocol engine and config.
func New(engine *protocol.Engine, cfg *Config) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("server: engine must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.MaxIdle == 0 {
		cfg.MaxIdle = 30 * time.Minute
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New()
	}
	reg := cfg.Metrics
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	s := &Server{
		engine:  engine,
		cfg:     cfg,
		log:     log,
		pingers: cfg.Pingers,
		metrics: newServerMetrics(reg, engine.Registry()),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients connect from the clinic's own web app; origin
			// policy is enforced upstream by the reverse proxy.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, log)
	s.stopRL = stopRL

	if cfg.AdminToken == "" {
		log.Warn("admin token not configured — admin surface disabled")
	}

	r := chi.NewRouter()
	r.Use(requestLogger(log))
	r.Use(s.instrument)

	r.Get("/ws/{userID}", s.handleWebSocket)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", s.handleHealth)
		api.Get("/ready", s.handleReady)

		api.Group(func(limited chi.Router) {
			limited.Use(rl.middleware)
			limited.Post("/event", s.handleEvent)
		})

		api.Route("/admin", func(admin chi.Router) {
			admin.Use(rl.middleware)
			admin.Use(adminAuth(cfg.AdminToken))
			admin.Get("/sessions", s.handleAdminSessions)
			admin.Post("/broadcast", s.handleAdminBroadcast)
			admin.Post("/send/{userID}", s.handleAdminSend)
			admin.Post("/cleanup", s.handleAdminCleanup)
			admin.Post("/sync", s.handleAdminSync)
			admin.Get("/audit", s.handleAdminAudit)
		})
	})

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:     r,
		ReadTimeout: cfg.ReadTimeout,
		// No WriteTimeout: WebSocket sessions stay open for the lifetime
		// of the conversation.
	}

	return s, nil
}

// Handler returns the server's HTTP handler, for tests that mount it on an
// httptest.Server instead of binding a port.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving. It blocks until the context is
// cancelled, then disconnects every live session and shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening",
			slog.String("addr", s.httpServer.Addr),
			slog.String("version", version.Version),
		)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sweepDone := make(chan struct{})
	go s.sweepLoop(ctx, sweepDone)

	select {
	case err := <-errCh:
		s.stopRL()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.stopRL()
		<-sweepDone

		// Close sessions before the listener so every client sees a clean
		// close frame rather than a dropped TCP connection.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		for _, sess := range s.engine.Registry().All() {
			s.engine.Disconnect(shutdownCtx, sess, protocol.StateDisconnected, "server shutting down")
		}
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// sweepLoop periodically evicts sessions idle past the configured threshold.
func (s *Server) sweepLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.engine.CleanupInactive(ctx, s.cfg.MaxIdle)
		}
	}
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
