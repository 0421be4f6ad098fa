package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/clinvia/assist/internal/logging"
	"github.com/clinvia/assist/internal/rag"
)

// probeTimeout is the maximum time allowed for each individual dependency
// probe during a readiness check. Kept short so /api/ready responds quickly
// even when a dependency is slow rather than unreachable.
const probeTimeout = 5 * time.Second

// Pinger is implemented by any dependency that can report its own
// reachability: nil when healthy, a descriptive error otherwise.
// Implementations must be safe to call from multiple goroutines.
type Pinger interface {
	// Ping checks whether the dependency is reachable within the given context.
	Ping(ctx context.Context) error

	// Name returns a short label used in readiness responses
	// (e.g. "qdrant", "session-store").
	Name() string
}

// QdrantPinger probes the vector index's Qdrant instance. It satisfies the
// Pinger interface and is used by GET /api/ready.
type QdrantPinger struct {
	index *rag.QdrantIndex
}

// NewQdrantPinger constructs a QdrantPinger for the given index.
func NewQdrantPinger(index *rag.QdrantIndex) *QdrantPinger {
	return &QdrantPinger{index: index}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC through the index.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	return p.index.Ping(ctx)
}

// NamedPinger adapts a probe function into a Pinger, for dependencies that
// expose a Ping method but no label (the SQLite stores).
type NamedPinger struct {
	// Label is the dependency name reported by /api/ready.
	Label string
	// Probe is the reachability check.
	Probe func(ctx context.Context) error
}

// Name returns the dependency label used in readiness responses.
func (p NamedPinger) Name() string { return p.Label }

// Ping runs the probe.
func (p NamedPinger) Ping(ctx context.Context) error {
	if p.Probe == nil {
		return fmt.Errorf("%s: no probe configured", p.Label)
	}
	return p.Probe(ctx)
}

// readyCheck holds the per-dependency result of a readiness probe.
type readyCheck struct {
	// Name is the dependency label (e.g. "qdrant").
	Name string `json:"name"`
	// OK is true when the dependency responded successfully.
	OK bool `json:"ok"`
	// Error contains the failure reason when OK is false. Empty on success.
	Error string `json:"error,omitempty"`
}

// readyResponse is the JSON body returned by GET /api/ready.
type readyResponse struct {
	// Ready is true only when every dependency probe succeeded.
	Ready bool `json:"ready"`
	// Checks contains the per-dependency probe results.
	Checks []readyCheck `json:"checks"`
}

// handleReady handles GET /api/ready for readiness checks.
// It probes each registered Pinger with a short timeout and returns 200 when
// all dependencies are reachable, or 503 when any probe fails.
// Unlike /api/health (liveness), this endpoint reflects actual dependency state.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	resp := readyResponse{Ready: true}
	allOK := true

	for _, p := range s.pingers {
		probeCtx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := p.Ping(probeCtx)
		cancel()

		check := readyCheck{Name: p.Name(), OK: err == nil}
		if err != nil {
			check.Error = err.Error()
			allOK = false
			log.Warn("readiness probe failed",
				slog.String("dependency", p.Name()),
				slog.Any("error", err),
			)
		}
		resp.Checks = append(resp.Checks, check)
	}

	resp.Ready = allOK

	status := http.StatusOK
	if !allOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
