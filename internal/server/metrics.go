// Package server — metrics.go registers the Prometheus instruments owned by
// the server and the middleware that feeds the HTTP-level ones.
package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/clinvia/assist/internal/protocol"
)

// Frame direction label values.
const (
	directionIn  = "in"
	directionOut = "out"
)

// serverMetrics holds all Prometheus metrics owned by the server. One
// instance is created in New against the configured registry, so tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// framesTotal counts WebSocket frames, partitioned by direction.
	framesTotal *prometheus.CounterVec

	// refusalsTotal counts connections the engine would not admit,
	// partitioned by reason: "capacity", "auth", or "other".
	refusalsTotal *prometheus.CounterVec

	// httpRequestsTotal counts HTTP requests, partitioned by method, route
	// pattern, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics. The active-session gauge reads straight from the
// registry so it can never drift from the engine's own view.
func newServerMetrics(reg prometheus.Registerer, sessions *protocol.Registry) *serverMetrics {
	factory := promauto.With(reg)

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "clinvia",
		Subsystem: "ws",
		Name:      "active_sessions",
		Help:      "Number of live WebSocket sessions.",
	}, func() float64 { return float64(sessions.Len()) })

	return &serverMetrics{
		framesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinvia",
			Subsystem: "ws",
			Name:      "frames_total",
			Help:      "Total WebSocket frames carried, partitioned by direction.",
		}, []string{"direction"}),

		refusalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinvia",
			Subsystem: "ws",
			Name:      "refusals_total",
			Help:      "Connections refused at handshake, partitioned by reason.",
		}, []string{"reason"}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinvia",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests handled, partitioned by method, route, and status code.",
		}, []string{"method", "route", "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinvia",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}
