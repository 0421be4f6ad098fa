// Package tracing wires the Langfuse observability callback into the eino
// model calls, so every generation carries its prompt, grounding context
// size and latency into the trace UI.
package tracing

import (
	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"

	"github.com/clinvia/assist/internal/config"
)

// Setup initialises the Langfuse callback handler from the tracing config.
// Returns a flush function that must be called before process exit to
// ensure all traces are sent. If Langfuse keys are not configured, both
// return values are nil and tracing is silently disabled.
func Setup(cfg config.TracingConfig) (callbacks.Handler, func(), bool) {
	if cfg.PublicKey == "" || cfg.SecretKey == "" {
		return nil, nil, false
	}
	host := cfg.Host
	if host == "" {
		host = "http://localhost:3000"
	}

	handler, flusher := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      host,
		PublicKey: cfg.PublicKey,
		SecretKey: cfg.SecretKey,
	})

	return handler, flusher, true
}
