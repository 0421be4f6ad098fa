package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/clinvia/assist/internal/assistant"
	"github.com/clinvia/assist/internal/audit"
	"github.com/clinvia/assist/internal/clinic"
	"github.com/clinvia/assist/internal/embedder"
	"github.com/clinvia/assist/internal/ingestion"
	"github.com/clinvia/assist/internal/logging"
	"github.com/clinvia/assist/internal/protocol"
	"github.com/clinvia/assist/internal/provider"
	"github.com/clinvia/assist/internal/server"
	"github.com/clinvia/assist/internal/store"
	"github.com/clinvia/assist/internal/tracing"
)

// NewServeCmd constructs the `clinvia serve` command, which starts the
// WebSocket/HTTP assistant server.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Clinvia assistant server",
		Long: `Start the Clinvia assistant server.

The server accepts WebSocket connections on /ws/{userID}, multiplexes typed
events over them, and answers each user message through the retrieval and
generation pipeline, grounded in the clinic's records and knowledge base.

Examples:
  clinvia serve
  clinvia serve --port 9090
  MODEL_PROVIDER=azure clinvia serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg := loadedCfg
			if host != "" {
				cfg.Server.Host = host
			}
			if port != 0 {
				cfg.Server.Port = port
			}

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			masterKey, err := cfg.MasterKey()
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			// Langfuse tracing — opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup(cfg.Tracing)
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			}

			chatModel, err := provider.New(ctx, &cfg.Model)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise model provider: %w", err)
			}
			log.Info("provider initialised", slog.String("backend", string(cfg.Model.Backend)))

			ret, err := buildRetrieval(ctx, cfg, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer ret.close()

			// A broken embedding setup degrades retrieval but must not keep
			// the server from answering at all.
			if err := embedder.Validate(ctx, ret.embedder, cfg.Embedding, cfg.Embedding.Dimensions, log); err != nil {
				log.Warn("embedder validation failed, retrieval may degrade", slog.Any("error", err))
			}

			clinicDB, err := clinic.Open(cfg.Storage.ClinicDB)
			if err != nil {
				return fmt.Errorf("serve: open clinic datastore: %w", err)
			}
			defer func() { _ = clinicDB.Close() }()

			sessions, err := store.Open(cfg.Storage.SessionDB)
			if err != nil {
				return fmt.Errorf("serve: open session store: %w", err)
			}
			defer func() { _ = sessions.Close() }()

			if n, err := sessions.DeleteExpired(ctx, time.Now()); err != nil {
				log.Warn("expired session purge failed", slog.Any("error", err))
			} else if n > 0 {
				log.Info("expired sessions purged", slog.Int64("count", n))
			}

			auditor, err := audit.Open(cfg.Storage.AuditDB, log)
			if err != nil {
				return fmt.Errorf("serve: open audit log: %w", err)
			}
			defer func() { _ = auditor.Close() }()

			grounder, err := assistant.NewGrounder(clinicDB, ret.retriever, cfg.Retrieval.TopK)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			responder, err := assistant.NewPipeline(grounder, chatModel,
				identityResolver(cfg.Identity), auditor, cfg.Retrieval.MaxContextTokens)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			engine, err := protocol.NewEngine(protocol.Config{
				MaxConnections:    cfg.Protocol.MaxConnections,
				HeartbeatInterval: time.Duration(cfg.Protocol.HeartbeatSeconds) * time.Second,
				MaxIdle:           time.Duration(cfg.Protocol.MaxIdleMinutes) * time.Minute,
				HistoryLimit:      cfg.Protocol.HistoryLimit,
				RequestTimeout:    time.Duration(cfg.Protocol.RequestTimeoutSeconds) * time.Second,
				Workers:           cfg.Protocol.Workers,
				MasterKey:         masterKey,
			}, protocol.NewRegistry(), sessions, responder, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			ingestor, err := ingestion.NewPipeline(ret.embedder, ret.vectors, ret.keywords, nil)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			// Seed the knowledge indexes from the clinic's structured rows
			// in the background; the keyword index starts empty on every
			// boot. Failures degrade retrieval, not availability.
			if tenant := cfg.Identity.DefaultTenant; tenant != "" {
				go func() {
					err := ingestor.SyncClinicData(ctx, clinicDB, tenant, func(msg string) {
						log.Debug("startup sync", slog.String("step", msg))
					})
					if err != nil {
						log.Warn("startup clinic sync failed",
							slog.String("tenant_id", tenant),
							slog.Any("error", err),
						)
						return
					}
					log.Info("startup clinic sync complete", slog.String("tenant_id", tenant))
				}()
			}

			srv, err := server.New(engine, &server.Config{
				Host:       cfg.Server.Host,
				Port:       cfg.Server.Port,
				Logger:     log,
				RateLimit:  cfg.Server.RateLimit,
				RateBurst:  cfg.Server.RateBurst,
				AdminToken: cfg.Server.AdminToken,
				MaxIdle:    time.Duration(cfg.Protocol.MaxIdleMinutes) * time.Minute,
				Pingers: []server.Pinger{
					server.NewQdrantPinger(ret.vectors),
					server.NamedPinger{Label: "session-store", Probe: sessions.Ping},
				},
				Ingestor: ingestor,
				Clinic:   clinicDB,
				Audit:    auditor,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Host address to bind to (overrides config)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "TCP port to listen on (overrides config)")

	return cmd
}
