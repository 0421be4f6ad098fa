package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/clinvia/assist/internal/assistant"
	"github.com/clinvia/assist/internal/clinic"
	"github.com/clinvia/assist/internal/logging"
	"github.com/clinvia/assist/internal/protocol"
	"github.com/clinvia/assist/internal/provider"
)

// NewAskCmd constructs the `clinvia ask` command, which runs a single
// question through the full grounding and generation pipeline and prints
// the answer. Useful for smoke-testing a deployment without a client.
func NewAskCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask the assistant a single question from the command line",
		Long: `Ask the assistant one question and print the grounded answer.

The question goes through the same pipeline a connected client uses:
intent classification, entity extraction, hybrid retrieval, role-based
masking, and generation.

Examples:
  clinvia ask "buscar paciente Maria Silva"
  clinvia ask --user dr-ana "minhas consultas de amanhã"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := loadedCfg
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			chatModel, err := provider.New(ctx, &cfg.Model)
			if err != nil {
				return fmt.Errorf("ask: failed to initialise model provider: %w", err)
			}

			ret, err := buildRetrieval(ctx, cfg, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer ret.close()

			clinicDB, err := clinic.Open(cfg.Storage.ClinicDB)
			if err != nil {
				return fmt.Errorf("ask: open clinic datastore: %w", err)
			}
			defer func() { _ = clinicDB.Close() }()

			grounder, err := assistant.NewGrounder(clinicDB, ret.retriever, cfg.Retrieval.TopK)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			// No audit trail for interactive CLI smoke tests.
			pipeline, err := assistant.NewPipeline(grounder, chatModel,
				identityResolver(cfg.Identity), nil, cfg.Retrieval.MaxContextTokens)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			reply, err := pipeline.Respond(ctx, protocol.Request{
				SessionID: "cli",
				UserID:    userID,
				Content:   args[0],
			})
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			log.Debug("ask answered", slog.String("intent", reply.Intent))
			fmt.Println(reply.Content)
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "cli", "User id to resolve tenant and role for")

	return cmd
}
