// Package commands defines all Cobra CLI commands for the clinvia binary.
package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/clinvia/assist/internal/config"
	"github.com/clinvia/assist/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedCfg is the configuration resolved in the persistent pre-run;
// subcommands read it instead of re-loading.
var loadedCfg *config.Config

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "clinvia",
		Short: "Clinvia — the clinic management assistant service",
		Long: `Clinvia is the real-time assistant backend for clinic management:
a WebSocket session server that grounds every question in the clinic's own
records and knowledge base before asking the language model, with
LGPD-aware masking of personal data by caller role.

Configuration is read from ~/.clinvia/config.yaml (override with --config
or CLINVIA_CONFIG); environment variables always win over file values.
See 'clinvia --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			cfg, path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedCfg = cfg

			if path != "" {
				log.Info("config loaded", slog.String("path", path))
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.clinvia/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewAskCmd(),
		NewIngestCmd(),
		NewVersionCmd(),
	)

	return root
}
