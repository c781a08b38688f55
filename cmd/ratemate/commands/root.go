// Package commands defines all Cobra CLI commands for the ratemate binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/ratemate/ratemate-go/internal/audit"
	"github.com/ratemate/ratemate-go/internal/config"
	"github.com/ratemate/ratemate-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ratemate",
		Short: "RateMate — a home-buying assistant grounded in r/FirstTimeHomeBuyer",
		Long: `RateMate is a chat assistant for first-time home buyers, grounded in a
scraped corpus of r/FirstTimeHomeBuyer posts, comments, and uploaded
documents.

Every answer is built from retrieved community content and carries numbered
citations back to the posts and documents it drew from. A statistics tool
answers questions about the corpus itself (counts, score averages, recent
posts).

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.ratemate/config.yaml).
See 'ratemate --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.ratemate/config.yaml)")

	root.AddCommand(
		NewAskCmd(),
		NewServeCmd(),
		NewIngestCmd(),
		NewStatsCmd(),
		NewVersionCmd(),
	)

	return root
}
