// Package cmd provides the CLI commands for Fathom.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fathomsearch/fathom/internal/config"
	"github.com/fathomsearch/fathom/internal/logging"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// rootFlags are the persistent flags shared by all commands.
type rootFlags struct {
	configPath string
	logLevel   string
}

var flags rootFlags

// NewRootCmd creates the root command for the fathom CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fathom",
		Short: "Hybrid retrieval engine for document corpora",
		Long: `Fathom runs concurrent keyword (BM25) and vector similarity search
over a document corpus, fuses and reranks the branch results, and degrades
gracefully when either branch is unavailable.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("fathom version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to the YAML configuration file")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")

	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatsCmd())

	return cmd
}

// Execute runs the CLI.
func Execute() error {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fathom: %v\n", err)
		return err
	}
	return nil
}

// loadConfig resolves the effective configuration and initializes logging.
// The returned cleanup closes the log file if one was opened.
func loadConfig() (*config.Config, func(), error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, nil, err
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}

	_, cleanup, err := logging.Setup(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, cleanup, nil
}
