package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the configured engine state",
		Long: `Build the engine from the effective configuration and print its
comprehensive statistics: concurrency controller state (breakers, limiters,
pools), execution performance, quantization, and memory tracking.

Run a search with --stats to see the same view populated by live traffic.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cleanup, err := loadConfig()
			if err != nil {
				return err
			}
			defer cleanup()

			eng, err := buildEngine(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			return printStats(cmd, eng)
		},
	}
}

// printStats writes the comprehensive engine statistics as indented JSON.
func printStats(cmd *cobra.Command, eng *engine) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(eng.service.Stats())
}
