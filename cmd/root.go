package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/trialops/dqi-engine/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "dqi-engine",
	Short: "Clinical trial data quality harmonization and scoring",
	Long:  "Normalizes per-study EDC spreadsheet exports into subject records, computes Data Quality Index scores, and serves the resulting snapshot to the dashboard.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
