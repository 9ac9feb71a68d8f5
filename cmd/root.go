package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ranklab/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "ranklab",
	Short: "Candidate ranking with Claude-scored metrics",
	Long:  "Submits candidates and weighted metrics to Claude for scoring, then post-processes the scores into a deterministic, auditable ranking with tiers, formula metrics, and daily usage quotas.",
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
