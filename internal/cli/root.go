// Package cli implements the causez command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zoobzio/causez"
)

var (
	configPath string

	cfg    *causez.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "causez",
	Short:         "Ship and inspect causal trace events",
	Long:          "Emits causal trace events through a configured transport and tails the events published on Kafka or Redis.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = causez.LoadConfig(configPath)
		if err != nil {
			return err
		}
		logger, err = causez.NewZapLogger(cfg.Logging)
		if err != nil {
			return fmt.Errorf("building logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
