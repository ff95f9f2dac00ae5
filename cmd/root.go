package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/azkidenz/intervia-poc/config"
	"github.com/azkidenz/intervia-poc/logger"
)

var (
	// configFile is set by the --config flag.
	configFile string

	// cfg is loaded once before any subcommand runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "intervia",
	Short:         "Ticket middleware between the transit ledger and the knowledge graph",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configFile)
		if err != nil {
			return fmt.Errorf("config file error: %w", err)
		}
		if err := logger.InitLogger(c.Log.AppLogFile, c.Log.Level); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		cfg = c
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "config/config.yaml", "path to the config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(syncCmd)
}
