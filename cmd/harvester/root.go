package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/blockedby/channel-harvester/internal/config"
	"github.com/blockedby/channel-harvester/internal/logger"
)

var (
	// global flags
	configFile string
	logLevel   string
	logJSON    bool
)

var rootCmd = &cobra.Command{
	Use:   "harvester",
	Short: "Collect recent messages from public Telegram channels",
	Long: `harvester walks the history of one or more public Telegram channels,
classifies every message, optionally downloads its media and writes the
run snapshot as JSON and/or CSV.

Runs resume where the previous one stopped unless --fresh is given.
Authenticate once with tg-auth before the first run.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML run file (default $HARVEST_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "write JSON log lines instead of console output")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig reads the configuration and initializes the global logger.
// Flags given on the command line win over the environment.
func loadConfig(cmd *cobra.Command) (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}

	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if cmd.Flags().Changed("log-json") {
		cfg.LogJSON = logJSON
	}

	if err := logger.Init(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile, JSON: cfg.LogJSON}); err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger.Get(), nil
}
