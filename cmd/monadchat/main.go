package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/antoniostano/monadchat/internal/config"
	"github.com/antoniostano/monadchat/internal/logging"
)

var (
	// Global flags
	logLevel string
	logJSON  bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "monadchat",
	Short: "Quota-gated streaming chat for Monad wallets",
	Long: `monadchat serves a chat assistant that meters free messages per wallet
per day, unlocks unlimited use after an on-chain payment, and streams answers
from a hosted model.

Run "monadchat serve" for the HTTP API or "monadchat chat" for a terminal
session backed by a local state file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(logLevel, logJSON)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
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
	// A malformed APP_LOG_JSON falls back to the defaults.
	defaultLevel, defaultJSON, _ := config.Logging()
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", defaultLevel, "log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", defaultJSON, "emit JSON logs")

	rootCmd.AddCommand(serveCmd, chatCmd, usageCmd, perfCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadLocalConfig reads the environment and points storage at the local
// sqlite state file used by the terminal commands.
func loadLocalConfig(statePath string) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("config error: %w", err)
	}
	if statePath != "" {
		cfg.DatabaseURL = ""
		cfg.KVSQLitePath = statePath
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("config error: %w", err)
	}
	return cfg, nil
}

func defaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".monadchat", "state.db")
	}
	return filepath.Join(home, ".monadchat", "state.db")
}
