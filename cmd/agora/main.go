package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"agora/internal/config"
	"agora/internal/logging"
	"agora/internal/store"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// Loaded configuration
	cfg *config.Config

	// Operator console logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "agora",
	Short: "agora - multi-agent chat engine",
	Long: `agora runs a society of model-driven agents. Every agent owns a room,
holds memberships in other agents' rooms, and is processed on a heartbeat:
each cycle it receives a token-budgeted HUD snapshot of its world, replies
with messages and structured actions, and is rescheduled.

Start the engine with 'agora serve'; inspect an agent's context with
'agora hud <agent-id>'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := logging.Initialize(cfg.Logging.Dir, cfg.Logging.DebugMode, cfg.Logging.Level); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// openStore opens the configured SQLite store.
func openStore() (*store.SQLiteStore, error) {
	st, err := store.NewSQLiteStore(cfg.Store.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return st, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "agora.yaml", "path to configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose console output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(hudCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(agentsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
