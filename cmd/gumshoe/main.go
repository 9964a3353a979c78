package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gumshoe/internal/config"
	"gumshoe/internal/logging"
	"gumshoe/internal/plugin"
	"gumshoe/internal/state"
)

var (
	// Global flags
	verbose    bool
	configPath string
	statePath  string

	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "gumshoe",
	Short: "gumshoe - investigation orchestration engine",
	Long: `gumshoe runs reconnaissance investigations against a target by
orchestrating external tools through a plugin registry.

Each tool invocation is a task executed under bounded concurrency; parsed
results feed an intelligence layer that deduplicates artifacts and chains
follow-up tasks. Every round is snapshotted to SQLite so interrupted
investigations can be resumed.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(verbose)
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
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a profiles YAML file")
	rootCmd.PersistentFlags().StringVar(&statePath, "state-db", "", "path to the state database (overrides config)")
}

// loadConfig resolves the effective configuration: built-in defaults,
// then the optional config file, then flag overrides.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.ApplyEnvOverrides()
	if statePath != "" {
		cfg.StateDatabase = statePath
	}
	if cfg.StateDatabase == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve home directory: %w", err)
		}
		cfg.StateDatabase = home + "/.gumshoe/state.db"
	}
	return cfg, nil
}

// openManager opens the state database named by the configuration.
func openManager() (*state.Manager, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	mgr, err := state.NewManager(cfg.StateDatabase, logger)
	if err != nil {
		return nil, nil, err
	}
	return mgr, cfg, nil
}

// buildRegistry registers the built-in plugins.
func buildRegistry() (*plugin.Registry, error) {
	registry := plugin.NewRegistry()
	if err := plugin.RegisterBuiltins(registry); err != nil {
		return nil, err
	}
	return registry, nil
}

// signalContext cancels the returned context on SIGINT or SIGTERM so a
// running investigation winds down through its kill path.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-ch:
			logger.Warn("signal received, stopping investigation", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(ch)
	}()
	return ctx, cancel
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
