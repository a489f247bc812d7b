package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lexcite/corpuscore/internal/config"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "corpuscore",
		Short:         "Grounded citation retrieval and verification backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newEvalCmd())
	root.AddCommand(newReplayCmd())
	root.AddCommand(newRetentionCleanupCmd())
	root.AddCommand(newTokenCmd())

	if err := root.Execute(); err != nil {
		bootLogger().Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// bootLogger is used before config.Load has determined the configured log
// level, and as a fallback when a subcommand fails before building its own.
func bootLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func parseLogLevel(raw string) slog.Level {
	switch raw {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
