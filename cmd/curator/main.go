package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ent0n29/curator/internal/config"
	"github.com/ent0n29/curator/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "curator",
	Short: "Catalog-grounded book recommendation chat",
	Long: `curator serves Thư, a library curator persona that recommends books
from a local catalog through a hosted language model.

Available subcommands:
  serve   - Run the HTTP and websocket chat server
  chat    - Chat in the terminal
  catalog - Inspect the book catalog
  replay  - Replay scripted turns against a running server`,
	SilenceUsage: true,
}

func init() {
	catalogCmd.AddCommand(catalogStatsCmd)
	rootCmd.AddCommand(serveCmd, chatCmd, catalogCmd, replayCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "curator: %v\n", err)
		os.Exit(1)
	}
}

// loadRuntime reads the environment and builds the process logger.
// quiet raises the console level so interactive output stays readable.
func loadRuntime(quiet bool) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("config error: %w", err)
	}
	level := cfg.LogLevel
	if quiet && os.Getenv("APP_LOG_LEVEL") == "" {
		level = "warn"
	}
	logger, err := logging.New(logging.Options{
		Level:      level,
		File:       cfg.LogFile,
		Production: cfg.Env == "production",
	})
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}
