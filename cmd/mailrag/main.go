package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/mailrag/internal/config"
)

var version = "dev"

var (
	noColor  bool
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:           "mailrag",
	Short:         "Ask questions about your recent email",
	Long:          "mailrag keeps a capped, time-ordered copy of your recent email, indexes it\nfor semantic search and answers questions using the most relevant messages.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if os.Getenv("NO_COLOR") != "" {
			noColor = true
		}
		setupLogging(logLevel)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides log.level")

	rootCmd.AddCommand(fetchCmd, indexCmd, refreshCmd, searchCmd, askCmd, historyCmd)
	rootCmd.AddCommand(serveCmd, stopCmd, statusCmd, configCmd, authCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setupLogging(level string) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(level)})))
}

// loadConfig loads configuration and applies log.level unless --log-level
// was given.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("loading config: %w", err)
	}
	if logLevel == "" {
		setupLogging(cfg.Log.Level)
	}
	return cfg, nil
}
