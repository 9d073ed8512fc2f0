// Package main is the entry point for the exshield binary.
// It provides a CLI for validating rule configuration, running one-shot
// admission checks, and serving the standalone admission endpoint.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "exshield.yaml"

func main() {
	// Load .env file if present
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for exshield
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "exshield",
		Short: "Expression-based admission control for query pipelines",
		Long: `ExShield blocks heavy queries before they execute by evaluating a chain of
operator-authored boolean rules against per-request analysis statistics.

Rules are small expressions over three analysis views (query, filters, total):

  rules:
    - name: max-term-count
      expression: "query.term_count <= 1000"
      value_expression: "query.term_count"
      message: "Query has too many terms. Maximum allowed is 1000."`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", defaultConfigPath, "Path to configuration file (YAML or JSON)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level (debug, info, warn, error); overrides config")

	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newServeCmd())

	return rootCmd
}

// newLogger builds the process logger at the requested level.
func newLogger(level string) *slog.Logger {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slogLevel}))
}

// effectiveLogLevel prefers the CLI flag over the config file setting.
func effectiveLogLevel(cmd *cobra.Command, configLevel string) string {
	if flagLevel, err := cmd.Flags().GetString("log-level"); err == nil && flagLevel != "" {
		return flagLevel
	}
	return configLevel
}
