// Package cmd provides the datachat CLI.
//
// Commands:
//   - serve: HTTP API server with SSE streaming
//   - migrate: apply database migrations and exit
//   - version: build information
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/datachat-io/datachat/internal/log"
)

var (
	flagDebug    bool
	flagJSONLogs bool
)

var rootCmd = &cobra.Command{
	Use:           "datachat",
	Short:         "Data-aware chat backend for Gemini",
	Long:          "datachat serves a browser chat client: streaming Gemini responses,\nsession persistence, and analysis tools over attached CSV/JSON datasets.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&flagJSONLogs, "json-logs", false, "log in JSON format")
}

// newLogger builds the process logger from the global flags.
func newLogger() log.Logger {
	level := slog.LevelInfo
	if flagDebug {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level, JSON: flagJSONLogs})
}
