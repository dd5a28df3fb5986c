// Package main provides the CLI entry point for the PocketSage finance
// assistant server.
//
// # Basic Usage
//
// Start the server:
//
//	pocketsage serve --config pocketsage.yaml
//
// # Environment Variables
//
// Configuration values may reference environment variables, for example:
//
//	llm:
//	  api_key: ${OPENAI_API_KEY}
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pocketsage",
		Short: "PocketSage - Conversational personal finance assistant",
		Long: `PocketSage tracks transactions, categories and budgets through a
conversational interface backed by an LLM with validated tool execution.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(buildServeCmd(), buildVersionCmd())
	return rootCmd
}

// buildVersionCmd creates the "version" command printing build information.
func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pocketsage %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
