// Package main provides the CLI entry point for the loom agent runtime.
//
// Loom archives everything a chat posts into a relational canvas, routes
// conversational turns through a tree of Gemini-backed agents, and serves
// an HTTP API alongside an optional Telegram adapter.
//
// # Basic Usage
//
// Start the server:
//
//	loom serve --config loom.yaml
//
// Import a legacy message archive:
//
//	loom migrate --from old_messages.db
//
// # Environment Variables
//
// Configuration can be provided via environment variables (or a .env
// file in the working directory):
//
//   - GOOGLE_API_KEY: Google AI Studio key (required)
//   - TELEGRAM_BOT_TOKEN: Telegram bot token (enables the adapter)
//   - TELEGRAM_ALLOWED_CHAT_IDS: comma separated chat whitelist
//   - DB_PATH, SESSION_DB_PATH: SQLite file locations
//   - GEMINI_MODEL_FAST, GEMINI_MODEL_SMART: model overrides
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "loom",
		Short: "Loom - conversational canvas agent runtime",
		Long: `Loom archives chat messages, voice notes, images and documents into a
relational canvas, and answers through a tree of Gemini-backed agents.

Channels: Telegram, HTTP API
Agents: orchestrator, chat_summarizer, canvas_manager, maintenance_agent,
        disney_facilitator (dreamer / realist / critic)`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildMigrateCmd(),
	)
	return rootCmd
}
