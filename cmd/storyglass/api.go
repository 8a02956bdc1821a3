package main

import (
	"github.com/spf13/cobra"

	"github.com/storyglass/storyglass/internal/server/endpoints"
)

var serverURL string

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Commands that call the running server",
	Long: `API commands call the running storyglass server via HTTP.

These commands require a running server (storyglass serve).
Use --server to specify a custom server URL.

Examples:
  storyglass api health                    # Check server health
  storyglass api works ingest book.txt     # Upload and ingest a work
  storyglass api works status <id>         # Chapter-by-chapter progress`,
}

var worksCmd = &cobra.Command{
	Use:   "works",
	Short: "Work ingestion and status commands",
}

// getServerURL returns the server URL at runtime (after flag parsing).
func getServerURL() string {
	return serverURL
}

func init() {
	// Add --server flag to api command (persistent so all subcommands inherit it)
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://localhost:8475", "Server URL",
	)

	// Health endpoints at top level of api
	apiCmd.AddCommand((&endpoints.HealthEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.StatusEndpoint{}).Command(getServerURL))

	// Works as subcommand group
	worksCmd.AddCommand((&endpoints.CreateWorkEndpoint{}).Command(getServerURL))
	worksCmd.AddCommand((&endpoints.ListWorksEndpoint{}).Command(getServerURL))
	worksCmd.AddCommand((&endpoints.WorkStatusEndpoint{}).Command(getServerURL))
	worksCmd.AddCommand((&endpoints.RetryChapterEndpoint{}).Command(getServerURL))

	apiCmd.AddCommand(worksCmd)
	rootCmd.AddCommand(apiCmd)
}
