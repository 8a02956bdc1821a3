package main

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/storyglass/storyglass/internal/api"
	"github.com/storyglass/storyglass/version"
)

var (
	cfgFile      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "storyglass",
	Short: "Illustrated-prose pipeline: chapters in, consistent scene art out",
	Long: `Storyglass turns prose into illustrated chapters. It ingests a document,
detects chapter boundaries, extracts visually-significant scenes with a
language model, tracks recurring characters and locations across chapters,
and generates a styled image per scene with reference-anchored prompts.

The pipeline includes:
  - Chapter detection for .txt, .pdf, .docx and .epub uploads
  - Scene extraction with structured-output validation and self-repair
  - Entity resolution, merging and per-chapter evolution tracking
  - Reference image management for visual consistency
  - Quality assessment and per-work cost tracking`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.storyglass/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	// Load .env and set output format before any command runs.
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load()
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}
