package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xiaden/nomarr-sub002/cmd/nomarr/commands"
	"github.com/xiaden/nomarr-sub002/logger"
)

var rootCmd = &cobra.Command{
	Use:   "nomarr",
	Short: "nomarr - music library auto-tagger",
	Long: `nomarr - background analysis engine for music libraries.

nomarr queues audio analysis work (tagging, library scans, model
recalibration) and drains it with a worker pool that respects hardware
capacity limits. Jobs survive restarts; interrupted work is requeued
automatically.

Available commands:
  serve  - Run the analysis daemon in the foreground
  add    - Enqueue a file or directory for analysis
  jobs   - Inspect and manage queued jobs
  pool   - Pause, resume, and scale worker pools
  conf   - Show or initialize configuration

Examples:
  nomarr serve                       # Run the daemon
  nomarr add tag /music/album.flac   # Queue one file for tagging
  nomarr jobs ls --status error      # List failed jobs
  nomarr pool pause tag              # Stop claiming tag jobs`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonOutput); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON instead of console format")
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default: ./nomarr.toml or ~/.nomarr/nomarr.toml)")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.AddCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.PoolCmd)
	rootCmd.AddCommand(commands.ConfCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
