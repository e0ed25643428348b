package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xiaden/nomarr-sub002/service"
)

// PoolCmd groups worker pool management.
var PoolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Pause, resume, and inspect worker pools",
	Long: `Manage per-category worker pools.

The pause flag is persisted: a paused category stays paused across daemon
restarts until resumed.

Commands:
  nomarr pool pause <category>    # Stop claiming new jobs
  nomarr pool resume <category>   # Start claiming again
  nomarr pool status              # Show pause state and capacity usage`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// PoolPauseCmd pauses a category.
var PoolPauseCmd = &cobra.Command{
	Use:   "pause <category>",
	Short: "Stop a category from claiming new jobs",
	Long: `Pause a category. Jobs already running finish normally; nothing new
is claimed until resume. The flag survives daemon restarts.

Example:
  nomarr pool pause tag`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPoolPause(cmd, args[0])
	},
}

// PoolResumeCmd resumes a category.
var PoolResumeCmd = &cobra.Command{
	Use:   "resume <category>",
	Short: "Let a category claim jobs again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPoolResume(cmd, args[0])
	},
}

// PoolStatusCmd shows pool and capacity state.
var PoolStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pause state, queue depth, and capacity usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPoolStatus(cmd)
	},
}

func init() {
	PoolCmd.AddCommand(PoolPauseCmd)
	PoolCmd.AddCommand(PoolResumeCmd)
	PoolCmd.AddCommand(PoolStatusCmd)
}

func runPoolPause(cmd *cobra.Command, category string) error {
	return withService(cmd, func(svc *service.Service) error {
		if err := svc.Pause(category); err != nil {
			return fmt.Errorf("failed to pause: %w", err)
		}
		fmt.Printf("Paused %s; running jobs will finish\n", category)
		return nil
	})
}

func runPoolResume(cmd *cobra.Command, category string) error {
	return withService(cmd, func(svc *service.Service) error {
		if err := svc.Resume(category); err != nil {
			return fmt.Errorf("failed to resume: %w", err)
		}
		fmt.Printf("Resumed %s\n", category)
		return nil
	})
}

func runPoolStatus(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	return withService(cmd, func(svc *service.Service) error {
		fmt.Printf("%-12s %-8s %8s %8s\n", "CATEGORY", "PAUSED", "PENDING", "RUNNING")
		for _, category := range svc.Categories() {
			paused, err := svc.Paused(category)
			if err != nil {
				return err
			}
			stats, err := svc.Stats(category)
			if err != nil {
				return err
			}
			fmt.Printf("%-12s %-8t %8d %8d\n", category, paused, stats.Pending, stats.Running)
		}

		fmt.Printf("\n%-12s %8s %8s\n", "RESOURCE", "USED", "CAPACITY")
		for class, rc := range cfg.Resources {
			used, err := svc.Ledger().ActiveWeight(class)
			if err != nil {
				return err
			}
			fmt.Printf("%-12s %8d %8d\n", class, used, rc.Capacity)
		}
		return nil
	})
}
