package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xiaden/nomarr-sub002/queue"
	"github.com/xiaden/nomarr-sub002/service"
)

// JobsCmd groups job inspection and management.
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage queued jobs",
	Long: `Inspect and manage the job queue.

Job management commands:
  nomarr jobs ls <category>      # List jobs for a category
  nomarr jobs status <id>        # Show job details
  nomarr jobs stats              # Per-status counts for every category
  nomarr jobs flush <category>   # Bulk-delete jobs by status
  nomarr jobs rm <id>            # Remove a single job
  nomarr jobs reset              # Requeue jobs stuck with dead workers
  nomarr jobs cleanup            # Purge old terminal jobs`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// JobsLsCmd lists jobs in one category.
var JobsLsCmd = &cobra.Command{
	Use:   "ls <category>",
	Short: "List jobs for a category",
	Long: `List jobs, newest first, optionally filtered by status.

Status filters: pending, running, done, error, skipped

Examples:
  nomarr jobs ls tag                   # Most recent tag jobs
  nomarr jobs ls tag --status error    # Failed tag jobs
  nomarr jobs ls scan --limit 50`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		statusFilter, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		return runJobsLs(cmd, args[0], statusFilter, limit, offset)
	},
}

// JobsStatusCmd shows one job in detail.
var JobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show details for one job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsStatus(cmd, args[0])
	},
}

// JobsStatsCmd prints per-status counts for every category.
var JobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue depth and per-status counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsStats(cmd)
	},
}

// JobsFlushCmd bulk-deletes jobs by status.
var JobsFlushCmd = &cobra.Command{
	Use:   "flush <category>",
	Short: "Bulk-delete jobs by status",
	Long: `Delete all jobs in the given statuses for one category.

Running jobs are never flushed. Defaults to pending jobs only.

Examples:
  nomarr jobs flush tag                        # Drop the pending backlog
  nomarr jobs flush tag --status error,skipped # Drop failed and skipped jobs`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		statuses, _ := cmd.Flags().GetStringSlice("status")
		return runJobsFlush(cmd, args[0], statuses)
	},
}

// JobsRmCmd removes a single job.
var JobsRmCmd = &cobra.Command{
	Use:   "rm <job-id>",
	Short: "Remove a single job",
	Long: `Remove one job by id.

Removing a running job requires --force, which also reclaims the capacity
its worker holds. The analysis itself is not interrupted; its result is
discarded when it finishes.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		return runJobsRm(cmd, args[0], force)
	},
}

// JobsResetCmd requeues jobs stuck with dead workers.
var JobsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Requeue jobs stuck with dead workers",
	Long: `Requeue running jobs whose worker has stopped heartbeating and
reclaim the capacity those workers held. Safe to run at any time; jobs
held by live workers are untouched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsReset(cmd)
	},
}

// JobsCleanupCmd purges old terminal jobs.
var JobsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Purge terminal jobs past the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		return runJobsCleanup(cmd, olderThan)
	},
}

func init() {
	JobsLsCmd.Flags().String("status", "", "Filter by status (pending, running, done, error, skipped)")
	JobsLsCmd.Flags().Int("limit", 20, "Maximum number of jobs to display")
	JobsLsCmd.Flags().Int("offset", 0, "Skip this many jobs")

	JobsFlushCmd.Flags().StringSlice("status", []string{"pending"}, "Statuses to flush")
	JobsRmCmd.Flags().Bool("force", false, "Allow removing a running job")
	JobsCleanupCmd.Flags().Duration("older-than", 7*24*time.Hour, "Purge terminal jobs finished earlier than this")

	JobsCmd.AddCommand(JobsLsCmd)
	JobsCmd.AddCommand(JobsStatusCmd)
	JobsCmd.AddCommand(JobsStatsCmd)
	JobsCmd.AddCommand(JobsFlushCmd)
	JobsCmd.AddCommand(JobsRmCmd)
	JobsCmd.AddCommand(JobsResetCmd)
	JobsCmd.AddCommand(JobsCleanupCmd)
}

func runJobsLs(cmd *cobra.Command, category, statusFilter string, limit, offset int) error {
	var status *queue.Status
	if statusFilter != "" {
		s := queue.Status(statusFilter)
		if !queue.IsValidStatus(s) {
			return fmt.Errorf("invalid status %q (want pending, running, done, error, or skipped)", statusFilter)
		}
		status = &s
	}

	return withService(cmd, func(svc *service.Service) error {
		jobs, err := svc.List(category, status, limit, offset)
		if err != nil {
			return fmt.Errorf("failed to list jobs: %w", err)
		}

		if len(jobs) == 0 {
			fmt.Println("No jobs found")
			return nil
		}

		fmt.Printf("%-38s %-9s %-40s %-6s %s\n", "JOB ID", "STATUS", "TARGET", "AGE", "WORKER")
		fmt.Printf("%-38s %-9s %-40s %-6s %s\n", "------", "------", "------", "---", "------")
		for _, job := range jobs {
			fmt.Printf("%-38s %-9s %-40s %-6s %s\n",
				job.ID,
				job.Status,
				truncate(job.Target, 40),
				formatAge(job.CreatedAt),
				job.WorkerID)
		}
		fmt.Printf("\nTotal: %d job(s)\n", len(jobs))
		return nil
	})
}

func runJobsStatus(cmd *cobra.Command, jobID string) error {
	return withService(cmd, func(svc *service.Service) error {
		job, err := svc.GetStatus(jobID)
		if err != nil {
			return fmt.Errorf("failed to get job: %w", err)
		}

		fmt.Printf("Job ID: %s\n", job.ID)
		fmt.Printf("  Category: %s\n", job.Category)
		fmt.Printf("  Target: %s\n", job.Target)
		fmt.Printf("  Status: %s\n", job.Status)
		if job.WorkerID != "" {
			fmt.Printf("  Worker: %s\n", job.WorkerID)
		}
		if job.Error != "" {
			fmt.Printf("  Error: %s\n", job.Error)
		}
		if len(job.Options) > 0 {
			fmt.Printf("  Options: %s\n", string(job.Options))
		}
		if len(job.Result) > 0 {
			fmt.Printf("  Result: %s\n", string(job.Result))
		}
		fmt.Printf("\nCreated: %s\n", job.CreatedAt.Format("2006-01-02 15:04:05"))
		if job.StartedAt != nil {
			fmt.Printf("Started: %s\n", job.StartedAt.Format("2006-01-02 15:04:05"))
		}
		if job.FinishedAt != nil {
			fmt.Printf("Finished: %s\n", job.FinishedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	})
}

func runJobsStats(cmd *cobra.Command) error {
	return withService(cmd, func(svc *service.Service) error {
		all, err := svc.StatsAll()
		if err != nil {
			return fmt.Errorf("failed to get stats: %w", err)
		}

		fmt.Printf("%-12s %8s %8s %8s %8s %8s %8s\n",
			"CATEGORY", "PENDING", "RUNNING", "DONE", "ERROR", "SKIPPED", "TOTAL")
		for _, category := range svc.Categories() {
			s := all[category]
			fmt.Printf("%-12s %8d %8d %8d %8d %8d %8d\n",
				category, s.Pending, s.Running, s.Done, s.Error, s.Skipped, s.Total)
		}
		return nil
	})
}

func runJobsFlush(cmd *cobra.Command, category string, statusNames []string) error {
	statuses := make([]queue.Status, 0, len(statusNames))
	for _, name := range statusNames {
		s := queue.Status(name)
		if !queue.IsValidStatus(s) {
			return fmt.Errorf("invalid status %q", name)
		}
		statuses = append(statuses, s)
	}

	return withService(cmd, func(svc *service.Service) error {
		removed, err := svc.Flush(category, statuses)
		if err != nil {
			return fmt.Errorf("failed to flush: %w", err)
		}
		fmt.Printf("Flushed %d job(s)\n", removed)
		return nil
	})
}

func runJobsRm(cmd *cobra.Command, jobID string, force bool) error {
	return withService(cmd, func(svc *service.Service) error {
		if err := svc.Remove(jobID, force); err != nil {
			return fmt.Errorf("failed to remove job: %w", err)
		}
		fmt.Printf("Removed job %s\n", jobID)
		return nil
	})
}

func runJobsReset(cmd *cobra.Command) error {
	return withService(cmd, func(svc *service.Service) error {
		requeued, err := svc.ResetStuck()
		if err != nil {
			return fmt.Errorf("failed to reset stuck jobs: %w", err)
		}
		fmt.Printf("Requeued %d stuck job(s)\n", requeued)
		return nil
	})
}

func runJobsCleanup(cmd *cobra.Command, olderThan time.Duration) error {
	return withService(cmd, func(svc *service.Service) error {
		removed, err := svc.Cleanup(olderThan)
		if err != nil {
			return fmt.Errorf("failed to clean up: %w", err)
		}
		fmt.Printf("Purged %d old job(s)\n", removed)
		return nil
	})
}
