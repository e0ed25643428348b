package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/xiaden/nomarr-sub002/queue"
	"github.com/xiaden/nomarr-sub002/service"
)

// AddCmd enqueues analysis work.
var AddCmd = &cobra.Command{
	Use:   "add <category> <target>",
	Short: "Enqueue a file or directory for analysis",
	Long: `Queue a target for background analysis.

Categories are defined in configuration; the defaults are:
  tag        - Analyze one audio file and write tags
  scan       - Walk a library directory and queue untagged files
  calibrate  - Recompute model calibration from tagged results

The job runs when the daemon claims it. With --wait, this command polls
until the job finishes or the timeout expires; on timeout the job keeps
running in the daemon.

Examples:
  nomarr add tag /music/album/01.flac
  nomarr add scan /music --options '{"recursive":true}'
  nomarr add tag /music/one.flac --wait --timeout 5m`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		optionsRaw, _ := cmd.Flags().GetString("options")
		wait, _ := cmd.Flags().GetBool("wait")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		return runAdd(cmd, args[0], args[1], optionsRaw, wait, timeout)
	},
}

func init() {
	AddCmd.Flags().String("options", "", "Backend options as a JSON object")
	AddCmd.Flags().Bool("wait", false, "Block until the job reaches a terminal status")
	AddCmd.Flags().Duration("timeout", 15*time.Minute, "Maximum wait with --wait")
}

func runAdd(cmd *cobra.Command, category, target, optionsRaw string, wait bool, timeout time.Duration) error {
	var options json.RawMessage
	if optionsRaw != "" {
		if !json.Valid([]byte(optionsRaw)) {
			return fmt.Errorf("--options is not valid JSON: %s", optionsRaw)
		}
		options = json.RawMessage(optionsRaw)
	}

	return withService(cmd, func(svc *service.Service) error {
		job, err := svc.Enqueue(category, target, options)
		if err != nil {
			return fmt.Errorf("failed to enqueue: %w", err)
		}

		if !wait {
			fmt.Printf("Queued %s job %s\n", category, job.ID)
			return nil
		}

		spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Waiting for %s analysis of %s...", category, target))
		final, err := pollUntilTerminal(svc, job.ID, timeout)
		if err != nil {
			spinner.Fail(err.Error())
			return err
		}

		switch final.Status {
		case queue.StatusDone:
			spinner.Success(fmt.Sprintf("Job %s done", final.ID))
			if len(final.Result) > 0 {
				fmt.Println(string(final.Result))
			}
		case queue.StatusSkipped:
			spinner.Warning(fmt.Sprintf("Job %s skipped: %s", final.ID, final.Error))
		default:
			spinner.Fail(fmt.Sprintf("Job %s failed: %s", final.ID, final.Error))
			return fmt.Errorf("job %s failed", final.ID)
		}
		return nil
	})
}

// pollUntilTerminal watches a job by polling the queue. Unlike the in-process
// blocking API this works across processes, which is what the CLI needs when
// the daemon does the processing.
func pollUntilTerminal(svc *service.Service, jobID string, timeout time.Duration) (*queue.Job, error) {
	deadline := time.Now().Add(timeout)
	for {
		job, err := svc.GetStatus(jobID)
		if err != nil {
			return nil, fmt.Errorf("failed to check job status: %w", err)
		}
		if job.Status.Terminal() {
			return job, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("job %s still %s after %s; it keeps running in the daemon", jobID, job.Status, timeout)
		}
		time.Sleep(time.Second)
	}
}
