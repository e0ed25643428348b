package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xiaden/nomarr-sub002/conf"
	"github.com/xiaden/nomarr-sub002/logger"
	"github.com/xiaden/nomarr-sub002/service"
)

// shutdownGrace is how long in-flight analyses get to finish before they are
// aborted on shutdown.
const shutdownGrace = 30 * time.Second

// ServeCmd runs the analysis daemon in the foreground.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the analysis daemon",
	Long: `Run the nomarr daemon in foreground mode.

The daemon will:
- Recover jobs orphaned by a previous crash or kill
- Start worker pools for every configured category
- Sweep periodically for stuck jobs and stale workers
- Run until interrupted (Ctrl+C), finishing current jobs before exit

Example:
  nomarr serve                 # Run with configured worker counts
  nomarr serve --cleanup       # Also purge old terminal jobs at startup`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cleanup, _ := cmd.Flags().GetBool("cleanup")
		return runServe(cmd, cleanup)
	},
}

func init() {
	ServeCmd.Flags().Bool("cleanup", false, "Purge terminal jobs past the retention window before starting")
}

func runServe(cmd *cobra.Command, cleanup bool) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	svc, err := service.New(cfg, logger.Logger)
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}

	if cleanup {
		removed, err := svc.Cleanup(cfg.Engine.CleanupAfter())
		if err != nil {
			logger.Logger.Warnw("startup cleanup failed", "error", err)
		} else if removed > 0 {
			fmt.Printf("Purged %d old job(s)\n", removed)
		}
	}

	if err := svc.Start(); err != nil {
		svc.Stop(0)
		return fmt.Errorf("failed to start engine: %w", err)
	}

	// Live worker-count changes on config edits. Other settings need a
	// restart; scaling is the one operators reach for while jobs run.
	if configFile := conf.ConfigFileUsed(); configFile != "" {
		watcher, err := conf.NewWatcher(configFile)
		if err != nil {
			logger.Logger.Warnw("config watcher unavailable", "error", err)
		} else {
			watcher.OnReload(func(newCfg *conf.Config) error {
				for _, category := range svc.Categories() {
					if err := svc.ScaleTo(category, newCfg.WorkersFor(category)); err != nil {
						return err
					}
				}
				return nil
			})
			watcher.Start()
			defer watcher.Stop()
		}
	}

	fmt.Println("nomarr daemon started")
	fmt.Printf("  Categories: %v\n", svc.Categories())
	fmt.Printf("  Poll interval: %v\n", cfg.Engine.PollInterval())
	fmt.Printf("  Database: %s\n", cfg.Database.Path)
	fmt.Println("\nPress Ctrl+C for graceful shutdown")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down, letting current jobs finish...")
	svc.Stop(shutdownGrace)
	fmt.Println("nomarr daemon stopped")
	return nil
}
