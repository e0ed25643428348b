package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xiaden/nomarr-sub002/conf"
	"github.com/xiaden/nomarr-sub002/logger"
	"github.com/xiaden/nomarr-sub002/service"
)

// loadConfig resolves configuration, honoring the --config override.
func loadConfig(cmd *cobra.Command) (*conf.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path, _ = cmd.Root().PersistentFlags().GetString("config")
	}
	if path != "" {
		return conf.LoadFromFile(path)
	}
	return conf.Load()
}

// withService builds a service for one-shot CLI operations (no workers
// started) and tears it down afterwards.
func withService(cmd *cobra.Command, fn func(svc *service.Service) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	svc, err := service.New(cfg, logger.Logger)
	if err != nil {
		return fmt.Errorf("failed to open engine: %w", err)
	}
	defer svc.Stop(0)

	return fn(svc)
}

// truncate shortens a string to maxLen characters for table display.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// formatAge renders a timestamp as a compact relative age.
func formatAge(t time.Time) string {
	age := time.Since(t)
	switch {
	case age < time.Minute:
		return fmt.Sprintf("%ds", int(age.Seconds()))
	case age < time.Hour:
		return fmt.Sprintf("%dm", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd", int(age.Hours()/24))
	}
}
