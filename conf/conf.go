// Package conf loads and validates the nomarr configuration.
//
// Configuration is read from TOML (nomarr.toml in the working directory or
// ~/.nomarr/), overridable through NOMARR_* environment variables.
package conf

import "time"

// Config represents the core nomarr configuration.
type Config struct {
	Database  DatabaseConfig            `mapstructure:"database" toml:"database"`
	Engine    EngineConfig              `mapstructure:"engine" toml:"engine"`
	Resources map[string]ResourceConfig `mapstructure:"resources" toml:"resources"`
	Backends  map[string]BackendConfig  `mapstructure:"backends" toml:"backends"`
}

// DatabaseConfig configures the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path"`
}

// EngineConfig configures the job engine shared across categories.
// Individual backends may override the worker count (see BackendConfig).
type EngineConfig struct {
	Workers              int     `mapstructure:"workers" toml:"workers"`                               // polling workers per category (default: 2)
	PollIntervalMS       int     `mapstructure:"poll_interval_ms" toml:"poll_interval_ms"`             // queue poll interval when idle (default: 500)
	SubmitWaitSeconds    int     `mapstructure:"submit_wait_seconds" toml:"submit_wait_seconds"`       // max wait on a submitted job before caller-side timeout (default: 900)
	HeartbeatSeconds     int     `mapstructure:"heartbeat_seconds" toml:"heartbeat_seconds"`           // worker heartbeat cadence (default: 5)
	StaleAfterSeconds    int     `mapstructure:"stale_after_seconds" toml:"stale_after_seconds"`       // heartbeat age after which a worker is stale (default: 30)
	SweepIntervalSeconds int     `mapstructure:"sweep_interval_seconds" toml:"sweep_interval_seconds"` // orphan-recovery sweep cadence (default: 60)
	ClaimRatePerSecond   float64 `mapstructure:"claim_rate_per_second" toml:"claim_rate_per_second"`   // token-bucket cap on claims across a pool (default: 4)
	MaxContexts          int     `mapstructure:"max_contexts" toml:"max_contexts"`                     // execution contexts per coordinator (default: 2)
	ContextIdleSeconds   int     `mapstructure:"context_idle_seconds" toml:"context_idle_seconds"`     // idle analyzer process recycle threshold (default: 300)
	CleanupAfterHours    int     `mapstructure:"cleanup_after_hours" toml:"cleanup_after_hours"`       // terminal-job retention (default: 168)
}

// ResourceConfig configures one scarce hardware class (e.g., "gpu-slot").
// Capacity is the hard admission-control limit on the sum of claim weights.
type ResourceConfig struct {
	Capacity int `mapstructure:"capacity" toml:"capacity"`
}

// BackendConfig configures one processing backend / job category.
type BackendConfig struct {
	Command       string `mapstructure:"command" toml:"command"`               // analyzer command line, shell-quoted
	ResourceClass string `mapstructure:"resource_class" toml:"resource_class"` // ledger class claimed per job
	Weight        int    `mapstructure:"weight" toml:"weight"`                 // capacity units per job (default: 1)
	Processes     int    `mapstructure:"processes" toml:"processes"`           // warm analyzer processes kept alive (default: 1)
	Workers       int    `mapstructure:"workers" toml:"workers"`               // override engine.workers for this category (0 = inherit)
}

// PollInterval returns the idle queue poll interval.
func (e EngineConfig) PollInterval() time.Duration {
	return time.Duration(e.PollIntervalMS) * time.Millisecond
}

// SubmitWait returns the maximum caller-side wait on a submitted job.
func (e EngineConfig) SubmitWait() time.Duration {
	return time.Duration(e.SubmitWaitSeconds) * time.Second
}

// Heartbeat returns the worker heartbeat cadence.
func (e EngineConfig) Heartbeat() time.Duration {
	return time.Duration(e.HeartbeatSeconds) * time.Second
}

// StaleAfter returns the heartbeat age beyond which a worker is stale.
func (e EngineConfig) StaleAfter() time.Duration {
	return time.Duration(e.StaleAfterSeconds) * time.Second
}

// SweepInterval returns the orphan-recovery sweep cadence.
func (e EngineConfig) SweepInterval() time.Duration {
	return time.Duration(e.SweepIntervalSeconds) * time.Second
}

// ContextIdle returns the analyzer-process idle recycle threshold.
func (e EngineConfig) ContextIdle() time.Duration {
	return time.Duration(e.ContextIdleSeconds) * time.Second
}

// CleanupAfter returns the terminal-job retention window.
func (e EngineConfig) CleanupAfter() time.Duration {
	return time.Duration(e.CleanupAfterHours) * time.Hour
}

// WorkersFor returns the worker count for a category, applying the
// per-backend override when set.
func (c *Config) WorkersFor(category string) int {
	if b, ok := c.Backends[category]; ok && b.Workers > 0 {
		return b.Workers
	}
	return c.Engine.Workers
}
