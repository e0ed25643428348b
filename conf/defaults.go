package conf

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "nomarr.db")

	// Engine defaults
	v.SetDefault("engine.workers", 2)
	v.SetDefault("engine.poll_interval_ms", 500)
	v.SetDefault("engine.submit_wait_seconds", 900) // full-album analysis can run long
	v.SetDefault("engine.heartbeat_seconds", 5)
	v.SetDefault("engine.stale_after_seconds", 30)
	v.SetDefault("engine.sweep_interval_seconds", 60)
	v.SetDefault("engine.claim_rate_per_second", 4.0)
	v.SetDefault("engine.max_contexts", 2)
	v.SetDefault("engine.context_idle_seconds", 300)
	v.SetDefault("engine.cleanup_after_hours", 168) // one week of job history

	// Resource defaults: one GPU slot, a couple of CPU lanes for pure-CPU work
	v.SetDefault("resources.gpu-slot.capacity", 1)
	v.SetDefault("resources.cpu-lane.capacity", 2)

	// Backend defaults for the three stock categories
	v.SetDefault("backends.tag.command", "python3 -m nomarr.analyzer --mode tag")
	v.SetDefault("backends.tag.resource_class", "gpu-slot")
	v.SetDefault("backends.tag.weight", 1)
	v.SetDefault("backends.tag.processes", 1)

	v.SetDefault("backends.scan.command", "python3 -m nomarr.analyzer --mode scan")
	v.SetDefault("backends.scan.resource_class", "cpu-lane")
	v.SetDefault("backends.scan.weight", 1)
	v.SetDefault("backends.scan.processes", 1)

	v.SetDefault("backends.calibrate.command", "python3 -m nomarr.analyzer --mode calibrate")
	v.SetDefault("backends.calibrate.resource_class", "gpu-slot")
	v.SetDefault("backends.calibrate.weight", 1)
	v.SetDefault("backends.calibrate.processes", 1)
}

// DefaultConfig returns a Config populated entirely from defaults.
func DefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	// Defaults are statically known; unmarshal cannot fail here.
	_ = v.Unmarshal(&cfg)
	return &cfg
}
