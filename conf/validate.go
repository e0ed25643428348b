package conf

import (
	"github.com/kballard/go-shellquote"

	"github.com/xiaden/nomarr-sub002/errors"
)

// Validate checks cross-field invariants that viper cannot express:
// every backend must reference a declared resource class, claim weights must
// fit within that class's capacity, and analyzer command lines must parse.
func Validate(cfg *Config) error {
	if cfg.Database.Path == "" {
		return errors.New("database.path must not be empty")
	}
	if cfg.Engine.Workers < 1 {
		return errors.Newf("engine.workers must be at least 1, got %d", cfg.Engine.Workers)
	}
	if cfg.Engine.MaxContexts < 1 {
		return errors.Newf("engine.max_contexts must be at least 1, got %d", cfg.Engine.MaxContexts)
	}
	if cfg.Engine.StaleAfterSeconds <= cfg.Engine.HeartbeatSeconds {
		return errors.Newf("engine.stale_after_seconds (%d) must exceed engine.heartbeat_seconds (%d)",
			cfg.Engine.StaleAfterSeconds, cfg.Engine.HeartbeatSeconds)
	}

	for class, rc := range cfg.Resources {
		if rc.Capacity < 1 {
			return errors.Newf("resources.%s.capacity must be at least 1, got %d", class, rc.Capacity)
		}
	}

	for category, b := range cfg.Backends {
		if b.Command == "" {
			return errors.Newf("backends.%s.command must not be empty", category)
		}
		if _, err := shellquote.Split(b.Command); err != nil {
			return errors.Wrapf(err, "backends.%s.command is not a valid command line", category)
		}
		rc, ok := cfg.Resources[b.ResourceClass]
		if !ok {
			return errors.Newf("backends.%s.resource_class %q is not declared under [resources]",
				category, b.ResourceClass)
		}
		weight := b.Weight
		if weight == 0 {
			weight = 1
		}
		if weight < 0 {
			return errors.Newf("backends.%s.weight must be positive, got %d", category, b.Weight)
		}
		if weight > rc.Capacity {
			return errors.Newf("backends.%s.weight %d exceeds resources.%s.capacity %d - jobs could never run",
				category, weight, b.ResourceClass, rc.Capacity)
		}
		if b.Processes < 0 {
			return errors.Newf("backends.%s.processes must not be negative, got %d", category, b.Processes)
		}
	}

	return nil
}
