package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, Validate(cfg), "shipped defaults must validate")

	assert.Equal(t, 2, cfg.Engine.Workers)
	assert.Contains(t, cfg.Backends, "tag")
	assert.Contains(t, cfg.Backends, "scan")
	assert.Contains(t, cfg.Backends, "calibrate")
	assert.Contains(t, cfg.Resources, "gpu-slot")
}

func TestWorkersForOverride(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.Workers = 2

	backend := cfg.Backends["scan"]
	backend.Workers = 5
	cfg.Backends["scan"] = backend

	assert.Equal(t, 5, cfg.WorkersFor("scan"), "per-backend override wins")
	assert.Equal(t, 2, cfg.WorkersFor("tag"), "zero override inherits engine workers")
	assert.Equal(t, 2, cfg.WorkersFor("unknown"), "unknown category inherits engine workers")
}

func TestValidateRejectsStaleUnderHeartbeat(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.HeartbeatSeconds = 30
	cfg.Engine.StaleAfterSeconds = 10

	err := Validate(cfg)
	require.Error(t, err, "staleness threshold at or below heartbeat would flag live workers")
}

func TestValidateRejectsUndeclaredResourceClass(t *testing.T) {
	cfg := DefaultConfig()
	backend := cfg.Backends["tag"]
	backend.ResourceClass = "quantum-slot"
	cfg.Backends["tag"] = backend

	require.Error(t, Validate(cfg))
}

func TestValidateRejectsWeightOverCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resources["gpu-slot"] = ResourceConfig{Capacity: 1}
	backend := cfg.Backends["tag"]
	backend.Weight = 2
	cfg.Backends["tag"] = backend

	require.Error(t, Validate(cfg), "a job heavier than total capacity could never run")
}

func TestValidateRejectsUnparseableCommand(t *testing.T) {
	cfg := DefaultConfig()
	backend := cfg.Backends["tag"]
	backend.Command = `python3 -m "unterminated`
	cfg.Backends["tag"] = backend

	require.Error(t, Validate(cfg))
}

func TestDurationAccessors(t *testing.T) {
	e := EngineConfig{
		PollIntervalMS:       250,
		SubmitWaitSeconds:    900,
		HeartbeatSeconds:     5,
		StaleAfterSeconds:    30,
		SweepIntervalSeconds: 60,
		ContextIdleSeconds:   300,
		CleanupAfterHours:    168,
	}

	assert.Equal(t, "250ms", e.PollInterval().String())
	assert.Equal(t, "15m0s", e.SubmitWait().String())
	assert.Equal(t, "5s", e.Heartbeat().String())
	assert.Equal(t, "30s", e.StaleAfter().String())
	assert.Equal(t, "1m0s", e.SweepInterval().String())
	assert.Equal(t, "5m0s", e.ContextIdle().String())
	assert.Equal(t, "168h0m0s", e.CleanupAfter().String())
}

func TestStarterConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nomarr.toml")

	require.NoError(t, WriteStarterConfig(path))

	// Refuses to clobber an existing file.
	require.Error(t, WriteStarterConfig(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Engine.Workers, loaded.Engine.Workers)
	assert.Contains(t, loaded.Backends, "tag")
}

func TestLoadFromMissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	os.Setenv("NOMARR_ENGINE_WORKERS", "7")
	t.Cleanup(func() { os.Unsetenv("NOMARR_ENGINE_WORKERS") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Engine.Workers)
}
