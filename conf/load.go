package conf

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/xiaden/nomarr-sub002/errors"
)

var (
	globalConfig  *Config
	viperInstance *viper.Viper
	globalMu      sync.Mutex
)

// Load reads the nomarr configuration using Viper. The result is cached;
// subsequent calls return the same Config until Reset().
func Load() (*Config, error) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalConfig != nil {
		return globalConfig, nil
	}

	v := initViper()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := Validate(&config); err != nil {
		return nil, err
	}

	globalConfig = &config
	return globalConfig, nil
}

// LoadFromFile loads configuration from a specific file path, bypassing the
// search chain and the cache.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal config from %s", configPath)
	}
	if err := Validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Reset clears the cached configuration (useful for testing).
func Reset() {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalConfig = nil
	viperInstance = nil
}

// initViper initializes Viper with configuration sources and defaults.
// Precedence: defaults < config file < environment variables.
func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()

	v.SetEnvPrefix("NOMARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	v.SetConfigName("nomarr")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".nomarr"))
	}

	// Missing config file is fine - defaults plus env cover everything
	_ = v.ReadInConfig()

	viperInstance = v
	return v
}

// ConfigFileUsed returns the path of the config file Load() resolved, or ""
// when running purely on defaults.
func ConfigFileUsed() string {
	globalMu.Lock()
	defer globalMu.Unlock()
	if viperInstance == nil {
		return ""
	}
	return viperInstance.ConfigFileUsed()
}
