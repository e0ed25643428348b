package conf

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/xiaden/nomarr-sub002/errors"
)

// WriteStarterConfig writes a fully-populated default configuration to path.
// Refuses to overwrite an existing file so a hand-edited config is never
// clobbered by `nomarr conf init`.
func WriteStarterConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return errors.Newf("config file already exists: %s", path)
	} else if !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to stat %s", path)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "failed to create config directory %s", dir)
		}
	}

	content, err := toml.Marshal(DefaultConfig())
	if err != nil {
		return errors.Wrap(err, "failed to marshal default config")
	}

	if err := os.WriteFile(path, content, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}

	return nil
}
