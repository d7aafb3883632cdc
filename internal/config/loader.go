package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// DefaultPath is read when neither --config nor CONFIG_PATH names a file.
const DefaultPath = "./config.yaml"

// Load reads the file named by CONFIG_PATH, see LoadFile.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("CONFIG_PATH"))
}

// LoadFile reads YAML from path, overlays environment variables and fills
// env-default values, then validates. An empty path means DefaultPath, which
// may be missing; an explicitly named file must exist.
func LoadFile(path string) (*Config, error) {
	var cfg Config

	named := path != ""
	if !named {
		path = DefaultPath
	}

	_, statErr := os.Stat(path)
	switch {
	case statErr == nil:
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	case named || !errors.Is(statErr, fs.ErrNotExist):
		return nil, fmt.Errorf("config: file %s: %w", path, statErr)
	default:
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("config: read env: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}
