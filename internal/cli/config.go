package cli

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/nxdoc/internal/core"
	"github.com/roach88/nxdoc/internal/scroll"
)

// Backend kinds.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

// Config is the repository configuration read from the YAML file given
// with --config. Zero fields take their defaults.
type Config struct {
	// Backend is "sqlite" (default) or "bolt".
	Backend string `yaml:"backend"`

	// Data is the directory holding the database and the blob store.
	Data string `yaml:"data"`

	// Schemas is a directory of CUE registry files. Empty uses the
	// built-in registry.
	Schemas string `yaml:"schemas"`

	// ScrollKeepAlive is the default idle timeout of scroll cursors.
	ScrollKeepAlive time.Duration `yaml:"scroll_keep_alive"`

	// Workers bounds the async cleanup pool.
	Workers int `yaml:"workers"`
}

// DefaultConfig returns the configuration used without a config file.
func DefaultConfig() Config {
	return Config{
		Backend:         BackendSQLite,
		Data:            ".nxdoc",
		ScrollKeepAlive: scroll.DefaultKeepAlive,
		Workers:         core.DefaultCleanupWorkers,
	}
}

// LoadConfig reads path over the defaults. An empty path returns the
// defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendSQLite, BackendBolt:
	default:
		return fmt.Errorf("unknown backend %q: must be %s or %s", c.Backend, BackendSQLite, BackendBolt)
	}
	if c.Data == "" {
		return fmt.Errorf("data directory is required")
	}
	if c.ScrollKeepAlive < 0 {
		return fmt.Errorf("scroll_keep_alive must not be negative")
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative")
	}
	return nil
}
