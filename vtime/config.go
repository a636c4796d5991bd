package vtime

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const defaultBlockingWorkers = 4

// Config groups executor parameters. The zero value is usable: defaults are
// applied at construction.
type Config struct {
	// Seed feeds the partitioned random source; identical seeds reproduce
	// identical jitter/backoff sequences.
	Seed int64 `yaml:"seed"`
	// BlockingWorkers caps the dedicated blocking-work pool.
	BlockingWorkers int `yaml:"blocking_workers"`
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		Seed:            1,
		BlockingWorkers: defaultBlockingWorkers,
	}
}

// Validate rejects configurations no executor can honor.
func (c Config) Validate() error {
	if c.BlockingWorkers < 0 {
		return fmt.Errorf("blocking_workers must be non-negative, got %d", c.BlockingWorkers)
	}
	return nil
}

func (c *Config) withDefaults() {
	if c.BlockingWorkers == 0 {
		c.BlockingWorkers = defaultBlockingWorkers
	}
}

// LoadConfig reads a yaml config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
