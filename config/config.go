// Package config loads the YAML-shaped configuration document that drives a
// sync run: source and target connection strings, the collections to watch,
// and the ambient persistence/logging knobs.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const defaultPersistInterval = 10

// Config is the decoded shape of the YAML config file.
type Config struct {
	Source struct {
		URI string `yaml:"uri"`
	} `yaml:"source"`

	Target struct {
		URI string `yaml:"uri"`
	} `yaml:"target"`

	Watch struct {
		Collections []string `yaml:"collections"`
	} `yaml:"watch"`

	State struct {
		PersistInterval int `yaml:"persist_interval"`
	} `yaml:"state"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// Load reads and parses the config file at path, applies defaults, and
// validates the required fields. The returned error distinguishes a missing
// file (wraps os.ErrNotExist) from a malformed one, so the CLI can pick its
// exit code accordingly.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: %s not found: %w", path, err)
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.State.PersistInterval <= 0 {
		c.State.PersistInterval = defaultPersistInterval
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
}

func (c *Config) validate() error {
	if c.Source.URI == "" {
		return errors.New("source.uri is required")
	}
	if c.Target.URI == "" {
		return errors.New("target.uri is required")
	}
	if len(c.Watch.Collections) == 0 {
		return errors.New("watch.collections must be non-empty")
	}
	return nil
}
