// Package config loads the pipeline configuration file and sets up the
// structured logger. Configuration is parsed once, validated, and passed
// around explicitly; nothing reads ambient global state.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config is the full pipeline configuration.
type Config struct {
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	// CatalogPath points at the product catalog file.
	CatalogPath string `yaml:"catalog"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`

	Pipeline struct {
		FromYear         int    `yaml:"from_year"`
		ToYear           int    `yaml:"to_year"`
		StepTimeout      string `yaml:"step_timeout"`
		KeepIntermediate bool   `yaml:"keep_intermediate"`
		Parallel         int    `yaml:"parallel"`
	} `yaml:"pipeline"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
}

// Load reads a YAML config file and applies defaults.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = "circularity.db"
	}
	if c.CatalogPath == "" {
		c.CatalogPath = "catalog.yaml"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Pipeline.StepTimeout == "" {
		c.Pipeline.StepTimeout = "5m"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
}

func (c *Config) validate() error {
	if _, err := time.ParseDuration(c.Pipeline.StepTimeout); err != nil {
		return fmt.Errorf("config: invalid step_timeout %q: %w", c.Pipeline.StepTimeout, err)
	}
	if c.Pipeline.FromYear != 0 && c.Pipeline.ToYear != 0 && c.Pipeline.FromYear > c.Pipeline.ToYear {
		return fmt.Errorf("config: from_year %d after to_year %d", c.Pipeline.FromYear, c.Pipeline.ToYear)
	}
	return nil
}

// StepTimeout returns the parsed per-step timeout.
func (c *Config) StepTimeout() time.Duration {
	d, err := time.ParseDuration(c.Pipeline.StepTimeout)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// NewLogger builds the console logger at the configured level.
func NewLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(writer).Level(lvl).With().Timestamp().Logger()
}
