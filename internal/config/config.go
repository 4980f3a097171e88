// Package config loads the sentineld daemon configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rstanik/sentineld/internal/alert"
	"github.com/rstanik/sentineld/internal/digest"
)

// Defaults for omitted fields.
const (
	DefaultPollInterval = 5 * time.Second
	DefaultErrorBackoff = 10 * time.Second
	DefaultReadTimeout  = 30 * time.Second
)

// Duration wraps time.Duration so config values read as "5s", "2m".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config is the on-disk daemon configuration.
type Config struct {
	// Baseline is the path to the reference-digest manifest.
	Baseline string `yaml:"baseline"`

	PollInterval  Duration `yaml:"poll_interval,omitempty"`
	ErrorBackoff  Duration `yaml:"error_backoff_interval,omitempty"`
	ReadTimeout   Duration `yaml:"read_timeout,omitempty"`
	HashAlgorithm string   `yaml:"hash_algorithm,omitempty"`

	// Watch enables change-triggered cycles via fsnotify.
	Watch bool `yaml:"watch,omitempty"`

	AuditLog   string `yaml:"audit_log,omitempty"`
	HistoryDB  string `yaml:"history_db,omitempty"`
	StatusFile string `yaml:"status_file,omitempty"`

	Alerts []alert.WebhookConfig `yaml:"alerts,omitempty"`
}

// Load reads and validates a config file, filling defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate fills defaults and rejects invalid values.
func (c *Config) Validate() error {
	if c.Baseline == "" {
		return fmt.Errorf("config: baseline manifest path is required")
	}
	if c.PollInterval <= 0 {
		c.PollInterval = Duration(DefaultPollInterval)
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = Duration(DefaultErrorBackoff)
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("config: read_timeout must not be negative")
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = Duration(DefaultReadTimeout)
	}
	if _, err := digest.ParseAlgorithm(c.HashAlgorithm); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.HashAlgorithm == "" {
		c.HashAlgorithm = string(digest.SHA256)
	}
	for i, a := range c.Alerts {
		if a.URL == "" {
			return fmt.Errorf("config: alert %d has no url", i)
		}
	}
	return nil
}
