// Package config loads the fieldtrail YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full fieldtrail configuration.
type Config struct {
	Listen   string        `yaml:"listen"`
	DBPath   string        `yaml:"db_path"`
	LogLevel string        `yaml:"log_level"` // debug | info | warn | error
	Remote   RemoteConfig  `yaml:"remote"`
	Browser  BrowserConfig `yaml:"browser"`
	Retry    RetryConfig   `yaml:"retry"`
	Seed     SeedConfig    `yaml:"seed"`
}

// RemoteConfig points at the research database service.
type RemoteConfig struct {
	BaseURL     string `yaml:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// BrowserConfig configures the tracked browser.
type BrowserConfig struct {
	// RemoteURL attaches to an already running browser (DevTools websocket).
	// Empty launches a local one.
	RemoteURL string `yaml:"remote_url"`
	Headless  bool   `yaml:"headless"`
}

// RetryConfig tunes the pending-session retry queue.
type RetryConfig struct {
	VisibilitySecs int `yaml:"visibility_secs"`
	PollSecs       int `yaml:"poll_secs"`
	MaxAttempts    int `yaml:"max_attempts"`
}

// SeedConfig creates a first login on an empty users table.
type SeedConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:   ":8086",
		DBPath:   "fieldtrail.db",
		LogLevel: "info",
		Remote: RemoteConfig{
			BaseURL:     "http://localhost:8000",
			TimeoutSecs: 5,
		},
		Browser: BrowserConfig{Headless: false},
		Retry: RetryConfig{
			VisibilitySecs: 60,
			PollSecs:       15,
			MaxAttempts:    20,
		},
		Seed: SeedConfig{Username: "researcher", Password: "fieldtrail"},
	}
}

// LoadConfig reads and parses a YAML config file. Returns DefaultConfig
// merged with the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	if c.Remote.TimeoutSecs <= 0 {
		return fmt.Errorf("remote.timeout_secs must be > 0")
	}
	if c.Retry.VisibilitySecs <= 0 || c.Retry.PollSecs <= 0 {
		return fmt.Errorf("retry visibility and poll must be > 0")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log_level %q", c.LogLevel)
	}
	return nil
}

// RemoteTimeout returns the remote client timeout.
func (c *Config) RemoteTimeout() time.Duration {
	return time.Duration(c.Remote.TimeoutSecs) * time.Second
}

// RetryVisibility returns the pending-queue visibility window.
func (c *Config) RetryVisibility() time.Duration {
	return time.Duration(c.Retry.VisibilitySecs) * time.Second
}

// RetryPoll returns the pending-queue poll interval.
func (c *Config) RetryPoll() time.Duration {
	return time.Duration(c.Retry.PollSecs) * time.Second
}
