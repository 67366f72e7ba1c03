// Package common provides shared configuration and logging utilities.
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration consumed by the session and transport layers.
type Config struct {
	Environment string          `toml:"environment"` // "live" or "sandbox"
	Storage     StorageConfig   `toml:"storage"`
	Providers   ProvidersConfig `toml:"providers"`
	Transport   TransportConfig `toml:"transport"`
	Session     SessionConfig   `toml:"session"`
	Logging     LoggingConfig   `toml:"logging"`
}

// StorageConfig selects and locates the session store backend.
type StorageConfig struct {
	Backend string `toml:"backend"` // "file" (default) or "badger"
	Path    string `toml:"path"`
}

// ProvidersConfig holds per-provider client configuration.
type ProvidersConfig struct {
	Robinhood ProviderConfig `toml:"robinhood"`
	Gemini    ProviderConfig `toml:"gemini"`
	TDA       ProviderConfig `toml:"tdameritrade"`
}

// ProviderConfig holds connection settings for one brokerage API.
type ProviderConfig struct {
	BaseURL   string `toml:"base_url"`
	RateLimit int    `toml:"rate_limit"` // requests per second
	Timeout   string `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration
func (c *ProviderConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// TransportConfig parameterizes the dispatcher retry policy.
type TransportConfig struct {
	MaxAttempts    int    `toml:"max_attempts"`
	InitialBackoff string `toml:"initial_backoff"`
	MaxBackoff     string `toml:"max_backoff"`
	MaxElapsed     string `toml:"max_elapsed"`
	RetryAfterCap  string `toml:"retry_after_cap"`
}

// GetInitialBackoff parses the initial backoff duration.
func (c *TransportConfig) GetInitialBackoff() time.Duration {
	return parseDuration(c.InitialBackoff, 250*time.Millisecond)
}

// GetMaxBackoff parses the maximum backoff duration.
func (c *TransportConfig) GetMaxBackoff() time.Duration {
	return parseDuration(c.MaxBackoff, 10*time.Second)
}

// GetMaxElapsed parses the overall retry deadline.
func (c *TransportConfig) GetMaxElapsed() time.Duration {
	return parseDuration(c.MaxElapsed, 2*time.Minute)
}

// GetRetryAfterCap parses the upper bound honored for Retry-After hints.
func (c *TransportConfig) GetRetryAfterCap() time.Duration {
	return parseDuration(c.RetryAfterCap, 30*time.Second)
}

// SessionConfig parameterizes session reuse decisions.
type SessionConfig struct {
	ClockSkewMargin string `toml:"clock_skew_margin"`
}

// GetClockSkewMargin parses the expiry safety margin.
func (c *SessionConfig) GetClockSkewMargin() time.Duration {
	return parseDuration(c.ClockSkewMargin, 30*time.Second)
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `toml:"level"`
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "live",
		Storage: StorageConfig{
			Backend: "file",
			Path:    "data/sessions",
		},
		Providers: ProvidersConfig{
			Robinhood: ProviderConfig{
				BaseURL:   "https://api.robinhood.com",
				RateLimit: 5,
				Timeout:   "30s",
			},
			Gemini: ProviderConfig{
				BaseURL:   "https://api.gemini.com",
				RateLimit: 5,
				Timeout:   "30s",
			},
			TDA: ProviderConfig{
				BaseURL:   "https://api.tdameritrade.com",
				RateLimit: 2,
				Timeout:   "30s",
			},
		},
		Transport: TransportConfig{
			MaxAttempts:    4,
			InitialBackoff: "250ms",
			MaxBackoff:     "10s",
			MaxElapsed:     "2m",
			RetryAfterCap:  "30s",
		},
		Session: SessionConfig{
			ClockSkewMargin: "30s",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier)
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // Skip missing files
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)
	validateEnvironment(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("ROBIN_ENV"); env != "" {
		config.Environment = env
	}

	if path := os.Getenv("ROBIN_DATA_PATH"); path != "" {
		config.Storage.Path = path
	}

	if backend := os.Getenv("ROBIN_STORAGE_BACKEND"); backend != "" {
		config.Storage.Backend = backend
	}

	if level := os.Getenv("ROBIN_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if attempts := os.Getenv("ROBIN_MAX_ATTEMPTS"); attempts != "" {
		if n, err := strconv.Atoi(attempts); err == nil && n > 0 {
			config.Transport.MaxAttempts = n
		}
	}

	if v := os.Getenv("ROBIN_CLOCK_SKEW_MARGIN"); v != "" {
		config.Session.ClockSkewMargin = v
	}
}

// IsSandbox returns true when running against sandbox endpoints.
func (c *Config) IsSandbox() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "sandbox" || env == "paper"
}

// validateEnvironment normalizes Environment to "live" or "sandbox".
func validateEnvironment(config *Config) {
	if config.IsSandbox() {
		config.Environment = "sandbox"
		return
	}
	config.Environment = "live"
}
