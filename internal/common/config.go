package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"

	"github.com/ternarybob/gentrack/internal/models"
)

// Config represents the application configuration
type Config struct {
	Environment string            `toml:"environment"` // "development" or "production"
	Backend     BackendConfig     `toml:"backend"`
	Tracking    TrackingConfig    `toml:"tracking"`
	Socket      SocketConfig      `toml:"socket"`
	PushFeed    PushFeedConfig    `toml:"pushfeed"`
	Storage     StorageConfig     `toml:"storage"`
	Logging     LoggingConfig     `toml:"logging"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
}

// BackendConfig describes the generation backend API
type BackendConfig struct {
	BaseURL        string `toml:"base_url" validate:"required,url"` // e.g. "https://api.example.com"
	APIKey         string `toml:"api_key"`                          // Bearer token, empty = unauthenticated
	Owner          string `toml:"owner"`                            // Session owner id used by the recovery query
	RequestTimeout string `toml:"request_timeout"`                  // e.g. "30s"
}

// TrackingConfig tunes the job lifecycle tracking core
type TrackingConfig struct {
	PollInterval     string            `toml:"poll_interval"`     // Poll channel fetch interval, e.g. "2s"
	RecoveryWindow   string            `toml:"recovery_window"`   // Recovery scan recency window, e.g. "15m"
	CheckInterval    string            `toml:"check_interval"`    // Timeout supervisor check interval, e.g. "1s"
	Timeouts         map[string]string `toml:"timeouts"`          // Per job type max duration, e.g. image = "180s"
	ProgressThrottle string            `toml:"progress_throttle"` // Min interval between progress-only notifications
}

// SocketConfig describes the shared per-session event socket
type SocketConfig struct {
	URL          string `toml:"url" validate:"omitempty,url"` // e.g. "wss://api.example.com/ws/session"
	ReconnectMin string `toml:"reconnect_min"`                // Initial reconnect backoff, e.g. "1s"
	ReconnectMax string `toml:"reconnect_max"`                // Backoff cap, e.g. "30s"
}

// PushFeedConfig describes the row-level change feed endpoint
type PushFeedConfig struct {
	URL          string `toml:"url" validate:"omitempty,url"` // e.g. "wss://api.example.com/ws/changes"
	ReconnectMin string `toml:"reconnect_min"`
	ReconnectMax string `toml:"reconnect_max"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05.000")
}

// MaintenanceConfig controls the scheduled start-time record sweep
type MaintenanceConfig struct {
	Enabled   bool   `toml:"enabled"`
	Schedule  string `toml:"schedule"`  // Cron schedule format
	Retention string `toml:"retention"` // Extra age beyond the largest timeout budget, e.g. "24h"
}

// NewDefaultConfig returns a config populated with reference defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Backend: BackendConfig{
			BaseURL:        "http://localhost:8080",
			RequestTimeout: "30s",
		},
		Tracking: TrackingConfig{
			PollInterval:   "2s",
			RecoveryWindow: "15m",
			CheckInterval:  "1s",
			Timeouts: map[string]string{
				string(models.JobTypeImage): "180s",
				string(models.JobTypeVideo): "600s",
			},
			ProgressThrottle: "250ms",
		},
		Socket: SocketConfig{
			ReconnectMin: "1s",
			ReconnectMax: "30s",
		},
		PushFeed: PushFeedConfig{
			ReconnectMin: "1s",
			ReconnectMax: "30s",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/gentrack",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05.000",
		},
		Maintenance: MaintenanceConfig{
			Enabled:   true,
			Schedule:  "@hourly",
			Retention: "24h",
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env
// Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the config shape with validator tags plus duration fields
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	durations := map[string]string{
		"backend.request_timeout":    c.Backend.RequestTimeout,
		"tracking.poll_interval":     c.Tracking.PollInterval,
		"tracking.recovery_window":   c.Tracking.RecoveryWindow,
		"tracking.check_interval":    c.Tracking.CheckInterval,
		"tracking.progress_throttle": c.Tracking.ProgressThrottle,
		"maintenance.retention":      c.Maintenance.Retention,
	}
	for name, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}
	for jobType, value := range c.Tracking.Timeouts {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid timeout for job type %s: %w", jobType, err)
		}
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	// Environment configuration (highest priority: GENTRACK_ENV, fallback: GO_ENV)
	if env := os.Getenv("GENTRACK_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Backend configuration
	if url := os.Getenv("GENTRACK_BACKEND_URL"); url != "" {
		config.Backend.BaseURL = url
	}
	if key := os.Getenv("GENTRACK_BACKEND_API_KEY"); key != "" {
		config.Backend.APIKey = key
	}
	if owner := os.Getenv("GENTRACK_BACKEND_OWNER"); owner != "" {
		config.Backend.Owner = owner
	}

	// Tracking configuration
	if interval := os.Getenv("GENTRACK_POLL_INTERVAL"); interval != "" {
		config.Tracking.PollInterval = interval
	}
	if window := os.Getenv("GENTRACK_RECOVERY_WINDOW"); window != "" {
		config.Tracking.RecoveryWindow = window
	}

	// Socket / push feed endpoints
	if url := os.Getenv("GENTRACK_SOCKET_URL"); url != "" {
		config.Socket.URL = url
	}
	if url := os.Getenv("GENTRACK_PUSHFEED_URL"); url != "" {
		config.PushFeed.URL = url
	}

	// Storage configuration
	if path := os.Getenv("GENTRACK_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}
	if reset := os.Getenv("GENTRACK_BADGER_RESET"); reset != "" {
		if b, err := strconv.ParseBool(reset); err == nil {
			config.Storage.Badger.ResetOnStartup = b
		}
	}

	// Logging configuration
	if level := os.Getenv("GENTRACK_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

// ParseDurationOr parses a duration string, falling back to def on empty or
// malformed values. Config durations are validated at load time so the
// fallback only fires for unset fields.
func ParseDurationOr(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}

// PollIntervalDuration returns the poll channel interval
func (c *TrackingConfig) PollIntervalDuration() time.Duration {
	return ParseDurationOr(c.PollInterval, 2*time.Second)
}

// RecoveryWindowDuration returns the recovery scan recency window
func (c *TrackingConfig) RecoveryWindowDuration() time.Duration {
	return ParseDurationOr(c.RecoveryWindow, 15*time.Minute)
}

// CheckIntervalDuration returns the timeout supervisor check interval
func (c *TrackingConfig) CheckIntervalDuration() time.Duration {
	return ParseDurationOr(c.CheckInterval, time.Second)
}

// ProgressThrottleDuration returns the minimum interval between
// progress-only observer notifications
func (c *TrackingConfig) ProgressThrottleDuration() time.Duration {
	return ParseDurationOr(c.ProgressThrottle, 250*time.Millisecond)
}

// TimeoutFor returns the max duration budget for a job type. Unknown types
// fall back to the largest configured budget so they are never untracked.
func (c *TrackingConfig) TimeoutFor(jobType models.JobType) time.Duration {
	if value, ok := c.Timeouts[string(jobType)]; ok {
		return ParseDurationOr(value, 180*time.Second)
	}
	return c.MaxTimeout()
}

// MaxTimeout returns the largest configured budget across all job types
func (c *TrackingConfig) MaxTimeout() time.Duration {
	max := 180 * time.Second
	for _, value := range c.Timeouts {
		if d := ParseDurationOr(value, 0); d > max {
			max = d
		}
	}
	return max
}

// RetentionDuration returns the sweep retention slack
func (c *MaintenanceConfig) RetentionDuration() time.Duration {
	return ParseDurationOr(c.Retention, 24*time.Hour)
}
