package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Fieldcore.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Log         LogConfig         `yaml:"log"`
	Views       ViewsConfig       `yaml:"views"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	API         APIConfig         `yaml:"api"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// LogConfig contains measurement log partitioning and lifecycle settings.
//
// The measurement log is partitioned into chunks along two axes: time
// (fixed-width windows) and site identity (a fixed number of hash buckets).
// Chunks age through open -> compressed -> dropped according to the
// thresholds below.
type LogConfig struct {
	// ChunkWindowHours is the width of each chunk's time window.
	// Default: 24 (one chunk per site bucket per day).
	ChunkWindowHours int `yaml:"chunk_window_hours"`

	// SiteBuckets is the number of site hash sub-partitions per time window.
	// Fixed at 8 in practice; configurable only for tests.
	SiteBuckets int `yaml:"site_buckets"`

	// CompressAfterHours is the age beyond which closed chunks are
	// compressed in place. Default: 168 (7 days).
	CompressAfterHours int `yaml:"compress_after_hours"`

	// RetentionHours is the horizon beyond which chunks are dropped
	// wholesale. Default: 8760 (365 days).
	RetentionHours int `yaml:"retention_hours"`
}

// ViewsConfig contains derived-view settings.
type ViewsConfig struct {
	// RefreshInterval is how often the materialized latest-per-point
	// projection is recomputed (seconds). Default: 60.
	RefreshInterval int `yaml:"refresh_interval"`

	// StaleThreshold is the device freshness threshold (seconds).
	// Devices not seen within this window appear in the stale listing.
	// Default: 120.
	StaleThreshold int `yaml:"stale_threshold"`

	// RecentWindowHours is the trailing window for the live
	// recent-window-latest projection. Default: 24.
	RecentWindowHours int `yaml:"recent_window_hours"`
}

// MaintenanceConfig contains background maintenance scheduling.
// Cadences are cron expressions (robfig/cron, with seconds field).
type MaintenanceConfig struct {
	// CompressionSchedule is the cron cadence for the compression cycle.
	// Default: "0 */10 * * * *" (every 10 minutes).
	CompressionSchedule string `yaml:"compression_schedule"`

	// RetentionSchedule is the cron cadence for the retention cycle.
	// Default: "0 30 3 * * *" (daily at 03:30).
	RetentionSchedule string `yaml:"retention_schedule"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// MQTTConfig contains MQTT broker connection settings for the optional
// heartbeat subscriber.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: FIELDCORE_SECTION_KEY
// For example: FIELDCORE_DATABASE_PATH, FIELDCORE_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := Default()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults.
// Defaults mirror the production schema policies: daily chunks, 8 site
// buckets, 7-day compression, 365-day retention, 120s staleness.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/fieldcore.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Log: LogConfig{
			ChunkWindowHours:   24,
			SiteBuckets:        8,
			CompressAfterHours: 168,
			RetentionHours:     8760,
		},
		Views: ViewsConfig{
			RefreshInterval:   60,
			StaleThreshold:    120,
			RecentWindowHours: 24,
		},
		Maintenance: MaintenanceConfig{
			CompressionSchedule: "0 */10 * * * *",
			RetentionSchedule:   "0 30 3 * * *",
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		MQTT: MQTTConfig{
			Enabled: false,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "fieldcore",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: FIELDCORE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("FIELDCORE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// API
	if v := os.Getenv("FIELDCORE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("FIELDCORE_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// MQTT
	if v := os.Getenv("FIELDCORE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("FIELDCORE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("FIELDCORE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Logging
	if v := os.Getenv("FIELDCORE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// Measurement log validation
	if c.Log.ChunkWindowHours < 1 {
		errs = append(errs, "log.chunk_window_hours must be at least 1")
	}
	if c.Log.SiteBuckets < 1 {
		errs = append(errs, "log.site_buckets must be at least 1")
	}
	if c.Log.CompressAfterHours < c.Log.ChunkWindowHours {
		errs = append(errs, "log.compress_after_hours must be at least one chunk window")
	}
	if c.Log.RetentionHours < c.Log.CompressAfterHours {
		errs = append(errs, "log.retention_hours must not be shorter than log.compress_after_hours")
	}

	// Views validation
	if c.Views.RefreshInterval < 1 {
		errs = append(errs, "views.refresh_interval must be at least 1 second")
	}
	if c.Views.StaleThreshold < 1 {
		errs = append(errs, "views.stale_threshold must be at least 1 second")
	}
	if c.Views.RecentWindowHours < 1 {
		errs = append(errs, "views.recent_window_hours must be at least 1")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ChunkWindow returns the chunk time window as a Duration.
func (c *LogConfig) ChunkWindow() time.Duration {
	return time.Duration(c.ChunkWindowHours) * time.Hour
}

// CompressAfter returns the compression age threshold as a Duration.
func (c *LogConfig) CompressAfter() time.Duration {
	return time.Duration(c.CompressAfterHours) * time.Hour
}

// Retention returns the retention horizon as a Duration.
func (c *LogConfig) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

// GetRefreshInterval returns the view refresh cadence as a Duration.
func (c *ViewsConfig) GetRefreshInterval() time.Duration {
	return time.Duration(c.RefreshInterval) * time.Second
}

// GetStaleThreshold returns the staleness threshold as a Duration.
func (c *ViewsConfig) GetStaleThreshold() time.Duration {
	return time.Duration(c.StaleThreshold) * time.Second
}

// RecentWindow returns the trailing window for the live latest view.
func (c *ViewsConfig) RecentWindow() time.Duration {
	return time.Duration(c.RecentWindowHours) * time.Hour
}

// GetReadTimeout returns the HTTP read timeout as a Duration.
func (c *APITimeoutConfig) GetReadTimeout() time.Duration {
	return time.Duration(c.Read) * time.Second
}

// GetWriteTimeout returns the HTTP write timeout as a Duration.
func (c *APITimeoutConfig) GetWriteTimeout() time.Duration {
	return time.Duration(c.Write) * time.Second
}

// GetIdleTimeout returns the HTTP idle timeout as a Duration.
func (c *APITimeoutConfig) GetIdleTimeout() time.Duration {
	return time.Duration(c.Idle) * time.Second
}
