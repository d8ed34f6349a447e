package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeTestConfig writes a config file into a temp dir and returns its path.
func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
log:
  chunk_window_hours: 24
  site_buckets: 8
  compress_after_hours: 168
  retention_hours: 8760
views:
  refresh_interval: 30
  stale_threshold: 120
  recent_window_hours: 24
api:
  host: "0.0.0.0"
  port: 8080
`
	configPath := writeTestConfig(t, content)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.Log.SiteBuckets != 8 {
		t.Errorf("Log.SiteBuckets = %d, want 8", cfg.Log.SiteBuckets)
	}
	if cfg.Views.RefreshInterval != 30 {
		t.Errorf("Views.RefreshInterval = %d, want 30", cfg.Views.RefreshInterval)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeTestConfig(t, "database: [not a mapping")

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	// Minimal file: everything else should come from defaults
	configPath := writeTestConfig(t, `
database:
  path: "/tmp/test.db"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Log.ChunkWindowHours != 24 {
		t.Errorf("Log.ChunkWindowHours = %d, want default 24", cfg.Log.ChunkWindowHours)
	}
	if cfg.Log.CompressAfterHours != 168 {
		t.Errorf("Log.CompressAfterHours = %d, want default 168", cfg.Log.CompressAfterHours)
	}
	if cfg.Log.RetentionHours != 8760 {
		t.Errorf("Log.RetentionHours = %d, want default 8760", cfg.Log.RetentionHours)
	}
	if cfg.Views.StaleThreshold != 120 {
		t.Errorf("Views.StaleThreshold = %d, want default 120", cfg.Views.StaleThreshold)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("API.Port = %d, want default 8080", cfg.API.Port)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	configPath := writeTestConfig(t, `
database:
  path: "/tmp/from-file.db"
`)

	t.Setenv("FIELDCORE_DATABASE_PATH", "/tmp/from-env.db")
	t.Setenv("FIELDCORE_API_PORT", "9090")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/from-env.db" {
		t.Errorf("Database.Path = %q, want env override", cfg.Database.Path)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want env override 9090", cfg.API.Port)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid defaults",
			mutate:  func(_ *Config) {},
			wantErr: "",
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "zero chunk window",
			mutate:  func(c *Config) { c.Log.ChunkWindowHours = 0 },
			wantErr: "chunk_window_hours",
		},
		{
			name:    "zero site buckets",
			mutate:  func(c *Config) { c.Log.SiteBuckets = 0 },
			wantErr: "site_buckets",
		},
		{
			name:    "compression shorter than a chunk window",
			mutate:  func(c *Config) { c.Log.CompressAfterHours = 1 },
			wantErr: "compress_after_hours",
		},
		{
			name:    "retention shorter than compression",
			mutate:  func(c *Config) { c.Log.RetentionHours = 24 },
			wantErr: "retention_hours",
		},
		{
			name:    "invalid API port",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: "api.port",
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "zero stale threshold",
			mutate:  func(c *Config) { c.Views.StaleThreshold = 0 },
			wantErr: "stale_threshold",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()

	if got := cfg.Log.ChunkWindow(); got != 24*time.Hour {
		t.Errorf("ChunkWindow() = %v, want 24h", got)
	}
	if got := cfg.Log.CompressAfter(); got != 168*time.Hour {
		t.Errorf("CompressAfter() = %v, want 168h", got)
	}
	if got := cfg.Log.Retention(); got != 8760*time.Hour {
		t.Errorf("Retention() = %v, want 8760h", got)
	}
	if got := cfg.Views.GetStaleThreshold(); got != 120*time.Second {
		t.Errorf("GetStaleThreshold() = %v, want 120s", got)
	}
	if got := cfg.Views.RecentWindow(); got != 24*time.Hour {
		t.Errorf("RecentWindow() = %v, want 24h", got)
	}
	if got := cfg.API.Timeouts.GetReadTimeout(); got != 30*time.Second {
		t.Errorf("GetReadTimeout() = %v, want 30s", got)
	}
	if got := cfg.API.Timeouts.GetWriteTimeout(); got != 30*time.Second {
		t.Errorf("GetWriteTimeout() = %v, want 30s", got)
	}
	if got := cfg.API.Timeouts.GetIdleTimeout(); got != 60*time.Second {
		t.Errorf("GetIdleTimeout() = %v, want 60s", got)
	}
}
