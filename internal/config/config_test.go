package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Detection.BatchSize != 1000 {
		t.Errorf("batch size = %d, want 1000", cfg.Detection.BatchSize)
	}
	if !cfg.Datacenter.Enabled {
		t.Error("datacenter detection should default to enabled")
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[storage]
database_path = "/tmp/analytics.db"

[detection]
batch_size = 250
max_requests_per_hour = 90

[logging]
level = "debug"
`)

	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.DatabasePath != "/tmp/analytics.db" {
		t.Errorf("database path = %q", cfg.Storage.DatabasePath)
	}
	if cfg.Detection.BatchSize != 250 {
		t.Errorf("batch size = %d, want 250", cfg.Detection.BatchSize)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q, want debug", cfg.Logging.Level)
	}
	// Unset fields keep defaults.
	if cfg.Detection.MaxRequestsPerDay != 600 {
		t.Errorf("daily threshold = %d, want default 600", cfg.Detection.MaxRequestsPerDay)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
detection:
  sequential_fraction: 0.8
datacenter:
  enabled: false
`)

	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Detection.SequentialFraction != 0.8 {
		t.Errorf("sequential fraction = %v, want 0.8", cfg.Detection.SequentialFraction)
	}
	if cfg.Datacenter.Enabled {
		t.Error("datacenter should be disabled")
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
  "versions": {"feed_url": "https://feeds.example.com/browsers.json", "cache_ttl_hours": 48}
}`)

	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Versions.FeedURL != "https://feeds.example.com/browsers.json" {
		t.Errorf("feed url = %q", cfg.Versions.FeedURL)
	}
	if cfg.Versions.CacheTTLHours != 48 {
		t.Errorf("cache ttl = %d, want 48", cfg.Versions.CacheTTLHours)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonexistent.toml")
	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Detection.BatchSize != Default().Detection.BatchSize {
		t.Error("missing file should yield defaults")
	}
}

func TestSchemaRejectsUnknownKey(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[detection]
batch_szie = 500
`)

	if _, err := NewLoader(path).Load(); err == nil {
		t.Fatal("expected schema error for misspelled key")
	}
}

func TestSchemaRejectsOutOfRange(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
detection:
  url_diversity_threshold: 1.5
`)

	if _, err := NewLoader(path).Load(); err == nil {
		t.Fatal("expected schema error for ratio above 1")
	}
}

func TestValidateLogging(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown log level")
	}

	cfg = Default()
	cfg.Logging.Output = "file"
	cfg.Logging.FilePath = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for file output without path")
	}
}

func TestValidateDetection(t *testing.T) {
	cfg := Default()
	cfg.Detection.MaxRequestsPerHour = 1000
	cfg.Detection.MaxRequestsPerDay = 100
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when hourly threshold exceeds daily")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("BOTSWEEP_DATABASE_PATH", "/srv/analytics.db")
	t.Setenv("BOTSWEEP_BATCH_SIZE", "42")
	t.Setenv("BOTSWEEP_LOG_LEVEL", "warn")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.Storage.DatabasePath != "/srv/analytics.db" {
		t.Errorf("database path = %q", cfg.Storage.DatabasePath)
	}
	if cfg.Detection.BatchSize != 42 {
		t.Errorf("batch size = %d, want 42", cfg.Detection.BatchSize)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("level = %q, want warn", cfg.Logging.Level)
	}
}

func TestThresholdsMapping(t *testing.T) {
	cfg := Default()
	cfg.Detection.WindowHours = 48
	cfg.Detection.MaxSessionsPerIP = 7
	cfg.Datacenter.Enabled = false

	th := cfg.Thresholds()
	if th.Window != 48*time.Hour {
		t.Errorf("window = %v, want 48h", th.Window)
	}
	if th.MaxSessionsPerIP != 7 {
		t.Errorf("fanout = %d, want 7", th.MaxSessionsPerIP)
	}
	if th.DatacenterDetection {
		t.Error("datacenter detection should map to disabled")
	}
	// Zero-valued fields fall through to defaults.
	if th.MinTimingGaps != 20 {
		t.Errorf("min timing gaps = %d, want default 20", th.MinTimingGaps)
	}
}

func TestWatchReload(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[detection]
batch_size = 100
`)

	loader := NewLoader(path)
	if _, err := loader.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	defer loader.Close()

	changed := make(chan *Config, 1)
	loader.OnChange(func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	})

	if err := loader.Watch(); err != nil {
		t.Fatalf("watch: %v", err)
	}

	if err := os.WriteFile(path, []byte("[detection]\nbatch_size = 500\n"), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-changed:
		if cfg.Detection.BatchSize != 500 {
			t.Errorf("reloaded batch size = %d, want 500", cfg.Detection.BatchSize)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatchRejectsInvalidReload(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[detection]
batch_size = 100
`)

	loader := NewLoader(path)
	if _, err := loader.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	defer loader.Close()

	if err := loader.Watch(); err != nil {
		t.Fatalf("watch: %v", err)
	}

	if err := os.WriteFile(path, []byte("[detection]\nbatch_szie = 9\n"), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case err := <-loader.Errors():
		if err == nil {
			t.Fatal("expected reload error")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload error")
	}

	if got := loader.Config().Detection.BatchSize; got != 100 {
		t.Errorf("config after bad reload = %d, want original 100", got)
	}
}
