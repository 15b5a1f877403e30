// Package config handles configuration loading, validation, and threshold
// overrides for botsweep.
package config

import (
	"time"

	"botsweep/internal/detect"
)

// Config holds the complete engine configuration.
type Config struct {
	// Storage configuration for the analytics database.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Detection thresholds for the signal detectors.
	Detection DetectionConfig `toml:"detection" json:"detection" yaml:"detection"`

	// Datacenter IP range sources.
	Datacenter DatacenterConfig `toml:"datacenter" json:"datacenter" yaml:"datacenter"`

	// Versions feed for user-agent age scoring.
	Versions VersionsConfig `toml:"versions" json:"versions" yaml:"versions"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	// DatabasePath is the SQLite analytics database.
	DatabasePath string `toml:"database_path" json:"database_path" yaml:"database_path"`
}

// DetectionConfig holds the tunable detector thresholds. Every field has a
// built-in default; an override file only needs the fields it changes.
type DetectionConfig struct {
	// BatchSize bounds each store scan.
	BatchSize int `toml:"batch_size" json:"batch_size" yaml:"batch_size"`

	// WindowHours is how far back the windowed detectors look.
	WindowHours int `toml:"window_hours" json:"window_hours" yaml:"window_hours"`

	// Volume thresholds.
	MaxRequestsPerHour int `toml:"max_requests_per_hour" json:"max_requests_per_hour" yaml:"max_requests_per_hour"`
	MaxRequestsPerDay  int `toml:"max_requests_per_day" json:"max_requests_per_day" yaml:"max_requests_per_day"`

	// URLDiversityThreshold is the distinct-URL ratio above which a session
	// with at least MinRequestsForPattern requests counts as systematic.
	URLDiversityThreshold float64 `toml:"url_diversity_threshold" json:"url_diversity_threshold" yaml:"url_diversity_threshold"`
	MinRequestsForPattern int     `toml:"min_requests_for_pattern" json:"min_requests_for_pattern" yaml:"min_requests_for_pattern"`

	// MaxSessionsPerIP is the per-day session fanout allowed for one IP.
	MaxSessionsPerIP int `toml:"max_sessions_per_ip" json:"max_sessions_per_ip" yaml:"max_sessions_per_ip"`

	// Timing pattern thresholds.
	MinTimingGaps  int     `toml:"min_timing_gaps" json:"min_timing_gaps" yaml:"min_timing_gaps"`
	GapCapSeconds  int64   `toml:"gap_cap_seconds" json:"gap_cap_seconds" yaml:"gap_cap_seconds"`
	MeanGapCeiling float64 `toml:"mean_gap_ceiling" json:"mean_gap_ceiling" yaml:"mean_gap_ceiling"`
	StdDevLimit    float64 `toml:"stddev_limit" json:"stddev_limit" yaml:"stddev_limit"`

	// Crawl pattern thresholds.
	PaginationThreshold int     `toml:"pagination_threshold" json:"pagination_threshold" yaml:"pagination_threshold"`
	SequentialFraction  float64 `toml:"sequential_fraction" json:"sequential_fraction" yaml:"sequential_fraction"`
}

// DatacenterConfig holds the datacenter-IP detection sources.
type DatacenterConfig struct {
	// Enabled toggles the datacenter-IP detector.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// RangesFile optionally extends the built-in prefix set.
	RangesFile string `toml:"ranges_file" json:"ranges_file" yaml:"ranges_file"`

	// ASNDatabase is an optional GeoLite2-ASN .mmdb path.
	ASNDatabase string `toml:"asn_database" json:"asn_database" yaml:"asn_database"`
}

// VersionsConfig holds the browser-version feed settings.
type VersionsConfig struct {
	// FeedURL is the remote current-versions feed. Empty disables fetching.
	FeedURL string `toml:"feed_url" json:"feed_url" yaml:"feed_url"`

	// CacheTTLHours is how long the cached table stays fresh.
	CacheTTLHours int `toml:"cache_ttl_hours" json:"cache_ttl_hours" yaml:"cache_ttl_hours"`

	// CachePath overrides the platform cache location.
	CachePath string `toml:"cache_path" json:"cache_path" yaml:"cache_path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is "stdout", "stderr", "file" or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file when Output includes "file".
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	t := detect.DefaultThresholds()
	return &Config{
		Storage: StorageConfig{
			DatabasePath: DefaultDatabasePath(),
		},
		Detection: DetectionConfig{
			BatchSize:             t.BatchSize,
			WindowHours:           int(t.Window / time.Hour),
			MaxRequestsPerHour:    t.MaxRequestsPerHour,
			MaxRequestsPerDay:     t.MaxRequestsPerDay,
			URLDiversityThreshold: t.URLDiversityThreshold,
			MinRequestsForPattern: t.MinRequestsForPattern,
			MaxSessionsPerIP:      t.MaxSessionsPerIP,
			MinTimingGaps:         t.MinTimingGaps,
			GapCapSeconds:         t.GapCapSeconds,
			MeanGapCeiling:        t.MeanGapCeiling,
			StdDevLimit:           t.StdDevLimit,
			PaginationThreshold:   t.PaginationThreshold,
			SequentialFraction:    t.SequentialFraction,
		},
		Datacenter: DatacenterConfig{
			Enabled: true,
		},
		Versions: VersionsConfig{
			CacheTTLHours: 7 * 24,
			CachePath:     DefaultVersionCachePath(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Thresholds maps the detection section onto the detector tuning.
func (c *Config) Thresholds() detect.Thresholds {
	t := detect.DefaultThresholds()
	d := c.Detection

	if d.BatchSize > 0 {
		t.BatchSize = d.BatchSize
	}
	if d.WindowHours > 0 {
		t.Window = time.Duration(d.WindowHours) * time.Hour
	}
	if d.MaxRequestsPerHour > 0 {
		t.MaxRequestsPerHour = d.MaxRequestsPerHour
	}
	if d.MaxRequestsPerDay > 0 {
		t.MaxRequestsPerDay = d.MaxRequestsPerDay
	}
	if d.URLDiversityThreshold > 0 {
		t.URLDiversityThreshold = d.URLDiversityThreshold
	}
	if d.MinRequestsForPattern > 0 {
		t.MinRequestsForPattern = d.MinRequestsForPattern
	}
	if d.MaxSessionsPerIP > 0 {
		t.MaxSessionsPerIP = d.MaxSessionsPerIP
	}
	if d.MinTimingGaps > 0 {
		t.MinTimingGaps = d.MinTimingGaps
	}
	if d.GapCapSeconds > 0 {
		t.GapCapSeconds = d.GapCapSeconds
	}
	if d.MeanGapCeiling > 0 {
		t.MeanGapCeiling = d.MeanGapCeiling
	}
	if d.StdDevLimit > 0 {
		t.StdDevLimit = d.StdDevLimit
	}
	if d.PaginationThreshold > 0 {
		t.PaginationThreshold = d.PaginationThreshold
	}
	if d.SequentialFraction > 0 {
		t.SequentialFraction = d.SequentialFraction
	}
	t.DatacenterDetection = c.Datacenter.Enabled

	return t
}
