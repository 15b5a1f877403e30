package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate performs semantic validation of the configuration.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if c.Storage.DatabasePath == "" {
		errs = append(errs, ValidationError{
			Field:   "storage.database_path",
			Message: "must not be empty",
		})
	}

	errs = append(errs, validateDetection(&c.Detection)...)
	errs = append(errs, validateVersions(&c.Versions)...)
	errs = append(errs, validateLogging(&c.Logging)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateDetection(d *DetectionConfig) ValidationErrors {
	var errs ValidationErrors

	if d.BatchSize < 0 {
		errs = append(errs, ValidationError{
			Field:   "detection.batch_size",
			Message: "must be positive",
		})
	}
	if d.URLDiversityThreshold < 0 || d.URLDiversityThreshold > 1 {
		errs = append(errs, ValidationError{
			Field:   "detection.url_diversity_threshold",
			Message: "must be between 0 and 1",
		})
	}
	if d.SequentialFraction < 0 || d.SequentialFraction > 1 {
		errs = append(errs, ValidationError{
			Field:   "detection.sequential_fraction",
			Message: "must be between 0 and 1",
		})
	}
	if d.MaxRequestsPerHour < 0 || d.MaxRequestsPerDay < 0 {
		errs = append(errs, ValidationError{
			Field:   "detection.max_requests",
			Message: "volume thresholds must be positive",
		})
	}
	if d.MaxRequestsPerHour > 0 && d.MaxRequestsPerDay > 0 &&
		d.MaxRequestsPerHour > d.MaxRequestsPerDay {
		errs = append(errs, ValidationError{
			Field:   "detection.max_requests_per_hour",
			Message: "hourly threshold exceeds daily threshold",
		})
	}

	return errs
}

func validateVersions(v *VersionsConfig) ValidationErrors {
	var errs ValidationErrors

	if v.FeedURL != "" {
		u, err := url.Parse(v.FeedURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, ValidationError{
				Field:   "versions.feed_url",
				Message: "must be an http(s) URL",
			})
		}
	}
	if v.CacheTTLHours < 0 {
		errs = append(errs, ValidationError{
			Field:   "versions.cache_ttl_hours",
			Message: "must be positive",
		})
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("unknown level %q", l.Level),
		})
	}

	switch l.Format {
	case "", "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("unknown format %q", l.Format),
		})
	}

	switch l.Output {
	case "", "stdout", "stderr", "file", "both":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("unknown output %q", l.Output),
		})
	}

	if (l.Output == "file" || l.Output == "both") && l.FilePath == "" {
		errs = append(errs, ValidationError{
			Field:   "logging.file_path",
			Message: "required when output includes file",
		})
	}

	return errs
}

// ApplyEnvOverrides applies environment variable overrides to the
// configuration. Environment variables are prefixed with BOTSWEEP_ and
// use underscores.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("BOTSWEEP_DATABASE_PATH"); v != "" {
		c.Storage.DatabasePath = v
	}

	if v := os.Getenv("BOTSWEEP_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Detection.BatchSize = n
		}
	}

	if v := os.Getenv("BOTSWEEP_RANGES_FILE"); v != "" {
		c.Datacenter.RangesFile = v
	}
	if v := os.Getenv("BOTSWEEP_ASN_DATABASE"); v != "" {
		c.Datacenter.ASNDatabase = v
	}

	if v := os.Getenv("BOTSWEEP_VERSIONS_FEED_URL"); v != "" {
		c.Versions.FeedURL = v
	}

	if v := os.Getenv("BOTSWEEP_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("BOTSWEEP_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("BOTSWEEP_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
		if c.Logging.Output == "stdout" || c.Logging.Output == "stderr" {
			c.Logging.Output = "file"
		}
	}
}
