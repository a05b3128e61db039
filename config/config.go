// Package config loads and validates the riverflow YAML configuration.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Riverflow RiverflowConfig `yaml:"riverflow"`
	Collector CollectorConfig `yaml:"collector"`
	Fetcher   FetcherConfig   `yaml:"fetcher"`
	Stations  []StationConfig `yaml:"stations"`
	Storage   StorageConfig   `yaml:"storage"`
	API       APIConfig       `yaml:"api"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type RiverflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type CollectorConfig struct {
	Interval       time.Duration `yaml:"interval"`
	DailySummaries bool          `yaml:"daily_summaries"`
}

type FetcherConfig struct {
	Timeout        time.Duration        `yaml:"timeout"`
	UserAgent      string               `yaml:"user_agent"`
	VerifySSL      bool                 `yaml:"verify_ssl"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	Jitter            bool          `yaml:"jitter"`
}

type CircuitBreakerConfig struct {
	HalfOpenMaxRequests uint32        `yaml:"half_open_max_requests"`
	Interval            time.Duration `yaml:"interval"`
	RecoveryTimeout     time.Duration `yaml:"recovery_timeout"`
}

// StationConfig describes one collection target. Type selects the parser:
// "flow_pdf" stations use url; "level_csv" stations use level_url and the
// optional temperature_url.
type StationConfig struct {
	ID             string `yaml:"id"`
	Name           string `yaml:"name"`
	River          string `yaml:"river"`
	Type           string `yaml:"type"`
	URL            string `yaml:"url"`
	LevelURL       string `yaml:"level_url"`
	TemperatureURL string `yaml:"temperature_url"`
	Enabled        bool   `yaml:"enabled"`
}

type StorageConfig struct {
	S3        S3Config        `yaml:"s3"`
	Analytics AnalyticsConfig `yaml:"analytics"`
}

type S3Config struct {
	Bucket           string `yaml:"bucket"`
	Region           string `yaml:"region"`
	Endpoint         string `yaml:"endpoint"`
	PathStyle        bool   `yaml:"path_style"`
	AccessKeyID      string `yaml:"access_key_id"`
	SecretAccessKey  string `yaml:"secret_access_key"`
	RawPrefix        string `yaml:"raw_prefix"`
	ParsedPrefix     string `yaml:"parsed_prefix"`
	AggregatedPrefix string `yaml:"aggregated_prefix"`
	Compress         bool   `yaml:"compress"`
	Encryption       bool   `yaml:"encryption"`
	StorageClass     string `yaml:"storage_class"`
}

// AnalyticsConfig controls the optional parquet export of monthly series.
type AnalyticsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Prefix      string `yaml:"prefix"`
	Compression string `yaml:"compression"`
}

type APIConfig struct {
	ListenAddr         string `yaml:"listen_addr"`
	DefaultStation     string `yaml:"default_station"`
	DefaultWindowHours int    `yaml:"default_window_hours"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

const defaultConfigPath = "config/config.yml"

var configEnvPaths = map[string]string{
	environmentProduction: "config/config.production.yml",
	environmentStaging:    "config/config.staging.yml",
}

func LoadConfig(path string) (*Config, error) {
	path = resolveEnvSpecificPath(path, defaultConfigPath, configEnvPaths)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Collector: CollectorConfig{Interval: time.Hour},
		Fetcher: FetcherConfig{
			Timeout:   30 * time.Second,
			VerifySSL: true,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override S3 settings from environment variables if available
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		config.Storage.S3.Region = strings.TrimSpace(v)
	}
	if v := os.Getenv("S3_BUCKET"); v != "" {
		config.Storage.S3.Bucket = strings.TrimSpace(v)
	}

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// EnabledStations filters the station list to collection targets.
func (c *Config) EnabledStations() []StationConfig {
	out := make([]StationConfig, 0, len(c.Stations))
	for _, st := range c.Stations {
		if st.Enabled {
			out = append(out, st)
		}
	}
	return out
}

func validateConfig(cfg *Config) error {
	if cfg.Riverflow.Name == "" {
		return fmt.Errorf("riverflow.name is required")
	}
	if cfg.Riverflow.Version == "" {
		return fmt.Errorf("riverflow.version is required")
	}

	if cfg.Collector.Interval <= 0 {
		return fmt.Errorf("collector.interval must be greater than 0")
	}
	if cfg.Fetcher.Timeout <= 0 {
		return fmt.Errorf("fetcher.timeout must be greater than 0")
	}
	if !cfg.Fetcher.VerifySSL && IsProductionLike(getAppEnvironment()) {
		return fmt.Errorf("fetcher.verify_ssl cannot be disabled in %s", getAppEnvironment())
	}

	if len(cfg.Stations) == 0 {
		return fmt.Errorf("at least one station is required")
	}
	seen := make(map[string]bool, len(cfg.Stations))
	for i, st := range cfg.Stations {
		if st.ID == "" {
			return fmt.Errorf("stations[%d].id is required", i)
		}
		if seen[st.ID] {
			return fmt.Errorf("stations[%d].id %q is duplicated", i, st.ID)
		}
		seen[st.ID] = true

		switch st.Type {
		case "flow_pdf":
			if st.URL == "" {
				return fmt.Errorf("station %s: url is required for flow_pdf stations", st.ID)
			}
		case "level_csv":
			if st.LevelURL == "" {
				return fmt.Errorf("station %s: level_url is required for level_csv stations", st.ID)
			}
		default:
			return fmt.Errorf("station %s: type must be flow_pdf or level_csv, got %q", st.ID, st.Type)
		}
	}

	if cfg.Storage.S3.Bucket == "" {
		return fmt.Errorf("storage.s3.bucket is required")
	}
	if cfg.Storage.S3.Region == "" {
		return fmt.Errorf("storage.s3.region is required")
	}
	if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
		return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
