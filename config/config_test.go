package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

const validConfig = `riverflow:
  name: "riverflow"
  version: "1.0"
collector:
  interval: 1h
  daily_summaries: true
fetcher:
  timeout: 30s
  user_agent: "riverflow-collector/1.0"
  verify_ssl: true
  rate_limit:
    requests_per_second: 1
    burst_size: 2
  retry:
    max_attempts: 3
    initial_backoff: 1s
    max_backoff: 60s
    backoff_multiplier: 2
    jitter: true
stations:
  - id: inniscarra
    name: "Inniscarra"
    river: "River Lee"
    type: flow_pdf
    url: "https://hydro.test/inniscarra.pdf"
    enabled: true
  - id: waterworks
    name: "Waterworks Weir"
    river: "River Lee"
    type: level_csv
    level_url: "https://levels.test/waterworks_level.csv"
    temperature_url: "https://levels.test/waterworks_temp.csv"
    enabled: false
storage:
  s3:
    bucket: river-data-test
    region: eu-west-1
    compress: true
    encryption: true
api:
  listen_addr: ":8080"
  default_window_hours: 24
logging:
  level: info
  format: json
  output: stdout
`

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	t.Cleanup(func() { os.Remove(f.Name()) })
	return f.Name()
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeTempConfig(t, validConfig))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Riverflow.Name != "riverflow" {
		t.Errorf("unexpected name: %s", cfg.Riverflow.Name)
	}
	if cfg.Collector.Interval != time.Hour {
		t.Errorf("unexpected interval: %v", cfg.Collector.Interval)
	}
	if len(cfg.Stations) != 2 {
		t.Fatalf("expected 2 stations, got %d", len(cfg.Stations))
	}
	if cfg.Stations[1].TemperatureURL == "" {
		t.Errorf("temperature_url not parsed")
	}
	if !cfg.Storage.S3.Compress {
		t.Errorf("compress flag not parsed")
	}
}

func TestEnabledStations(t *testing.T) {
	cfg, err := LoadConfig(writeTempConfig(t, validConfig))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	enabled := cfg.EnabledStations()
	if len(enabled) != 1 || enabled[0].ID != "inniscarra" {
		t.Errorf("unexpected enabled stations: %+v", enabled)
	}
}

func TestValidateRejectsBrokenConfigs(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{
			"missing name",
			func(c string) string { return strings.Replace(c, `name: "riverflow"`, `name: ""`, 1) },
			"riverflow.name",
		},
		{
			"unknown station type",
			func(c string) string { return strings.Replace(c, "type: flow_pdf", "type: radar", 1) },
			"flow_pdf or level_csv",
		},
		{
			"flow station without url",
			func(c string) string {
				return strings.Replace(c, `url: "https://hydro.test/inniscarra.pdf"`, `url: ""`, 1)
			},
			"url is required",
		},
		{
			"missing bucket",
			func(c string) string { return strings.Replace(c, "bucket: river-data-test", `bucket: ""`, 1) },
			"bucket is required",
		},
		{
			"duplicate station id",
			func(c string) string { return strings.Replace(c, "id: waterworks", "id: inniscarra", 1) },
			"duplicated",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeTempConfig(t, tc.mutate(validConfig)))
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestEnvOverridesBucket(t *testing.T) {
	t.Setenv("S3_BUCKET", "river-data-override")
	cfg, err := LoadConfig(writeTempConfig(t, validConfig))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Storage.S3.Bucket != "river-data-override" {
		t.Errorf("env override not applied: %s", cfg.Storage.S3.Bucket)
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"valid-bucket", true},
		{"Invalid", false},
		{"ab", false},
		{"my..bucket", false},
	}
	for _, c := range cases {
		if got := isValidS3Bucket(c.name); got != c.valid {
			t.Errorf("isValidS3Bucket(%q) = %v, want %v", c.name, got, c.valid)
		}
	}
}
