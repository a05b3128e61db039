package models

import (
	"fmt"
	"time"
)

// ParsedSeries is the result of one parse invocation: the station identity,
// the document's headline "current" reading, and the historical readings
// ordered most-recent-first. It is created once per parse and never mutated.
type ParsedSeries struct {
	StationID   string
	StationName string
	RiverName   string
	Current     Reading
	Historical  []Reading
	ParsedAt    time.Time
	SourceHash  string
}

// AllReadings returns the current reading followed by the historical ones.
// The current reading is stored separately in source documents but belongs
// to the same series for merge purposes.
func (p ParsedSeries) AllReadings() []Reading {
	out := make([]Reading, 0, len(p.Historical)+1)
	out = append(out, p.Current)
	out = append(out, p.Historical...)
	return out
}

// MonthlySeries is the persisted month blob for one station: a deduplicated
// sequence of readings sorted descending by timestamp. The JSON shape matches
// the existing archive exactly.
type MonthlySeries struct {
	Station      string    `json:"station"`
	StationID    string    `json:"station_id,omitempty"`
	River        string    `json:"river"`
	Current      *Reading  `json:"current_reading"`
	Readings     []Reading `json:"historical_readings"`
	ReadingCount int       `json:"reading_count"`
	ParsedAt     string    `json:"parsed_at"`
	SourceHash   string    `json:"source_hash,omitempty"`
}

// LatestStatistics is the denormalized summary embedded in a latest
// projection. Only the fields matching the reading kind are populated.
type LatestStatistics struct {
	HistoricalReadings  int      `json:"historical_readings"`
	TimeRangeHours      int      `json:"time_range_hours"`
	CurrentFlowM3s      *float64 `json:"current_flow_m3s,omitempty"`
	CurrentWaterLevelM  *float64 `json:"current_water_level_m,omitempty"`
	CurrentTemperatureC *float64 `json:"current_temperature_c,omitempty"`
}

// LatestProjection is the per-station cache record holding the most recent
// reading. It is fully overwritten on every successful parse cycle; the
// monthly series remains the source of truth.
type LatestProjection struct {
	Station    string           `json:"station"`
	River      string           `json:"river"`
	Latest     Reading          `json:"latest_reading"`
	Statistics LatestStatistics `json:"statistics"`
	UpdatedAt  string           `json:"updated_at"`
	SourceHash string           `json:"source_hash,omitempty"`
}

// MonthKey identifies one station-month storage bucket.
type MonthKey struct {
	Year  int
	Month time.Month
}

// MonthKeyOf buckets a timestamp by its own calendar month in UTC.
func MonthKeyOf(t time.Time) MonthKey {
	u := t.UTC()
	return MonthKey{Year: u.Year(), Month: u.Month()}
}

// String renders the key as YYYYMM, the form used in storage paths.
func (k MonthKey) String() string {
	return fmt.Sprintf("%04d%02d", k.Year, int(k.Month))
}

// Before reports whether k precedes other chronologically.
func (k MonthKey) Before(other MonthKey) bool {
	if k.Year != other.Year {
		return k.Year < other.Year
	}
	return k.Month < other.Month
}
