// Package storage persists the three data tiers to S3: immutable raw source
// documents, merged monthly parsed series, and small aggregated projections
// for cheap reads.
package storage

import (
	"fmt"
	"time"

	"riverflow/models"
)

// Keys builds the bucket layout. The layout is stable; existing archives
// depend on every format here.
type Keys struct {
	RawPrefix        string
	ParsedPrefix     string
	AggregatedPrefix string
}

func DefaultKeys() Keys {
	return Keys{
		RawPrefix:        "raw",
		ParsedPrefix:     "parsed",
		AggregatedPrefix: "aggregated",
	}
}

// Raw places a source document under its capture date:
// raw/{station}/{YYYY}/{MM}/{DD}/{station}_{sensor}_{YYYYMMDD_HHMMSS}.{ext}
func (k Keys) Raw(stationID, sensor string, ts time.Time, ext string) string {
	ts = ts.UTC()
	return fmt.Sprintf("%s/%s/%04d/%02d/%02d/%s_%s_%s.%s",
		k.RawPrefix, stationID,
		ts.Year(), int(ts.Month()), ts.Day(),
		stationID, sensor, ts.Format("20060102_150405"), ext)
}

// Monthly places one station month:
// parsed/{station}/{YYYY}/{MM}/{station}_flow_{YYYYMM}.json, plus .gz when
// compressed. The "flow" segment is historical; level stations share it.
func (k Keys) Monthly(stationID string, month models.MonthKey, compressed bool) string {
	key := fmt.Sprintf("%s/%s/%04d/%02d/%s_flow_%s.json",
		k.ParsedPrefix, stationID,
		month.Year, int(month.Month),
		stationID, month.String())
	if compressed {
		key += ".gz"
	}
	return key
}

// Latest is the per-station hot projection: aggregated/{station}_latest.json
func (k Keys) Latest(stationID string) string {
	return fmt.Sprintf("%s/%s_latest.json", k.AggregatedPrefix, stationID)
}

// DailySummary: aggregated/{station}_daily_{YYYYMMDD}.json
func (k Keys) DailySummary(stationID string, date time.Time) string {
	return fmt.Sprintf("%s/%s_daily_%s.json", k.AggregatedPrefix, stationID, date.UTC().Format("20060102"))
}

// RawStationPrefix lists every raw document a station ever captured.
func (k Keys) RawStationPrefix(stationID string) string {
	return fmt.Sprintf("%s/%s/", k.RawPrefix, stationID)
}
