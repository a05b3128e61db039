package parser

import (
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"riverflow/logger"
	"riverflow/models"
)

// Level and temperature feeds timestamp rows to the second, but some
// exports drop the seconds component.
var csvTimestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// temperatureJoinWindow bounds how far apart a level sample and a
// temperature sample may sit and still be considered the same observation.
const temperatureJoinWindow = 2 * time.Hour

// WaterLevelParser combines a station's level CSV with its optional
// temperature CSV. Level rows are the series spine; each one picks up the
// nearest temperature sample within the join window, preferring an exact
// timestamp match.
type WaterLevelParser struct {
	StationID   string
	StationName string
	RiverName   string

	log *logger.Entry
}

func NewWaterLevelParser(stationID, stationName, riverName string) *WaterLevelParser {
	return &WaterLevelParser{
		StationID:   stationID,
		StationName: stationName,
		RiverName:   riverName,
		log:         logger.GetLogger().WithComponent("water_level_parser").WithFields(logger.Fields{"station": stationID}),
	}
}

// Parse decodes the two CSV payloads. temperatureData may be nil when the
// station publishes no temperature feed. The newest combined row becomes the
// current reading, the rest are historical; zero usable level rows is an
// error.
func (p *WaterLevelParser) Parse(levelData, temperatureData []byte) (models.ParsedSeries, error) {
	levels, err := parseSampleCSV(levelData)
	if err != nil {
		return models.ParsedSeries{}, fmt.Errorf("%w: level csv: %v", ErrMalformedDocument, err)
	}
	if len(levels) == 0 {
		return models.ParsedSeries{}, fmt.Errorf("%w: level csv has no usable rows", ErrNoValidReadings)
	}

	var temperatures []sample
	if len(temperatureData) > 0 {
		temperatures, err = parseSampleCSV(temperatureData)
		if err != nil {
			// A broken temperature feed degrades the series, it does not fail it.
			p.log.WithError(err).Warn("temperature csv unusable, continuing without temperatures")
			temperatures = nil
		}
	}

	readings := joinTemperatures(levels, temperatures)
	sort.Slice(readings, func(i, j int) bool {
		return readings[i].Timestamp.After(readings[j].Timestamp)
	})

	p.log.WithFields(logger.Fields{
		"level_rows":       len(levels),
		"temperature_rows": len(temperatures),
	}).Debug("parsed water level feed")

	return models.ParsedSeries{
		StationID:   p.StationID,
		StationName: p.StationName,
		RiverName:   p.RiverName,
		Current:     readings[0],
		Historical:  readings[1:],
		ParsedAt:    time.Now().UTC(),
	}, nil
}

// sample is one decoded CSV row. Value is nil when the field was present but
// empty; such rows are kept so the timestamp still appears in the series.
type sample struct {
	ts    time.Time
	value *float64
}

// parseSampleCSV decodes a timestamp,value CSV. The payload is decoded as
// UTF-8 when valid and as Latin-1 otherwise. Rows that fail to parse are
// skipped individually.
func parseSampleCSV(data []byte) ([]sample, error) {
	text := decodeText(data)

	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}

	samples := make([]sample, 0, len(records))
	for _, rec := range records {
		if len(rec) < 2 {
			continue
		}
		ts, err := parseCSVTimestamp(strings.TrimSpace(rec[0]))
		if err != nil {
			continue
		}

		valueStr := strings.TrimSpace(rec[1])
		if valueStr == "" {
			samples = append(samples, sample{ts: ts})
			continue
		}
		v, err := strconv.ParseFloat(valueStr, 64)
		if err != nil {
			continue
		}
		samples = append(samples, sample{ts: ts, value: &v})
	}
	return samples, nil
}

func parseCSVTimestamp(s string) (time.Time, error) {
	for _, layout := range csvTimestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// decodeText returns the payload as a string, falling back to a Latin-1
// interpretation when the bytes are not valid UTF-8.
func decodeText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return string(runes)
}

// joinTemperatures attaches to each level sample the temperature observed
// closest in time, if any falls within the join window. An exact timestamp
// match short-circuits the scan.
func joinTemperatures(levels, temperatures []sample) []models.Reading {
	exact := make(map[time.Time]*float64, len(temperatures))
	for _, t := range temperatures {
		exact[t.ts] = t.value
	}

	readings := make([]models.Reading, 0, len(levels))
	for _, lvl := range levels {
		var temp *float64
		if v, ok := exact[lvl.ts]; ok {
			temp = v
		} else {
			temp = nearestTemperature(lvl.ts, temperatures)
		}
		readings = append(readings, models.NewLevelReading(lvl.ts, lvl.value, temp))
	}
	return readings
}

func nearestTemperature(ts time.Time, temperatures []sample) *float64 {
	var best *float64
	bestDelta := temperatureJoinWindow
	for _, t := range temperatures {
		delta := ts.Sub(t.ts)
		if delta < 0 {
			delta = -delta
		}
		if delta <= bestDelta {
			best = t.value
			bestDelta = delta
		}
	}
	return best
}
