package series

import (
	"encoding/json"
	"math"
	"sort"
	"time"

	"riverflow/models"
)

// Trend classifications. TrendUnknown marks a window with zero data points,
// as opposed to TrendStable for a series too short to classify.
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
	TrendUnknown    = "unknown"
)

// Flow status bands. Boundary values are inclusive on the upper side of each
// band: 20 is normal, 60 is high.
const (
	StatusLow      = "low"
	StatusNormal   = "normal"
	StatusHigh     = "high"
	StatusVeryHigh = "very-high"
)

// StatusOf classifies a flow rate into a coarse status band.
func StatusOf(flowRate float64) string {
	switch {
	case flowRate < 5:
		return StatusLow
	case flowRate <= 20:
		return StatusNormal
	case flowRate <= 60:
		return StatusHigh
	default:
		return StatusVeryHigh
	}
}

// TrendOf classifies a chronologically ordered (oldest first) value sequence
// by comparing the mean of its first half against the mean of its second
// half. Fewer than 4 values, or a zero first-half mean, is reported stable.
func TrendOf(values []float64) string {
	if len(values) < 4 {
		return TrendStable
	}

	mid := len(values) / 2
	firstMean := mean(values[:mid])
	secondMean := mean(values[mid:])

	if firstMean == 0 {
		return TrendStable
	}

	changePercent := (secondMean - firstMean) / firstMean * 100
	switch {
	case changePercent > 10:
		return TrendIncreasing
	case changePercent < -10:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Point is one chart-ready sample in a range query response. The JSON shape
// depends on the reading kind: flow points carry "flow", level points carry
// "waterLevel" and "temperature" with explicit nulls.
type Point struct {
	Kind        models.Kind
	Timestamp   time.Time
	Flow        float64
	WaterLevel  *float64
	Temperature *float64
}

type flowPointJSON struct {
	Timestamp string  `json:"timestamp"`
	Flow      float64 `json:"flow"`
}

type levelPointJSON struct {
	Timestamp   string   `json:"timestamp"`
	WaterLevel  *float64 `json:"waterLevel"`
	Temperature *float64 `json:"temperature"`
}

func (p Point) MarshalJSON() ([]byte, error) {
	if p.Kind == models.KindFlow {
		return json.Marshal(flowPointJSON{Timestamp: models.FormatTimestamp(p.Timestamp), Flow: p.Flow})
	}
	return json.Marshal(levelPointJSON{
		Timestamp:   models.FormatTimestamp(p.Timestamp),
		WaterLevel:  p.WaterLevel,
		Temperature: p.Temperature,
	})
}

// Statistics summarizes the values in a queried window. Flow statistics are
// rounded to 2 decimals and serialized as min/max/average; level statistics
// are rounded to 3 decimals and serialized as minLevel/maxLevel/averageLevel.
type Statistics struct {
	Kind    models.Kind
	Min     float64
	Max     float64
	Average float64
	Trend   string
}

type flowStatsJSON struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Average float64 `json:"average"`
	Trend   string  `json:"trend"`
}

type levelStatsJSON struct {
	MinLevel     float64 `json:"minLevel"`
	MaxLevel     float64 `json:"maxLevel"`
	AverageLevel float64 `json:"averageLevel"`
	Trend        string  `json:"trend"`
}

func (s Statistics) MarshalJSON() ([]byte, error) {
	if s.Kind == models.KindFlow {
		return json.Marshal(flowStatsJSON{Min: s.Min, Max: s.Max, Average: s.Average, Trend: s.Trend})
	}
	return json.Marshal(levelStatsJSON{MinLevel: s.Min, MaxLevel: s.Max, AverageLevel: s.Average, Trend: s.Trend})
}

// RangeResult is the outcome of a bounded historical query.
type RangeResult struct {
	Kind       models.Kind
	Points     []Point
	Statistics Statistics
}

// QueryRange filters stored readings to timestamps at or after
// now - windowHours (the cutoff itself is included) and returns the points
// in ascending chronological order with per-kind statistics. An empty window
// yields all-zero statistics with an unknown trend. Level readings whose
// level value is absent stay in the point list but are excluded from the
// statistics.
func QueryRange(readings []models.Reading, now time.Time, windowHours int) RangeResult {
	kind := models.KindLevel
	if len(readings) > 0 {
		kind = readings[0].Kind
	}

	cutoff := now.UTC().Add(-time.Duration(windowHours) * time.Hour)

	points := make([]Point, 0, len(readings))
	for _, r := range readings {
		if r.Timestamp.Before(cutoff) {
			continue
		}
		points = append(points, Point{
			Kind:        kind,
			Timestamp:   r.Timestamp,
			Flow:        r.FlowRate,
			WaterLevel:  r.WaterLevel,
			Temperature: r.Temperature,
		})
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})

	return RangeResult{Kind: kind, Points: points, Statistics: statisticsOf(kind, points)}
}

func statisticsOf(kind models.Kind, points []Point) Statistics {
	decimals := 2
	if kind != models.KindFlow {
		decimals = 3
	}

	values := make([]float64, 0, len(points))
	for _, p := range points {
		if kind == models.KindFlow {
			values = append(values, p.Flow)
			continue
		}
		if p.WaterLevel != nil {
			values = append(values, *p.WaterLevel)
		}
	}

	if len(values) == 0 {
		return Statistics{Kind: kind, Trend: TrendUnknown}
	}

	min, max := values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	return Statistics{
		Kind:    kind,
		Min:     round(min, decimals),
		Max:     round(max, decimals),
		Average: round(mean(values), decimals),
		Trend:   TrendOf(values),
	}
}

func round(v float64, decimals int) float64 {
	factor := math.Pow(10, float64(decimals))
	return math.Round(v*factor) / factor
}

// ProjectLatest derives the per-station latest-reading cache record from a
// freshly parsed series. It always succeeds; fields absent from the reading
// kind are simply omitted.
func ProjectLatest(p models.ParsedSeries, now time.Time) models.LatestProjection {
	stats := models.LatestStatistics{
		HistoricalReadings: len(p.Historical),
		TimeRangeHours:     24,
	}
	switch p.Current.Kind {
	case models.KindFlow:
		flow := p.Current.FlowRate
		stats.CurrentFlowM3s = &flow
	case models.KindLevel:
		stats.CurrentWaterLevelM = p.Current.WaterLevel
		stats.CurrentTemperatureC = p.Current.Temperature
	}

	return models.LatestProjection{
		Station:    p.StationName,
		River:      p.RiverName,
		Latest:     p.Current,
		Statistics: stats,
		UpdatedAt:  models.FormatTimestamp(now),
		SourceHash: p.SourceHash,
	}
}
