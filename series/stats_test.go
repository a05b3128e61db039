package series

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"riverflow/models"
)

func TestStatusOfBands(t *testing.T) {
	cases := []struct {
		flow float64
		want string
	}{
		{4.9, StatusLow},
		{5, StatusNormal},
		{20, StatusNormal},
		{21, StatusHigh},
		{60, StatusHigh},
		{61, StatusVeryHigh},
	}
	for _, tc := range cases {
		if got := StatusOf(tc.flow); got != tc.want {
			t.Errorf("StatusOf(%v) = %s, want %s", tc.flow, got, tc.want)
		}
	}
}

func TestTrendOf(t *testing.T) {
	cases := []struct {
		name   string
		values []float64
		want   string
	}{
		{"increasing", []float64{10, 12, 14, 16, 18, 20}, TrendIncreasing},
		{"decreasing", []float64{20, 18, 16, 14, 12, 10}, TrendDecreasing},
		{"stable", []float64{15, 15.5, 14.8, 15.2, 15.1, 15}, TrendStable},
		{"too short", []float64{10, 12}, TrendStable},
		{"zero first mean", []float64{0, 0, 5, 10}, TrendStable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := TrendOf(tc.values); got != tc.want {
				t.Errorf("TrendOf(%v) = %s, want %s", tc.values, got, tc.want)
			}
		})
	}
}

func TestQueryRangeBoundaryInclusive(t *testing.T) {
	now := time.Date(2025, 12, 6, 12, 0, 0, 0, time.UTC)
	readings := []models.Reading{
		models.NewFlowReading(now.Add(-24*time.Hour), 100, units),            // exactly on the cutoff
		models.NewFlowReading(now.Add(-24*time.Hour-time.Second), 90, units), // one second outside
		models.NewFlowReading(now.Add(-time.Hour), 110, units),
	}

	res := QueryRange(readings, now, 24)
	if len(res.Points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(res.Points))
	}
	if !res.Points[0].Timestamp.Equal(now.Add(-24 * time.Hour)) {
		t.Errorf("cutoff reading must be included and first: %v", res.Points[0].Timestamp)
	}
}

func TestQueryRangeAscendingOrder(t *testing.T) {
	now := time.Date(2025, 12, 6, 12, 0, 0, 0, time.UTC)
	readings := []models.Reading{
		models.NewFlowReading(now.Add(-time.Hour), 110, units),
		models.NewFlowReading(now.Add(-3*time.Hour), 100, units),
		models.NewFlowReading(now.Add(-2*time.Hour), 105, units),
	}
	res := QueryRange(readings, now, 24)
	for i := 1; i < len(res.Points); i++ {
		if res.Points[i].Timestamp.Before(res.Points[i-1].Timestamp) {
			t.Fatalf("points not ascending at %d", i)
		}
	}
}

func TestQueryRangeEmptyWindow(t *testing.T) {
	now := time.Date(2025, 12, 6, 12, 0, 0, 0, time.UTC)
	readings := []models.Reading{
		models.NewFlowReading(now.Add(-48*time.Hour), 100, units),
	}
	res := QueryRange(readings, now, 24)
	if len(res.Points) != 0 {
		t.Fatalf("expected no points, got %d", len(res.Points))
	}
	s := res.Statistics
	if s.Min != 0 || s.Max != 0 || s.Average != 0 {
		t.Errorf("expected all-zero statistics, got %+v", s)
	}
	if s.Trend != TrendUnknown {
		t.Errorf("expected trend %q, got %q", TrendUnknown, s.Trend)
	}
}

func TestQueryRangeShortWindowIsStableNotUnknown(t *testing.T) {
	now := time.Date(2025, 12, 6, 12, 0, 0, 0, time.UTC)
	readings := []models.Reading{
		models.NewFlowReading(now.Add(-time.Hour), 110, units),
		models.NewFlowReading(now.Add(-2*time.Hour), 100, units),
	}
	res := QueryRange(readings, now, 24)
	if res.Statistics.Trend != TrendStable {
		t.Errorf("two present points must be stable, got %q", res.Statistics.Trend)
	}
}

func TestQueryRangeLevelStatisticsSkipAbsentLevels(t *testing.T) {
	now := time.Date(2025, 12, 6, 12, 0, 0, 0, time.UTC)
	lvl := func(h int, level *float64) models.Reading {
		return models.NewLevelReading(now.Add(-time.Duration(h)*time.Hour), level, nil)
	}
	v1, v2 := 1.5, 1.7
	readings := []models.Reading{
		lvl(1, &v2),
		lvl(2, nil), // retained as a point, excluded from statistics
		lvl(3, &v1),
	}

	res := QueryRange(readings, now, 24)
	if len(res.Points) != 3 {
		t.Fatalf("absent-level point must be retained, got %d points", len(res.Points))
	}
	s := res.Statistics
	if s.Min != 1.5 || s.Max != 1.7 {
		t.Errorf("unexpected level stats: %+v", s)
	}

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal stats: %v", err)
	}
	if !strings.Contains(string(data), "minLevel") {
		t.Errorf("level statistics must use level keys: %s", data)
	}
}

func TestQueryRangeFlowRounding(t *testing.T) {
	now := time.Date(2025, 12, 6, 12, 0, 0, 0, time.UTC)
	readings := []models.Reading{
		models.NewFlowReading(now.Add(-time.Hour), 10.123, units),
		models.NewFlowReading(now.Add(-2*time.Hour), 10.456, units),
	}
	res := QueryRange(readings, now, 24)
	if res.Statistics.Min != 10.12 || res.Statistics.Max != 10.46 {
		t.Errorf("flow stats not rounded to 2 decimals: %+v", res.Statistics)
	}
}

func TestPointJSONShapes(t *testing.T) {
	ts := time.Date(2025, 12, 6, 11, 0, 0, 0, time.UTC)
	flow := Point{Kind: models.KindFlow, Timestamp: ts, Flow: 12.5}
	data, err := json.Marshal(flow)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"flow":12.5`) {
		t.Errorf("flow point shape: %s", data)
	}

	level := Point{Kind: models.KindLevel, Timestamp: ts}
	data, err = json.Marshal(level)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"waterLevel":null`) {
		t.Errorf("level point must keep explicit nulls: %s", data)
	}
}

func TestProjectLatestFlow(t *testing.T) {
	now := time.Date(2025, 12, 6, 12, 0, 0, 0, time.UTC)
	p := models.ParsedSeries{
		StationID:   "inniscarra",
		StationName: "Inniscarra",
		RiverName:   "River Lee",
		Current:     models.NewFlowReading(now.Add(-time.Hour), 127, units),
		Historical: []models.Reading{
			models.NewFlowReading(now.Add(-2*time.Hour), 120, units),
		},
		SourceHash: "abc123",
	}

	proj := ProjectLatest(p, now)
	if proj.Station != "Inniscarra" || proj.River != "River Lee" {
		t.Errorf("station identity lost: %+v", proj)
	}
	if proj.Statistics.CurrentFlowM3s == nil || *proj.Statistics.CurrentFlowM3s != 127 {
		t.Errorf("current flow missing: %+v", proj.Statistics)
	}
	if proj.Statistics.CurrentWaterLevelM != nil {
		t.Errorf("flow projection must not carry level fields")
	}
	if proj.Statistics.HistoricalReadings != 1 {
		t.Errorf("historical count: got %d", proj.Statistics.HistoricalReadings)
	}
	if proj.UpdatedAt != models.FormatTimestamp(now) {
		t.Errorf("updated_at: got %s", proj.UpdatedAt)
	}
}

func TestProjectLatestLevelOmitsAbsent(t *testing.T) {
	now := time.Date(2025, 12, 6, 12, 0, 0, 0, time.UTC)
	level := 1.59
	p := models.ParsedSeries{
		StationName: "Waterworks Weir",
		RiverName:   "River Lee",
		Current:     models.NewLevelReading(now, &level, nil),
	}
	proj := ProjectLatest(p, now)
	if proj.Statistics.CurrentWaterLevelM == nil || *proj.Statistics.CurrentWaterLevelM != 1.59 {
		t.Errorf("current level missing: %+v", proj.Statistics)
	}
	data, err := json.Marshal(proj)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), "current_temperature_c") {
		t.Errorf("absent temperature must be omitted: %s", data)
	}
}
