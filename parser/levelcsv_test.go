package parser

import (
	"errors"
	"strings"
	"testing"
	"time"

	"riverflow/models"
)

func newLevelParser() *WaterLevelParser {
	return NewWaterLevelParser("waterworks", "Waterworks Weir", "River Lee")
}

func TestWaterLevelParseBasic(t *testing.T) {
	level := []byte("2025-12-05 16:00:00,1.52\n2025-12-05 17:00:00,1.59\n")
	temp := []byte("2025-12-05 17:00:00,9.8\n2025-12-05 16:00:00,9.6\n")

	series, err := newLevelParser().Parse(level, temp)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	// Newest row becomes the current reading.
	if series.Current.Kind != models.KindLevel {
		t.Errorf("current kind: got %q", series.Current.Kind)
	}
	want := time.Date(2025, 12, 5, 17, 0, 0, 0, time.UTC)
	if !series.Current.Timestamp.Equal(want) {
		t.Errorf("current timestamp: got %v", series.Current.Timestamp)
	}
	if series.Current.WaterLevel == nil || *series.Current.WaterLevel != 1.59 {
		t.Errorf("current level: got %+v", series.Current.WaterLevel)
	}
	if series.Current.Temperature == nil || *series.Current.Temperature != 9.8 {
		t.Errorf("current temperature: got %+v", series.Current.Temperature)
	}
	if len(series.Historical) != 1 {
		t.Fatalf("historical: got %d rows", len(series.Historical))
	}
	if series.Historical[0].Temperature == nil || *series.Historical[0].Temperature != 9.6 {
		t.Errorf("historical temperature: got %+v", series.Historical[0].Temperature)
	}
}

func TestWaterLevelParseWithoutTemperatureFeed(t *testing.T) {
	level := []byte("2025-12-05 17:00:00,1.59\n")
	series, err := newLevelParser().Parse(level, nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if series.Current.Temperature != nil {
		t.Errorf("expected absent temperature, got %v", *series.Current.Temperature)
	}
}

func TestWaterLevelParseTimestampWithoutSeconds(t *testing.T) {
	level := []byte("2025-12-05 17:00,1.59\n")
	series, err := newLevelParser().Parse(level, nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := time.Date(2025, 12, 5, 17, 0, 0, 0, time.UTC)
	if !series.Current.Timestamp.Equal(want) {
		t.Errorf("timestamp: got %v", series.Current.Timestamp)
	}
}

func TestWaterLevelParseEmptyValueKept(t *testing.T) {
	level := []byte("2025-12-05 17:00:00,\n2025-12-05 16:00:00,1.52\n")
	series, err := newLevelParser().Parse(level, nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if series.Current.WaterLevel != nil {
		t.Errorf("empty value row must keep a nil level, got %v", *series.Current.WaterLevel)
	}
	if len(series.Historical) != 1 {
		t.Errorf("row with empty value must still count: %d historical", len(series.Historical))
	}
}

func TestWaterLevelParseSkipsBadRows(t *testing.T) {
	level := []byte(strings.Join([]string{
		"Datetime,Value", // header row fails timestamp parse and is skipped
		"2025-12-05 17:00:00,1.59",
		"garbage line",
		"2025-12-05 16:00:00,not-a-number",
	}, "\n"))

	series, err := newLevelParser().Parse(level, nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(series.Historical) != 0 {
		t.Errorf("only one row should survive, got %d historical", len(series.Historical))
	}
}

func TestWaterLevelParseLatin1Fallback(t *testing.T) {
	// 0xE9 is not valid UTF-8 on its own; the payload must decode as Latin-1
	// and the data rows must still parse.
	level := append([]byte("Beaufort \xe9chelle,\n"), []byte("2025-12-05 17:00:00,1.59\n")...)
	series, err := newLevelParser().Parse(level, nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if series.Current.WaterLevel == nil || *series.Current.WaterLevel != 1.59 {
		t.Errorf("current level: got %+v", series.Current.WaterLevel)
	}
}

func TestWaterLevelParseNoUsableRows(t *testing.T) {
	_, err := newLevelParser().Parse([]byte("Datetime,Value\n"), nil)
	if !errors.Is(err, ErrNoValidReadings) {
		t.Fatalf("expected ErrNoValidReadings, got %v", err)
	}
}

func TestJoinTemperaturesExactMatchWins(t *testing.T) {
	ts := time.Date(2025, 12, 5, 17, 0, 0, 0, time.UTC)
	lvl := 1.59
	exactTemp, nearTemp := 9.8, 9.1
	levels := []sample{{ts: ts, value: &lvl}}
	temps := []sample{
		{ts: ts.Add(time.Minute), value: &nearTemp},
		{ts: ts, value: &exactTemp},
	}

	readings := joinTemperatures(levels, temps)
	if readings[0].Temperature == nil || *readings[0].Temperature != 9.8 {
		t.Errorf("exact match must win: got %+v", readings[0].Temperature)
	}
}

func TestJoinTemperaturesWindow(t *testing.T) {
	ts := time.Date(2025, 12, 5, 17, 0, 0, 0, time.UTC)
	lvl := 1.59
	temp := 9.8
	levels := []sample{{ts: ts, value: &lvl}}

	within := joinTemperatures(levels, []sample{{ts: ts.Add(2 * time.Hour), value: &temp}})
	if within[0].Temperature == nil {
		t.Errorf("temperature exactly on the window edge must join")
	}

	outside := joinTemperatures(levels, []sample{{ts: ts.Add(2*time.Hour + time.Second), value: &temp}})
	if outside[0].Temperature != nil {
		t.Errorf("temperature outside the window must not join")
	}
}
