package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimestampLayout is the second-precision UTC format used in every stored
// document. Source feeds carry no zone information; all timestamps are UTC.
const TimestampLayout = "2006-01-02T15:04:05Z"

// Kind identifies which variant of Reading a value holds. The kind is
// decided once, at parse or decode time, and carried explicitly from then on.
type Kind string

const (
	KindFlow  Kind = "flow"
	KindLevel Kind = "water_level"
)

// Reading is one timestamped sample from a station. It is a tagged variant:
// a flow reading carries FlowRate and Units, a level reading carries
// WaterLevel and Temperature (either may be absent). The dedup identity of a
// reading is (station, timestamp) at exact second equality.
type Reading struct {
	Kind        Kind
	Timestamp   time.Time
	FlowRate    float64
	Units       string
	WaterLevel  *float64
	Temperature *float64
}

// NewFlowReading builds a flow-kind reading with a UTC second-precision timestamp.
func NewFlowReading(ts time.Time, flowRate float64, units string) Reading {
	return Reading{
		Kind:      KindFlow,
		Timestamp: ts.UTC().Truncate(time.Second),
		FlowRate:  flowRate,
		Units:     units,
	}
}

// NewLevelReading builds a level-kind reading. Either value may be nil when
// the source row had an empty field or no temperature sample matched.
func NewLevelReading(ts time.Time, waterLevel, temperature *float64) Reading {
	return Reading{
		Kind:        KindLevel,
		Timestamp:   ts.UTC().Truncate(time.Second),
		WaterLevel:  waterLevel,
		Temperature: temperature,
	}
}

// PrimaryValue returns the value statistics are computed over: the flow rate
// for flow readings, the water level for level readings. The second return
// is false when the reading has no usable value (absent level).
func (r Reading) PrimaryValue() (float64, bool) {
	switch r.Kind {
	case KindFlow:
		return r.FlowRate, true
	case KindLevel:
		if r.WaterLevel != nil {
			return *r.WaterLevel, true
		}
	}
	return 0, false
}

type flowReadingJSON struct {
	Timestamp string  `json:"timestamp"`
	FlowRate  float64 `json:"flow_rate_m3s"`
	Units     string  `json:"units"`
}

type levelReadingJSON struct {
	Timestamp   string   `json:"timestamp"`
	WaterLevel  *float64 `json:"water_level_m"`
	Temperature *float64 `json:"temperature_c"`
}

// MarshalJSON writes the stored wire shape for the reading's kind. Level
// readings keep explicit nulls for absent values so stored documents stay
// byte-compatible with the existing archive.
func (r Reading) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case KindFlow:
		return json.Marshal(flowReadingJSON{
			Timestamp: FormatTimestamp(r.Timestamp),
			FlowRate:  r.FlowRate,
			Units:     r.Units,
		})
	case KindLevel:
		return json.Marshal(levelReadingJSON{
			Timestamp:   FormatTimestamp(r.Timestamp),
			WaterLevel:  r.WaterLevel,
			Temperature: r.Temperature,
		})
	}
	return nil, fmt.Errorf("reading has unknown kind %q", r.Kind)
}

// UnmarshalJSON decides the variant once, at the decode boundary: a
// flow_rate_m3s key marks a flow reading, anything else is a level reading.
func (r *Reading) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	rawTS, ok := fields["timestamp"]
	if !ok {
		return fmt.Errorf("reading is missing timestamp")
	}
	var tsStr string
	if err := json.Unmarshal(rawTS, &tsStr); err != nil {
		return fmt.Errorf("reading timestamp: %w", err)
	}
	ts, err := ParseTimestamp(tsStr)
	if err != nil {
		return err
	}

	if _, ok := fields["flow_rate_m3s"]; ok {
		var fr flowReadingJSON
		if err := json.Unmarshal(data, &fr); err != nil {
			return err
		}
		*r = Reading{Kind: KindFlow, Timestamp: ts, FlowRate: fr.FlowRate, Units: fr.Units}
		return nil
	}

	var lr levelReadingJSON
	if err := json.Unmarshal(data, &lr); err != nil {
		return err
	}
	*r = Reading{Kind: KindLevel, Timestamp: ts, WaterLevel: lr.WaterLevel, Temperature: lr.Temperature}
	return nil
}

// FormatTimestamp renders a timestamp in the stored wire format.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(TimestampLayout)
}

// ParseTimestamp reads a stored timestamp, accepting both the bare-Z layout
// and full RFC 3339 with an offset.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(TimestampLayout, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
