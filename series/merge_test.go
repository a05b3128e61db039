package series

import (
	"testing"
	"time"

	"riverflow/models"
)

const units = "cubic meters per second"

func flowAt(t *testing.T, ts string, rate float64) models.Reading {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		t.Fatalf("bad test timestamp %s: %v", ts, err)
	}
	return models.NewFlowReading(parsed, rate, units)
}

func readingsEqual(a, b []models.Reading) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Timestamp.Equal(b[i].Timestamp) || a[i].FlowRate != b[i].FlowRate {
			return false
		}
	}
	return true
}

func TestMergeDeduplicatesByTimestamp(t *testing.T) {
	existing := []models.Reading{
		flowAt(t, "2025-12-05T16:00:00Z", 120),
		flowAt(t, "2025-12-05T15:00:00Z", 118),
	}
	incoming := []models.Reading{
		flowAt(t, "2025-12-05T17:00:00Z", 127),
		flowAt(t, "2025-12-05T16:00:00Z", 121), // collides; incoming wins
	}

	merged := Merge(existing, incoming)
	if len(merged) != 3 {
		t.Fatalf("expected 3 readings, got %d", len(merged))
	}
	if merged[1].FlowRate != 121 {
		t.Errorf("expected incoming value 121 at collision, got %v", merged[1].FlowRate)
	}
}

func TestMergeOutputDescending(t *testing.T) {
	incoming := []models.Reading{
		flowAt(t, "2025-12-05T14:00:00Z", 110),
		flowAt(t, "2025-12-05T17:00:00Z", 127),
		flowAt(t, "2025-12-05T15:00:00Z", 118),
	}
	merged := Merge(nil, incoming)
	for i := 1; i < len(merged); i++ {
		if merged[i].Timestamp.After(merged[i-1].Timestamp) {
			t.Fatalf("not descending at %d: %v after %v", i, merged[i].Timestamp, merged[i-1].Timestamp)
		}
	}
}

func TestMergeIdempotent(t *testing.T) {
	existing := []models.Reading{
		flowAt(t, "2025-12-05T15:00:00Z", 118),
	}
	incoming := []models.Reading{
		flowAt(t, "2025-12-05T16:00:00Z", 120),
		flowAt(t, "2025-12-05T15:00:00Z", 119),
	}

	once := Merge(existing, incoming)
	twice := Merge(once, incoming)
	if !readingsEqual(once, twice) {
		t.Fatalf("merge not idempotent:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestMergeEmptyExisting(t *testing.T) {
	incoming := []models.Reading{flowAt(t, "2025-12-05T17:00:00Z", 127)}
	merged := Merge(nil, incoming)
	if len(merged) != 1 || merged[0].FlowRate != 127 {
		t.Fatalf("unexpected merge result: %+v", merged)
	}
}

func TestBucketByMonthSplitsAtBoundary(t *testing.T) {
	readings := []models.Reading{
		flowAt(t, "2025-12-01T00:00:00Z", 100),
		flowAt(t, "2025-11-30T23:00:00Z", 98),
		flowAt(t, "2025-12-01T01:00:00Z", 101),
	}

	buckets := BucketByMonth(readings)
	if len(buckets) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(buckets))
	}
	dec := models.MonthKey{Year: 2025, Month: time.December}
	nov := models.MonthKey{Year: 2025, Month: time.November}
	if len(buckets[dec]) != 2 {
		t.Errorf("december bucket: got %d readings", len(buckets[dec]))
	}
	if len(buckets[nov]) != 1 {
		t.Errorf("november bucket: got %d readings", len(buckets[nov]))
	}
}

// Replaying the same documents in any batch grouping converges on the same
// month series, provided overlapping documents are applied in the same order.
func TestMergeBackfillReproducible(t *testing.T) {
	docA := []models.Reading{
		flowAt(t, "2025-12-05T15:00:00Z", 118),
		flowAt(t, "2025-12-05T14:00:00Z", 110),
	}
	docB := []models.Reading{
		flowAt(t, "2025-12-05T16:00:00Z", 120),
		flowAt(t, "2025-12-05T15:00:00Z", 119), // disagrees with docA
	}

	sequential := Merge(Merge(nil, docA), docB)
	rebuilt := Merge(Merge(Merge(nil, docA), docB), docB)
	if !readingsEqual(sequential, rebuilt) {
		t.Fatalf("replay diverged:\n%+v\n%+v", sequential, rebuilt)
	}
	// Last-applied document wins the conflicting timestamp.
	for _, r := range sequential {
		if r.Timestamp.Equal(docB[1].Timestamp) && r.FlowRate != 119 {
			t.Errorf("expected docB value 119 to win, got %v", r.FlowRate)
		}
	}
}
