// Package series holds the time-series core: merging parsed readings into
// monthly buckets and deriving statistics over bounded windows.
package series

import (
	"sort"
	"time"

	"riverflow/models"
)

// Merge combines an existing stored month of readings with a newly parsed
// set, deduplicating by timestamp. On a timestamp collision the incoming
// reading wins, which makes re-ingestion of overlapping windows idempotent:
// a later, more complete read of the same window supersedes an earlier
// partial one. The result is sorted descending by timestamp.
func Merge(existing, incoming []models.Reading) []models.Reading {
	byTS := make(map[time.Time]models.Reading, len(existing)+len(incoming))
	for _, r := range existing {
		byTS[r.Timestamp] = r
	}
	for _, r := range incoming {
		byTS[r.Timestamp] = r
	}

	merged := make([]models.Reading, 0, len(byTS))
	for _, r := range byTS {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp.After(merged[j].Timestamp)
	})
	return merged
}

// BucketByMonth routes each reading to the calendar month of its own
// timestamp. A parse run near a month boundary yields two buckets.
func BucketByMonth(readings []models.Reading) map[models.MonthKey][]models.Reading {
	buckets := make(map[models.MonthKey][]models.Reading)
	for _, r := range readings {
		key := models.MonthKeyOf(r.Timestamp)
		buckets[key] = append(buckets[key], r)
	}
	return buckets
}
