package series

import (
	"sort"
	"time"

	"riverflow/models"
)

// DaySummary is the persisted per-day aggregate for one station.
type DaySummary struct {
	Station      string     `json:"station"`
	Date         string     `json:"date"`
	ReadingCount int        `json:"reading_count"`
	Statistics   Statistics `json:"statistics"`
	GeneratedAt  string     `json:"generated_at"`
}

// SummarizeDay aggregates the readings that fall on the UTC calendar day of
// the given date. Readings outside the day are ignored.
func SummarizeDay(station string, readings []models.Reading, day time.Time, now time.Time) DaySummary {
	day = day.UTC()
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	kind := models.KindLevel
	if len(readings) > 0 {
		kind = readings[0].Kind
	}

	points := make([]Point, 0, len(readings))
	for _, r := range readings {
		if r.Timestamp.Before(start) || !r.Timestamp.Before(end) {
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

	return DaySummary{
		Station:      station,
		Date:         start.Format("2006-01-02"),
		ReadingCount: len(points),
		Statistics:   statisticsOf(kind, points),
		GeneratedAt:  models.FormatTimestamp(now),
	}
}
