// Package collector drives the ingestion pipeline: download each station's
// source documents, parse them, merge the readings into monthly series, and
// refresh the aggregated projections. Stations are processed sequentially so
// one slow or broken source never starves the others of a cycle slot.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/google/uuid"

	"riverflow/fetcher"
	"riverflow/logger"
	"riverflow/models"
	"riverflow/parser"
	"riverflow/series"
	"riverflow/storage"
)

// Station type discriminators. They select the parser and the set of source
// URLs a station is collected from.
const (
	TypeFlowPDF  = "flow_pdf"
	TypeLevelCSV = "level_csv"
)

// Station is one configured collection target.
type Station struct {
	ID    string
	Name  string
	River string
	Type  string

	// URL is the PDF report for flow stations.
	URL string
	// LevelURL and TemperatureURL are the CSV feeds for level stations.
	// TemperatureURL is optional.
	LevelURL       string
	TemperatureURL string
}

// Fetcher downloads one document.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (fetcher.Result, error)
}

// Store is the slice of the storage layer the collector writes through.
type Store interface {
	PutRaw(ctx context.Context, stationID, sensor string, ts time.Time, contentType string, body []byte, contentHash string) (string, error)
	GetMonthly(ctx context.Context, stationID string, month models.MonthKey) (models.MonthlySeries, error)
	PutMonthly(ctx context.Context, stationID string, month models.MonthKey, series models.MonthlySeries) (string, error)
	PutLatest(ctx context.Context, stationID string, proj models.LatestProjection) (string, error)
	PutDailySummary(ctx context.Context, stationID string, date time.Time, summary interface{}) (string, error)
}

// Exporter mirrors the analytics parquet export. It is optional.
type Exporter interface {
	Export(ctx context.Context, stationID string, month models.MonthKey, readings []models.Reading) (string, error)
}

// Options configures a Collector.
type Options struct {
	Stations       []Station
	Interval       time.Duration
	DailySummaries bool
}

// StationResult records the outcome for one station within a cycle.
type StationResult struct {
	StationID    string
	Err          error
	ReadingCount int
	Months       []string
}

// CycleResult is the aggregate outcome of one collection cycle. A station
// failure is isolated; it never aborts the cycle.
type CycleResult struct {
	CycleID   string
	StartedAt time.Time
	Duration  time.Duration
	Total     int
	Succeeded int
	Failed    int
	Stations  []StationResult
}

// Collector runs the pipeline on a fixed schedule.
type Collector struct {
	opts     Options
	fetcher  Fetcher
	store    Store
	exporter Exporter

	scheduler *gocron.Scheduler
	mu        sync.Mutex
	running   bool
	log       *logger.Entry

	// now is stubbed in tests.
	now func() time.Time
}

func New(opts Options, f Fetcher, store Store, exporter Exporter) *Collector {
	if opts.Interval == 0 {
		opts.Interval = time.Hour
	}
	return &Collector{
		opts:     opts,
		fetcher:  f,
		store:    store,
		exporter: exporter,
		log:      logger.GetLogger().WithComponent("collector"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start runs one cycle immediately, then repeats on the configured interval
// until Stop is called.
func (c *Collector) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("collector already running")
	}
	c.running = true
	c.scheduler = gocron.NewScheduler(time.UTC)
	c.mu.Unlock()

	c.log.WithFields(logger.Fields{
		"stations": len(c.opts.Stations),
		"interval": c.opts.Interval.String(),
	}).Info("starting collector")

	_, err := c.scheduler.Every(c.opts.Interval).StartImmediately().Do(func() {
		c.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule collection cycle: %w", err)
	}
	c.scheduler.StartAsync()
	return nil
}

// Stop halts the schedule and waits for a running cycle to finish.
func (c *Collector) Stop() {
	c.mu.Lock()
	c.running = false
	sched := c.scheduler
	c.mu.Unlock()

	if sched != nil {
		sched.Stop()
	}
	c.log.Info("collector stopped")
}

// RunOnce executes a full collection cycle over every configured station.
func (c *Collector) RunOnce(ctx context.Context) CycleResult {
	result := CycleResult{
		CycleID:   uuid.New().String(),
		StartedAt: c.now(),
		Total:     len(c.opts.Stations),
	}

	log := c.log.WithFields(logger.Fields{"cycle_id": result.CycleID})
	log.WithFields(logger.Fields{"stations": result.Total}).Info("collection cycle started")

	for _, station := range c.opts.Stations {
		sr := c.collectStation(ctx, log, station)
		result.Stations = append(result.Stations, sr)
		if sr.Err != nil {
			result.Failed++
			log.WithError(sr.Err).WithFields(logger.Fields{"station": station.ID}).Error("station collection failed")
			continue
		}
		result.Succeeded++
	}

	result.Duration = c.now().Sub(result.StartedAt)
	log.WithFields(logger.Fields{
		"succeeded":   result.Succeeded,
		"failed":      result.Failed,
		"duration_ms": result.Duration.Milliseconds(),
	}).Info("collection cycle finished")
	logger.GetLogger().LogMetric("collector", "stations_succeeded", result.Succeeded, "gauge", logger.Fields{"cycle_id": result.CycleID})

	return result
}

// collectStation runs the fetch, parse, archive, merge, project sequence for
// one station. Any error reports the station as failed for this cycle.
func (c *Collector) collectStation(ctx context.Context, log *logger.Entry, station Station) StationResult {
	sr := StationResult{StationID: station.ID}

	var parsed models.ParsedSeries
	var err error
	switch station.Type {
	case TypeFlowPDF:
		parsed, err = c.collectFlow(ctx, station)
	case TypeLevelCSV:
		parsed, err = c.collectLevel(ctx, station)
	default:
		err = fmt.Errorf("station %s has unknown type %q", station.ID, station.Type)
	}
	if err != nil {
		sr.Err = err
		return sr
	}

	readings := parsed.AllReadings()
	sr.ReadingCount = len(readings)

	months, err := c.mergeMonths(ctx, station, parsed, readings)
	if err != nil {
		sr.Err = err
		return sr
	}
	sr.Months = months

	if _, err := c.store.PutLatest(ctx, station.ID, series.ProjectLatest(parsed, c.now())); err != nil {
		sr.Err = err
		return sr
	}

	if c.opts.DailySummaries {
		if err := c.writeDailySummary(ctx, station, parsed); err != nil {
			// Daily summaries are derived data; failing one does not fail
			// the station's cycle.
			log.WithError(err).WithFields(logger.Fields{"station": station.ID}).Warn("daily summary write failed")
		}
	}

	log.WithFields(logger.Fields{
		"station":  station.ID,
		"readings": sr.ReadingCount,
		"months":   sr.Months,
	}).Info("station collected")
	return sr
}

func (c *Collector) collectFlow(ctx context.Context, station Station) (models.ParsedSeries, error) {
	res, err := c.fetcher.Fetch(ctx, station.URL)
	if err != nil {
		return models.ParsedSeries{}, fmt.Errorf("fetch flow report: %w", err)
	}

	parsed, err := parser.NewFlowPDFParser(station.ID, station.Name, station.River).Parse(res.Body)
	if err != nil {
		logger.IncrementParseFailure()
		return models.ParsedSeries{}, fmt.Errorf("parse flow report: %w", err)
	}
	parsed.SourceHash = res.SHA256

	if _, err := c.store.PutRaw(ctx, station.ID, "flow", parsed.Current.Timestamp, "application/pdf", res.Body, res.SHA256); err != nil {
		return models.ParsedSeries{}, fmt.Errorf("archive flow report: %w", err)
	}
	return parsed, nil
}

func (c *Collector) collectLevel(ctx context.Context, station Station) (models.ParsedSeries, error) {
	levelRes, err := c.fetcher.Fetch(ctx, station.LevelURL)
	if err != nil {
		return models.ParsedSeries{}, fmt.Errorf("fetch level feed: %w", err)
	}

	var tempBody []byte
	var tempRes fetcher.Result
	if station.TemperatureURL != "" {
		tempRes, err = c.fetcher.Fetch(ctx, station.TemperatureURL)
		if err != nil {
			// The level series still has value without temperatures.
			c.log.WithError(err).WithFields(logger.Fields{"station": station.ID}).Warn("temperature feed unavailable")
		} else {
			tempBody = tempRes.Body
		}
	}

	parsed, err := parser.NewWaterLevelParser(station.ID, station.Name, station.River).Parse(levelRes.Body, tempBody)
	if err != nil {
		logger.IncrementParseFailure()
		return models.ParsedSeries{}, fmt.Errorf("parse level feed: %w", err)
	}
	parsed.SourceHash = levelRes.SHA256

	ts := parsed.Current.Timestamp
	if _, err := c.store.PutRaw(ctx, station.ID, "level", ts, "text/csv", levelRes.Body, levelRes.SHA256); err != nil {
		return models.ParsedSeries{}, fmt.Errorf("archive level feed: %w", err)
	}
	if tempBody != nil {
		if _, err := c.store.PutRaw(ctx, station.ID, "temperature", ts, "text/csv", tempBody, tempRes.SHA256); err != nil {
			return models.ParsedSeries{}, fmt.Errorf("archive temperature feed: %w", err)
		}
	}
	return parsed, nil
}

// mergeMonths folds the parsed readings into their month buckets, merging
// with whatever each month already holds. Returns the YYYYMM keys written.
func (c *Collector) mergeMonths(ctx context.Context, station Station, parsed models.ParsedSeries, readings []models.Reading) ([]string, error) {
	buckets := series.BucketByMonth(readings)
	currentMonth := models.MonthKeyOf(parsed.Current.Timestamp)

	var written []string
	for month, monthReadings := range buckets {
		existing, err := c.store.GetMonthly(ctx, station.ID, month)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("load month %s: %w", month.String(), err)
		}

		merged := series.Merge(existing.Readings, monthReadings)

		blob := models.MonthlySeries{
			Station:      station.Name,
			StationID:    station.ID,
			River:        station.River,
			Current:      existing.Current,
			Readings:     merged,
			ReadingCount: len(merged),
			ParsedAt:     models.FormatTimestamp(parsed.ParsedAt),
			SourceHash:   parsed.SourceHash,
		}
		if month == currentMonth {
			cur := parsed.Current
			blob.Current = &cur
		}

		if _, err := c.store.PutMonthly(ctx, station.ID, month, blob); err != nil {
			return nil, fmt.Errorf("store month %s: %w", month.String(), err)
		}
		written = append(written, month.String())

		if c.exporter != nil {
			if _, err := c.exporter.Export(ctx, station.ID, month, merged); err != nil {
				c.log.WithError(err).WithFields(logger.Fields{
					"station": station.ID,
					"month":   month.String(),
				}).Warn("analytics export failed")
			}
		}
	}
	return written, nil
}

func (c *Collector) writeDailySummary(ctx context.Context, station Station, parsed models.ParsedSeries) error {
	now := c.now()
	month, err := c.store.GetMonthly(ctx, station.ID, models.MonthKeyOf(now))
	if err != nil {
		return err
	}
	summary := series.SummarizeDay(station.Name, month.Readings, now, now)
	_, err = c.store.PutDailySummary(ctx, station.ID, now, summary)
	return err
}
