// Command riverflow-backfill rebuilds the parsed monthly series for a station
// from its raw document archive. It re-parses every archived PDF and CSV in
// chronological order, so a parser fix can be rolled out across history
// without refetching anything from the sources.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/joho/godotenv"

	"riverflow/config"
	"riverflow/logger"
	"riverflow/models"
	"riverflow/parser"
	"riverflow/series"
	"riverflow/storage"
)

func main() {
	log := logger.GetLogger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	stationID := flag.String("station", "", "Backfill a single station (default: all enabled)")
	dryRun := flag.Bool("dry-run", false, "Parse and report without writing anything")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	ctx := context.Background()

	s3Client, err := storage.NewS3Client(ctx, storage.ClientOptions{
		Region:          cfg.Storage.S3.Region,
		Endpoint:        cfg.Storage.S3.Endpoint,
		AccessKeyID:     cfg.Storage.S3.AccessKeyID,
		SecretAccessKey: cfg.Storage.S3.SecretAccessKey,
		PathStyle:       cfg.Storage.S3.PathStyle,
	})
	if err != nil {
		log.WithError(err).Error("failed to create S3 client")
		os.Exit(1)
	}

	store := storage.New(s3Client, storage.Options{
		Bucket: cfg.Storage.S3.Bucket,
		Keys: storage.Keys{
			RawPrefix:        cfg.Storage.S3.RawPrefix,
			ParsedPrefix:     cfg.Storage.S3.ParsedPrefix,
			AggregatedPrefix: cfg.Storage.S3.AggregatedPrefix,
		},
		Compress:     cfg.Storage.S3.Compress,
		Encrypt:      cfg.Storage.S3.Encryption,
		StorageClass: cfg.Storage.S3.StorageClass,
	})

	stations := cfg.EnabledStations()
	if *stationID != "" {
		var match []config.StationConfig
		for _, st := range stations {
			if st.ID == *stationID {
				match = append(match, st)
			}
		}
		if len(match) == 0 {
			log.WithFields(logger.Fields{"station": *stationID}).Error("station not found or not enabled")
			os.Exit(1)
		}
		stations = match
	}

	failed := false
	for _, st := range stations {
		if err := backfillStation(ctx, log, store, st, *dryRun); err != nil {
			log.WithError(err).WithFields(logger.Fields{"station": st.ID}).Error("backfill failed")
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

// backfillStation replays a station's raw archive into fresh monthly series.
// Keys come back in chronological order, so later documents win collisions
// when their readings overlap with earlier ones.
func backfillStation(ctx context.Context, log *logger.Log, store *storage.Store, st config.StationConfig, dryRun bool) error {
	slog := log.WithComponent("backfill").WithFields(logger.Fields{"station": st.ID})

	keys, err := store.ListRaw(ctx, st.ID)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		slog.Warn("no raw documents archived")
		return nil
	}
	slog.WithFields(logger.Fields{"documents": len(keys)}).Info("replaying raw archive")

	// Temperature CSVs are joined to the level CSV archived at the same
	// collection timestamp.
	temps := make(map[string]string)
	for _, key := range keys {
		if sensorOf(key) == "temperature" {
			temps[timestampOf(key)] = key
		}
	}

	months := make(map[models.MonthKey][]models.Reading)
	var latest *models.ParsedSeries
	parsedDocs := 0

	for _, key := range keys {
		var parsed models.ParsedSeries
		var err error

		switch sensorOf(key) {
		case "flow":
			data, readErr := store.GetRaw(ctx, key)
			if readErr != nil {
				return readErr
			}
			parsed, err = parser.NewFlowPDFParser(st.ID, st.Name, st.River).Parse(data)
		case "level":
			data, readErr := store.GetRaw(ctx, key)
			if readErr != nil {
				return readErr
			}
			var tempData []byte
			if tempKey, ok := temps[timestampOf(key)]; ok {
				if tempData, err = store.GetRaw(ctx, tempKey); err != nil {
					return err
				}
			}
			parsed, err = parser.NewWaterLevelParser(st.ID, st.Name, st.River).Parse(data, tempData)
		default:
			continue
		}
		if err != nil {
			// A single corrupt document must not sink the whole replay.
			slog.WithError(err).WithFields(logger.Fields{"key": key}).Warn("skipping unparseable document")
			continue
		}

		parsedDocs++
		for month, readings := range series.BucketByMonth(parsed.AllReadings()) {
			months[month] = series.Merge(months[month], readings)
		}
		if latest == nil || parsed.Current.Timestamp.After(latest.Current.Timestamp) {
			p := parsed
			latest = &p
		}
	}

	if latest == nil {
		return fmt.Errorf("no document in the archive parsed successfully")
	}

	total := 0
	for _, readings := range months {
		total += len(readings)
	}
	slog.WithFields(logger.Fields{
		"documents_parsed": parsedDocs,
		"months":           len(months),
		"readings":         total,
	}).Info("archive replayed")

	if dryRun {
		return nil
	}

	currentMonth := models.MonthKeyOf(latest.Current.Timestamp)
	for month, readings := range months {
		blob := models.MonthlySeries{
			Station:      st.Name,
			StationID:    st.ID,
			River:        st.River,
			Readings:     readings,
			ReadingCount: len(readings),
			ParsedAt:     models.FormatTimestamp(latest.ParsedAt),
			SourceHash:   latest.SourceHash,
		}
		if month == currentMonth {
			cur := latest.Current
			blob.Current = &cur
		}
		if _, err := store.PutMonthly(ctx, st.ID, month, blob); err != nil {
			return err
		}
		slog.WithFields(logger.Fields{"month": month.String(), "readings": len(readings)}).Info("month rewritten")
	}

	if _, err := store.PutLatest(ctx, st.ID, series.ProjectLatest(*latest, latest.ParsedAt)); err != nil {
		return err
	}
	return nil
}

// sensorOf extracts the sensor segment from a raw key's file name, for
// example raw/x/2025/12/05/x_level_20251205_170000.csv yields "level".
func sensorOf(key string) string {
	base := path.Base(key)
	parts := strings.Split(strings.TrimSuffix(base, path.Ext(base)), "_")
	if len(parts) < 4 {
		return ""
	}
	return parts[len(parts)-3]
}

// timestampOf extracts the YYYYMMDD_HHMMSS segment from a raw key.
func timestampOf(key string) string {
	base := path.Base(key)
	parts := strings.Split(strings.TrimSuffix(base, path.Ext(base)), "_")
	if len(parts) < 4 {
		return ""
	}
	return parts[len(parts)-2] + "_" + parts[len(parts)-1]
}
