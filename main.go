package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"riverflow/collector"
	"riverflow/config"
	"riverflow/fetcher"
	"riverflow/logger"
	"riverflow/storage"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	once := flag.Bool("once", false, "Run a single collection cycle and exit")

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

	log.WithFields(logger.Fields{
		"service":     cfg.Riverflow.Name,
		"version":     cfg.Riverflow.Version,
		"environment": config.AppEnvironment(),
	}).Info("starting riverflow collector")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

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

	var exporter collector.Exporter
	if cfg.Storage.Analytics.Enabled {
		exporter = storage.NewParquetExporter(s3Client, cfg.Storage.S3.Bucket, cfg.Storage.Analytics.Prefix, cfg.Storage.Analytics.Compression)
	}

	f := fetcher.New(fetcher.Options{
		Timeout:   cfg.Fetcher.Timeout,
		UserAgent: cfg.Fetcher.UserAgent,
		VerifySSL: cfg.Fetcher.VerifySSL,
		RateLimit: cfg.Fetcher.RateLimit.RequestsPerSecond,
		Burst:     cfg.Fetcher.RateLimit.BurstSize,
		Retry: fetcher.RetryPolicy{
			MaxAttempts:    cfg.Fetcher.Retry.MaxAttempts,
			InitialBackoff: cfg.Fetcher.Retry.InitialBackoff,
			MaxBackoff:     cfg.Fetcher.Retry.MaxBackoff,
			Multiplier:     cfg.Fetcher.Retry.BackoffMultiplier,
			Jitter:         cfg.Fetcher.Retry.Jitter,
		},
		BreakerMaxRequests: cfg.Fetcher.CircuitBreaker.HalfOpenMaxRequests,
		BreakerInterval:    cfg.Fetcher.CircuitBreaker.Interval,
		BreakerTimeout:     cfg.Fetcher.CircuitBreaker.RecoveryTimeout,
	})

	stations := make([]collector.Station, 0, len(cfg.Stations))
	for _, st := range cfg.EnabledStations() {
		stations = append(stations, collector.Station{
			ID:             st.ID,
			Name:           st.Name,
			River:          st.River,
			Type:           st.Type,
			URL:            st.URL,
			LevelURL:       st.LevelURL,
			TemperatureURL: st.TemperatureURL,
		})
	}
	if len(stations) == 0 {
		log.Error("no enabled stations to collect")
		os.Exit(1)
	}

	c := collector.New(collector.Options{
		Stations:       stations,
		Interval:       cfg.Collector.Interval,
		DailySummaries: cfg.Collector.DailySummaries,
	}, f, store, exporter)

	if *once {
		res := c.RunOnce(ctx)
		if res.Succeeded == 0 {
			log.WithFields(logger.Fields{"failed": res.Failed}).Error("collection cycle produced no data")
			os.Exit(1)
		}
		log.WithFields(logger.Fields{
			"succeeded": res.Succeeded,
			"failed":    res.Failed,
		}).Info("single collection cycle completed")
		return
	}

	if err := c.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start collector")
		os.Exit(1)
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping collector")
	c.Stop()

	log.Info("riverflow stopped")
}
