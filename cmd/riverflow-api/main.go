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

	"riverflow/api"
	"riverflow/config"
	"riverflow/logger"
	"riverflow/storage"
)

func main() {
	log := logger.GetLogger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
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
	}).Info("starting riverflow api")

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

	stationIDs := make([]string, 0, len(cfg.Stations))
	for _, st := range cfg.EnabledStations() {
		stationIDs = append(stationIDs, st.ID)
	}

	server := api.New(api.Options{
		ListenAddr:         cfg.API.ListenAddr,
		Stations:           stationIDs,
		DefaultStation:     cfg.API.DefaultStation,
		DefaultWindowHours: cfg.API.DefaultWindowHours,
	}, store)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
		cancel()
	}()

	if err := server.Run(ctx); err != nil {
		log.WithError(err).Error("api server failed")
		os.Exit(1)
	}

	log.Info("riverflow api stopped")
}
