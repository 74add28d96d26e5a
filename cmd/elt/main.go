// Command elt runs the flood forecasting ELT service: periodic extraction
// from NWIS, Open-Meteo, and NLDI into DuckDB, SQL transformation, and
// optional dataset publishing to an artifact registry.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hydrocast/flood-elt/internal/adapter/duck"
	httpadapter "github.com/hydrocast/flood-elt/internal/adapter/http"
	kafkaadapter "github.com/hydrocast/flood-elt/internal/adapter/kafka"
	"github.com/hydrocast/flood-elt/internal/adapter/nldi"
	"github.com/hydrocast/flood-elt/internal/adapter/nwis"
	"github.com/hydrocast/flood-elt/internal/adapter/openmeteo"
	"github.com/hydrocast/flood-elt/internal/adapter/registry"
	"github.com/hydrocast/flood-elt/internal/config"
	"github.com/hydrocast/flood-elt/internal/dataset"
	"github.com/hydrocast/flood-elt/internal/observability"
	"github.com/hydrocast/flood-elt/internal/pipeline"
	"github.com/hydrocast/flood-elt/internal/transform"
)

const apiTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	store, err := duck.Open(cfg.DatabasePath, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err, "path", cfg.DatabasePath)
		os.Exit(1)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobs := []pipeline.Job{
		&pipeline.SiteMetadataJob{
			Store:    store,
			Source:   nwis.NewClient(apiTimeout, logger),
			HUCCode:  cfg.HUCCode,
			Sample:   cfg.SampleMode,
			MaxSites: cfg.MaxSites,
		},
		&pipeline.StreamflowJob{
			Store:       store,
			Source:      nwis.NewClient(apiTimeout, logger),
			Parameter:   "00060",
			Days:        cfg.StreamflowDays,
			OverlapDays: cfg.IncrementalDays,
			BatchSize:   20,
		},
		&pipeline.WeatherForcingJob{
			Store: store,
			Source: openmeteo.NewClient(apiTimeout, cfg.OpenMeteoCallsPerMinute,
				cfg.OpenMeteoRetryAttempts, cfg.OpenMeteoRetryBackoff, logger),
			Variables:   openmeteo.DefaultVariables,
			Days:        cfg.ForcingDays,
			OverlapDays: cfg.IncrementalDays,
		},
		&pipeline.BasinCharacteristicsJob{
			Store:           store,
			Source:          nldi.NewClient(apiTimeout, 0, logger),
			Characteristics: nldi.DefaultCharacteristics,
		},
		&pipeline.TransformJob{
			Models: transform.NewRunner(store, logger),
		},
	}

	if cfg.PublishEnabled {
		reg, err := registry.NewClient(ctx, registry.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
			Bucket:    cfg.S3Bucket,
		}, logger)
		if err != nil {
			logger.Error("failed to connect artifact registry", "error", err)
			os.Exit(1)
		}
		jobs = append(jobs, &pipeline.PublishJob{
			Publisher: dataset.NewPublisher(store, reg, cfg.ArtifactName, logger),
			Interval:  cfg.PublishInterval,
			Metrics:   metrics,
		})
		logger.Info("dataset publishing enabled",
			"endpoint", cfg.S3Endpoint, "bucket", cfg.S3Bucket, "interval", cfg.PublishInterval)
	} else {
		logger.Info("dataset publishing disabled")
	}

	var events pipeline.EventPublisher
	var writer *kafkaadapter.Writer
	if cfg.RunEventsEnabled {
		writer = kafkaadapter.NewWriter(cfg.KafkaBrokers, cfg.RunEventsTopic, logger)
		events = writer
		logger.Info("run events enabled", "topic", cfg.RunEventsTopic)
	}

	runner := pipeline.NewRunner(jobs, store, cfg.ExtractInterval, logger, metrics, events)
	srv := httpadapter.NewServer(cfg.HTTPAddr, runner, runner, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		if err := runner.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
