// Command backfill runs one full extraction and transform cycle with an
// explicit history window, then exits. Useful for seeding a fresh database
// with more history than the service's steady-state windows.
//
// Usage:
//
//	go run ./cmd/backfill -streamflow-days 365 -forcing-days 90
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hydrocast/flood-elt/internal/adapter/duck"
	"github.com/hydrocast/flood-elt/internal/adapter/nldi"
	"github.com/hydrocast/flood-elt/internal/adapter/nwis"
	"github.com/hydrocast/flood-elt/internal/adapter/openmeteo"
	"github.com/hydrocast/flood-elt/internal/config"
	"github.com/hydrocast/flood-elt/internal/observability"
	"github.com/hydrocast/flood-elt/internal/pipeline"
	"github.com/hydrocast/flood-elt/internal/transform"
)

const apiTimeout = 30 * time.Second

func main() {
	streamflowDays := flag.Int("streamflow-days", 365, "days of streamflow history to fetch")
	forcingDays := flag.Int("forcing-days", 90, "days of weather forcing history to fetch")
	skipBasin := flag.Bool("skip-basin", false, "skip the basin characteristics job")
	skipTransform := flag.Bool("skip-transform", false, "leave raw tables untransformed")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)

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
			Days:        *streamflowDays,
			OverlapDays: cfg.IncrementalDays,
			BatchSize:   20,
		},
		&pipeline.WeatherForcingJob{
			Store: store,
			Source: openmeteo.NewClient(apiTimeout, cfg.OpenMeteoCallsPerMinute,
				cfg.OpenMeteoRetryAttempts, cfg.OpenMeteoRetryBackoff, logger),
			Variables:   openmeteo.DefaultVariables,
			Days:        *forcingDays,
			OverlapDays: cfg.IncrementalDays,
		},
	}
	if !*skipBasin {
		jobs = append(jobs, &pipeline.BasinCharacteristicsJob{
			Store:           store,
			Source:          nldi.NewClient(apiTimeout, 0, logger),
			Characteristics: nldi.DefaultCharacteristics,
		})
	}
	if !*skipTransform {
		jobs = append(jobs, &pipeline.TransformJob{Models: transform.NewRunner(store, logger)})
	}

	for _, job := range jobs {
		start := time.Now()
		res, err := job.Run(ctx)
		if err != nil {
			logger.Error("backfill job failed", "job", job.Name(), "error", err)
			os.Exit(1)
		}
		logger.Info("backfill job finished", "job", job.Name(),
			"fetched", res.Fetched, "inserted", res.Inserted, "duration", time.Since(start))
	}
	logger.Info("backfill complete")
}
