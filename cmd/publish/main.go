// Command publish pushes the current flood model mart to the artifact
// registry once and exits. With -full-refresh the previous artifact's rows
// are discarded instead of merged.
//
// Usage:
//
//	go run ./cmd/publish -full-refresh
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hydrocast/flood-elt/internal/adapter/duck"
	"github.com/hydrocast/flood-elt/internal/adapter/registry"
	"github.com/hydrocast/flood-elt/internal/config"
	"github.com/hydrocast/flood-elt/internal/dataset"
	"github.com/hydrocast/flood-elt/internal/observability"
)

func main() {
	fullRefresh := flag.Bool("full-refresh", false, "ignore the previous artifact instead of merging")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg)

	if cfg.S3Endpoint == "" {
		logger.Error("S3_ENDPOINT is required to publish")
		os.Exit(1)
	}

	store, err := duck.Open(cfg.DatabasePath, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err, "path", cfg.DatabasePath)
		os.Exit(1)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	pub := dataset.NewPublisher(store, reg, cfg.ArtifactName, logger)
	res, err := pub.Publish(ctx, *fullRefresh)
	if err != nil {
		logger.Error("publish failed", "error", err)
		os.Exit(1)
	}

	logger.Info("publish complete",
		"version", res.Version,
		"rows", res.Rows,
		"sites", res.Sites,
		"bytes", res.SizeBytes,
		"fingerprint", res.Fingerprint,
		"merged", res.Merged,
	)
}
