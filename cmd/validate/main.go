// Command validate runs data integrity checks against the DuckDB database:
// table presence, row counts, key uniqueness, referential consistency
// between raw tables, and watermark freshness. Exits non-zero when any
// check fails, so it can gate deployments or run from cron.
//
// Usage:
//
//	go run ./cmd/validate -max-watermark-age 6h
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hydrocast/flood-elt/internal/adapter/duck"
	"github.com/hydrocast/flood-elt/internal/config"
	"github.com/hydrocast/flood-elt/internal/domain"
	"github.com/hydrocast/flood-elt/internal/observability"
)

type check struct {
	name string
	run  func(ctx context.Context, s *duck.Store) error
}

func main() {
	maxAge := flag.Duration("max-watermark-age", 6*time.Hour,
		"fail when the streamflow watermark is older than this (0 disables)")
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

	checks := []check{
		{"raw tables present", rawTablesPresent},
		{"raw tables non-empty", rawTablesNonEmpty},
		{"streamflow keys unique", streamflowKeysUnique},
		{"weather keys unique", weatherKeysUnique},
		{"readings reference known sites", readingsReferenceSites},
		{"flood model built and keyed", floodModelKeyed},
		{"streamflow watermark fresh", watermarkFresh(*maxAge)},
	}

	ctx := context.Background()
	failed := 0
	for _, c := range checks {
		if err := c.run(ctx, store); err != nil {
			logger.Error("check failed", "check", c.name, "error", err)
			failed++
			continue
		}
		logger.Info("check passed", "check", c.name)
	}

	if failed > 0 {
		logger.Error("validation failed", "failed", failed, "total", len(checks))
		os.Exit(1)
	}
	logger.Info("validation passed", "checks", len(checks))
}

var rawTables = []string{"site_metadata", "streamflow_raw", "weather_forcing"}

func rawTablesPresent(ctx context.Context, s *duck.Store) error {
	for _, table := range rawTables {
		exists, err := s.TableExists(ctx, duck.RawSchema, table)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("raw.%s is missing", table)
		}
	}
	return nil
}

func rawTablesNonEmpty(ctx context.Context, s *duck.Store) error {
	for _, table := range rawTables {
		n, err := s.CountRows(ctx, duck.RawSchema, table)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("raw.%s is empty", table)
		}
	}
	return nil
}

func streamflowKeysUnique(ctx context.Context, s *duck.Store) error {
	return noDuplicates(ctx, s, "raw.streamflow_raw", "site_id, datetime")
}

func weatherKeysUnique(ctx context.Context, s *duck.Store) error {
	return noDuplicates(ctx, s, "raw.weather_forcing", "longitude, latitude, datetime")
}

func noDuplicates(ctx context.Context, s *duck.Store, table, keyCols string) error {
	var n int64
	q := fmt.Sprintf(`SELECT COUNT(*) FROM (
		SELECT %s FROM %s GROUP BY %s HAVING COUNT(*) > 1)`, keyCols, table, keyCols)
	if err := s.DB().QueryRowContext(ctx, q).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%d duplicate (%s) keys in %s", n, keyCols, table)
	}
	return nil
}

// readingsReferenceSites flags readings for sites no longer in the
// inventory. Expected after shrinking MAX_SITES; worth knowing about either
// way.
func readingsReferenceSites(ctx context.Context, s *duck.Store) error {
	var n int64
	err := s.DB().QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT r.site_id)
		FROM raw.streamflow_raw r
		LEFT JOIN raw.site_metadata m ON m.site_id = r.site_id
		WHERE m.site_id IS NULL`).Scan(&n)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%d site_ids in streamflow_raw have no site_metadata row", n)
	}
	return nil
}

func floodModelKeyed(ctx context.Context, s *duck.Store) error {
	exists, err := s.TableExists(ctx, "main", "flood_model")
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("main.flood_model is missing; transform has not run")
	}
	if err := noDuplicates(ctx, s, "main.flood_model", "site_id, observation_hour"); err != nil {
		return err
	}
	var nulls int64
	err = s.DB().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM main.flood_model
		WHERE site_id IS NULL OR observation_hour IS NULL OR streamflow_cfs_mean IS NULL`).Scan(&nulls)
	if err != nil {
		return err
	}
	if nulls > 0 {
		return fmt.Errorf("%d flood_model rows have null key or target columns", nulls)
	}
	return nil
}

func watermarkFresh(maxAge time.Duration) func(ctx context.Context, s *duck.Store) error {
	return func(ctx context.Context, s *duck.Store) error {
		if maxAge <= 0 {
			return nil
		}
		wm, err := s.HighWatermark(ctx, duck.RawSchema, "streamflow_raw", "datetime")
		if err != nil {
			return err
		}
		if wm == nil {
			return fmt.Errorf("no streamflow watermark")
		}
		if age := domain.Now().UTC().Sub(*wm); age > maxAge {
			return fmt.Errorf("streamflow watermark is %s old (limit %s)", age.Round(time.Minute), maxAge)
		}
		return nil
	}
}
