// Package dataset exports the flood model mart to Parquet and publishes it
// as a versioned artifact. Each publish merges the previous artifact's rows
// with the current local table (local rows win on conflict), uploads the
// result as the next version, and prunes every older version.
package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hydrocast/flood-elt/internal/adapter/duck"
	"github.com/hydrocast/flood-elt/internal/adapter/registry"
	"github.com/hydrocast/flood-elt/internal/domain"
)

const (
	martSchema  = "main"
	martTable   = "flood_model"
	parquetName = "flood_model.parquet"
)

// Registry is the artifact store surface the publisher needs.
type Registry interface {
	Upload(ctx context.Context, artifact, file string, number int, metadata map[string]string) (registry.Version, error)
	Download(ctx context.Context, v registry.Version, path string) error
	Versions(ctx context.Context, artifact string) ([]registry.Version, error)
	Latest(ctx context.Context, artifact string) (registry.Version, bool, error)
	Delete(ctx context.Context, v registry.Version) error
}

// Publisher pushes dataset versions to an artifact registry.
type Publisher struct {
	store    *duck.Store
	reg      Registry
	artifact string
	logger   *slog.Logger
}

// Result summarizes one publish.
type Result struct {
	Version     int
	Rows        int64
	Sites       int64
	SizeBytes   int64
	Fingerprint string
	Merged      bool
}

func NewPublisher(store *duck.Store, reg Registry, artifact string, logger *slog.Logger) *Publisher {
	return &Publisher{store: store, reg: reg, artifact: artifact, logger: logger}
}

// Publish exports the mart, merges in the previous artifact's rows, and
// uploads the result as the next version. With fullRefresh the previous
// artifact is ignored and only local rows are published. The merge is also
// skipped when the stored fingerprint differs from the current schema, since
// rows with a different shape cannot be unioned.
func (p *Publisher) Publish(ctx context.Context, fullRefresh bool) (Result, error) {
	columns, err := p.store.TableColumns(ctx, martSchema, martTable)
	if err != nil {
		return Result{}, fmt.Errorf("inspect %s.%s: %w", martSchema, martTable, err)
	}
	if len(columns) == 0 {
		return Result{}, fmt.Errorf("%s.%s does not exist; run transform first", martSchema, martTable)
	}
	fingerprint := Fingerprint(columns)

	latest, hasPrev, err := p.reg.Latest(ctx, p.artifact)
	if err != nil {
		return Result{}, fmt.Errorf("resolve latest version: %w", err)
	}

	tmpDir, err := os.MkdirTemp("", "flood-dataset-")
	if err != nil {
		return Result{}, err
	}
	defer os.RemoveAll(tmpDir)

	query := fmt.Sprintf("SELECT * FROM %s.%s", martSchema, martTable)
	merged := false
	switch {
	case !hasPrev:
		p.logger.Info("no previous artifact, publishing local rows only")
	case fullRefresh:
		p.logger.Info("full refresh requested, previous artifact ignored",
			"previous_version", latest.Number)
	case metaValue(latest.Metadata, "fingerprint") != fingerprint:
		p.logger.Warn("schema fingerprint changed, previous artifact not merged",
			"previous", metaValue(latest.Metadata, "fingerprint"), "current", fingerprint)
	default:
		prevPath := filepath.Join(tmpDir, "previous.parquet")
		if err := p.reg.Download(ctx, latest, prevPath); err != nil {
			return Result{}, fmt.Errorf("fetch previous artifact: %w", err)
		}
		query = mergeQuery(prevPath)
		merged = true
	}

	outPath := filepath.Join(tmpDir, parquetName)
	if err := p.store.ExportParquet(ctx, query, outPath); err != nil {
		return Result{}, fmt.Errorf("export parquet: %w", err)
	}

	stats, err := p.describe(ctx, outPath)
	if err != nil {
		return Result{}, fmt.Errorf("describe export: %w", err)
	}

	next := 1
	if hasPrev {
		next = latest.Number + 1
	}
	metadata := map[string]string{
		"fingerprint": fingerprint,
		"row_count":   strconv.FormatInt(stats.rows, 10),
		"site_count":  strconv.FormatInt(stats.sites, 10),
		"date_start":  stats.start,
		"date_end":    stats.end,
		"uploaded_at": domain.Now().UTC().Format(time.RFC3339),
	}

	uploaded, err := p.reg.Upload(ctx, p.artifact, outPath, next, metadata)
	if err != nil {
		return Result{}, fmt.Errorf("upload version %d: %w", next, err)
	}

	if err := p.prune(ctx, uploaded.Number); err != nil {
		// The new version is live; stale versions get cleaned up on the
		// next publish.
		p.logger.Warn("pruning old versions failed", "error", err)
	}

	return Result{
		Version:     uploaded.Number,
		Rows:        stats.rows,
		Sites:       stats.sites,
		SizeBytes:   uploaded.Size,
		Fingerprint: fingerprint,
		Merged:      merged,
	}, nil
}

// mergeQuery unions local rows with previous-artifact rows that no local
// row supersedes on the (site_id, observation_hour) key.
func mergeQuery(prevPath string) string {
	return fmt.Sprintf(`
SELECT * FROM %[1]s.%[2]s
UNION ALL
SELECT p.* FROM read_parquet('%[3]s') p
WHERE NOT EXISTS (
    SELECT 1 FROM %[1]s.%[2]s l
    WHERE l.site_id = p.site_id AND l.observation_hour = p.observation_hour
)`, martSchema, martTable, strings.ReplaceAll(prevPath, "'", "''"))
}

type exportStats struct {
	rows, sites int64
	start, end  string
}

func (p *Publisher) describe(ctx context.Context, path string) (exportStats, error) {
	var (
		s          exportStats
		start, end *time.Time
	)
	q := fmt.Sprintf(`
		SELECT COUNT(*), COUNT(DISTINCT site_id), MIN(observation_hour), MAX(observation_hour)
		FROM read_parquet('%s')`, strings.ReplaceAll(path, "'", "''"))
	if err := p.store.DB().QueryRowContext(ctx, q).Scan(&s.rows, &s.sites, &start, &end); err != nil {
		return exportStats{}, err
	}
	if start != nil {
		s.start = start.UTC().Format(time.RFC3339)
	}
	if end != nil {
		s.end = end.UTC().Format(time.RFC3339)
	}
	return s, nil
}

func (p *Publisher) prune(ctx context.Context, keep int) error {
	versions, err := p.reg.Versions(ctx, p.artifact)
	if err != nil {
		return err
	}
	for _, v := range versions {
		if v.Number == keep {
			continue
		}
		if err := p.reg.Delete(ctx, v); err != nil {
			return err
		}
	}
	return nil
}

// metaValue looks up a user-metadata key ignoring case. S3 servers
// canonicalize metadata header names, so "fingerprint" may come back as
// "Fingerprint".
func metaValue(m map[string]string, key string) string {
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
