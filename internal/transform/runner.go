// Package transform builds the analytics tables from raw extracted data.
//
// Models are plain SQL files compiled into the binary, executed in declared
// order (staging before marts) as CREATE OR REPLACE TABLE statements, then
// verified with per-model data checks. The staging models clean and dedupe
// raw tables; the flood_model mart joins hourly mean streamflow with weather
// forcing per site-hour for ML training.
package transform

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hydrocast/flood-elt/internal/adapter/duck"
)

//go:embed sql/*.sql
var modelFS embed.FS

// StagingSchema holds cleaned intermediate models; marts build into main.
const (
	StagingSchema = "staging"
	MartSchema    = "main"
)

// Model is one SQL transformation step.
type Model struct {
	Name   string
	Schema string
	Checks []Check
}

// Check is a data quality assertion run after a model builds.
type Check struct {
	Kind    string // "not_null" or "unique"
	Columns []string
}

// Models lists every transformation in execution order. Order matters:
// marts select from staging tables.
var Models = []Model{
	{
		Name:   "stg_sites",
		Schema: StagingSchema,
		Checks: []Check{
			{Kind: "not_null", Columns: []string{"site_id"}},
			{Kind: "unique", Columns: []string{"site_id"}},
		},
	},
	{
		Name:   "stg_streamflow",
		Schema: StagingSchema,
		Checks: []Check{
			{Kind: "not_null", Columns: []string{"site_id"}},
			{Kind: "not_null", Columns: []string{"datetime"}},
			{Kind: "unique", Columns: []string{"site_id", "datetime"}},
		},
	},
	{
		Name:   "stg_weather",
		Schema: StagingSchema,
		Checks: []Check{
			{Kind: "unique", Columns: []string{"longitude", "latitude", "datetime"}},
		},
	},
	{
		Name:   "flood_model",
		Schema: MartSchema,
		Checks: []Check{
			{Kind: "not_null", Columns: []string{"site_id"}},
			{Kind: "not_null", Columns: []string{"observation_hour"}},
			{Kind: "not_null", Columns: []string{"streamflow_cfs_mean"}},
			{Kind: "unique", Columns: []string{"site_id", "observation_hour"}},
		},
	},
}

// Runner executes the model set against a store.
type Runner struct {
	store  *duck.Store
	logger *slog.Logger
}

func NewRunner(store *duck.Store, logger *slog.Logger) *Runner {
	return &Runner{store: store, logger: logger}
}

// Run builds every model in order and then runs its checks. The first model
// build or check failure aborts the run.
func (r *Runner) Run(ctx context.Context) error {
	for _, m := range Models {
		start := time.Now()
		if err := r.build(ctx, m); err != nil {
			return fmt.Errorf("model %s: %w", m.Name, err)
		}
		if err := r.check(ctx, m); err != nil {
			return fmt.Errorf("model %s: %w", m.Name, err)
		}
		r.logger.Info("model built", "model", m.Name, "schema", m.Schema,
			"duration", time.Since(start))
	}
	return nil
}

func (r *Runner) build(ctx context.Context, m Model) error {
	query, err := modelFS.ReadFile("sql/" + m.Name + ".sql")
	if err != nil {
		return fmt.Errorf("read model sql: %w", err)
	}

	if err := r.store.EnsureSchema(ctx, m.Schema); err != nil {
		return err
	}

	stmt := fmt.Sprintf("CREATE OR REPLACE TABLE %s.%s AS\n%s", m.Schema, m.Name, query)
	if _, err := r.store.DB().ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("build: %w", err)
	}
	return nil
}

func (r *Runner) check(ctx context.Context, m Model) error {
	target := m.Schema + "." + m.Name
	for _, c := range m.Checks {
		var q string
		switch c.Kind {
		case "not_null":
			q = fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s IS NULL",
				target, c.Columns[0])
		case "unique":
			cols := strings.Join(c.Columns, ", ")
			q = fmt.Sprintf(`
				SELECT COUNT(*) FROM (
					SELECT %s FROM %s GROUP BY %s HAVING COUNT(*) > 1
				)`, cols, target, cols)
		default:
			return fmt.Errorf("unknown check kind %q", c.Kind)
		}

		var violations int64
		if err := r.store.DB().QueryRowContext(ctx, q).Scan(&violations); err != nil {
			return fmt.Errorf("%s check on (%s): %w", c.Kind, strings.Join(c.Columns, ","), err)
		}
		if violations > 0 {
			return fmt.Errorf("%s check failed on (%s): %d violations",
				c.Kind, strings.Join(c.Columns, ","), violations)
		}
	}
	return nil
}
