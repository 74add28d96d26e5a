package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/hydrocast/flood-elt/internal/adapter/duck"
	"github.com/hydrocast/flood-elt/internal/dataset"
	"github.com/hydrocast/flood-elt/internal/domain"
)

// Job is one unit of pipeline work, run once per cycle in declared order.
type Job interface {
	Name() string
	Run(ctx context.Context) (Result, error)
}

// Result summarizes one job execution for metrics and run events.
type Result struct {
	Fetched     int
	Inserted    int
	Watermark   time.Time
	Incremental bool
	Skipped     bool
}

// SiteSource lists gaging stations for a hydrologic region.
type SiteSource interface {
	SitesByHUC(ctx context.Context, hucCode string) ([]domain.Site, error)
}

// ReadingSource fetches instantaneous discharge observations.
type ReadingSource interface {
	InstantaneousValues(ctx context.Context, siteIDs []string, param string, start, end time.Time) ([]domain.StreamflowReading, error)
}

// ForcingSource fetches hourly weather forcing for coordinates.
type ForcingSource interface {
	FetchForcing(ctx context.Context, coords []domain.Coordinate, start, end time.Time, variables []string) ([]domain.ForcingRecord, error)
}

// BasinSource fetches catchment characteristics per site.
type BasinSource interface {
	CharacteristicsForSites(ctx context.Context, siteIDs []string, charIDs []string) ([]domain.BasinCharacteristics, error)
}

// SiteMetadataJob refreshes the station inventory for the configured region.
// Site metadata is small and changes rarely, so it is rebuilt from scratch
// each cycle rather than upserted.
type SiteMetadataJob struct {
	Store    *duck.Store
	Source   SiteSource
	HUCCode  string
	Sample   bool
	MaxSites int
}

func (j *SiteMetadataJob) Name() string { return "site_metadata" }

func (j *SiteMetadataJob) Run(ctx context.Context) (Result, error) {
	sites, err := j.Source.SitesByHUC(ctx, j.HUCCode)
	if err != nil {
		return Result{}, fmt.Errorf("fetch sites for HUC %s: %w", j.HUCCode, err)
	}
	fetched := len(sites)

	usable := sites[:0]
	for _, s := range sites {
		if s.HasCoordinates() {
			usable = append(usable, s)
		}
	}
	// Sample mode bounds every downstream job: fewer sites means fewer
	// IV requests and weather coordinates. NWIS returns sites in site_id
	// order, so the cut is stable across runs.
	if j.Sample && len(usable) > j.MaxSites {
		usable = usable[:j.MaxSites]
	}

	rows := siteRows(usable, domain.Now().UTC())
	if err := j.Store.ReplaceRows(ctx, duck.RawSchema, siteTable, siteDDL, siteColumns, rows); err != nil {
		return Result{}, err
	}
	return Result{Fetched: fetched, Inserted: len(rows)}, nil
}

// StreamflowJob pulls instantaneous discharge readings for every stored
// site. Incremental: the window starts at the stored high watermark minus an
// overlap, so late corrections from the provisional feed are re-fetched and
// the upsert discards rows already present.
type StreamflowJob struct {
	Store       *duck.Store
	Source      ReadingSource
	Parameter   string // NWIS parameter code, "00060" is discharge
	Days        int    // initial backfill window
	OverlapDays int
	BatchSize   int // sites per IV request
}

func (j *StreamflowJob) Name() string { return "streamflow" }

func (j *StreamflowJob) Run(ctx context.Context) (Result, error) {
	if err := j.Store.EnsureTable(ctx, duck.RawSchema, streamflowDDL); err != nil {
		return Result{}, err
	}

	siteIDs, err := storedSiteIDs(ctx, j.Store)
	if err != nil {
		return Result{}, err
	}
	if len(siteIDs) == 0 {
		return Result{}, fmt.Errorf("no sites stored; site_metadata must run first")
	}

	end := domain.Now().UTC()
	wm, err := j.Store.HighWatermark(ctx, duck.RawSchema, streamflowTable, "datetime")
	if err != nil {
		return Result{}, err
	}
	res := Result{Incremental: wm != nil}
	start := end.AddDate(0, 0, -j.Days)
	if wm != nil {
		res.Watermark = *wm
		start = wm.AddDate(0, 0, -j.OverlapDays)
	}

	batchSize := j.BatchSize
	if batchSize <= 0 {
		batchSize = 20
	}
	for i := 0; i < len(siteIDs); i += batchSize {
		batch := siteIDs[i:min(i+batchSize, len(siteIDs))]
		readings, err := j.Source.InstantaneousValues(ctx, batch, j.Parameter, start, end)
		if err != nil {
			return res, fmt.Errorf("fetch readings for %d sites: %w", len(batch), err)
		}
		res.Fetched += len(readings)

		inserted, err := j.Store.UpsertRows(ctx, duck.RawSchema, streamflowTable,
			streamflowColumns, readingRows(readings, domain.Now().UTC()),
			[]string{"site_id", "datetime"})
		if err != nil {
			return res, err
		}
		res.Inserted += inserted
	}
	return res, nil
}

// WeatherForcingJob pulls hourly forcing for every stored site coordinate.
// The end date is capped at yesterday: the archive API trails realtime by
// about a day, and asking for today yields nulls.
type WeatherForcingJob struct {
	Store       *duck.Store
	Source      ForcingSource
	Variables   []string
	Days        int
	OverlapDays int
}

func (j *WeatherForcingJob) Name() string { return "weather_forcing" }

func (j *WeatherForcingJob) Run(ctx context.Context) (Result, error) {
	if err := j.Store.EnsureTable(ctx, duck.RawSchema, weatherDDL); err != nil {
		return Result{}, err
	}

	coords, err := storedCoordinates(ctx, j.Store)
	if err != nil {
		return Result{}, err
	}
	if len(coords) == 0 {
		return Result{}, fmt.Errorf("no site coordinates stored; site_metadata must run first")
	}

	now := domain.Now().UTC()
	end := now.Truncate(24 * time.Hour).AddDate(0, 0, -1)

	wm, err := j.Store.HighWatermark(ctx, duck.RawSchema, weatherTable, "datetime")
	if err != nil {
		return Result{}, err
	}
	res := Result{Incremental: wm != nil}
	start := end.AddDate(0, 0, -j.Days)
	if wm != nil {
		res.Watermark = *wm
		start = wm.Truncate(24 * time.Hour).AddDate(0, 0, -j.OverlapDays)
	}
	if start.After(end) {
		// Already caught up past the archive lag; nothing to fetch.
		res.Skipped = true
		return res, nil
	}

	records, err := j.Source.FetchForcing(ctx, coords, start, end, j.Variables)
	if err != nil {
		return res, fmt.Errorf("fetch forcing for %d coordinates: %w", len(coords), err)
	}
	res.Fetched = len(records)

	inserted, err := j.Store.UpsertRows(ctx, duck.RawSchema, weatherTable,
		weatherColumns, forcingRows(records, domain.Now().UTC()),
		[]string{"longitude", "latitude", "datetime"})
	if err != nil {
		return res, err
	}
	res.Inserted = inserted
	return res, nil
}

// BasinCharacteristicsJob pulls static catchment attributes per site.
// Characteristics never change, so sites already stored are upsert no-ops.
type BasinCharacteristicsJob struct {
	Store           *duck.Store
	Source          BasinSource
	Characteristics []string
}

func (j *BasinCharacteristicsJob) Name() string { return "basin_characteristics" }

func (j *BasinCharacteristicsJob) Run(ctx context.Context) (Result, error) {
	if err := j.Store.EnsureTable(ctx, duck.RawSchema, basinDDL); err != nil {
		return Result{}, err
	}

	siteIDs, err := storedSiteIDs(ctx, j.Store)
	if err != nil {
		return Result{}, err
	}
	if len(siteIDs) == 0 {
		return Result{}, fmt.Errorf("no sites stored; site_metadata must run first")
	}

	chars, err := j.Source.CharacteristicsForSites(ctx, siteIDs, j.Characteristics)
	if err != nil {
		return Result{}, err
	}

	rows := basinRows(chars, domain.Now().UTC())
	inserted, err := j.Store.UpsertRows(ctx, duck.RawSchema, basinTable,
		basinColumns, rows, []string{"site_id", "characteristic_id"})
	if err != nil {
		return Result{}, err
	}
	return Result{Fetched: len(rows), Inserted: inserted}, nil
}

// ModelRunner builds the staging and mart tables.
type ModelRunner interface {
	Run(ctx context.Context) error
}

// TransformJob rebuilds the SQL models over the raw tables.
type TransformJob struct {
	Models ModelRunner
}

func (j *TransformJob) Name() string { return "transform" }

func (j *TransformJob) Run(ctx context.Context) (Result, error) {
	if err := j.Models.Run(ctx); err != nil {
		return Result{}, err
	}
	return Result{}, nil
}

// DatasetPublisher pushes the mart to the artifact registry.
type DatasetPublisher interface {
	Publish(ctx context.Context, fullRefresh bool) (dataset.Result, error)
}

// PublishJob republishes the dataset artifact, at most once per Interval.
// Extraction cycles run much more often than publishes; between publishes
// the job reports itself skipped.
type PublishJob struct {
	Publisher DatasetPublisher
	Interval  time.Duration
	Metrics   PublishMetrics

	lastPublish time.Time
}

// PublishMetrics is the slice of observability the publish job updates.
type PublishMetrics interface {
	ObservePublish(outcome string, rows, sizeBytes int64)
}

func (j *PublishJob) Name() string { return "publish" }

func (j *PublishJob) Run(ctx context.Context) (Result, error) {
	now := domain.Now()
	if !j.lastPublish.IsZero() && now.Sub(j.lastPublish) < j.Interval {
		if j.Metrics != nil {
			j.Metrics.ObservePublish("skipped", 0, 0)
		}
		return Result{Skipped: true}, nil
	}

	res, err := j.Publisher.Publish(ctx, false)
	if err != nil {
		if j.Metrics != nil {
			j.Metrics.ObservePublish("error", 0, 0)
		}
		return Result{}, err
	}
	j.lastPublish = now
	if j.Metrics != nil {
		j.Metrics.ObservePublish("ok", res.Rows, res.SizeBytes)
	}
	return Result{Inserted: int(res.Rows)}, nil
}

func storedSiteIDs(ctx context.Context, store *duck.Store) ([]string, error) {
	rows, err := store.DB().QueryContext(ctx,
		"SELECT site_id FROM raw.site_metadata ORDER BY site_id")
	if err != nil {
		return nil, fmt.Errorf("list stored sites: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func storedCoordinates(ctx context.Context, store *duck.Store) ([]domain.Coordinate, error) {
	rows, err := store.DB().QueryContext(ctx, `
		SELECT DISTINCT longitude, latitude FROM raw.site_metadata
		ORDER BY longitude, latitude`)
	if err != nil {
		return nil, fmt.Errorf("list stored coordinates: %w", err)
	}
	defer rows.Close()

	var coords []domain.Coordinate
	for rows.Next() {
		var c domain.Coordinate
		if err := rows.Scan(&c.Longitude, &c.Latitude); err != nil {
			return nil, err
		}
		coords = append(coords, c)
	}
	return coords, rows.Err()
}
