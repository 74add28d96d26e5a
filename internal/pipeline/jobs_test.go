package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrocast/flood-elt/internal/adapter/duck"
	"github.com/hydrocast/flood-elt/internal/dataset"
	"github.com/hydrocast/flood-elt/internal/domain"
)

var frozenNow = time.Date(2026, 8, 20, 6, 0, 0, 0, time.UTC)

func freezeClock(t *testing.T) {
	t.Helper()
	domain.SetClock(clockwork.NewFakeClockAt(frozenNow))
	t.Cleanup(func() { domain.SetClock(nil) })
}

func openTestStore(t *testing.T) *duck.Store {
	t.Helper()
	s, err := duck.Open("", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedSites(t *testing.T, store *duck.Store, sites ...domain.Site) {
	t.Helper()
	err := store.ReplaceRows(context.Background(), duck.RawSchema, siteTable,
		siteDDL, siteColumns, siteRows(sites, frozenNow))
	require.NoError(t, err)
}

var (
	siteKC = domain.Site{
		SiteID: "06893000", StationName: "Missouri River at Kansas City, MO",
		Latitude: 39.1125, Longitude: -94.5875, DrainageAreaSqMi: 485117, HUCCode: "10",
	}
	siteDeSoto = domain.Site{
		SiteID: "06892350", StationName: "Kansas R at DeSoto, KS",
		Latitude: 38.9836, Longitude: -94.9644, DrainageAreaSqMi: 59756, HUCCode: "10",
	}
)

type mockSiteSource struct {
	sites []domain.Site
	err   error
}

func (m *mockSiteSource) SitesByHUC(_ context.Context, _ string) ([]domain.Site, error) {
	return m.sites, m.err
}

type ivCall struct {
	siteIDs    []string
	start, end time.Time
}

type mockReadingSource struct {
	readings []domain.StreamflowReading
	calls    []ivCall
}

func (m *mockReadingSource) InstantaneousValues(_ context.Context, siteIDs []string, _ string, start, end time.Time) ([]domain.StreamflowReading, error) {
	m.calls = append(m.calls, ivCall{siteIDs: siteIDs, start: start, end: end})
	var out []domain.StreamflowReading
	for _, r := range m.readings {
		for _, id := range siteIDs {
			if r.SiteID == id && !r.Datetime.Before(start) && !r.Datetime.After(end) {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

type forcingCall struct {
	coords     []domain.Coordinate
	start, end time.Time
}

type mockForcingSource struct {
	records []domain.ForcingRecord
	calls   []forcingCall
}

func (m *mockForcingSource) FetchForcing(_ context.Context, coords []domain.Coordinate, start, end time.Time, _ []string) ([]domain.ForcingRecord, error) {
	m.calls = append(m.calls, forcingCall{coords: coords, start: start, end: end})
	return m.records, nil
}

func TestSiteMetadataJob_FiltersAndSamples(t *testing.T) {
	freezeClock(t)
	store := openTestStore(t)
	noCoords := domain.Site{SiteID: "06000000", StationName: "legacy gage"}

	job := &SiteMetadataJob{
		Store:    store,
		Source:   &mockSiteSource{sites: []domain.Site{siteDeSoto, siteKC, noCoords}},
		HUCCode:  "10",
		Sample:   true,
		MaxSites: 1,
	}

	res, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Fetched)
	assert.Equal(t, 1, res.Inserted)

	ids, err := storedSiteIDs(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, []string{"06892350"}, ids)
}

func TestSiteMetadataJob_ReplacesPreviousInventory(t *testing.T) {
	freezeClock(t)
	store := openTestStore(t)
	seedSites(t, store, siteKC, siteDeSoto)

	job := &SiteMetadataJob{
		Store:    store,
		Source:   &mockSiteSource{sites: []domain.Site{siteKC}},
		HUCCode:  "10",
		MaxSites: 100,
	}
	_, err := job.Run(context.Background())
	require.NoError(t, err)

	ids, err := storedSiteIDs(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, []string{"06893000"}, ids)
}

func TestSiteMetadataJob_SourceError(t *testing.T) {
	store := openTestStore(t)
	job := &SiteMetadataJob{
		Store:  store,
		Source: &mockSiteSource{err: errors.New("nwis: 503")},
	}
	_, err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nwis: 503")
}

func TestStreamflowJob_InitialBackfillWindow(t *testing.T) {
	freezeClock(t)
	store := openTestStore(t)
	seedSites(t, store, siteKC, siteDeSoto)

	src := &mockReadingSource{readings: []domain.StreamflowReading{
		{SiteID: "06893000", Datetime: frozenNow.Add(-24 * time.Hour), StreamflowCFS: 45200},
		{SiteID: "06892350", Datetime: frozenNow.Add(-24 * time.Hour), StreamflowCFS: 8120},
	}}
	job := &StreamflowJob{Store: store, Source: src, Parameter: "00060", Days: 30, OverlapDays: 2, BatchSize: 1}

	res, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Incremental)
	assert.Equal(t, 2, res.Fetched)
	assert.Equal(t, 2, res.Inserted)

	// One IV call per site batch of 1, both with the full backfill window.
	require.Len(t, src.calls, 2)
	assert.Equal(t, []string{"06892350"}, src.calls[0].siteIDs)
	assert.Equal(t, frozenNow.AddDate(0, 0, -30), src.calls[0].start)
	assert.Equal(t, frozenNow, src.calls[0].end)
}

func TestStreamflowJob_IncrementalFromWatermark(t *testing.T) {
	freezeClock(t)
	store := openTestStore(t)
	seedSites(t, store, siteKC)

	mark := time.Date(2026, 8, 19, 12, 0, 0, 0, time.UTC)
	src := &mockReadingSource{readings: []domain.StreamflowReading{
		{SiteID: "06893000", Datetime: mark, StreamflowCFS: 45200},
		{SiteID: "06893000", Datetime: mark.Add(time.Hour), StreamflowCFS: 45400},
	}}
	job := &StreamflowJob{Store: store, Source: src, Parameter: "00060", Days: 30, OverlapDays: 2}

	_, err := job.Run(context.Background())
	require.NoError(t, err)

	res, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Incremental)
	assert.Equal(t, mark.Add(time.Hour), res.Watermark)
	// Overlap re-fetches both readings; the upsert inserts neither twice.
	assert.Equal(t, 2, res.Fetched)
	assert.Equal(t, 0, res.Inserted)

	require.Len(t, src.calls, 2)
	assert.Equal(t, mark.Add(time.Hour).AddDate(0, 0, -2), src.calls[1].start)

	n, err := store.CountRows(context.Background(), duck.RawSchema, streamflowTable)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestStreamflowJob_RequiresSites(t *testing.T) {
	freezeClock(t)
	store := openTestStore(t)
	seedSites(t, store) // empty inventory

	job := &StreamflowJob{Store: store, Source: &mockReadingSource{}, Days: 30}
	_, err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "site_metadata must run first")
}

func TestWeatherForcingJob_CapsEndAtYesterday(t *testing.T) {
	freezeClock(t)
	store := openTestStore(t)
	seedSites(t, store, siteKC)

	yesterday := time.Date(2026, 8, 19, 0, 0, 0, 0, time.UTC)
	src := &mockForcingSource{records: []domain.ForcingRecord{
		{Longitude: -94.5875, Latitude: 39.1125, Datetime: yesterday, Prcp: 2.4},
	}}
	job := &WeatherForcingJob{Store: store, Source: src, Days: 7, OverlapDays: 2}

	res, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)

	require.Len(t, src.calls, 1)
	assert.Equal(t, yesterday, src.calls[0].end)
	assert.Equal(t, yesterday.AddDate(0, 0, -7), src.calls[0].start)
	assert.Equal(t, []domain.Coordinate{{Longitude: -94.5875, Latitude: 39.1125}}, src.calls[0].coords)
}

func TestWeatherForcingJob_SkipsWhenCaughtUp(t *testing.T) {
	freezeClock(t)
	store := openTestStore(t)
	seedSites(t, store, siteKC)

	// Watermark already at today: nothing older than the archive lag to
	// fetch.
	require.NoError(t, store.EnsureTable(context.Background(), duck.RawSchema, weatherDDL))
	_, err := store.UpsertRows(context.Background(), duck.RawSchema, weatherTable, weatherColumns,
		forcingRows([]domain.ForcingRecord{{
			Longitude: -94.5875, Latitude: 39.1125,
			Datetime: time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
		}}, frozenNow), []string{"longitude", "latitude", "datetime"})
	require.NoError(t, err)

	src := &mockForcingSource{}
	job := &WeatherForcingJob{Store: store, Source: src, Days: 7, OverlapDays: 0}

	res, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, src.calls)
}

type mockBasinSource struct {
	chars []domain.BasinCharacteristics
}

func (m *mockBasinSource) CharacteristicsForSites(_ context.Context, _ []string, _ []string) ([]domain.BasinCharacteristics, error) {
	return m.chars, nil
}

func TestBasinCharacteristicsJob_FlattensAndDedupes(t *testing.T) {
	freezeClock(t)
	store := openTestStore(t)
	seedSites(t, store, siteKC)

	src := &mockBasinSource{chars: []domain.BasinCharacteristics{{
		SiteID: "06893000", ComID: 4391520,
		Values: map[string]float64{"CAT_BFI": 52.1, "CAT_BASIN_AREA": 12.7},
	}}}
	job := &BasinCharacteristicsJob{Store: store, Source: src}

	res, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Fetched)
	assert.Equal(t, 2, res.Inserted)

	// Static attributes: the second run inserts nothing new.
	res, err = job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
}

type mockPublisher struct {
	calls int
	res   dataset.Result
	err   error
}

func (m *mockPublisher) Publish(_ context.Context, _ bool) (dataset.Result, error) {
	m.calls++
	return m.res, m.err
}

func TestPublishJob_IntervalGate(t *testing.T) {
	fake := clockwork.NewFakeClockAt(frozenNow)
	domain.SetClock(fake)
	t.Cleanup(func() { domain.SetClock(nil) })

	pub := &mockPublisher{res: dataset.Result{Version: 1, Rows: 100}}
	job := &PublishJob{Publisher: pub, Interval: 24 * time.Hour}

	res, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 1, pub.calls)

	// Within the interval: gated.
	fake.Advance(time.Hour)
	res, err = job.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 1, pub.calls)

	fake.Advance(24 * time.Hour)
	res, err = job.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 2, pub.calls)
}

func TestPublishJob_ErrorDoesNotAdvanceGate(t *testing.T) {
	fake := clockwork.NewFakeClockAt(frozenNow)
	domain.SetClock(fake)
	t.Cleanup(func() { domain.SetClock(nil) })

	pub := &mockPublisher{err: errors.New("registry unreachable")}
	job := &PublishJob{Publisher: pub, Interval: 24 * time.Hour}

	_, err := job.Run(context.Background())
	require.Error(t, err)

	// The next cycle retries immediately instead of waiting a day.
	fake.Advance(time.Minute)
	_, err = job.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, pub.calls)
}
