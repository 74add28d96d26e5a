package duck

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const readingsDDL = `
	CREATE TABLE IF NOT EXISTS raw.streamflow_raw (
		site_id VARCHAR,
		datetime TIMESTAMP,
		streamflow_cfs DOUBLE,
		qualifiers VARCHAR,
		extracted_at TIMESTAMP
	)`

var readingCols = []string{"site_id", "datetime", "streamflow_cfs", "qualifiers", "extracted_at"}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func ts(day, hour int) time.Time {
	return time.Date(2026, 8, day, hour, 0, 0, 0, time.UTC)
}

func TestTableExists(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	exists, err := s.TableExists(ctx, RawSchema, "streamflow_raw")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.EnsureTable(ctx, RawSchema, readingsDDL))

	exists, err = s.TableExists(ctx, RawSchema, "streamflow_raw")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestHighWatermark(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Missing table: no watermark.
	wm, err := s.HighWatermark(ctx, RawSchema, "streamflow_raw", "datetime")
	require.NoError(t, err)
	assert.Nil(t, wm)

	require.NoError(t, s.EnsureTable(ctx, RawSchema, readingsDDL))

	// Empty table: still no watermark.
	wm, err = s.HighWatermark(ctx, RawSchema, "streamflow_raw", "datetime")
	require.NoError(t, err)
	assert.Nil(t, wm)

	_, err = s.UpsertRows(ctx, RawSchema, "streamflow_raw", readingCols, [][]any{
		{"06893000", ts(19, 12), 45200.0, "P", ts(20, 0)},
		{"06893000", ts(19, 13), 45300.0, "P", ts(20, 0)},
	}, []string{"site_id", "datetime"})
	require.NoError(t, err)

	wm, err = s.HighWatermark(ctx, RawSchema, "streamflow_raw", "datetime")
	require.NoError(t, err)
	require.NotNil(t, wm)
	assert.Equal(t, ts(19, 13), *wm)
}

func TestUpsertRows_SkipsExistingKeys(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureTable(ctx, RawSchema, readingsDDL))

	inserted, err := s.UpsertRows(ctx, RawSchema, "streamflow_raw", readingCols, [][]any{
		{"06893000", ts(19, 12), 45200.0, "P", ts(20, 0)},
		{"06935965", ts(19, 12), 9800.0, "P", ts(20, 0)},
	}, []string{"site_id", "datetime"})
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	// Overlap re-fetch: one duplicate key, one new row. The duplicate's
	// changed value must not produce a second row.
	inserted, err = s.UpsertRows(ctx, RawSchema, "streamflow_raw", readingCols, [][]any{
		{"06893000", ts(19, 12), 99999.0, "A", ts(21, 0)},
		{"06893000", ts(19, 13), 45300.0, "P", ts(21, 0)},
	}, []string{"site_id", "datetime"})
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	n, err := s.CountRows(ctx, RawSchema, "streamflow_raw")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	// The original row won: first write wins for a key tuple.
	var flow float64
	err = s.DB().QueryRowContext(ctx,
		"SELECT streamflow_cfs FROM raw.streamflow_raw WHERE site_id = ? AND datetime = ?",
		"06893000", ts(19, 12)).Scan(&flow)
	require.NoError(t, err)
	assert.InDelta(t, 45200.0, flow, 1e-9)
}

func TestUpsertRows_EmptyBatch(t *testing.T) {
	s := openTestStore(t)
	inserted, err := s.UpsertRows(context.Background(), RawSchema, "missing", readingCols, nil, []string{"site_id"})
	require.NoError(t, err)
	assert.Zero(t, inserted)
}

func TestReplaceRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ddl := `CREATE TABLE raw.site_metadata (site_id VARCHAR, station_name VARCHAR)`
	cols := []string{"site_id", "station_name"}

	require.NoError(t, s.ReplaceRows(ctx, RawSchema, "site_metadata", ddl, cols, [][]any{
		{"06893000", "Kansas City"},
		{"06935965", "St. Charles"},
	}))

	// Replacing drops the old contents entirely.
	require.NoError(t, s.ReplaceRows(ctx, RawSchema, "site_metadata", ddl, cols, [][]any{
		{"07010000", "St. Louis"},
	}))

	n, err := s.CountRows(ctx, RawSchema, "site_metadata")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestExportParquetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureTable(ctx, RawSchema, readingsDDL))

	_, err := s.UpsertRows(ctx, RawSchema, "streamflow_raw", readingCols, [][]any{
		{"06893000", ts(19, 12), 45200.0, "P", ts(20, 0)},
		{"06893000", ts(19, 13), 45300.0, "P", ts(20, 0)},
	}, []string{"site_id", "datetime"})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "streamflow.parquet")
	require.NoError(t, s.ExportParquet(ctx, "SELECT * FROM raw.streamflow_raw", path))

	var n int64
	err = s.DB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM read_parquet("+quoteLiteral(path)+")").Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestTableColumns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureTable(ctx, RawSchema, readingsDDL))

	cols, err := s.TableColumns(ctx, RawSchema, "streamflow_raw")
	require.NoError(t, err)
	require.Len(t, cols, 5)
	assert.Equal(t, "site_id", cols[0].Name)
	assert.Equal(t, "datetime", cols[1].Name)
	assert.Equal(t, "TIMESTAMP", cols[1].Type)
}
