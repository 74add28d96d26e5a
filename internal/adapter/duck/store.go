// Package duck is the DuckDB storage layer: schema bootstrap, high-watermark
// reads, key-based upserts, and Parquet import/export.
package duck

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"
)

// RawSchema is the schema raw extracted tables land in; transformed models
// build into main.
const RawSchema = "raw"

// Store wraps a DuckDB database handle.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the DuckDB database at path. An empty path
// opens an in-memory database, which tests use.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb at %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping duckdb at %q: %w", path, err)
	}
	return &Store{db: db, logger: logger}, nil
}

// DB exposes the underlying handle for ad-hoc queries.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// EnsureSchema creates a schema if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context, schema string) error {
	_, err := s.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+schema)
	return err
}

// EnsureTable runs a CREATE TABLE IF NOT EXISTS statement after making sure
// the schema exists.
func (s *Store) EnsureTable(ctx context.Context, schema, ddl string) error {
	if err := s.EnsureSchema(ctx, schema); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// TableExists reports whether schema.table exists.
func (s *Store) TableExists(ctx context.Context, schema, table string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema = ? AND table_name = ?`, schema, table).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// HighWatermark returns the MAX of a timestamp column, or nil when the table
// is missing or empty. Incremental windows are always derived from stored
// data, never from the wall clock.
func (s *Store) HighWatermark(ctx context.Context, schema, table, column string) (*time.Time, error) {
	exists, err := s.TableExists(ctx, schema, table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	var wm sql.NullTime
	q := fmt.Sprintf("SELECT MAX(%s) FROM %s.%s", column, schema, table)
	if err := s.db.QueryRowContext(ctx, q).Scan(&wm); err != nil {
		return nil, fmt.Errorf("high watermark of %s.%s: %w", schema, table, err)
	}
	if !wm.Valid {
		return nil, nil
	}
	t := wm.Time.UTC()
	return &t, nil
}

// CountRows returns the row count of schema.table.
func (s *Store) CountRows(ctx context.Context, schema, table string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s.%s", schema, table)).Scan(&n)
	return n, err
}

// UpsertRows stages a batch into a temp table on a pinned connection, then
// inserts only rows with no existing key match into the target:
//
//	INSERT INTO target SELECT s.* FROM stage s
//	WHERE NOT EXISTS (SELECT 1 FROM target t WHERE t.k1 = s.k1 AND ...)
//
// The target table must already exist (see EnsureTable). Returns the number
// of new rows inserted. Temp tables are per-connection in DuckDB, so every
// statement runs on the same pinned conn.
func (s *Store) UpsertRows(ctx context.Context, schema, table string, columns []string, rows [][]any, keyColumns []string) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	target := schema + "." + table
	stage := "stage_" + table

	if _, err := conn.ExecContext(ctx,
		fmt.Sprintf("CREATE OR REPLACE TEMP TABLE %s AS SELECT * FROM %s LIMIT 0", stage, target)); err != nil {
		return 0, fmt.Errorf("create stage for %s: %w", target, err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), "DROP TABLE IF EXISTS "+stage)
	}()

	if err := insertBatched(ctx, conn, stage, columns, rows); err != nil {
		return 0, fmt.Errorf("stage rows for %s: %w", target, err)
	}

	var before int64
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+target).Scan(&before); err != nil {
		return 0, err
	}

	conds := make([]string, len(keyColumns))
	for i, k := range keyColumns {
		conds[i] = fmt.Sprintf("t.%s = s.%s", k, k)
	}
	q := fmt.Sprintf(`
		INSERT INTO %s
		SELECT s.* FROM %s s
		WHERE NOT EXISTS (SELECT 1 FROM %s t WHERE %s)`,
		target, stage, target, strings.Join(conds, " AND "))
	if _, err := conn.ExecContext(ctx, q); err != nil {
		return 0, fmt.Errorf("upsert into %s: %w", target, err)
	}

	var after int64
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+target).Scan(&after); err != nil {
		return 0, err
	}
	return int(after - before), nil
}

// ReplaceRows rebuilds a reference table from scratch: drop, recreate from
// DDL, bulk insert. Used for full-refresh tables like site metadata.
func (s *Store) ReplaceRows(ctx context.Context, schema, table, ddl string, columns []string, rows [][]any) error {
	if err := s.EnsureSchema(ctx, schema); err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	target := schema + "." + table
	if _, err := conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+target); err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	if err := insertBatched(ctx, conn, target, columns, rows); err != nil {
		return fmt.Errorf("load %s: %w", target, err)
	}
	return nil
}

// ExportParquet writes a query result to a Parquet file via DuckDB's COPY.
func (s *Store) ExportParquet(ctx context.Context, query, path string) error {
	q := fmt.Sprintf("COPY (%s) TO %s (FORMAT PARQUET)", query, quoteLiteral(path))
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("export parquet to %s: %w", path, err)
	}
	return nil
}

// Column describes one column of a table, in ordinal order.
type Column struct {
	Name string
	Type string
}

// TableColumns returns the column names and DuckDB types of schema.table in
// ordinal order, for schema fingerprinting.
func (s *Store) TableColumns(ctx context.Context, schema, table string) ([]Column, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.Type); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// insertBatched inserts rows with multi-row VALUES statements, chunked to
// keep the bind-parameter count bounded.
func insertBatched(ctx context.Context, conn *sql.Conn, table string, columns []string, rows [][]any) error {
	const maxRowsPerStmt = 500

	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?,", len(columns)), ",") + ")"
	colList := strings.Join(columns, ", ")

	for start := 0; start < len(rows); start += maxRowsPerStmt {
		chunk := rows[start:min(start+maxRowsPerStmt, len(rows))]

		values := make([]string, len(chunk))
		args := make([]any, 0, len(chunk)*len(columns))
		for i, row := range chunk {
			if len(row) != len(columns) {
				return fmt.Errorf("row %d has %d values, want %d", start+i, len(row), len(columns))
			}
			values[i] = placeholders
			args = append(args, row...)
		}

		q := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", table, colList, strings.Join(values, ", "))
		if _, err := conn.ExecContext(ctx, q, args...); err != nil {
			return err
		}
	}
	return nil
}

// quoteLiteral single-quotes a string for embedding in SQL that cannot take
// bind parameters (COPY targets, read_parquet sources).
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
