// Package warehouse materializes fetched query results as DuckDB tables and
// exports them to flat files.
package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/tabulae/tabulae/internal/schema"
	"github.com/tabulae/tabulae/internal/sparql/results"
)

var ErrLoad = errors.New("warehouse: load failed")

// Export formats, in the order Export writes them.
const (
	FormatCSV     = "csv"
	FormatTSV     = "tsv"
	FormatParquet = "parquet"
)

var exportFormats = []string{FormatCSV, FormatTSV, FormatParquet}

type Artifact struct {
	Format string
	Path   string
}

type Warehouse struct {
	db         *sql.DB
	path       string
	scratchDir string
}

// Open opens or creates the DuckDB file at path. An empty path opens an
// in-memory database.
func Open(ctx context.Context, path, scratchDir string) (*Warehouse, error) {
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create warehouse dir: %w", err)
		}
	}
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	return &Warehouse{db: db, path: path, scratchDir: scratchDir}, nil
}

// DB exposes the connection so the build catalog can live in the same file.
func (w *Warehouse) DB() *sql.DB {
	return w.db
}

func (w *Warehouse) Close() error {
	return w.db.Close()
}

// Load replaces table name with the bindings of pages. Every value is read as
// text and cast to its column type. It returns the number of rows loaded.
func (w *Warehouse) Load(ctx context.Context, name string, pages []results.Page, columns schema.Schema) (int64, error) {
	if len(columns.Columns) == 0 {
		return 0, fmt.Errorf("%w: %s has no columns", ErrLoad, name)
	}

	workDir, err := os.MkdirTemp(w.scratchDir, "tabulae-load-")
	if err != nil {
		return 0, fmt.Errorf("%w: create load temp dir: %v", ErrLoad, err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	spillPath := filepath.Join(workDir, sanitizeFileComponent(name)+".parquet")
	rows, err := writeSpill(spillPath, pages, columns)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLoad, err)
	}

	statement := createFromSpill(name, spillPath, columns)
	if rows == 0 {
		statement = createEmpty(name, columns)
	}
	if _, err := w.db.ExecContext(ctx, statement); err != nil {
		return 0, fmt.Errorf("%w: create table %s: %v", ErrLoad, name, err)
	}
	return rows, nil
}

func createFromSpill(name, spillPath string, columns schema.Schema) string {
	projections := make([]string, 0, len(columns.Columns))
	for _, column := range columns.Columns {
		ident := quoteIdent(column.Name)
		if column.Type == schema.TypeText {
			projections = append(projections, ident)
			continue
		}
		projections = append(projections, fmt.Sprintf("CAST(%s AS %s) AS %s", ident, column.Type, ident))
	}
	return fmt.Sprintf(`CREATE OR REPLACE TABLE %s AS SELECT %s FROM read_parquet(%s)`,
		quoteIdent(name), strings.Join(projections, ", "), quoteString(spillPath))
}

func createEmpty(name string, columns schema.Schema) string {
	defs := make([]string, 0, len(columns.Columns))
	for _, column := range columns.Columns {
		defs = append(defs, quoteIdent(column.Name)+" "+string(column.Type))
	}
	return fmt.Sprintf(`CREATE OR REPLACE TABLE %s (%s)`, quoteIdent(name), strings.Join(defs, ", "))
}

// Comment attaches text to table name so the query that produced it can be
// recovered later.
func (w *Warehouse) Comment(ctx context.Context, name, text string) error {
	statement := fmt.Sprintf(`COMMENT ON TABLE %s IS %s`, quoteIdent(name), quoteString(text))
	if _, err := w.db.ExecContext(ctx, statement); err != nil {
		return fmt.Errorf("comment on table %s: %w", name, err)
	}
	return nil
}

func (w *Warehouse) TableComment(ctx context.Context, name string) (string, error) {
	var comment sql.NullString
	err := w.db.QueryRowContext(ctx, `
SELECT comment
FROM duckdb_tables()
WHERE schema_name = 'main' AND table_name = ?`, name).Scan(&comment)
	if err != nil {
		return "", fmt.Errorf("read comment of %s: %w", name, err)
	}
	return comment.String, nil
}

// Columns describes table name in column order.
func (w *Warehouse) Columns(ctx context.Context, name string) ([]schema.Column, error) {
	rows, err := w.db.QueryContext(ctx, `
SELECT column_name, data_type
FROM information_schema.columns
WHERE table_schema = 'main' AND table_name = ?
ORDER BY ordinal_position`, name)
	if err != nil {
		return nil, fmt.Errorf("describe table %s: %w", name, err)
	}
	defer func() { _ = rows.Close() }()

	columns := make([]schema.Column, 0)
	for rows.Next() {
		var (
			column   schema.Column
			dataType string
		)
		if err := rows.Scan(&column.Name, &dataType); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		column.Type = schema.Type(dataType)
		columns = append(columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return columns, nil
}

func (w *Warehouse) RowCount(ctx context.Context, name string) (int64, error) {
	var count int64
	if err := w.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+quoteIdent(name)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count rows of %s: %w", name, err)
	}
	return count, nil
}

// Export writes table name to dir as csv, tsv and parquet. Files from an
// earlier export are removed first.
func (w *Warehouse) Export(ctx context.Context, name, dir string) ([]Artifact, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	if err := RemoveExports(name, dir); err != nil {
		return nil, err
	}

	artifacts := make([]Artifact, 0, len(exportFormats))
	for _, format := range exportFormats {
		target := ExportPath(dir, name, format)
		statement := fmt.Sprintf(`COPY %s TO %s (%s)`, quoteIdent(name), quoteString(target), copyOptions(format))
		if _, err := w.db.ExecContext(ctx, statement); err != nil {
			return nil, fmt.Errorf("export %s as %s: %w", name, format, err)
		}
		artifacts = append(artifacts, Artifact{Format: format, Path: target})
	}
	return artifacts, nil
}

func copyOptions(format string) string {
	switch format {
	case FormatTSV:
		return "FORMAT CSV, HEADER, DELIMITER '\t'"
	case FormatParquet:
		return "FORMAT PARQUET"
	default:
		return "FORMAT CSV, HEADER"
	}
}

// Drop removes table name if it exists.
func (w *Warehouse) Drop(ctx context.Context, name string) error {
	if _, err := w.db.ExecContext(ctx, `DROP TABLE IF EXISTS `+quoteIdent(name)); err != nil {
		return fmt.Errorf("drop table %s: %w", name, err)
	}
	return nil
}

func ExportPath(dir, name, format string) string {
	return filepath.Join(dir, sanitizeFileComponent(name)+"."+format)
}

// RemoveExports deletes every export of name in dir. Missing files are not an
// error.
func RemoveExports(name, dir string) error {
	for _, format := range exportFormats {
		if err := os.Remove(ExportPath(dir, name, format)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s export of %s: %w", format, name, err)
		}
	}
	return nil
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "table"
	}
	return value
}
