// Package postgres keeps the build catalog in PostgreSQL. The table is created
// by the embedded migrations.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tabulae/tabulae/internal/catalog"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping catalog db: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, name string) (catalog.Entry, error) {
	query := `
SELECT name, query, mtime
FROM tabulae.sparql_queries
WHERE name = $1`

	var (
		entry catalog.Entry
		mtime time.Time
	)
	if err := r.db.QueryRowContext(ctx, query, name).Scan(&entry.Name, &entry.Query, &mtime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Entry{}, catalog.ErrNotFound
		}
		return catalog.Entry{}, fmt.Errorf("get catalog entry: %w", err)
	}
	entry.MtimeMicros = mtime.UnixMicro()
	return entry, nil
}

func (r *Repository) Upsert(ctx context.Context, entry catalog.Entry) error {
	query := `
INSERT INTO tabulae.sparql_queries (name, query, mtime)
VALUES ($1, $2, $3)
ON CONFLICT (name)
DO UPDATE SET query = EXCLUDED.query, mtime = EXCLUDED.mtime, built_at = NOW()`

	if _, err := r.db.ExecContext(ctx, query, entry.Name, entry.Query, time.UnixMicro(entry.MtimeMicros).UTC()); err != nil {
		return fmt.Errorf("upsert catalog entry: %w", err)
	}
	return nil
}

func (r *Repository) List(ctx context.Context) ([]catalog.Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT name, query, mtime
FROM tabulae.sparql_queries
ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list catalog entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]catalog.Entry, 0)
	for rows.Next() {
		var (
			entry catalog.Entry
			mtime time.Time
		)
		if err := rows.Scan(&entry.Name, &entry.Query, &mtime); err != nil {
			return nil, fmt.Errorf("scan catalog entry: %w", err)
		}
		entry.MtimeMicros = mtime.UnixMicro()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog entries: %w", err)
	}
	return entries, nil
}

func (r *Repository) Delete(ctx context.Context, name string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
DELETE FROM tabulae.sparql_queries
WHERE name = $1`, name)
	if err != nil {
		return false, fmt.Errorf("delete catalog entry: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete catalog entry rows affected: %w", err)
	}
	return rows > 0, nil
}
