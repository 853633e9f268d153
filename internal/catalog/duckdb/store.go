// Package duckdb keeps the build catalog inside the warehouse DuckDB file, in
// the tabulae schema next to the materialized tables.
package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tabulae/tabulae/internal/catalog"
)

var schemaStatements = []string{
	`CREATE SCHEMA IF NOT EXISTS tabulae`,
	`CREATE TABLE IF NOT EXISTS tabulae.sparql_queries (
	name VARCHAR PRIMARY KEY,
	query VARCHAR NOT NULL,
	mtime TIMESTAMP NOT NULL
)`,
}

type Store struct {
	db *sql.DB
}

// Open creates the catalog table when it is missing. db is usually the
// warehouse connection.
func Open(ctx context.Context, db *sql.DB) (*Store, error) {
	for _, statement := range schemaStatements {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			return nil, fmt.Errorf("ensure catalog schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Get(ctx context.Context, name string) (catalog.Entry, error) {
	var (
		entry catalog.Entry
		mtime time.Time
	)
	err := s.db.QueryRowContext(ctx, `SELECT name, query, mtime FROM tabulae.sparql_queries WHERE name = ?`, name).
		Scan(&entry.Name, &entry.Query, &mtime)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Entry{}, catalog.ErrNotFound
		}
		return catalog.Entry{}, fmt.Errorf("get catalog entry: %w", err)
	}
	entry.MtimeMicros = mtime.UnixMicro()
	return entry, nil
}

func (s *Store) Upsert(ctx context.Context, entry catalog.Entry) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO tabulae.sparql_queries (name, query, mtime)
VALUES (?, ?, ?)
ON CONFLICT (name) DO UPDATE SET query = excluded.query, mtime = excluded.mtime`,
		entry.Name, entry.Query, time.UnixMicro(entry.MtimeMicros).UTC())
	if err != nil {
		return fmt.Errorf("upsert catalog entry: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]catalog.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, query, mtime FROM tabulae.sparql_queries ORDER BY name`)
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

func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tabulae.sparql_queries WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("delete catalog entry: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete catalog entry rows affected: %w", err)
	}
	return rows > 0, nil
}
