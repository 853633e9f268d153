// Package catalog records when each query was last built so unchanged queries
// can be skipped on the next run.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

var (
	ErrNotFound  = errors.New("catalog: not found")
	ErrCatalogIO = errors.New("catalog: io error")
)

// Entry is the stored state of one query. MtimeMicros is the modification
// time of the query file that was last built successfully.
type Entry struct {
	Name        string
	Query       string
	MtimeMicros int64
}

type Store interface {
	Get(ctx context.Context, name string) (Entry, error)
	Upsert(ctx context.Context, entry Entry) error
	List(ctx context.Context) ([]Entry, error)
	Delete(ctx context.Context, name string) (bool, error)
}

// ShouldRebuild reports whether name needs a build: always when forced or
// unknown, otherwise only when the file is newer than the stored build.
func ShouldRebuild(ctx context.Context, store Store, name string, mtimeMicros int64, force bool) (bool, error) {
	if force {
		return true, nil
	}
	entry, err := store.Get(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: get %s: %w", ErrCatalogIO, name, err)
	}
	return entry.MtimeMicros < mtimeMicros, nil
}

// RecordSuccess stores the build of name. Call it only after every stage of
// the build has succeeded.
func RecordSuccess(ctx context.Context, store Store, name, query string, mtimeMicros int64) error {
	if err := store.Upsert(ctx, Entry{Name: name, Query: query, MtimeMicros: mtimeMicros}); err != nil {
		return fmt.Errorf("%w: upsert %s: %w", ErrCatalogIO, name, err)
	}
	return nil
}

// ReconcileDeleted forgets every stored query that is no longer on disk.
// onDeleted runs once per such name before its entry is removed, so a failed
// cleanup is retried on the next run.
func ReconcileDeleted(ctx context.Context, store Store, namesOnDisk []string, onDeleted func(ctx context.Context, name string) error) ([]string, error) {
	entries, err := store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list: %w", ErrCatalogIO, err)
	}

	deleted := make([]string, 0)
	for _, entry := range entries {
		if slices.Contains(namesOnDisk, entry.Name) {
			continue
		}
		if onDeleted != nil {
			if err := onDeleted(ctx, entry.Name); err != nil {
				return deleted, fmt.Errorf("clean up deleted query %s: %w", entry.Name, err)
			}
		}
		if _, err := store.Delete(ctx, entry.Name); err != nil {
			return deleted, fmt.Errorf("%w: delete %s: %w", ErrCatalogIO, entry.Name, err)
		}
		deleted = append(deleted, entry.Name)
	}
	return deleted, nil
}
