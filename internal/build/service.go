// Package build refreshes every layer1 table whose query file changed since
// its last successful build.
package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/tabulae/tabulae/internal/catalog"
	"github.com/tabulae/tabulae/internal/directive"
	"github.com/tabulae/tabulae/internal/fetch"
	"github.com/tabulae/tabulae/internal/observability"
	"github.com/tabulae/tabulae/internal/schema"
	"github.com/tabulae/tabulae/internal/sparql/results"
	"github.com/tabulae/tabulae/internal/storage"
	"github.com/tabulae/tabulae/internal/warehouse"
)

const (
	DefaultLayer = "layer1"
	queryFileExt = ".rq"
)

// Stages reported in QueryError.
const (
	StageRead      = "read"
	StageCatalog   = "catalog"
	StageDirective = "directive"
	StageFetch     = "fetch"
	StageSchema    = "schema"
	StageLoad      = "load"
	StageComment   = "comment"
	StageExport    = "export"
	StagePublish   = "publish"
	StageRecord    = "record"
)

var ErrNoQueries = errors.New("build: no query files found")

type Fetcher interface {
	Fetch(ctx context.Context, name, query string, set directive.Set) (fetch.Result, error)
}

type Warehouse interface {
	Load(ctx context.Context, name string, pages []results.Page, columns schema.Schema) (int64, error)
	Comment(ctx context.Context, name, text string) error
	Export(ctx context.Context, name, dir string) ([]warehouse.Artifact, error)
	Drop(ctx context.Context, name string) error
}

type Publisher interface {
	Publish(ctx context.Context, name string, artifacts []warehouse.Artifact) ([]storage.ObjectInfo, error)
	Unpublish(ctx context.Context, name string) error
}

type Config struct {
	QueriesDir string
	DistDir    string
	Layer      string
}

type Service struct {
	Catalog   catalog.Store
	Fetcher   Fetcher
	Warehouse Warehouse
	// Publisher is optional. A nil Publisher keeps exports local.
	Publisher Publisher
	Config    Config
	Logger    *slog.Logger
	Clock     func() time.Time
}

// Summary lists what one run did, by query name.
type Summary struct {
	Built   []string
	Skipped []string
	Deleted []string
}

// QueryError is the failure of one query at one stage of its build.
type QueryError struct {
	Name  string
	Stage string
	Err   error
}

// Error reports an endpoint failure with the endpoint's own body and nothing
// else.
func (e *QueryError) Error() string {
	var transport *fetch.TransportError
	if errors.As(e.Err, &transport) {
		return transport.Error()
	}
	return fmt.Sprintf("query %s: %s: %v", e.Name, e.Stage, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

type queryFile struct {
	Name        string
	Path        string
	MtimeMicros int64
}

// Run reconciles deleted queries and then builds the stale ones in name order.
// The first failing query stops the run; queries built before it stay
// recorded.
func (s *Service) Run(ctx context.Context, force bool) (Summary, error) {
	s.ensureDefaults()
	summary := Summary{}

	files, err := s.listQueries()
	if err != nil {
		return summary, err
	}
	names := make([]string, 0, len(files))
	for _, file := range files {
		names = append(names, file.Name)
	}

	deleted, err := catalog.ReconcileDeleted(ctx, s.Catalog, names, s.removeQuery)
	summary.Deleted = deleted
	if err != nil {
		return summary, fmt.Errorf("reconcile deleted queries: %w", err)
	}

	for _, file := range files {
		built, err := s.buildQuery(ctx, file, force)
		if err != nil {
			return summary, err
		}
		if built {
			summary.Built = append(summary.Built, file.Name)
		} else {
			summary.Skipped = append(summary.Skipped, file.Name)
		}
	}
	return summary, nil
}

func (s *Service) ensureDefaults() {
	if s.Clock == nil {
		s.Clock = time.Now
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	if s.Config.Layer == "" {
		s.Config.Layer = DefaultLayer
	}
}

func (s *Service) layerDir(root string) string {
	return filepath.Join(root, s.Config.Layer)
}

func (s *Service) listQueries() ([]queryFile, error) {
	dir := s.layerDir(s.Config.QueriesDir)
	paths, err := filepath.Glob(filepath.Join(dir, "*"+queryFileExt))
	if err != nil {
		return nil, fmt.Errorf("list queries in %s: %w", dir, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoQueries, dir)
	}
	slices.Sort(paths)

	files := make([]queryFile, 0, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat query %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		files = append(files, queryFile{
			Name:        strings.TrimSuffix(filepath.Base(path), queryFileExt),
			Path:        path,
			MtimeMicros: info.ModTime().UnixMicro(),
		})
	}
	return files, nil
}

// removeQuery drops everything a deleted query left behind.
func (s *Service) removeQuery(ctx context.Context, name string) error {
	if err := s.Warehouse.Drop(ctx, name); err != nil {
		return err
	}
	if err := warehouse.RemoveExports(name, s.layerDir(s.Config.DistDir)); err != nil {
		return err
	}
	if s.Publisher != nil {
		if err := s.Publisher.Unpublish(ctx, name); err != nil {
			return err
		}
	}
	observability.IncrementTablesDropped()
	s.Logger.InfoContext(ctx, "dropped table of deleted query", slog.String("query", name))
	return nil
}

func (s *Service) buildQuery(ctx context.Context, file queryFile, force bool) (bool, error) {
	logger := s.Logger.With(slog.String("query", file.Name))
	started := s.Clock()

	stale, err := catalog.ShouldRebuild(ctx, s.Catalog, file.Name, file.MtimeMicros, force)
	if err != nil {
		return false, s.fail(ctx, logger, started, file.Name, StageCatalog, err)
	}
	if !stale {
		observability.ObserveQueryBuild(observability.BuildStatusSkipped, 0)
		logger.DebugContext(ctx, "query unchanged since last build")
		return false, nil
	}

	body, err := os.ReadFile(file.Path)
	if err != nil {
		return false, s.fail(ctx, logger, started, file.Name, StageRead, err)
	}
	text := string(body)

	set, err := directive.Extract(text)
	if err != nil {
		return false, s.fail(ctx, logger, started, file.Name, StageDirective, err)
	}

	logger.InfoContext(ctx, "building query", slog.String("endpoint", set.Endpoint), slog.Int("page_size", set.PageSize))
	result, err := s.Fetcher.Fetch(ctx, file.Name, text, set)
	if err != nil {
		return false, s.fail(ctx, logger, started, file.Name, StageFetch, err)
	}
	defer func() {
		if err := result.Cleanup(); err != nil {
			logger.WarnContext(ctx, "scratch cleanup failed", slog.Any("error", err))
		}
	}()

	columns, err := schema.Unify(result.Pages)
	if err != nil {
		return false, s.fail(ctx, logger, started, file.Name, StageSchema, err)
	}
	rows, err := s.Warehouse.Load(ctx, file.Name, result.Pages, columns)
	if err != nil {
		return false, s.fail(ctx, logger, started, file.Name, StageLoad, err)
	}
	if err := s.Warehouse.Comment(ctx, file.Name, text); err != nil {
		return false, s.fail(ctx, logger, started, file.Name, StageComment, err)
	}
	artifacts, err := s.Warehouse.Export(ctx, file.Name, s.layerDir(s.Config.DistDir))
	if err != nil {
		return false, s.fail(ctx, logger, started, file.Name, StageExport, err)
	}
	if s.Publisher != nil {
		if _, err := s.Publisher.Publish(ctx, file.Name, artifacts); err != nil {
			return false, s.fail(ctx, logger, started, file.Name, StagePublish, err)
		}
	}
	if err := catalog.RecordSuccess(ctx, s.Catalog, file.Name, text, file.MtimeMicros); err != nil {
		return false, s.fail(ctx, logger, started, file.Name, StageRecord, err)
	}

	elapsed := s.Clock().Sub(started)
	observability.ObserveQueryBuild(observability.BuildStatusBuilt, elapsed)
	logger.InfoContext(ctx, "query built",
		slog.Int64("rows", rows),
		slog.Int("columns", len(columns.Columns)),
		slog.Int("pages", len(result.Pages)),
		slog.Duration("elapsed", elapsed),
	)
	return true, nil
}

func (s *Service) fail(ctx context.Context, logger *slog.Logger, started time.Time, name, stage string, err error) error {
	observability.ObserveQueryBuild(observability.BuildStatusFailed, s.Clock().Sub(started))
	logger.ErrorContext(ctx, "query build failed", slog.String("stage", stage), slog.Any("error", err))
	return &QueryError{Name: name, Stage: stage, Err: err}
}
