// Package tabulae is the command line front end: it loads configuration,
// wires the catalog, warehouse and optional publisher, and runs builds.
package tabulae

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/tabulae/tabulae/internal/build"
	"github.com/tabulae/tabulae/internal/catalog"
	catalogduckdb "github.com/tabulae/tabulae/internal/catalog/duckdb"
	catalogpostgres "github.com/tabulae/tabulae/internal/catalog/postgres"
	"github.com/tabulae/tabulae/internal/config"
	"github.com/tabulae/tabulae/internal/fetch"
	"github.com/tabulae/tabulae/internal/observability"
	"github.com/tabulae/tabulae/internal/publish"
	s3store "github.com/tabulae/tabulae/internal/storage/s3"
	"github.com/tabulae/tabulae/internal/warehouse"
)

const serviceName = "tabulae"

var errUsage = errors.New("usage error")

type Options struct {
	Stdout     io.Writer
	Stderr     io.Writer
	Lookup     config.LookupFunc
	HTTPClient *http.Client
	Clock      func() time.Time
}

// Run executes one command line and returns the process exit code: 0 on
// success, 2 for usage errors and 1 for everything else.
func Run(ctx context.Context, args []string, opts Options) int {
	stdout := opts.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = io.Discard
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	opts.Stdout, opts.Stderr = stdout, stderr

	cfg, err := config.Load(serviceName, opts.Lookup)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config error: %v\n", err)
		return 1
	}

	app := newCommand(cfg, opts)
	if err := app.Run(ctx, append([]string{serviceName}, args...)); err != nil {
		_, _ = fmt.Fprintf(stderr, "error: %v\n", err)
		if errors.Is(err, errUsage) {
			return 2
		}
		return 1
	}
	return 0
}

func newCommand(cfg config.Config, opts Options) *cli.Command {
	return &cli.Command{
		Name:            serviceName,
		Usage:           "build tables from SPARQL queries",
		Writer:          opts.Stdout,
		ErrWriter:       opts.Stderr,
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "queries-dir",
				Usage: "directory holding layer1/<name>.rq query files",
				Value: cfg.Paths.QueriesDir,
			},
			&cli.StringFlag{
				Name:  "dist-dir",
				Usage: "directory receiving layer1.duckdb and exports",
				Value: cfg.Paths.DistDir,
			},
		},
		OnUsageError: func(_ context.Context, _ *cli.Command, err error, _ bool) error {
			return fmt.Errorf("%w: %w", errUsage, err)
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			if cmd.Args().Present() {
				return fmt.Errorf("%w: unknown command %q", errUsage, cmd.Args().First())
			}
			return fmt.Errorf("%w: a command is required (build, show, list)", errUsage)
		},
		Commands: []*cli.Command{
			{
				Name:  "build",
				Usage: "refresh every stale layer1 table",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "force",
						Aliases: []string{"f"},
						Usage:   "rebuild even when a query is unchanged",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runBuild(ctx, withPaths(cfg, cmd), opts, cmd.Bool("force"))
				},
			},
			{
				Name:      "show",
				Usage:     "describe one built table",
				ArgsUsage: "<name>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.Args().Len() != 1 {
						return fmt.Errorf("%w: show takes exactly one table name", errUsage)
					}
					return runShow(ctx, withPaths(cfg, cmd), opts, cmd.Args().First())
				},
			},
			{
				Name:  "list",
				Usage: "list catalog entries with their query file times",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runList(ctx, withPaths(cfg, cmd), opts)
				},
			},
		},
	}
}

func withPaths(cfg config.Config, cmd *cli.Command) config.Config {
	if value := cmd.String("queries-dir"); value != "" {
		cfg.Paths.QueriesDir = value
	}
	if value := cmd.String("dist-dir"); value != "" {
		cfg.Paths.DistDir = value
	}
	return cfg
}

// runtime holds the collaborators shared by every command.
type runtime struct {
	warehouse *warehouse.Warehouse
	catalog   catalog.Store
	closers   []func() error
}

func (r *runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	return errors.Join(errs...)
}

func warehousePath(cfg config.Config) string {
	return filepath.Join(cfg.Paths.DistDir, build.DefaultLayer+".duckdb")
}

func openRuntime(ctx context.Context, cfg config.Config) (*runtime, error) {
	wh, err := warehouse.Open(ctx, warehousePath(cfg), cfg.Paths.ScratchDir)
	if err != nil {
		return nil, err
	}
	rt := &runtime{warehouse: wh, closers: []func() error{wh.Close}}

	if cfg.Catalog.DSN == "" {
		store, err := catalogduckdb.Open(ctx, wh.DB())
		if err != nil {
			_ = rt.Close()
			return nil, err
		}
		rt.catalog = store
		return rt, nil
	}

	db, err := catalogpostgres.Open(ctx, catalogpostgres.DBConfig{
		DSN:             cfg.Catalog.DSN,
		MaxOpenConns:    cfg.Catalog.MaxOpenConns,
		MaxIdleConns:    cfg.Catalog.MaxIdleConns,
		ConnMaxIdleTime: cfg.Catalog.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Catalog.ConnMaxLifetime,
	})
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.closers = append(rt.closers, db.Close)
	rt.catalog = catalogpostgres.NewRepository(db)
	return rt, nil
}

func newPublisher(ctx context.Context, cfg config.Config, logger *slog.Logger) (build.Publisher, error) {
	if !cfg.Publish.Enabled {
		return nil, nil
	}
	store, err := s3store.New(ctx, s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize object store: %w", err)
	}
	return publish.New(store, logger), nil
}

func runBuild(ctx context.Context, cfg config.Config, opts Options, force bool) error {
	ctx = observability.ContextWithRunID(ctx, observability.NewRunID())
	logger := observability.NewLogger(cfg, opts.Stderr).With(slog.String("run_id", observability.RunIDFromContext(ctx)))

	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	svc := &build.Service{
		Catalog:   rt.catalog,
		Fetcher:   fetch.New(fetch.Config{Timeout: cfg.SPARQL.Timeout, UserAgent: cfg.SPARQL.UserAgent, ScratchDir: cfg.Paths.ScratchDir}, opts.HTTPClient, logger),
		Warehouse: rt.warehouse,
		Config:    build.Config{QueriesDir: cfg.Paths.QueriesDir, DistDir: cfg.Paths.DistDir},
		Logger:    logger,
		Clock:     opts.Clock,
	}
	publisher, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if publisher != nil {
		svc.Publisher = publisher
	}

	started := opts.Clock()
	summary, runErr := svc.Run(ctx, force)
	if path := cfg.Observability.MetricsTextfile; path != "" {
		if err := observability.WriteTextfile(path, opts.Clock()); err != nil {
			logger.WarnContext(ctx, "metrics textfile not written", slog.Any("error", err))
		}
	}
	if runErr != nil {
		return runErr
	}

	logger.InfoContext(ctx, "build finished",
		slog.Int("built", len(summary.Built)),
		slog.Int("skipped", len(summary.Skipped)),
		slog.Int("deleted", len(summary.Deleted)),
		slog.Duration("elapsed", opts.Clock().Sub(started)),
	)
	_, _ = fmt.Fprintf(opts.Stdout, "built %d, skipped %d, deleted %d\n", len(summary.Built), len(summary.Skipped), len(summary.Deleted))
	return nil
}

func runShow(ctx context.Context, cfg config.Config, opts Options, name string) error {
	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	columns, err := rt.warehouse.Columns(ctx, name)
	if err != nil {
		return err
	}
	if len(columns) == 0 {
		return fmt.Errorf("table %s does not exist", name)
	}
	rows, err := rt.warehouse.RowCount(ctx, name)
	if err != nil {
		return err
	}
	comment, err := rt.warehouse.TableComment(ctx, name)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(opts.Stdout, "table %s (%d rows)\n", name, rows)
	for _, column := range columns {
		_, _ = fmt.Fprintf(opts.Stdout, "  %s %s\n", column.Name, column.Type)
	}
	if comment != "" {
		_, _ = fmt.Fprintf(opts.Stdout, "\n%s\n", comment)
	}
	return nil
}

func runList(ctx context.Context, cfg config.Config, opts Options) error {
	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	entries, err := rt.catalog.List(ctx)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		_, _ = fmt.Fprintf(opts.Stdout, "%s\t%s\n", entry.Name, time.UnixMicro(entry.MtimeMicros).UTC().Format(time.RFC3339Nano))
	}
	return nil
}
