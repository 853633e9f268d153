// Package fetch runs a query against a SPARQL endpoint, one page at a time,
// and spills each page to a scratch file.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tabulae/tabulae/internal/directive"
	"github.com/tabulae/tabulae/internal/observability"
	"github.com/tabulae/tabulae/internal/sparql"
	"github.com/tabulae/tabulae/internal/sparql/results"
)

const (
	contentTypeQuery  = "application/sparql-query"
	acceptResultsJSON = "application/sparql-results+json"
)

var ErrMalformedResultPayload = results.ErrMalformedPayload

// TransportError is a non-2xx answer from the endpoint. Its message is the
// response body exactly as received.
type TransportError struct {
	Status int
	Body   string
}

func (e *TransportError) Error() string {
	return e.Body
}

type Config struct {
	Timeout    time.Duration
	UserAgent  string
	ScratchDir string
}

type Fetcher struct {
	client     *http.Client
	userAgent  string
	scratchDir string
	logger     *slog.Logger
}

// New returns a Fetcher. A nil client gets one with cfg.Timeout.
func New(cfg Config, client *http.Client, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = "tabulae"
	}
	return &Fetcher{
		client:     client,
		userAgent:  userAgent,
		scratchDir: cfg.ScratchDir,
		logger:     logger,
	}
}

// Result lists the pages of one query in fetch order.
type Result struct {
	Pages []results.Page
	Total int

	dir string
}

// Vars returns the head variables of every page, unioned in first-seen order.
func (r Result) Vars() []string {
	seen := map[string]bool{}
	vars := []string{}
	for _, page := range r.Pages {
		for _, name := range page.Vars {
			if !seen[name] {
				seen[name] = true
				vars = append(vars, name)
			}
		}
	}
	return vars
}

// Cleanup removes the scratch directory holding the pages.
func (r Result) Cleanup() error {
	if r.dir == "" {
		return nil
	}
	if err := os.RemoveAll(r.dir); err != nil {
		return fmt.Errorf("remove scratch dir %s: %w", r.dir, err)
	}
	return nil
}

// Fetch evaluates query at the endpoint in set. When set asks for pages the
// query is rewritten before every request, and a query that cannot be paged is
// rejected before anything is sent. Each request waits for the previous one,
// since its offset depends on how many bindings came back.
func (f *Fetcher) Fetch(ctx context.Context, name, query string, set directive.Set) (Result, error) {
	var parsed *sparql.Query
	if set.Paginated() {
		var err error
		parsed, err = sparql.Parse(query)
		if err != nil {
			return Result{}, err
		}
		if _, err := sparql.Rewrite(parsed, set.PageSize, 0); err != nil {
			return Result{}, err
		}
	}

	dir, err := os.MkdirTemp(f.scratchDir, "tabulae-"+scratchName(name)+"-")
	if err != nil {
		return Result{}, fmt.Errorf("create scratch dir: %w", err)
	}
	result := Result{dir: dir}
	logger := f.logger.With("query", name, "endpoint", set.Endpoint)

	offset := 0
	for index := 0; ; index++ {
		if err := ctx.Err(); err != nil {
			_ = result.Cleanup()
			return Result{}, err
		}

		body := query
		if parsed != nil {
			page, err := sparql.Rewrite(parsed, set.PageSize, offset)
			if err != nil {
				_ = result.Cleanup()
				return Result{}, err
			}
			body = page.String()
		}

		path := filepath.Join(dir, fmt.Sprintf("page-%05d.json", index))
		page, err := f.fetchPage(ctx, set.Endpoint, body, path)
		if err != nil {
			_ = result.Cleanup()
			return Result{}, err
		}
		page.Offset = offset
		result.Pages = append(result.Pages, page)
		result.Total += page.Count
		observability.ObservePage(page.Count)
		logger.Debug("page fetched", "offset", offset, "bindings", page.Count)

		if !set.Paginated() || page.Count < set.PageSize {
			break
		}
		offset += page.Count
	}

	logger.Info(fmt.Sprintf("%d binding(s) received", result.Total), "pages", len(result.Pages))
	return result, nil
}

func (f *Fetcher) fetchPage(ctx context.Context, endpoint, body, path string) (results.Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
	if err != nil {
		return results.Page{}, fmt.Errorf("build sparql request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeQuery)
	req.Header.Set("Accept", acceptResultsJSON)
	req.Header.Set("User-Agent", f.userAgent)

	started := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		observability.ObserveSPARQLRequest(0, time.Since(started))
		return results.Page{}, fmt.Errorf("request sparql endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	observability.ObserveSPARQLRequest(resp.StatusCode, time.Since(started))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return results.Page{}, fmt.Errorf("read sparql error body status=%d: %w", resp.StatusCode, err)
		}
		return results.Page{}, &TransportError{Status: resp.StatusCode, Body: string(raw)}
	}

	file, err := os.Create(path)
	if err != nil {
		return results.Page{}, fmt.Errorf("create page file: %w", err)
	}
	defer func() { _ = file.Close() }()

	vars, count, err := results.Decode(io.TeeReader(resp.Body, file), nil)
	if err != nil {
		return results.Page{}, err
	}
	if _, err := io.Copy(file, resp.Body); err != nil {
		return results.Page{}, fmt.Errorf("spill page: %w", err)
	}
	if err := file.Close(); err != nil {
		return results.Page{}, fmt.Errorf("close page file: %w", err)
	}
	return results.Page{Path: path, Count: count, Vars: vars}, nil
}

func scratchName(name string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, name)
}
