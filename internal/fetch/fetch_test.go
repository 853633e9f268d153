package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"regexp"
	"strconv"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tabulae/tabulae/internal/directive"
	"github.com/tabulae/tabulae/internal/sparql"
	"github.com/tabulae/tabulae/internal/sparql/results"
)

var offsetPattern = regexp.MustCompile(`(?m)^OFFSET (\d+)$`)

type stubEndpoint struct {
	mu        sync.Mutex
	pageSizes []int
	offsets   []int
	bodies    []string
	headers   []http.Header
}

func (s *stubEndpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	call := len(s.bodies)
	s.bodies = append(s.bodies, string(raw))
	s.headers = append(s.headers, r.Header.Clone())
	offset := -1
	if match := offsetPattern.FindStringSubmatch(string(raw)); match != nil {
		offset, _ = strconv.Atoi(match[1])
	}
	s.offsets = append(s.offsets, offset)
	size := 0
	if call < len(s.pageSizes) {
		size = s.pageSizes[call]
	}
	s.mu.Unlock()

	bindings := make([]map[string]any, 0, size)
	for i := 0; i < size; i++ {
		bindings = append(bindings, map[string]any{
			"n": map[string]string{"type": "literal", "value": fmt.Sprint(offset + i)},
		})
	}
	w.Header().Set("Content-Type", acceptResultsJSON)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"head":    map[string]any{"vars": []string{"n"}},
		"results": map[string]any{"bindings": bindings},
	})
}

func newTestFetcher(t *testing.T) *Fetcher {
	t.Helper()
	return New(Config{ScratchDir: t.TempDir(), UserAgent: "tabulae-test"}, nil, nil)
}

func TestFetchFollowsPagesUntilShortPage(t *testing.T) {
	endpoint := &stubEndpoint{pageSizes: []int{3, 3, 3, 1}}
	server := httptest.NewServer(endpoint)
	defer server.Close()

	result, err := newTestFetcher(t).Fetch(context.Background(), "numbers", "SELECT ?n WHERE { ?n ?p ?o }", directive.Set{
		Endpoint: server.URL,
		PageSize: 3,
	})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	defer func() { _ = result.Cleanup() }()

	if diff := cmp.Diff([]int{0, 3, 6, 9}, endpoint.offsets); diff != "" {
		t.Fatalf("offsets mismatch (-want +got):\n%s", diff)
	}
	if result.Total != 10 {
		t.Fatalf("Total = %d, want 10", result.Total)
	}
	if len(result.Pages) != 4 {
		t.Fatalf("len(Pages) = %d, want 4", len(result.Pages))
	}
	for i, page := range result.Pages {
		if page.Offset != 3*i {
			t.Fatalf("page %d offset = %d", i, page.Offset)
		}
		_, count, err := results.ReadFile(page.Path, nil)
		if err != nil {
			t.Fatalf("ReadFile(%s) error = %v", page.Path, err)
		}
		if count != page.Count {
			t.Fatalf("spilled page %d has %d bindings, want %d", i, count, page.Count)
		}
	}

	header := endpoint.headers[0]
	if got := header.Get("Content-Type"); got != contentTypeQuery {
		t.Fatalf("Content-Type = %q", got)
	}
	if got := header.Get("Accept"); got != acceptResultsJSON {
		t.Fatalf("Accept = %q", got)
	}
	if got := header.Get("User-Agent"); got != "tabulae-test" {
		t.Fatalf("User-Agent = %q", got)
	}
}

func TestFetchStopsOnEmptyPageAfterFullPages(t *testing.T) {
	endpoint := &stubEndpoint{pageSizes: []int{2, 2, 0}}
	server := httptest.NewServer(endpoint)
	defer server.Close()

	result, err := newTestFetcher(t).Fetch(context.Background(), "even", "SELECT ?n WHERE { ?n ?p ?o }", directive.Set{
		Endpoint: server.URL,
		PageSize: 2,
	})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	defer func() { _ = result.Cleanup() }()

	if diff := cmp.Diff([]int{0, 2, 4}, endpoint.offsets); diff != "" {
		t.Fatalf("offsets mismatch (-want +got):\n%s", diff)
	}
	if result.Total != 4 {
		t.Fatalf("Total = %d, want 4", result.Total)
	}
}

func TestFetchUnpaginatedSendsQueryOnce(t *testing.T) {
	endpoint := &stubEndpoint{pageSizes: []int{5}}
	server := httptest.NewServer(endpoint)
	defer server.Close()

	query := "# endpoint: ignored\nCONSTRUCT { ?s ?p ?o } WHERE { ?s ?p ?o }"
	result, err := newTestFetcher(t).Fetch(context.Background(), "all", query, directive.Set{Endpoint: server.URL})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	defer func() { _ = result.Cleanup() }()

	if len(endpoint.bodies) != 1 || endpoint.bodies[0] != query {
		t.Fatalf("bodies = %q", endpoint.bodies)
	}
	if result.Total != 5 {
		t.Fatalf("Total = %d, want 5", result.Total)
	}
}

func TestFetchRejectsUnpageableQueryWithoutNetworkCalls(t *testing.T) {
	endpoint := &stubEndpoint{pageSizes: []int{1}}
	server := httptest.NewServer(endpoint)
	defer server.Close()

	_, err := newTestFetcher(t).Fetch(context.Background(), "graph", "CONSTRUCT { ?s ?p ?o } WHERE { ?s ?p ?o }", directive.Set{
		Endpoint: server.URL,
		PageSize: 10,
	})
	if !errors.Is(err, sparql.ErrUnsupportedQueryShape) {
		t.Fatalf("Fetch() error = %v, want ErrUnsupportedQueryShape", err)
	}
	if len(endpoint.bodies) != 0 {
		t.Fatalf("endpoint called %d time(s)", len(endpoint.bodies))
	}
}

func TestFetchSurfacesTransportErrorBody(t *testing.T) {
	scratch := t.TempDir()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, "Parse error: line 1, unexpected '}'")
	}))
	defer server.Close()

	fetcher := New(Config{ScratchDir: scratch}, server.Client(), nil)
	_, err := fetcher.Fetch(context.Background(), "broken", "SELECT ?x WHERE { ?x ?p ?o }", directive.Set{Endpoint: server.URL})

	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("Fetch() error = %v, want *TransportError", err)
	}
	if transportErr.Status != http.StatusBadRequest {
		t.Fatalf("Status = %d", transportErr.Status)
	}
	if err.Error() != "Parse error: line 1, unexpected '}'" {
		t.Fatalf("Error() = %q", err.Error())
	}

	entries, err := os.ReadDir(scratch)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("scratch dir not cleaned up: %d entries", len(entries))
	}
}

func TestFetchRejectsMalformedPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"head": {"vars": ["x"]}, "results": {"bindings": [`)
	}))
	defer server.Close()

	_, err := newTestFetcher(t).Fetch(context.Background(), "truncated", "SELECT ?x WHERE { ?x ?p ?o }", directive.Set{Endpoint: server.URL})
	if !errors.Is(err, ErrMalformedResultPayload) {
		t.Fatalf("Fetch() error = %v, want ErrMalformedResultPayload", err)
	}
}

func TestResultVarsUnionInFirstSeenOrder(t *testing.T) {
	result := Result{Pages: []results.Page{
		{Vars: []string{"a", "b"}},
		{Vars: []string{"b", "c"}},
		{Vars: []string{"a"}},
	}}
	if diff := cmp.Diff([]string{"a", "b", "c"}, result.Vars()); diff != "" {
		t.Fatalf("Vars() mismatch (-want +got):\n%s", diff)
	}
}
