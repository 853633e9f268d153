package tabulae

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func lookupFrom(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func writeQueryFile(t *testing.T, queriesDir, name, text string) {
	t.Helper()
	dir := filepath.Join(queriesDir, "layer1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name+".rq"), []byte(text), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func TestRunBuildShowAndList(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/sparql-results+json")
		_, _ = w.Write([]byte(`{"head":{"vars":["city","population"]},"results":{"bindings":[
			{"city":{"type":"uri","value":"http://example/vienna"},"population":{"type":"literal","value":"1982097","datatype":"http://www.w3.org/2001/XMLSchema#integer"}},
			{"city":{"type":"uri","value":"http://example/graz"},"population":{"type":"literal","value":"298479","datatype":"http://www.w3.org/2001/XMLSchema#integer"}}
		]}}`))
	}))
	defer srv.Close()

	root := t.TempDir()
	queries := filepath.Join(root, "queries")
	dist := filepath.Join(root, "dist")
	writeQueryFile(t, queries, "cities", "# endpoint: "+srv.URL+"\nSELECT ?city ?population WHERE { ?city a <http://example/City> }\n")
	textfile := filepath.Join(root, "tabulae.prom")

	lookup := lookupFrom(map[string]string{
		"TABULAE_PROFILE":          "test",
		"TABULAE_SCRATCH_DIR":      root,
		"TABULAE_LOG_FORMAT":       "text",
		"TABULAE_METRICS_TEXTFILE": textfile,
	})

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{"--queries-dir", queries, "--dist-dir", dist, "build"}, Options{
		Stdout:     &stdout,
		Stderr:     &stderr,
		Lookup:     lookup,
		HTTPClient: srv.Client(),
	})
	if code != 0 {
		t.Fatalf("build exit code = %d, stderr=%s", code, stderr.String())
	}
	if requests != 1 {
		t.Fatalf("requests = %d, want 1", requests)
	}
	if !strings.Contains(stdout.String(), "built 1, skipped 0, deleted 0") {
		t.Fatalf("build output = %q", stdout.String())
	}
	for _, ext := range []string{"csv", "tsv", "parquet"} {
		if _, err := os.Stat(filepath.Join(dist, "layer1", "cities."+ext)); err != nil {
			t.Fatalf("export %s missing: %v", ext, err)
		}
	}
	metrics, err := os.ReadFile(textfile)
	if err != nil {
		t.Fatalf("ReadFile(metrics) error = %v", err)
	}
	if !strings.Contains(string(metrics), "tabulae_query_builds_total") {
		t.Fatalf("metrics textfile lacks build counter:\n%s", metrics)
	}

	stdout.Reset()
	code = Run(context.Background(), []string{"--queries-dir", queries, "--dist-dir", dist, "show", "cities"}, Options{Stdout: &stdout, Stderr: &stderr, Lookup: lookup})
	if code != 0 {
		t.Fatalf("show exit code = %d, stderr=%s", code, stderr.String())
	}
	for _, want := range []string{"table cities (2 rows)", "  city VARCHAR", "  population BIGINT", "# endpoint: " + srv.URL} {
		if !strings.Contains(stdout.String(), want) {
			t.Fatalf("show output missing %q:\n%s", want, stdout.String())
		}
	}

	stdout.Reset()
	code = Run(context.Background(), []string{"--dist-dir", dist, "list"}, Options{Stdout: &stdout, Stderr: &stderr, Lookup: lookup})
	if code != 0 {
		t.Fatalf("list exit code = %d, stderr=%s", code, stderr.String())
	}
	if !strings.HasPrefix(stdout.String(), "cities\t") {
		t.Fatalf("list output = %q", stdout.String())
	}

	stdout.Reset()
	code = Run(context.Background(), []string{"--queries-dir", queries, "--dist-dir", dist, "build"}, Options{Stdout: &stdout, Stderr: &stderr, Lookup: lookup, HTTPClient: srv.Client()})
	if code != 0 {
		t.Fatalf("second build exit code = %d, stderr=%s", code, stderr.String())
	}
	if requests != 1 {
		t.Fatalf("unchanged query refetched, requests = %d", requests)
	}
}

func TestRunReportsEndpointBodyOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("SPARQL syntax error at line 2"))
	}))
	defer srv.Close()

	root := t.TempDir()
	queries := filepath.Join(root, "queries")
	writeQueryFile(t, queries, "broken", "# endpoint: "+srv.URL+"\nSELECT ?x WHERE { ?x ?p }\n")

	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"build"}, Options{
		Stderr: &stderr,
		Lookup: lookupFrom(map[string]string{
			"TABULAE_PROFILE":     "test",
			"TABULAE_QUERIES_DIR": queries,
			"TABULAE_DIST_DIR":    filepath.Join(root, "dist"),
			"TABULAE_SCRATCH_DIR": root,
			"TABULAE_LOG_LEVEL":   "error",
		}),
		HTTPClient: srv.Client(),
	})
	if code != 1 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if !strings.Contains(stderr.String(), "error: SPARQL syntax error at line 2\n") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRunUsageErrors(t *testing.T) {
	lookup := lookupFrom(map[string]string{"TABULAE_PROFILE": "test"})
	cases := [][]string{
		{},
		{"frobnicate"},
		{"show"},
	}
	for _, args := range cases {
		var stderr bytes.Buffer
		code := Run(context.Background(), args, Options{Stderr: &stderr, Lookup: lookup})
		if code != 2 {
			t.Fatalf("Run(%q) exit code = %d, stderr=%s", args, code, stderr.String())
		}
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"build"}, Options{
		Stderr: &stderr,
		Lookup: lookupFrom(map[string]string{"TABULAE_PROFILE": "staging"}),
	})
	if code != 1 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stderr.String(), "config error") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}
