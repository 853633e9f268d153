package observability

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	BuildStatusBuilt   = "built"
	BuildStatusSkipped = "skipped"
	BuildStatusFailed  = "failed"
)

var (
	sparqlRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabulae_sparql_requests_total",
			Help: "Total number of SPARQL endpoint requests by response status.",
		},
		[]string{"status"},
	)
	sparqlRequestDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tabulae_sparql_request_duration_seconds",
			Help:    "SPARQL endpoint request latency including body download.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)
	sparqlPagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tabulae_sparql_pages_total",
			Help: "Total number of result pages stored to scratch.",
		},
	)
	sparqlBindingsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tabulae_sparql_bindings_total",
			Help: "Total number of bindings received from SPARQL endpoints.",
		},
	)
	queryBuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabulae_query_builds_total",
			Help: "Total number of query builds by outcome.",
		},
		[]string{"status"},
	)
	queryBuildDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tabulae_query_build_duration_seconds",
			Help:    "Wall time of a single query build from fetch to catalog commit.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		},
	)
	tablesDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tabulae_tables_dropped_total",
			Help: "Total number of tables dropped because their query file was removed.",
		},
	)
	lastRunTimestampSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tabulae_last_run_timestamp_seconds",
			Help: "Unix time at which the last build run finished.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		sparqlRequestsTotal,
		sparqlRequestDurationSeconds,
		sparqlPagesTotal,
		sparqlBindingsTotal,
		queryBuildsTotal,
		queryBuildDurationSeconds,
		tablesDroppedTotal,
		lastRunTimestampSeconds,
	)
}

// ObserveSPARQLRequest records one endpoint round trip. A status of 0 means the
// request failed before a response arrived.
func ObserveSPARQLRequest(status int, elapsed time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	sparqlRequestsTotal.WithLabelValues(label).Inc()
	sparqlRequestDurationSeconds.Observe(elapsed.Seconds())
}

func ObservePage(bindings int) {
	sparqlPagesTotal.Inc()
	if bindings > 0 {
		sparqlBindingsTotal.Add(float64(bindings))
	}
}

func ObserveQueryBuild(status string, elapsed time.Duration) {
	queryBuildsTotal.WithLabelValues(status).Inc()
	if status == BuildStatusBuilt {
		queryBuildDurationSeconds.Observe(elapsed.Seconds())
	}
}

func IncrementTablesDropped() {
	tablesDroppedTotal.Inc()
}

// WriteTextfile dumps the default registry in the node_exporter textfile
// collector format.
func WriteTextfile(path string, finishedAt time.Time) error {
	lastRunTimestampSeconds.Set(float64(finishedAt.Unix()))
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics textfile %q: %w", path, err)
	}
	return nil
}
