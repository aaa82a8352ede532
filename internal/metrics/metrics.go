// Package metrics exposes Prometheus collectors for the acquisition pipeline.
package metrics

import (
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stage results.
const (
	ResultOK      = "ok"
	ResultSkipped = "skipped"
)

var (
	stageResultsTotal *prometheus.CounterVec
	entriesTotal      *prometheus.CounterVec
	archiveBytesTotal prometheus.Counter
	extractedFiles    prometheus.Counter
	rastersTotal      *prometheus.CounterVec
	datasetRows       prometheus.Gauge
	downloadDuration  prometheus.Histogram
	rateLimitDelay    *prometheus.HistogramVec
	httpRequests      *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		stageResultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mtxset_stage_results_total",
				Help: "Pipeline stage executions, labeled by stage and result.",
			},
			[]string{"stage", "result"},
		)

		entriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mtxset_entries_total",
				Help: "Catalog entries processed, labeled by the stage that stopped them (or completed).",
			},
			[]string{"stopped_at"},
		)

		archiveBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mtxset_archive_bytes_total",
				Help: "Total archive bytes downloaded.",
			},
		)

		extractedFiles = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mtxset_extracted_files_total",
				Help: "Validated matrix files extracted from archives.",
			},
		)

		rastersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mtxset_rasters_total",
				Help: "Sparsity rasters processed, labeled by status.",
			},
			[]string{"status"},
		)

		datasetRows = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mtxset_dataset_rows",
				Help: "Rows written by the last dataset build.",
			},
		)

		downloadDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mtxset_download_duration_seconds",
				Help:    "Histogram of archive download latencies.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		)

		rateLimitDelay = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mtxset_rate_limit_delay_seconds",
				Help:    "Time spent waiting for a request token, labeled by host.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"host"},
		)

		httpRequests = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mtxset_http_request_duration_seconds",
				Help:    "Latency of requests to the metrics server, labeled by method, route and status.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		)
	})
}

// ObserveStage counts one stage execution.
func ObserveStage(stage, result string) {
	Init()
	stageResultsTotal.WithLabelValues(stage, result).Inc()
}

// ObserveEntry counts one processed entry; stoppedAt is "" for a completed chain.
func ObserveEntry(stoppedAt string) {
	Init()
	if stoppedAt == "" {
		stoppedAt = "none"
	}
	entriesTotal.WithLabelValues(stoppedAt).Inc()
}

// ObserveDownload records a completed archive download.
func ObserveDownload(bytes int64, seconds float64) {
	Init()
	archiveBytesTotal.Add(float64(bytes))
	downloadDuration.Observe(seconds)
}

// ObserveRateLimitDelay records a wait imposed by the request limiter.
func ObserveRateLimitDelay(host string, seconds float64) {
	Init()
	rateLimitDelay.WithLabelValues(host).Observe(seconds)
}

// ObserveExtracted counts extracted matrix files.
func ObserveExtracted(n int) {
	Init()
	extractedFiles.Add(float64(n))
}

// ObserveRaster counts one raster by status (written, exists, failed).
func ObserveRaster(status string) {
	Init()
	rastersTotal.WithLabelValues(status).Inc()
}

// SetDatasetRows records the size of the last dataset build.
func SetDatasetRows(n int) {
	Init()
	datasetRows.Set(float64(n))
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// NewRouter serves /metrics and /healthz for long-running batch jobs.
func NewRouter() http.Handler {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", Handler())
	return r
}
