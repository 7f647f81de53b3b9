// Package metrics holds the Prometheus instruments of the conversion pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var recognitionAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "docuconvert_recognition_attempts_total",
	Help: "Recognition service calls labelled by result kind",
}, []string{"result"})

var recognitionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "docuconvert_recognition_latency_seconds",
	Help:    "Latency of single recognition service calls.",
	Buckets: []float64{.5, 1, 5, 15, 30, 60, 120, 300, 600},
}, []string{"result"})

var pipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "docuconvert_pipeline_runs_total",
	Help: "Completed pipeline runs labelled by outcome",
}, []string{"status"})

var pipelineDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "docuconvert_pipeline_duration_seconds",
	Help:    "Total time spent in ProcessDocument.",
	Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900, 1800},
}, []string{"status"})

var splitParts = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "docuconvert_split_parts",
	Help:    "Number of sub-documents produced per input.",
	Buckets: []float64{1, 2, 3, 5, 10, 20, 50},
})

var assetsFetched = promauto.NewCounter(prometheus.CounterOpts{
	Name: "docuconvert_assets_fetched_total",
	Help: "Assets downloaded and written to the output directory",
})

var assetsFailed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "docuconvert_assets_failed_total",
	Help: "Assets skipped with a warning",
})

var activeRuns = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "docuconvert_active_runs",
	Help: "Number of pipeline runs in progress",
})

// CaptureRecognitionAttempt records one call to the OCR service by result.
func CaptureRecognitionAttempt(result string, elapsed time.Duration) {
	recognitionAttempts.WithLabelValues(result).Inc()
	recognitionLatency.WithLabelValues(result).Observe(elapsed.Seconds())
}

// CapturePipelineRun records a finished run by terminal status.
func CapturePipelineRun(status string, elapsed time.Duration) {
	pipelineRuns.WithLabelValues(status).Inc()
	pipelineDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

// ObserveSplitParts records how many sub-documents a plan produced.
func ObserveSplitParts(n int) {
	splitParts.Observe(float64(n))
}

// IncrementAssetsFetched counts one downloaded asset.
func IncrementAssetsFetched() {
	assetsFetched.Inc()
}

// IncrementAssetsFailed counts one skipped asset.
func IncrementAssetsFailed() {
	assetsFailed.Inc()
}

// IncrementActiveRuns marks a run as started.
func IncrementActiveRuns() {
	activeRuns.Inc()
}

// DecrementActiveRuns marks a run as finished.
func DecrementActiveRuns() {
	activeRuns.Dec()
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
