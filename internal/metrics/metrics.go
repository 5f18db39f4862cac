package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_thumbnailer_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_thumbnailer_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_thumbnailer_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Request dispatcher metrics
var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_thumbnailer_requests_total",
			Help: "Total number of channel requests by operation and outcome",
		},
		[]string{"op", "outcome"}, // outcome: "success" or an error kind
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_thumbnailer_request_duration_seconds",
			Help:    "Time from submission to completion in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		},
		[]string{"op"},
	)

	RequestsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_thumbnailer_requests_in_flight",
			Help: "Number of accepted requests without a delivered outcome",
		},
		[]string{"op"},
	)

	PoolWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "media_thumbnailer_pool_wait_duration_seconds",
			Help:    "Time spent waiting for a worker slot",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		},
	)

	AbandonedWorkers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_thumbnailer_abandoned_workers_total",
			Help: "Workers still running when the grace window after a timeout ran out",
		},
	)

	WorkersUnwinding = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_thumbnailer_workers_unwinding",
			Help: "Abandoned workers that have not returned yet",
		},
	)
)

// Decoder metrics
var (
	TierAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_thumbnailer_decoder_tier_attempts_total",
			Help: "Frame decode attempts by tier and result",
		},
		[]string{"tier", "result"}, // result: "success", "unsupported", "error", "unusable", "canceled"
	)

	TierDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_thumbnailer_decoder_tier_duration_seconds",
			Help:    "Frame decode duration by tier in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"tier"},
	)

	OpenHandles = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_thumbnailer_decoder_open_handles",
			Help: "Native decoder handles currently acquired, by kind",
		},
		[]string{"kind"},
	)

	HandlesAcquiredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_thumbnailer_decoder_handles_acquired_total",
			Help: "Native decoder handles acquired, by kind",
		},
		[]string{"kind"},
	)
)

// Image pipeline and metadata metrics
var (
	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_thumbnailer_pipeline_duration_seconds",
			Help:    "Rotate, scale and encode duration by backend in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"backend"},
	)

	PipelineOutputBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "media_thumbnailer_pipeline_output_bytes",
			Help:    "Size of encoded JPEG thumbnails before base64",
			Buckets: prometheus.ExponentialBuckets(512, 2, 12),
		},
	)

	ProbeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_thumbnailer_probe_duration_seconds",
			Help:    "ffprobe duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"status"},
	)
)

// Memory metrics
var (
	GoMemLimit = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_thumbnailer_go_memlimit_bytes",
			Help: "Configured GOMEMLIMIT in bytes (0 if unset)",
		},
	)

	GoMemAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_thumbnailer_go_memory_alloc_bytes",
			Help: "Current Go heap allocation in bytes",
		},
	)

	GoMemSysBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_thumbnailer_go_memory_sys_bytes",
			Help: "Total memory obtained from the OS in bytes",
		},
	)

	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_thumbnailer_memory_usage_ratio",
			Help: "Heap allocation as a ratio of the memory limit (0.0-1.0)",
		},
	)

	MemoryPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_thumbnailer_memory_paused",
			Help: "Whether new decodes are held back due to memory pressure (1 = paused)",
		},
	)

	MemoryGCPauses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_thumbnailer_memory_gc_pauses_total",
			Help: "Number of times processing was paused for memory pressure",
		},
	)
)

// Filesystem metrics
var (
	FilesystemOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_thumbnailer_filesystem_operation_duration_seconds",
			Help:    "Filesystem operation duration by volume and operation",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"volume", "operation"},
	)

	FilesystemOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_thumbnailer_filesystem_operation_errors_total",
			Help: "Filesystem operation errors by volume and operation",
		},
		[]string{"volume", "operation"},
	)

	FilesystemRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_thumbnailer_filesystem_retry_attempts_total",
			Help: "Retries after NFS stale file handle errors",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetrySuccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_thumbnailer_filesystem_retry_success_total",
			Help: "Operations that succeeded after at least one retry",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_thumbnailer_filesystem_retry_failures_total",
			Help: "Operations that failed after exhausting retries",
		},
		[]string{"operation", "volume"},
	)

	FilesystemStaleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_thumbnailer_filesystem_stale_errors_total",
			Help: "ESTALE errors observed",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_thumbnailer_filesystem_retry_duration_seconds",
			Help:    "Total time spent in a retried filesystem operation",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"operation", "volume"},
	)
)

// Application info metric
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_thumbnailer_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// SetAppInfo sets the application info metric
func SetAppInfo(version, commit, goVersion string) {
	AppInfo.WithLabelValues(version, commit, goVersion).Set(1)
}
