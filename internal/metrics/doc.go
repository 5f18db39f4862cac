// Package metrics provides Prometheus instrumentation for the thumbnail service.
//
// All metrics are registered with the default registry through promauto and
// are prefixed with "media_thumbnailer_".
//
// # Metric Categories
//
// ## HTTP Metrics
//
//   - HTTPRequestsTotal: Counter of requests by method, path, and status
//   - HTTPRequestDuration: Histogram of request duration by method and path
//   - HTTPRequestsInFlight: Gauge of currently processing requests
//
// ## Dispatcher Metrics
//
//   - RequestsTotal: Counter by op (thumbnail/metadata) and outcome (success or error kind)
//   - RequestDuration: Histogram of submission-to-completion time by op
//   - RequestsInFlight: Gauge of accepted requests without an outcome
//   - PoolWaitDuration: Histogram of time spent waiting for a worker slot
//   - AbandonedWorkers: Counter of workers still running after the grace window
//   - WorkersUnwinding: Gauge of abandoned workers that have not returned
//
// ## Decoder Metrics
//
//   - TierAttemptsTotal: Counter by tier and result
//   - TierDuration: Histogram of decode time by tier
//   - OpenHandles: Gauge of native handles currently held, by kind
//   - HandlesAcquiredTotal: Counter of native handles acquired, by kind
//
// ## Pipeline and Probe Metrics
//
//   - PipelineDuration: Histogram of rotate/scale/encode time by backend
//   - PipelineOutputBytes: Histogram of JPEG sizes
//   - ProbeDuration: Histogram of ffprobe run time by status
//
// ## Memory Metrics
//
//   - GoMemLimit, GoMemAllocBytes, GoMemSysBytes: sampled by the Collector
//   - MemoryUsageRatio, MemoryPaused, MemoryGCPauses: set by the memory monitor
//
// ## Filesystem Metrics
//
// Recorded through the observer returned by NewFilesystemObserver, labelled by
// volume and operation.
//
// # Collector
//
// [Collector] samples Go runtime memory and a [StatsProvider] (the dispatcher)
// on an interval:
//
//	collector := metrics.NewCollector(dispatcher, 15*time.Second)
//	collector.Start()
//	defer collector.Stop()
//
// # Prometheus Queries
//
// Thumbnail timeout rate:
//
//	sum(rate(media_thumbnailer_requests_total{op="thumbnail",outcome="Timeout"}[5m]))
//	/ sum(rate(media_thumbnailer_requests_total{op="thumbnail"}[5m]))
//
// Share of decodes falling through to the slow tier:
//
//	rate(media_thumbnailer_decoder_tier_attempts_total{tier="libav"}[5m])
//	/ rate(media_thumbnailer_decoder_tier_attempts_total{tier="platform"}[5m])
//
// Leaked native handles (should stay at zero between requests):
//
//	sum(media_thumbnailer_decoder_open_handles)
package metrics
