// Package main provides the entry point for the media thumbnailer service.
//
// The service extracts a single representative frame from a local video,
// scales it to the requested size and returns it as a base64 JPEG. It also
// reports a small fixed set of container and stream metadata. Both are
// reached through a method channel exposed over HTTP.
//
// # Application Lifecycle
//
//  1. Configuration Loading: optional YAML file, then environment variables
//  2. Memory Configuration: sets GOMEMLIMIT from MEMORY_LIMIT and MEMORY_RATIO
//  3. Tracing: OTLP/HTTP exporter when OTEL_ENDPOINT is set
//  4. Component Initialization:
//     - Image pipeline (Go or libvips backend)
//     - Decoder chain built from DECODER_TIERS
//     - ffprobe metadata extractor
//     - Memory monitor and worker pool
//     - Request dispatcher and metrics collector
//  5. HTTP Server Setup: routes, middleware, metrics server
//  6. Main loop: completion callbacks run on the main goroutine
//  7. Graceful Shutdown on SIGINT/SIGTERM
//
// # HTTP Server
//
//  1. Main Server (default port 8080):
//     - POST /api/channel/{method} with generateThumbnail or extractMetadata
//     - /health, /healthz, /livez, /readyz, /version
//
//  2. Metrics Server (default port 9090, optional):
//     - Prometheus metrics endpoint (/metrics)
//     - Health check endpoint (/health)
//
// # Environment Variables
//
//   - PORT, METRICS_PORT, METRICS_ENABLED
//   - THUMBNAIL_DEADLINE (default 10s), THUMBNAIL_GRACE (default 2s)
//   - THUMBNAIL_WORKERS: decode concurrency (default: one per CPU, at most 8)
//   - DECODER_TIERS: ordered tier list (default: platform,libav)
//   - PIPELINE_BACKEND: go or vips; JPEG_QUALITY: 80-85 (default 82)
//   - FFMPEG_PATH, FFPROBE_PATH
//   - MEDIA_ROOTS: optional comma separated list of allowed directories
//   - OTEL_ENDPOINT: OTLP/HTTP traces endpoint (empty disables tracing)
//   - LOG_LEVEL, LOG_FORMAT, LOG_COLOR, LOG_HEALTH_CHECKS
//   - MEMORY_LIMIT, MEMORY_RATIO, GOMEMLIMIT
//   - CONFIG_FILE: YAML file read before the environment
//
// # Graceful Shutdown
//
//  1. Mark the service not ready
//  2. Shut down the HTTP server, letting in-flight calls finish
//  3. Close the dispatcher; remaining requests complete with Timeout
//  4. Stop the metrics collector and memory monitor
//  5. Shut down the metrics server
//  6. Flush traces and stop libvips
//  7. Drain and stop the main loop
//
// # Build Requirements
//
// The libav tier needs CGO and the FFmpeg shared libraries. The vips backend
// needs libvips. The optional VLC tier is compiled in with the vlc build tag:
//
//	go build -tags vlc -o media-thumbnailer ./cmd/media-thumbnailer
package main
