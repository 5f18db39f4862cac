// Package startup loads configuration and produces the startup and shutdown
// log sections.
//
// # Configuration
//
// [Load] starts from [Defaults], overlays the YAML file named by CONFIG_FILE
// (gopkg.in/yaml.v3, unknown keys rejected), then overlays environment
// variables (github.com/caarlos0/env). The result is normalized and validated.
//
//   - PORT: channel HTTP port (default: 8080)
//   - METRICS_PORT: Prometheus port (default: 9090)
//   - METRICS_ENABLED: serve metrics (default: true)
//   - THUMBNAIL_DEADLINE: per-request budget (default: 10s)
//   - THUMBNAIL_GRACE: cleanup window after a timeout (default: 2s)
//   - THUMBNAIL_WORKERS: concurrent decodes, 0 = one per CPU (default: 0)
//   - DECODER_TIERS: ordered tier names (default: platform,libav)
//   - PIPELINE_BACKEND: go or vips (default: go)
//   - JPEG_QUALITY: clamped to 80-85 (default: 82)
//   - FFMPEG_PATH, FFPROBE_PATH: tool names or paths
//   - MEDIA_ROOTS: comma-separated directories requests are confined to
//   - OTEL_ENDPOINT: OTLP/HTTP endpoint, empty disables tracing
//   - LOG_LEVEL, LOG_FORMAT (text|json), LOG_COLOR, LOG_HEALTH_CHECKS
//   - MEMORY_LIMIT, MEMORY_RATIO: see package memory
//
// # Build Information
//
// Version, Commit and BuildTime are injected via ldflags and exposed through
// [GetBuildInfo].
//
// # Lifecycle Logging
//
//   - [LoadConfig]: banner, system information, effective configuration
//   - [LogMemoryConfig]: GOMEMLIMIT outcome
//   - [LogDecoderInit]: tier chain, pipeline backend, ffmpeg/ffprobe check
//   - [LogHTTPRoutes]: registered routes (debug level)
//   - [LogServerStarted], [LogShutdownInitiated], [LogShutdownComplete]
package startup
