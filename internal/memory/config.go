package memory

import (
	"math"
	"os"
	"runtime/debug"
	"strconv"

	"media-thumbnailer/internal/logging"
)

// DefaultMemoryRatio is the share of the container limit given to the Go
// heap. The rest is left for libav, libvips, ffmpeg/ffprobe children and
// goroutine stacks.
const DefaultMemoryRatio = 0.85

// ConfigResult holds the result of memory configuration
type ConfigResult struct {
	// Configured indicates whether GOMEMLIMIT was set
	Configured bool

	// Source is "GOMEMLIMIT", "MEMORY_LIMIT", or "none"
	Source string

	// ContainerLimit is the container memory limit in bytes (0 if not set)
	ContainerLimit int64

	// GoMemLimit is the configured GOMEMLIMIT in bytes (0 if not set)
	GoMemLimit int64

	// Ratio is the memory ratio used (0 if not applicable)
	Ratio float64
}

// Configure sets the Go soft memory limit from a container limit in bytes
// (MEMORY_LIMIT, usually injected through the Kubernetes Downward API) and a
// heap ratio (MEMORY_RATIO). An explicit GOMEMLIMIT environment variable
// takes precedence and is left untouched. Call early in main.
func Configure(containerLimit int64, ratio float64) ConfigResult {
	if env := os.Getenv("GOMEMLIMIT"); env != "" {
		result := ConfigResult{Source: "GOMEMLIMIT"}
		if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < math.MaxInt64 {
			result.Configured = true
			result.GoMemLimit = limit
		}
		logging.Info("GOMEMLIMIT set via environment: %s", env)
		return result
	}

	if containerLimit <= 0 {
		logging.Debug("MEMORY_LIMIT not set, GOMEMLIMIT will not be configured automatically")
		return ConfigResult{Source: "none"}
	}

	if ratio <= 0 || ratio > 1.0 {
		if ratio != 0 {
			logging.Warn("MEMORY_RATIO %.2f out of range (0.0-1.0), using default %.2f", ratio, DefaultMemoryRatio)
		}
		ratio = DefaultMemoryRatio
	}

	goMemLimit := int64(float64(containerLimit) * ratio)
	debug.SetMemoryLimit(goMemLimit)

	logging.Info("Configured GOMEMLIMIT: %s (%.1f%% of %s container limit)",
		formatBytes(goMemLimit),
		ratio*100,
		formatBytes(containerLimit),
	)

	return ConfigResult{
		Configured:     true,
		Source:         "MEMORY_LIMIT",
		ContainerLimit: containerLimit,
		GoMemLimit:     goMemLimit,
		Ratio:          ratio,
	}
}

// formatBytes formats bytes into human-readable string
func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return strconv.FormatInt(b, 10) + " B"
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return strconv.FormatFloat(float64(b)/float64(div), 'f', 1, 64) + " " + string("KMGTPE"[exp]) + "iB"
}
