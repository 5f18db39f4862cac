package workers

import (
	"runtime"
)

// DefaultLimit caps the automatic worker count on large hosts. Each worker
// may hold a full decoded frame and a native decoder.
const DefaultLimit = 8

// Count returns the optimal number of workers for a given task type.
// It respects container CPU limits via GOMAXPROCS (Go 1.19+).
//
// The multiplier adjusts for task characteristics:
//   - 1.0 for CPU-bound tasks
//   - 2.0 for I/O-bound tasks
//
// The limit parameter caps the worker count. Use 0 for no limit.
func Count(multiplier float64, limit int) int {
	available := runtime.GOMAXPROCS(0)

	workers := int(float64(available) * multiplier)

	if workers < 1 {
		workers = 1
	}
	if limit > 0 && workers > limit {
		workers = limit
	}

	return workers
}

// ForCPU returns worker count for CPU-bound tasks (1 per CPU).
func ForCPU(limit int) int {
	return Count(1.0, limit)
}

// ForIO returns worker count for I/O-bound tasks (2 per CPU).
func ForIO(limit int) int {
	return Count(2.0, limit)
}

// Resolve applies an operator override (THUMBNAIL_WORKERS) on top of the
// CPU-based default. override <= 0 means automatic.
func Resolve(override, limit int) int {
	if override > 0 {
		return override
	}
	return ForCPU(limit)
}
