// Package handlers provides the HTTP host bridge for the thumbnailer.
//
// It includes handlers for:
//   - Method channel calls (POST /api/channel/{method})
//   - Health, liveness and readiness probes
//   - Version and build information
//   - Prometheus metrics
package handlers
