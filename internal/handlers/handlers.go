package handlers

import (
	"sync/atomic"
	"time"

	"media-thumbnailer/internal/channel"
	"media-thumbnailer/internal/metrics"
	"media-thumbnailer/internal/thumbnail"
)

// MethodHandler runs one method channel call.
type MethodHandler interface {
	Handle(call channel.MethodCall, result channel.Result) *thumbnail.Request
}

type Handlers struct {
	methods   MethodHandler
	stats     metrics.StatsProvider
	startTime time.Time
	ready     atomic.Bool
}

// New creates the HTTP handlers. stats may be nil.
func New(methods MethodHandler, stats metrics.StatsProvider) *Handlers {
	return &Handlers{
		methods:   methods,
		stats:     stats,
		startTime: time.Now(),
	}
}

// SetReady flips the readiness reported by /readyz and /health.
func (h *Handlers) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the service accepts traffic.
func (h *Handlers) IsReady() bool {
	return h.ready.Load()
}
