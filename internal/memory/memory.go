package memory

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"media-thumbnailer/internal/logging"
	"media-thumbnailer/internal/metrics"
)

var log = logging.Tag("Memory")

// Config holds memory monitor configuration
type Config struct {
	// MemoryLimitBytes is the soft memory limit (0 = use GOMEMLIMIT or no limit)
	MemoryLimitBytes int64

	// HighWaterMark is the usage ratio at which a paused monitor resumes (0.0-1.0)
	HighWaterMark float64

	// CriticalWaterMark is the usage ratio at which new decodes are held back (0.0-1.0)
	CriticalWaterMark float64

	// CheckInterval is how often to sample memory usage
	CheckInterval time.Duration
}

// DefaultConfig returns sensible defaults for memory management
func DefaultConfig() Config {
	return Config{
		HighWaterMark:     0.7,
		CriticalWaterMark: 0.85,
		CheckInterval:     2 * time.Second,
	}
}

// Monitor samples heap usage and holds back new decodes while usage is
// critical.
type Monitor struct {
	config Config
	limit  int64

	stopChan chan struct{}
	stopOnce sync.Once

	mu        sync.RWMutex
	current   uint64
	isPaused  bool
	pauseChan chan struct{}
}

// NewMonitor creates a new memory monitor
func NewMonitor(config Config) *Monitor {
	limit := config.MemoryLimitBytes

	if limit == 0 {
		if goMemLimit := debug.SetMemoryLimit(-1); goMemLimit > 0 && goMemLimit < 1<<62 {
			limit = goMemLimit
			log.Info("Memory monitor using GOMEMLIMIT: %s", formatBytes(limit))
		}
	}

	if limit == 0 {
		log.Debug("Memory monitor: no memory limit configured, backpressure disabled")
	}

	return &Monitor{
		config:    config,
		limit:     limit,
		stopChan:  make(chan struct{}),
		pauseChan: make(chan struct{}),
	}
}

// Start begins monitoring memory usage
func (m *Monitor) Start() {
	if m.limit == 0 {
		return
	}

	go m.monitorLoop()
}

// Stop stops the memory monitor. Waiters are released.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
}

func (m *Monitor) monitorLoop() {
	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			var stats runtime.MemStats
			runtime.ReadMemStats(&stats)
			m.observe(stats.Alloc)
		case <-m.stopChan:
			return
		}
	}
}

// observe applies one heap sample to the pause state.
func (m *Monitor) observe(alloc uint64) {
	if m.limit <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.current = alloc
	usage := float64(alloc) / float64(m.limit)
	metrics.MemoryUsageRatio.Set(usage)

	switch {
	case usage >= m.config.CriticalWaterMark && !m.isPaused:
		log.Warn("Memory critical (%.1f%% of limit), holding new decodes", usage*100)
		m.isPaused = true
		metrics.MemoryPaused.Set(1)
		metrics.MemoryGCPauses.Inc()
		go runtime.GC()
	case usage < m.config.HighWaterMark && m.isPaused:
		log.Info("Memory recovered (%.1f%% of limit), resuming decodes", usage*100)
		m.isPaused = false
		metrics.MemoryPaused.Set(0)
		close(m.pauseChan)
		m.pauseChan = make(chan struct{})
	}
}

// Wait blocks while memory usage is critical. It returns nil once decoding
// may proceed (or the monitor is stopped) and ctx.Err() if ctx ends first.
// A nil Monitor never blocks.
func (m *Monitor) Wait(ctx context.Context) error {
	if m == nil {
		return nil
	}

	m.mu.RLock()
	if !m.isPaused {
		m.mu.RUnlock()
		return nil
	}
	pauseChan := m.pauseChan
	m.mu.RUnlock()

	select {
	case <-pauseChan:
		return nil
	case <-m.stopChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsPaused returns true while new decodes are held back
func (m *Monitor) IsPaused() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isPaused
}

// GetUsage returns current memory usage as a ratio of the limit (0.0-1.0).
// Returns 0 if no limit is configured.
func (m *Monitor) GetUsage() float64 {
	if m.limit == 0 {
		return 0
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return float64(m.current) / float64(m.limit)
}

// Limit returns the limit the monitor works against, 0 if disabled.
func (m *Monitor) Limit() int64 {
	return m.limit
}
