package metrics

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"media-thumbnailer/internal/logging"
)

// StatsProvider reports point-in-time counts the collector cannot observe
// from events alone.
type StatsProvider interface {
	GetStats() Stats
}

// Stats holds the current statistics
type Stats struct {
	InFlight    int64
	Unwinding   int64
	OpenHandles int64
}

// Collector periodically collects and updates metrics
type Collector struct {
	statsProvider StatsProvider
	interval      time.Duration
	stopChan      chan struct{}
	stopOnce      sync.Once
}

// NewCollector creates a new metrics collector. provider may be nil, in
// which case only Go runtime memory is sampled.
func NewCollector(provider StatsProvider, interval time.Duration) *Collector {
	return &Collector{
		statsProvider: provider,
		interval:      interval,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start() {
	go c.collectLoop()
}

// Stop stops the metrics collection. Safe to call more than once.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

func (c *Collector) collectLoop() {
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Collector) collect() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	GoMemAllocBytes.Set(float64(ms.Alloc))
	GoMemSysBytes.Set(float64(ms.Sys))

	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < 1<<62 {
		GoMemLimit.Set(float64(limit))
	} else {
		GoMemLimit.Set(0)
	}

	if c.statsProvider == nil {
		return
	}

	stats := c.statsProvider.GetStats()
	WorkersUnwinding.Set(float64(stats.Unwinding))

	logging.Debug("Metrics collected: in_flight=%d, unwinding=%d, open_handles=%d",
		stats.InFlight, stats.Unwinding, stats.OpenHandles)
}
