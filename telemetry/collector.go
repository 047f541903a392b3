package telemetry

import (
	"sync"
	"time"
)

// SessionStat is one sampled monitoring session
type SessionStat struct {
	ConnectionID string
	Mode         string
	Cursor       int64
}

// SessionLister is implemented by the session registry
type SessionLister interface {
	SessionStats() []SessionStat
}

// MetricsCollector periodically samples sessions and updates telemetry gauges
type MetricsCollector struct {
	lister   SessionLister
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup

	// connections seen in the previous sample, so vanished ones can be zeroed
	mu   sync.Mutex
	seen map[string]struct{}
}

const defaultCollectInterval = 15 * time.Second

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(lister SessionLister, interval time.Duration) *MetricsCollector {
	if interval <= 0 {
		interval = defaultCollectInterval
	}
	return &MetricsCollector{
		lister:   lister,
		interval: interval,
		stopCh:   make(chan struct{}),
		seen:     make(map[string]struct{}),
	}
}

// Start begins the periodic collection
func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

// Stop stops the collector
func (mc *MetricsCollector) Stop() {
	close(mc.stopCh)
	mc.wg.Wait()
}

func (mc *MetricsCollector) collectLoop() {
	defer mc.wg.Done()

	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	mc.collect()

	for {
		select {
		case <-ticker.C:
			mc.collect()
		case <-mc.stopCh:
			return
		}
	}
}

// collect returns the per-mode session counts it published
func (mc *MetricsCollector) collect() map[string]int {
	if mc.lister == nil {
		return nil
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()

	byMode := map[string]int{"trigger": 0, "processlist": 0}
	current := make(map[string]struct{})

	for _, s := range mc.lister.SessionStats() {
		byMode[s.Mode]++
		current[s.ConnectionID] = struct{}{}
		SessionCursor.With(s.ConnectionID).Set(float64(s.Cursor))
	}

	for id := range mc.seen {
		if _, ok := current[id]; !ok {
			SessionCursor.With(id).Set(0)
		}
	}
	mc.seen = current

	for mode, n := range byMode {
		SessionsActive.With(mode).Set(float64(n))
	}
	return byMode
}
