package metrics

import (
	"sync"
	"time"
)

// CallStats aggregates per-service execution counters for the service
// status endpoint. Prometheus keeps the time series; this keeps the
// running totals the API reports directly.
type CallStats struct {
	mu       sync.RWMutex
	services map[string]*callEntry
}

type callEntry struct {
	total   int64
	success int64
	failed  int64
	elapsed time.Duration
}

// CallSnapshot is one service's aggregate counters.
type CallSnapshot struct {
	Total          int64         `json:"total_calls"`
	Success        int64         `json:"successful_calls"`
	Failed         int64         `json:"failed_calls"`
	AverageLatency time.Duration `json:"-"`
}

func NewCallStats() *CallStats {
	return &CallStats{services: make(map[string]*callEntry)}
}

func (c *CallStats) Record(service string, success bool, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.services[service]
	if !ok {
		entry = &callEntry{}
		c.services[service] = entry
	}
	entry.total++
	if success {
		entry.success++
	} else {
		entry.failed++
	}
	entry.elapsed += duration
}

// Snapshot returns the aggregates for one service; the zero snapshot
// for services never called.
func (c *CallStats) Snapshot(service string) CallSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.services[service]
	if !ok {
		return CallSnapshot{}
	}
	snap := CallSnapshot{
		Total:   entry.total,
		Success: entry.success,
		Failed:  entry.failed,
	}
	if entry.total > 0 {
		snap.AverageLatency = entry.elapsed / time.Duration(entry.total)
	}
	return snap
}

// Forget drops the counters for a deregistered service.
func (c *CallStats) Forget(service string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.services, service)
}
