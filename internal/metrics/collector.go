// Package metrics provides in-memory runtime statistics collection.
package metrics

import (
	"math"
	"sync"
	"time"
)

// Operation names for the collector.
const (
	OpProbe       = "probe"
	OpSubmit      = "submit"
	OpMonitor     = "monitor"
	OpExport      = "export"
	OpUploadInput = "upload_input"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	TotalTimeMs int64   `json:"totalTimeMs"`
	AvgTimeMs   float64 `json:"avgTimeMs"`
	MinTimeMs   int64   `json:"minTimeMs"`
	MaxTimeMs   int64   `json:"maxTimeMs"`
}

// Snapshot represents the full worker statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64                       `json:"uptimeSeconds"`
	JobsCompleted int64                         `json:"jobsCompleted"`
	JobsFailed    int64                         `json:"jobsFailed"`
	Operations    map[string]OperationSnapshot `json:"operations,omitempty"`
}

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe. Stats reset on worker restart.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
	completed int64
	failed    int64
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{MinTime: time.Duration(math.MaxInt64)}
		c.ops[op] = m
	}
	return m
}

// Record adds one timed operation.
func (c *Collector) Record(op string, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += elapsed
	if elapsed < m.MinTime {
		m.MinTime = elapsed
	}
	if elapsed > m.MaxTime {
		m.MaxTime = elapsed
	}
}

// Time runs fn and records its duration under op.
func (c *Collector) Time(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	c.Record(op, time.Since(start))
	return err
}

// JobCompleted increments the completed-job counter.
func (c *Collector) JobCompleted() {
	c.mu.Lock()
	c.completed++
	c.mu.Unlock()
}

// JobFailed increments the failed-job counter.
func (c *Collector) JobFailed() {
	c.mu.Lock()
	c.failed++
	c.mu.Unlock()
}

// Snapshot returns the current statistics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		JobsCompleted: c.completed,
		JobsFailed:    c.failed,
	}

	if len(c.ops) > 0 {
		snap.Operations = make(map[string]OperationSnapshot, len(c.ops))
		for op, m := range c.ops {
			snap.Operations[op] = OperationSnapshot{
				Count:       m.Count,
				TotalTimeMs: m.TotalTime.Milliseconds(),
				AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
				MinTimeMs:   m.MinTime.Milliseconds(),
				MaxTimeMs:   m.MaxTime.Milliseconds(),
			}
		}
	}

	return snap
}
