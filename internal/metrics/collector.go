// Package metrics provides in-memory runtime statistics and Prometheus
// instrumentation for search runs.
package metrics

import (
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
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
	Count       int64
	TotalTimeMs int64
	AvgTimeMs   float64
	MinTimeMs   int64
	MaxTimeMs   int64
}

// Snapshot represents the run statistics at a point in time.
type Snapshot struct {
	UptimeSeconds   float64
	Trigger         *OperationSnapshot
	Poll            *OperationSnapshot
	Stream          *OperationSnapshot
	Insert          *OperationSnapshot
	Windows         map[string]int64
	RecordsInserted int64
}

// Operation names for the collector.
const (
	OpTrigger = "trigger"
	OpPoll    = "poll"
	OpStream  = "stream"
	OpInsert  = "insert"
)

// Collector aggregates in-memory runtime statistics and mirrors them into
// Prometheus vectors on its own registry.
// All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
	windows   map[string]int64
	inserted  int64

	registry        *prometheus.Registry
	windowsTotal    *prometheus.CounterVec
	recordsInserted *prometheus.CounterVec
	searchPolls     *prometheus.CounterVec
	opDuration      *prometheus.HistogramVec
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	c := &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
		windows:   make(map[string]int64),
		registry:  prometheus.NewRegistry(),
		windowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arielsync_windows_total",
				Help: "Processed search windows by outcome",
			},
			[]string{"outcome"},
		),
		recordsInserted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arielsync_records_inserted_total",
				Help: "Records persisted to the document store by query",
			},
			[]string{"query"},
		),
		searchPolls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arielsync_search_polls_total",
				Help: "Search status polls by result",
			},
			[]string{"result"},
		),
		opDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arielsync_operation_duration_seconds",
				Help:    "Duration of trigger, poll, stream and insert operations",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
			},
			[]string{"op"},
		),
	}
	c.registry.MustRegister(c.windowsTotal, c.recordsInserted, c.searchPolls, c.opDuration)
	return c
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
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

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	c.opDuration.WithLabelValues(op).Observe(duration.Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// RecordWindow counts a finished window by outcome.
func (c *Collector) RecordWindow(outcome string) {
	c.windowsTotal.WithLabelValues(outcome).Inc()

	c.mu.Lock()
	c.windows[outcome]++
	c.mu.Unlock()
}

// RecordInserted adds n persisted records for query.
func (c *Collector) RecordInserted(query string, n int) {
	if n <= 0 {
		return
	}
	c.recordsInserted.WithLabelValues(query).Add(float64(n))

	c.mu.Lock()
	c.inserted += int64(n)
	c.mu.Unlock()
}

// RecordPoll counts a status poll by result, e.g. "completed" or "error".
func (c *Collector) RecordPoll(result string) {
	c.searchPolls.WithLabelValues(result).Inc()
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}

	return &OperationSnapshot{
		Count:       m.Count,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	windows := make(map[string]int64, len(c.windows))
	for k, v := range c.windows {
		windows[k] = v
	}

	return Snapshot{
		UptimeSeconds:   time.Since(c.startTime).Seconds(),
		Trigger:         snapshotOp(c.ops[OpTrigger]),
		Poll:            snapshotOp(c.ops[OpPoll]),
		Stream:          snapshotOp(c.ops[OpStream]),
		Insert:          snapshotOp(c.ops[OpInsert]),
		Windows:         windows,
		RecordsInserted: c.inserted,
	}
}
