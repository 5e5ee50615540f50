package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	eventsProcessed atomic.Uint64
	parseErrors     atomic.Uint64
	resyncs         atomic.Uint64
	droppedEvents   atomic.Uint64
	errorsTotal     atomic.Uint64

	// Latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeStreams atomic.Int32
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordEvent records an event processing with latency.
func (m *Metrics) RecordEvent(latencyNs int64) {
	m.eventsProcessed.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordParseError records a malformed inbound payload.
func (m *Metrics) RecordParseError() {
	m.parseErrors.Add(1)
}

// RecordResync records an order book resync (sequence gap, crossed book
// or connection reset).
func (m *Metrics) RecordResync() {
	m.resyncs.Add(1)
}

// RecordDropped records an event discarded on inbox overflow.
func (m *Metrics) RecordDropped() {
	m.droppedEvents.Add(1)
}

// RecordError records a generic error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// IncrementStreams increments active stream connections by 1.
func (m *Metrics) IncrementStreams() {
	m.activeStreams.Add(1)
}

// DecrementStreams decrements active stream connections by 1.
func (m *Metrics) DecrementStreams() {
	m.activeStreams.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	EventsProcessed uint64
	ParseErrors     uint64
	Resyncs         uint64
	DroppedEvents   uint64
	ErrorsTotal     uint64
	AvgLatencyNs    int64
	ActiveStreams   int32
	Timestamp       time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		EventsProcessed: m.eventsProcessed.Load(),
		ParseErrors:     m.parseErrors.Load(),
		Resyncs:         m.resyncs.Load(),
		DroppedEvents:   m.droppedEvents.Load(),
		ErrorsTotal:     m.errorsTotal.Load(),
		AvgLatencyNs:    avgLatency,
		ActiveStreams:   m.activeStreams.Load(),
		Timestamp:       time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.eventsProcessed.Store(0)
	m.parseErrors.Store(0)
	m.resyncs.Store(0)
	m.droppedEvents.Store(0)
	m.errorsTotal.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.activeStreams.Store(0)
}
