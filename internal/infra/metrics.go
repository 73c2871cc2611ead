package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	ticksDispatched atomic.Uint64
	framesDropped   atomic.Uint64
	tradesExecuted  atomic.Uint64
	tradesRejected  atomic.Uint64
	reconnects      atomic.Uint64
	errorsTotal     atomic.Uint64

	// Gauges
	activeSubscriptions atomic.Int32
	feedConnected       atomic.Int32 // 1 = connected, 0 = not
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordTickDispatched records one tick fanned out to listeners.
func (m *Metrics) RecordTickDispatched() {
	m.ticksDispatched.Add(1)
}

// RecordFrameDropped records an unparseable or irrelevant upstream frame.
func (m *Metrics) RecordFrameDropped() {
	m.framesDropped.Add(1)
}

// RecordTradeExecuted records a completed buy or sell.
func (m *Metrics) RecordTradeExecuted() {
	m.tradesExecuted.Add(1)
}

// RecordTradeRejected records a trade rejected before any write.
func (m *Metrics) RecordTradeRejected() {
	m.tradesRejected.Add(1)
}

// RecordReconnect records one upstream reconnect attempt.
func (m *Metrics) RecordReconnect() {
	m.reconnects.Add(1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// SetActiveSubscriptions sets the current registry entry count.
func (m *Metrics) SetActiveSubscriptions(count int32) {
	m.activeSubscriptions.Store(count)
}

// SetFeedConnected sets the upstream connection gauge.
func (m *Metrics) SetFeedConnected(connected bool) {
	if connected {
		m.feedConnected.Store(1)
	} else {
		m.feedConnected.Store(0)
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	TicksDispatched     uint64    `json:"ticks_dispatched"`
	FramesDropped       uint64    `json:"frames_dropped"`
	TradesExecuted      uint64    `json:"trades_executed"`
	TradesRejected      uint64    `json:"trades_rejected"`
	Reconnects          uint64    `json:"reconnects"`
	ErrorsTotal         uint64    `json:"errors_total"`
	ActiveSubscriptions int32     `json:"active_subscriptions"`
	FeedConnected       bool      `json:"feed_connected"`
	Timestamp           time.Time `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		TicksDispatched:     m.ticksDispatched.Load(),
		FramesDropped:       m.framesDropped.Load(),
		TradesExecuted:      m.tradesExecuted.Load(),
		TradesRejected:      m.tradesRejected.Load(),
		Reconnects:          m.reconnects.Load(),
		ErrorsTotal:         m.errorsTotal.Load(),
		ActiveSubscriptions: m.activeSubscriptions.Load(),
		FeedConnected:       m.feedConnected.Load() == 1,
		Timestamp:           time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.ticksDispatched.Store(0)
	m.framesDropped.Store(0)
	m.tradesExecuted.Store(0)
	m.tradesRejected.Store(0)
	m.reconnects.Store(0)
	m.errorsTotal.Store(0)
	m.activeSubscriptions.Store(0)
	m.feedConnected.Store(0)
}
