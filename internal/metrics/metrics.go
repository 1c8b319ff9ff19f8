// Package metrics implements the read-only Metrics Aggregator of
// SPEC_FULL.md §4.9: derived message rate, connection latency, pending
// count and a failure-rate surrogate, snapshotted on demand. Domain-stack
// addition: every snapshot is also mirrored onto
// github.com/prometheus/client_golang gauges for scraping, the way the
// rest of the retrieved corpus exposes derived state; registration is
// best-effort and never blocks Snapshot.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"dev.swarmcore.comm/internal/agent"
	"dev.swarmcore.comm/internal/msg"
)

// window is the look-back used for the messages/sec rate, per spec.md §4.9.
const window = time.Second

// HistorySource is the delivery history the rate computation reads.
// *delivery.Engine satisfies this.
type HistorySource interface {
	History() []*msg.IncomingMessage
}

// ConnectionSource exposes active connections for the latency figure.
// *delivery.Engine satisfies this.
type ConnectionSource interface {
	ActiveConnections() []agent.ConnectionInfo
}

// PendingSource exposes the current pending count. *queue.Queue satisfies
// this.
type PendingSource interface {
	Len() int
}

// FailureRateFunc supplies the failure-rate surrogate: implementations may
// report the configured simulator failure rate or an observed ratio, per
// spec.md §4.9.
type FailureRateFunc func() float64

// Snapshot is an immutable, timestamped view of derived metrics.
type Snapshot struct {
	Timestamp            time.Time
	MessagesPerSecond     float64
	AverageLatency        time.Duration
	PendingCount          int
	FailureRateSurrogate  float64
}

// Aggregator computes Snapshots from its collaborators. It holds no
// mutable state of its own beyond the optional Prometheus mirror.
type Aggregator struct {
	history       HistorySource
	connections   ConnectionSource
	pending       PendingSource
	failureRate   FailureRateFunc
	now           func() time.Time

	messagesPerSecGauge prometheus.Gauge
	avgLatencyMSGauge   prometheus.Gauge
	pendingGauge        prometheus.Gauge
	failureRateGauge    prometheus.Gauge
}

// New builds an Aggregator. registerer may be nil to skip Prometheus
// registration entirely (the in-process Snapshot remains fully
// functional). clock defaults to time.Now.
func New(history HistorySource, connections ConnectionSource, pending PendingSource, failureRate FailureRateFunc, registerer prometheus.Registerer, clock func() time.Time) *Aggregator {
	if clock == nil {
		clock = time.Now
	}
	a := &Aggregator{
		history:     history,
		connections: connections,
		pending:     pending,
		failureRate: failureRate,
		now:         clock,

		messagesPerSecGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "swarmcore_comm_messages_per_second",
			Help: "Messages delivered per second over the trailing 1s window.",
		}),
		avgLatencyMSGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "swarmcore_comm_average_latency_milliseconds",
			Help: "Average transmission latency across active connections.",
		}),
		pendingGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "swarmcore_comm_pending_messages",
			Help: "Current number of messages pending in the queue.",
		}),
		failureRateGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "swarmcore_comm_failure_rate_surrogate",
			Help: "Configured or observed delivery failure rate surrogate.",
		}),
	}
	if registerer != nil {
		// Best-effort: a duplicate registration (e.g. a second Aggregator in
		// the same process) must never panic or block a Snapshot call.
		_ = registerer.Register(a.messagesPerSecGauge)
		_ = registerer.Register(a.avgLatencyMSGauge)
		_ = registerer.Register(a.pendingGauge)
		_ = registerer.Register(a.failureRateGauge)
	}
	return a
}

// Snapshot computes a fresh, immutable view of current derived metrics and
// mirrors it onto the Prometheus gauges.
func (a *Aggregator) Snapshot() Snapshot {
	now := a.now()

	var messagesInWindow int
	for _, im := range a.history.History() {
		if now.Sub(im.ActualDeliveryTime) <= window && !im.ActualDeliveryTime.After(now) {
			messagesInWindow++
		}
	}
	messagesPerSec := float64(messagesInWindow)

	var latencySum time.Duration
	var qualifying int
	for _, c := range a.connections.ActiveConnections() {
		if c.MessageCount >= 1 {
			latencySum += c.AverageLatency
			qualifying++
		}
	}
	var avgLatency time.Duration
	if qualifying > 0 {
		avgLatency = latencySum / time.Duration(qualifying)
	}

	pendingCount := a.pending.Len()

	var failureRate float64
	if a.failureRate != nil {
		failureRate = a.failureRate()
	}

	snap := Snapshot{
		Timestamp:            now,
		MessagesPerSecond:    messagesPerSec,
		AverageLatency:       avgLatency,
		PendingCount:         pendingCount,
		FailureRateSurrogate: failureRate,
	}

	a.messagesPerSecGauge.Set(snap.MessagesPerSecond)
	a.avgLatencyMSGauge.Set(float64(snap.AverageLatency.Milliseconds()))
	a.pendingGauge.Set(float64(snap.PendingCount))
	a.failureRateGauge.Set(snap.FailureRateSurrogate)

	return snap
}
