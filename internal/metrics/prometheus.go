package metrics

import (
	"time"

	"github.com/opennetworkinglab/onos-sub118/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for a store node
type Metrics struct {
	registry *prometheus.Registry

	// Table metrics
	EntitiesTotal   prometheus.Gauge
	TombstonesTotal prometheus.Gauge
	MergeOutcomes   *prometheus.CounterVec
	DelegateEvents  *prometheus.CounterVec

	// Messaging metrics
	MessagesTotal     *prometheus.CounterVec
	MessageBytes      *prometheus.HistogramVec
	MalformedMessages prometheus.Counter
	SendFailures      *prometheus.CounterVec

	// Anti-entropy metrics
	AntiEntropyRounds   *prometheus.CounterVec
	AntiEntropyRepairs  *prometheus.CounterVec
	AntiEntropyDuration prometheus.Histogram

	// Membership metrics
	ClusterMembers prometheus.Gauge
}

// NewMetrics creates all metrics and registers them on reg. A nil reg gets
// a fresh registry so several nodes can live in one process.
func NewMetrics(nodeID string, reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	labels := prometheus.Labels{"node_id": nodeID}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		EntitiesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "entitystore",
			Subsystem:   "table",
			Name:        "entities",
			Help:        "Number of live entities",
			ConstLabels: labels,
		}),
		TombstonesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "entitystore",
			Subsystem:   "table",
			Name:        "tombstones",
			Help:        "Number of retained tombstones",
			ConstLabels: labels,
		}),
		MergeOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "entitystore",
			Subsystem:   "merge",
			Name:        "outcomes_total",
			Help:        "Merge engine decisions by operation and outcome",
			ConstLabels: labels,
		}, []string{"op", "outcome"}),
		DelegateEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "entitystore",
			Subsystem:   "merge",
			Name:        "delegate_events_total",
			Help:        "Deltas delivered to the delegate",
			ConstLabels: labels,
		}, []string{"outcome"}),

		MessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "entitystore",
			Subsystem:   "messaging",
			Name:        "messages_total",
			Help:        "Peer messages by direction and type",
			ConstLabels: labels,
		}, []string{"direction", "type"}),
		MessageBytes: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "entitystore",
			Subsystem:   "messaging",
			Name:        "message_bytes",
			Help:        "Encoded peer message sizes",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(64, 2, 12), // 64B to 128KB
		}, []string{"direction"}),
		MalformedMessages: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "entitystore",
			Subsystem:   "messaging",
			Name:        "malformed_total",
			Help:        "Inbound messages dropped because they failed to decode",
			ConstLabels: labels,
		}),
		SendFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "entitystore",
			Subsystem:   "messaging",
			Name:        "send_failures_total",
			Help:        "Outbound sends that failed",
			ConstLabels: labels,
		}, []string{"type"}),

		AntiEntropyRounds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "entitystore",
			Subsystem:   "antientropy",
			Name:        "rounds_total",
			Help:        "Anti-entropy rounds by result",
			ConstLabels: labels,
		}, []string{"result"}),
		AntiEntropyRepairs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "entitystore",
			Subsystem:   "antientropy",
			Name:        "repairs_total",
			Help:        "Repairs pushed or applied by kind",
			ConstLabels: labels,
		}, []string{"kind"}),
		AntiEntropyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "entitystore",
			Subsystem:   "antientropy",
			Name:        "round_duration_seconds",
			Help:        "Histogram of anti-entropy round durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),

		ClusterMembers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "entitystore",
			Subsystem:   "cluster",
			Name:        "members",
			Help:        "Number of known cluster members including self",
			ConstLabels: labels,
		}),
	}
}

// Registry returns the registry the metrics live on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordOutcome counts a merge decision
func (m *Metrics) RecordOutcome(op string, outcome model.Outcome) {
	if m == nil {
		return
	}
	m.MergeOutcomes.WithLabelValues(op, outcome.String()).Inc()
}

// RecordDelegate counts a delta handed to the delegate
func (m *Metrics) RecordDelegate(outcome model.Outcome) {
	if m == nil {
		return
	}
	m.DelegateEvents.WithLabelValues(outcome.String()).Inc()
}

// UpdateTableStats sets the table gauges
func (m *Metrics) UpdateTableStats(entities, tombstones int) {
	if m == nil {
		return
	}
	m.EntitiesTotal.Set(float64(entities))
	m.TombstonesTotal.Set(float64(tombstones))
}

// RecordMessage counts one message and its encoded size
func (m *Metrics) RecordMessage(direction, msgType string, size int) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(direction, msgType).Inc()
	m.MessageBytes.WithLabelValues(direction).Observe(float64(size))
}

// RecordMalformed counts a dropped inbound message
func (m *Metrics) RecordMalformed() {
	if m == nil {
		return
	}
	m.MalformedMessages.Inc()
}

// RecordSendFailure counts a failed send
func (m *Metrics) RecordSendFailure(msgType string) {
	if m == nil {
		return
	}
	m.SendFailures.WithLabelValues(msgType).Inc()
}

// RecordRound records the outcome and duration of an anti-entropy round
func (m *Metrics) RecordRound(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.AntiEntropyRounds.WithLabelValues(result).Inc()
	m.AntiEntropyDuration.Observe(d.Seconds())
}

// RecordRepair counts a repair action
func (m *Metrics) RecordRepair(kind string) {
	if m == nil {
		return
	}
	m.AntiEntropyRepairs.WithLabelValues(kind).Inc()
}

// SetClusterMembers sets the membership gauge
func (m *Metrics) SetClusterMembers(n int) {
	if m == nil {
		return
	}
	m.ClusterMembers.Set(float64(n))
}
