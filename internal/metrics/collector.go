// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector exposes StateFlow counters and histograms to Prometheus.
// Recording is fire-and-forget: it never fails the surrounding operation.
// A nil *Collector is safe to call.
type Collector struct {
	stateWrites        *prometheus.CounterVec
	persistDuration    *prometheus.HistogramVec
	conflicts          *prometheus.CounterVec
	snapshots          *prometheus.CounterVec
	archivedVersions   prometheus.Counter
	notifications      *prometheus.CounterVec
	agentSpawns        *prometheus.CounterVec
	agentTransitions   *prometheus.CounterVec
	messageQueueDepth  *prometheus.GaugeVec
	subscriberPrunings prometheus.Counter

	logger *zap.Logger
}

// NewCollector creates a metrics collector registered on reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.stateWrites = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_writes_total",
			Help:      "Total number of workflow state writes",
		},
		[]string{"status"}, // accepted, rejected
	)

	c.persistDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "persist_duration_seconds",
			Help:      "Durable persistence duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"}, // write, snapshot, archive
	)

	c.conflicts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_conflicts_total",
			Help:      "Total number of state conflicts",
		},
		[]string{"event"}, // detected, resolved
	)

	c.snapshots = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_snapshots_total",
			Help:      "Total number of snapshot operations",
		},
		[]string{"operation"}, // create, restore
	)

	c.archivedVersions = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archived_versions_total",
			Help:      "Total number of versions moved to cold storage",
		},
	)

	c.notifications = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "change_notifications_total",
			Help:      "Total number of change notification deliveries",
		},
		[]string{"result"}, // delivered, failed
	)

	c.agentSpawns = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_spawns_total",
			Help:      "Total number of agent spawns",
		},
		[]string{"agent_type", "status"}, // spawned, rejected
	)

	c.agentTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_state_transitions_total",
			Help:      "Total number of agent state transitions",
		},
		[]string{"agent_type", "from_state", "to_state"},
	)

	c.messageQueueDepth = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agent_message_queue_depth",
			Help:      "Current depth of agent inbound message queues",
		},
		[]string{"agent_id"},
	)

	c.subscriberPrunings = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_prunings_total",
			Help:      "Total number of subscribers pruned after failed delivery",
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordStateWrite records one state write attempt.
func (c *Collector) RecordStateWrite(status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.stateWrites.WithLabelValues(status).Inc()
	c.persistDuration.WithLabelValues("write").Observe(duration.Seconds())
}

// RecordConflict records a conflict lifecycle event.
func (c *Collector) RecordConflict(event string) {
	if c == nil {
		return
	}
	c.conflicts.WithLabelValues(event).Inc()
}

// RecordSnapshot records a snapshot operation.
func (c *Collector) RecordSnapshot(operation string, duration time.Duration) {
	if c == nil {
		return
	}
	c.snapshots.WithLabelValues(operation).Inc()
	c.persistDuration.WithLabelValues("snapshot").Observe(duration.Seconds())
}

// RecordArchivedVersions adds to the archived versions counter.
func (c *Collector) RecordArchivedVersions(count int) {
	if c == nil {
		return
	}
	c.archivedVersions.Add(float64(count))
}

// RecordNotification records one notification delivery outcome.
func (c *Collector) RecordNotification(result string) {
	if c == nil {
		return
	}
	c.notifications.WithLabelValues(result).Inc()
}

// RecordSubscriberPruned records a subscriber removal after failed delivery.
func (c *Collector) RecordSubscriberPruned() {
	if c == nil {
		return
	}
	c.subscriberPrunings.Inc()
}

// RecordAgentSpawn records an agent spawn attempt.
func (c *Collector) RecordAgentSpawn(agentType, status string) {
	if c == nil {
		return
	}
	c.agentSpawns.WithLabelValues(agentType, status).Inc()
}

// RecordAgentTransition records an agent status transition.
func (c *Collector) RecordAgentTransition(agentType, from, to string) {
	if c == nil {
		return
	}
	c.agentTransitions.WithLabelValues(agentType, from, to).Inc()
}

// SetQueueDepth sets the inbound queue depth gauge for an agent.
func (c *Collector) SetQueueDepth(agentID string, depth int) {
	if c == nil {
		return
	}
	c.messageQueueDepth.WithLabelValues(agentID).Set(float64(depth))
}
