// Package metrics exposes Prometheus collectors for the synchronization core.
//
// A nil *Metrics is valid and records nothing, so components never need to
// check whether metrics were configured.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "adminsync"

type Metrics struct {
	mutationsStaged   *prometheus.CounterVec
	mutationOutcomes  *prometheus.CounterVec
	stageConflicts    *prometheus.CounterVec
	feedEvents        *prometheus.CounterVec
	feedSize          prometheus.Gauge
	channelState      prometheus.Gauge
	reconnectAttempts prometheus.Counter
	pollTicks         *prometheus.CounterVec
}

// New registers all collectors on reg. Passing prometheus.NewRegistry() keeps
// tests isolated from the global registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		mutationsStaged: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_staged_total",
			Help:      "Optimistic mutations applied locally, by collection and operation",
		}, []string{"collection", "operation"}),
		mutationOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutation_outcomes_total",
			Help:      "Resolved mutations by outcome (confirmed, rolled_back, discarded)",
		}, []string{"collection", "operation", "outcome"}),
		stageConflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_conflicts_total",
			Help:      "Mutations rejected because the entity already had one in flight",
		}, []string{"collection"}),
		feedEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_events_total",
			Help:      "Feed events ingested, by source and result (accepted, duplicate, expired)",
		}, []string{"source", "result"}),
		feedSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_size",
			Help:      "Events currently retained by the feed merger",
		}),
		channelState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channel_state",
			Help:      "Current event channel state as its numeric value",
		}),
		reconnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Event channel reconnection attempts",
		}),
		pollTicks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_ticks_total",
			Help:      "Poll fallback ticks by result (ok, error)",
		}, []string{"result"}),
	}
}

func (m *Metrics) MutationStaged(collection, operation string) {
	if m == nil {
		return
	}
	m.mutationsStaged.WithLabelValues(collection, operation).Inc()
}

func (m *Metrics) MutationResolved(collection, operation, outcome string) {
	if m == nil {
		return
	}
	m.mutationOutcomes.WithLabelValues(collection, operation, outcome).Inc()
}

func (m *Metrics) StageConflict(collection string) {
	if m == nil {
		return
	}
	m.stageConflicts.WithLabelValues(collection).Inc()
}

func (m *Metrics) FeedEvent(source, result string) {
	if m == nil {
		return
	}
	m.feedEvents.WithLabelValues(source, result).Inc()
}

func (m *Metrics) FeedSize(n int) {
	if m == nil {
		return
	}
	m.feedSize.Set(float64(n))
}

func (m *Metrics) ChannelState(state int) {
	if m == nil {
		return
	}
	m.channelState.Set(float64(state))
}

func (m *Metrics) ReconnectAttempt() {
	if m == nil {
		return
	}
	m.reconnectAttempts.Inc()
}

func (m *Metrics) PollTick(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.pollTicks.WithLabelValues(result).Inc()
}
