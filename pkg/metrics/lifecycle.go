package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeNoop    = "noop"

	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"

	EventDelivered = "delivered"
	EventDropped   = "dropped"
)

// LifecycleMetrics tracks subscription transitions and the fail-open
// dependencies around them.
type LifecycleMetrics struct {
	transitions *prometheus.CounterVec
	cache       *prometheus.CounterVec
	events      *prometheus.CounterVec
	sweepItems  *prometheus.CounterVec
}

// NewLifecycleMetrics registers the lifecycle collectors. A nil registerer
// yields a no-op recorder.
func NewLifecycleMetrics(reg prometheus.Registerer) *LifecycleMetrics {
	if reg == nil {
		return &LifecycleMetrics{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "subscription_transitions_total",
		Help:      "Subscription lifecycle transitions by outcome.",
	}, []string{"transition", "outcome"})
	cache := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "cache_lookups_total",
		Help:      "Cache lookups by result.",
	}, []string{"cache", "result"})
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "events_total",
		Help:      "Lifecycle events by delivery outcome.",
	}, []string{"topic", "outcome"})
	sweepItems := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "sweep_items_total",
		Help:      "Expiry sweep items by result status.",
	}, []string{"status"})
	reg.MustRegister(transitions, cache, events, sweepItems)
	return &LifecycleMetrics{
		transitions: transitions,
		cache:       cache,
		events:      events,
		sweepItems:  sweepItems,
	}
}

func (m *LifecycleMetrics) ObserveTransition(transition, outcome string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(transition), normalizeLabel(outcome)).Inc()
}

func (m *LifecycleMetrics) ObserveCacheLookup(cache, result string) {
	if m == nil || m.cache == nil {
		return
	}
	m.cache.WithLabelValues(normalizeLabel(cache), normalizeLabel(result)).Inc()
}

func (m *LifecycleMetrics) ObserveEvent(topic, outcome string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(topic), normalizeLabel(outcome)).Inc()
}

func (m *LifecycleMetrics) ObserveSweepItem(status string) {
	if m == nil || m.sweepItems == nil {
		return
	}
	m.sweepItems.WithLabelValues(normalizeLabel(status)).Inc()
}
