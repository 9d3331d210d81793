// Package metrics exposes the Prometheus collectors shared by every
// component: event throughput and drops, queue depths, tick durations,
// action outcomes, intel matches, feed errors, and the health score.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics aggregates every collector the components register against.
type Metrics struct {
	EventsEmitted   *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec
	QueueDepth      *prometheus.GaugeVec
	TickDuration    *prometheus.HistogramVec
	ActionOutcomes  *prometheus.CounterVec
	IntelMatches    *prometheus.CounterVec
	FeedFetchErrors *prometheus.CounterVec
	HealthScore     *prometheus.GaugeVec
	PlaybookFires   *prometheus.CounterVec
}

// New constructs and registers collectors against registerer. Pass
// prometheus.DefaultRegisterer in production, prometheus.NewRegistry() in
// tests that need isolation.
func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orion_sentinel",
			Name:      "events_emitted_total",
			Help:      "Security events emitted by type.",
		}, []string{"event_type"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orion_sentinel",
			Name:      "events_dropped_total",
			Help:      "Events dropped by the emitter queue, by reason.",
		}, []string{"reason"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "orion_sentinel",
			Name:      "queue_depth",
			Help:      "Current depth of an internal work queue.",
		}, []string{"queue"}),
		TickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orion_sentinel",
			Name:      "tick_duration_seconds",
			Help:      "Duration of one periodic-service tick.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service"}),
		ActionOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orion_sentinel",
			Name:      "action_outcomes_total",
			Help:      "SOAR action executions by action type and outcome.",
		}, []string{"action_type", "outcome"}),
		IntelMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orion_sentinel",
			Name:      "intel_matches_total",
			Help:      "Threat-intel correlator matches, suppressed or emitted.",
		}, []string{"suppressed"}),
		FeedFetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orion_sentinel",
			Name:      "feed_fetch_errors_total",
			Help:      "Threat-intel feed fetch/parse errors by feed.",
		}, []string{"feed"}),
		HealthScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "orion_sentinel",
			Name:      "device_health_score",
			Help:      "Current health score per device.",
		}, []string{"device_id"}),
		PlaybookFires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orion_sentinel",
			Name:      "playbook_fires_total",
			Help:      "Playbook evaluations that matched and fired actions.",
		}, []string{"playbook"}),
	}

	registerer.MustRegister(
		m.EventsEmitted,
		m.EventsDropped,
		m.QueueDepth,
		m.TickDuration,
		m.ActionOutcomes,
		m.IntelMatches,
		m.FeedFetchErrors,
		m.HealthScore,
		m.PlaybookFires,
	)

	return m
}
