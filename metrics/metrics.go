// ABOUTME: This file defines the Prometheus instrumentation for the control-plane
// ABOUTME: Counters and histograms are fed directly and through bus subscriptions
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"newswatch/domain"
	"newswatch/events"
)

// Metrics bundles every instrument the control-plane exports.
type Metrics struct {
	registry *prometheus.Registry

	FetchAttempts   *prometheus.CounterVec
	ItemsIngested   prometheus.Counter
	ItemsDeduped    prometheus.Counter
	FetchDuration   prometheus.Histogram
	RunTransitions  *prometheus.CounterVec
	RunsActive      prometheus.Gauge
	AnalysisItems   *prometheus.CounterVec
	LLMCallDuration prometheus.Histogram
	PendingJobs     *prometheus.CounterVec
	FlagTrips       *prometheus.CounterVec
}

// New builds the metric set on a dedicated registry so tests can create
// instances without double-registration panics.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		FetchAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "newswatch_fetch_attempts_total",
			Help: "Fetch attempts by outcome status.",
		}, []string{"status"}),
		ItemsIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "newswatch_items_ingested_total",
			Help: "New items persisted after content-hash dedup.",
		}),
		ItemsDeduped: factory.NewCounter(prometheus.CounterOpts{
			Name: "newswatch_items_deduped_total",
			Help: "Parsed entries skipped because their content hash already existed.",
		}),
		FetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "newswatch_fetch_duration_seconds",
			Help:    "Wall time of one feed fetch attempt.",
			Buckets: prometheus.DefBuckets,
		}),
		RunTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "newswatch_run_transitions_total",
			Help: "Analysis run state transitions by target state.",
		}, []string{"to"}),
		RunsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "newswatch_runs_active",
			Help: "Runs currently in the running state.",
		}),
		AnalysisItems: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "newswatch_analysis_items_total",
			Help: "Analyzed run items by outcome.",
		}, []string{"outcome"}),
		LLMCallDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "newswatch_llm_call_duration_seconds",
			Help:    "Latency of LLM provider calls.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		PendingJobs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "newswatch_pending_jobs_total",
			Help: "Pending auto-analysis jobs by terminal disposition.",
		}, []string{"disposition"}),
		FlagTrips: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "newswatch_flag_trips_total",
			Help: "Feature flag circuit breaker trips.",
		}, []string{"flag"}),
	}
}

// Registry exposes the backing registry for the metrics HTTP server.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Subscribe wires the instruments that are fed from bus events.
func (m *Metrics) Subscribe(bus *events.Bus) {
	bus.SubscribeFeedFetched(func(ctx context.Context, ev events.FeedFetched) error {
		m.ItemsIngested.Add(float64(len(ev.NewItemIDs)))
		return nil
	})

	bus.SubscribeRunStateChanged(func(ctx context.Context, ev events.RunStateChanged) {
		m.RunTransitions.WithLabelValues(string(ev.To)).Inc()
		switch {
		case ev.To == domain.RunStatusRunning:
			m.RunsActive.Inc()
		case ev.From == domain.RunStatusRunning:
			m.RunsActive.Dec()
		}
	})

	bus.SubscribeFlagTripped(func(ctx context.Context, ev events.FlagTripped) {
		m.FlagTrips.WithLabelValues(ev.Flag).Inc()
	})
}
