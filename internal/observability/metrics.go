package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "quake_monitor"

// Metrics holds the Prometheus counters, histograms, and gauges for the monitor.
type Metrics struct {
	CyclesTotal   *prometheus.CounterVec // labels: outcome={ok,partial}
	CycleDuration prometheus.Histogram
	SchedulerUp   prometheus.Gauge
	SchedulerStep *prometheus.GaugeVec // labels: state

	// Ingest metrics.
	EventsFetched    *prometheus.CounterVec // labels: provider
	EventsProcessed  prometheus.Counter
	DuplicatesTotal  prometheus.Counter
	ParseErrors      *prometheus.CounterVec // labels: provider
	FetchFailures    *prometheus.CounterVec // labels: provider
	FetchDuration    *prometheus.HistogramVec
	HistorySize      prometheus.Gauge
	HistoryEvictions prometheus.Counter

	// Classification metrics.
	Classifications   *prometheus.CounterVec // labels: task, label={positive,negative}
	SchemaMismatches  *prometheus.CounterVec // labels: task
	BundlesLoaded     prometheus.Gauge
	AlertsTotal       *prometheus.CounterVec // labels: task
	AlertsSuppressed  *prometheus.CounterVec // labels: task
	PersistenceErrors *prometheus.CounterVec // labels: target
}

func newMetrics() *Metrics {
	return &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Completed poll cycles by outcome.",
		}, []string{"outcome"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a complete fetch-classify-emit cycle.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		SchedulerUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_running",
			Help:      "1 when the poll scheduler is active, 0 when shut down.",
		}),
		SchedulerStep: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_state",
			Help:      "1 for the scheduler's current state, 0 for the others.",
		}, []string{"state"}),
		EventsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_fetched_total",
			Help:      "Raw records retrieved per provider.",
		}, []string{"provider"}),
		EventsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_processed_total",
			Help:      "Events that reached classification.",
		}),
		DuplicatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_duplicate_total",
			Help:      "Events dropped as already seen.",
		}),
		ParseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "Raw records that could not be normalized.",
		}, []string{"provider"}),
		FetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_failures_total",
			Help:      "Provider fetches abandoned after exhausting retries.",
		}, []string{"provider"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Provider fetch duration including retries.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"provider"}),
		HistorySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_entries",
			Help:      "Events currently held in the rolling history.",
		}),
		HistoryEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_evictions_total",
			Help:      "Events evicted from the rolling history.",
		}),
		Classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Classifications by task and label.",
		}, []string{"task", "label"}),
		SchemaMismatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schema_mismatches_total",
			Help:      "Classifications skipped because the feature vector lacked bundle features.",
		}, []string{"task"}),
		BundlesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bundles_loaded",
			Help:      "Tasks with an active model bundle.",
		}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts emitted by task.",
		}, []string{"task"}),
		AlertsSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_suppressed_total",
			Help:      "Alerts skipped because the ledger already holds them.",
		}, []string{"task"}),
		PersistenceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_errors_total",
			Help:      "Output writes that failed after retry, by target.",
		}, []string{"target"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.CyclesTotal,
		m.CycleDuration,
		m.SchedulerUp,
		m.SchedulerStep,
		m.EventsFetched,
		m.EventsProcessed,
		m.DuplicatesTotal,
		m.ParseErrors,
		m.FetchFailures,
		m.FetchDuration,
		m.HistorySize,
		m.HistoryEvictions,
		m.Classifications,
		m.SchemaMismatches,
		m.BundlesLoaded,
		m.AlertsTotal,
		m.AlertsSuppressed,
		m.PersistenceErrors,
	}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	m := newMetrics()
	prometheus.NewRegistry().MustRegister(m.collectors()...)
	return m
}
