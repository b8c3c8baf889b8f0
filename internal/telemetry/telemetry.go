package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments for the calculation engine.
type Metrics struct {
	BarsIngested    prometheus.Counter
	OutOfOrderBars  prometheus.Counter
	BarsCoalesced   prometheus.Counter
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	CacheSets       prometheus.Counter
	Invalidations   prometheus.Counter
	ComputeDur      *prometheus.HistogramVec
	ComputeFailures *prometheus.CounterVec
	EventsPublished prometheus.Counter
	EventsDropped   prometheus.Counter
}

// NewMetrics registers all instruments on the given registerer. Tests pass a
// fresh prometheus.NewRegistry to avoid double-registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BarsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analytics_bars_ingested_total",
			Help: "Bars accepted by the update dispatcher",
		}),
		OutOfOrderBars: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analytics_out_of_order_bars_total",
			Help: "Bars rejected for stale or duplicate timestamps",
		}),
		BarsCoalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analytics_bars_coalesced_total",
			Help: "Pending recompute requests superseded by newer bars",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analytics_cache_hits_total",
			Help: "Metric cache hits",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analytics_cache_misses_total",
			Help: "Metric cache misses",
		}),
		CacheSets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analytics_cache_sets_total",
			Help: "Metric cache writes",
		}),
		Invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analytics_cache_invalidations_total",
			Help: "Tag invalidation calls",
		}),
		ComputeDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "analytics_compute_duration_seconds",
			Help:    "Metric computation latency by kind",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		ComputeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analytics_compute_failures_total",
			Help: "Metric computation failures by kind",
		}, []string{"kind"}),
		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analytics_events_published_total",
			Help: "MetricsUpdated events delivered to subscribers",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analytics_events_dropped_total",
			Help: "MetricsUpdated events dropped on full subscriber buffers",
		}),
	}

	reg.MustRegister(
		m.BarsIngested,
		m.OutOfOrderBars,
		m.BarsCoalesced,
		m.CacheHits,
		m.CacheMisses,
		m.CacheSets,
		m.Invalidations,
		m.ComputeDur,
		m.ComputeFailures,
		m.EventsPublished,
		m.EventsDropped,
	)

	return m
}
