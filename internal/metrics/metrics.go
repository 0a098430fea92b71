package metrics

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "postscore"

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	RatingsSubmitted  *prometheus.CounterVec
	CacheRequests     *prometheus.CounterVec
	Resolutions       *prometheus.CounterVec
	Dispatched        prometheus.Counter
	DirtyBuckets      prometheus.Gauge
	Recomputes        *prometheus.CounterVec
	RecomputeDuration prometheus.Histogram
}

// NewRegistry creates a Prometheus registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler returns an http.Handler that serves Prometheus metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// New creates and registers the service metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RatingsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratings_submitted_total",
			Help:      "Accepted rating submissions, by kind (created, updated).",
		}, []string{"kind"}),
		CacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "score_cache",
			Name:      "requests_total",
			Help:      "Score cache operations, by result (hit, miss, error, set_error).",
		}, []string{"result"}),
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "score_resolutions_total",
			Help:      "Score resolutions, by slope rule path (merge, discard).",
		}, []string{"path"}),
		Dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "dispatched_total",
			Help:      "Recompute jobs handed to the worker pool.",
		}),
		DirtyBuckets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "dirty_buckets",
			Help:      "Dirty buckets found by the most recent sweep.",
		}),
		Recomputes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "recomputes_total",
			Help:      "Bucket recomputations, by outcome (clean, still_dirty, error).",
		}, []string{"outcome"}),
		RecomputeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "recompute_duration_seconds",
			Help:      "Time spent recomputing one bucket.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.RatingsSubmitted,
		m.CacheRequests,
		m.Resolutions,
		m.Dispatched,
		m.DirtyBuckets,
		m.Recomputes,
		m.RecomputeDuration,
	)
	return m
}

// NewNop returns metrics registered on a throwaway registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// RegisterPoolStats exposes connection pool gauges read from stats on every scrape.
func RegisterPoolStats(reg prometheus.Registerer, stats func() *pgxpool.Stat) {
	gauge := func(name, help string, read func(*pgxpool.Stat) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db_pool",
			Name:      name,
			Help:      help,
		}, func() float64 {
			s := stats()
			if s == nil {
				return 0
			}
			return read(s)
		})
	}

	reg.MustRegister(
		gauge("total_conns", "Connections currently in the pool.", func(s *pgxpool.Stat) float64 { return float64(s.TotalConns()) }),
		gauge("acquired_conns", "Connections currently checked out.", func(s *pgxpool.Stat) float64 { return float64(s.AcquiredConns()) }),
		gauge("idle_conns", "Idle connections in the pool.", func(s *pgxpool.Stat) float64 { return float64(s.IdleConns()) }),
	)
}
