package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry so several collectors can coexist in one
// process (tests, the simulator running many clients).
type Collector struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	StoreWritesTotal *prometheus.CounterVec
	NoShowsMarked    prometheus.Counter

	CacheMutationsTotal  *prometheus.CounterVec
	CacheRollbacksTotal  prometheus.Counter
	CacheSettleFailures  prometheus.Counter
	CacheReadsSuperseded prometheus.Counter
	BreakerStateChanges  *prometheus.CounterVec
}

func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)

	return &Collector{
		registry: reg,

		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "route"}),

		StoreWritesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "writes_total",
			Help:      "Store writes by operation and outcome kind.",
		}, []string{"op", "outcome"}),

		NoShowsMarked: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "no_shows_marked_total",
			Help:      "Appointments moved to no-show by the sweep.",
		}),

		CacheMutationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "mutations_total",
			Help:      "Optimistic mutations by operation and outcome kind.",
		}, []string{"op", "outcome"}),

		CacheRollbacksTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "rollbacks_total",
			Help:      "Speculative mutations rolled back to their snapshot.",
		}),

		CacheSettleFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "settle_failures_total",
			Help:      "Post-mutation refreshes that could not reach the store.",
		}),

		CacheReadsSuperseded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "reads_superseded_total",
			Help:      "Collection reads discarded because a mutation started.",
		}),

		BreakerStateChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store_client",
			Name:      "breaker_state_changes_total",
			Help:      "Circuit breaker transitions by target state.",
		}, []string{"to"}),
	}
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
