// ABOUTME: Prometheus metrics for gateway operations and provider fan-out.
// ABOUTME: Owns its own registry and exposes an HTTP handler for scraping.

package metric

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all gateway-level metrics.
type Metrics struct {
	registry *prometheus.Registry

	AsksTotal           *prometheus.CounterVec
	WhosTotal           prometheus.Counter
	SubQueriesTotal     *prometheus.CounterVec
	FanoutDuration      prometheus.Histogram
	SubQueryDuration    *prometheus.HistogramVec
	RegisteredProviders prometheus.Gauge
	CacheHitsTotal      prometheus.Counter
}

// NewMetrics creates a Metrics instance with all collectors registered on
// a dedicated registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		AsksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nlweb",
				Subsystem: "gateway",
				Name:      "asks_total",
				Help:      "Total number of ask requests by response status",
			},
			[]string{"status"},
		),

		WhosTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "nlweb",
				Subsystem: "gateway",
				Name:      "whos_total",
				Help:      "Total number of who requests",
			},
		),

		SubQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nlweb",
				Subsystem: "providers",
				Name:      "sub_queries_total",
				Help:      "Total number of provider sub-queries by provider and outcome",
			},
			[]string{"provider", "status"},
		),

		FanoutDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "nlweb",
				Subsystem: "gateway",
				Name:      "fanout_duration_seconds",
				Help:      "Wall-clock duration of a full ask fan-out in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),

		SubQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "nlweb",
				Subsystem: "providers",
				Name:      "sub_query_duration_seconds",
				Help:      "Per-provider sub-query latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider"},
		),

		RegisteredProviders: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "nlweb",
				Subsystem: "providers",
				Name:      "registered",
				Help:      "Number of providers currently registered",
			},
		),

		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "nlweb",
				Subsystem: "gateway",
				Name:      "response_cache_hits_total",
				Help:      "Total number of ask requests served from the response cache",
			},
		),
	}

	m.registry.MustRegister(
		m.AsksTotal,
		m.WhosTotal,
		m.SubQueriesTotal,
		m.FanoutDuration,
		m.SubQueryDuration,
		m.RegisteredProviders,
		m.CacheHitsTotal,
	)
	return m
}

// Handler returns the HTTP handler exposing this registry's metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordAsk increments the ask counter for the given response status.
func (m *Metrics) RecordAsk(status string) {
	m.AsksTotal.WithLabelValues(status).Inc()
}

// RecordWho increments the who counter.
func (m *Metrics) RecordWho() {
	m.WhosTotal.Inc()
}

// RecordSubQuery records one provider sub-query outcome and its latency.
func (m *Metrics) RecordSubQuery(provider, status string, latency time.Duration) {
	m.SubQueriesTotal.WithLabelValues(provider, status).Inc()
	m.SubQueryDuration.WithLabelValues(provider).Observe(latency.Seconds())
}

// RecordFanout records the wall-clock duration of a full fan-out.
func (m *Metrics) RecordFanout(duration time.Duration) {
	m.FanoutDuration.Observe(duration.Seconds())
}

// SetRegisteredProviders updates the registered-provider gauge.
func (m *Metrics) SetRegisteredProviders(n int) {
	m.RegisteredProviders.Set(float64(n))
}

// RecordCacheHit increments the response cache hit counter.
func (m *Metrics) RecordCacheHit() {
	m.CacheHitsTotal.Inc()
}
