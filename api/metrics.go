// Package api exposes the comment proxy over HTTP.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/guarzo/commentproxy/common"
)

// CacheSource is the read-only view of a cache the metrics need.
type CacheSource interface {
	Stats() common.CacheStats
	Len() int
}

// Metrics holds all Prometheus metrics for the proxy. Each instance owns its
// registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Upstream metrics
	UpstreamRequestsTotal   *prometheus.CounterVec
	UpstreamRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance with the given namespace.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		UpstreamRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Total NoCodeBackend requests by operation and status",
		}, []string{"method", "operation", "status"}),
		UpstreamRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "NoCodeBackend request latency in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "operation"}),
	}
}

// RecordRequest records a served HTTP request.
func (m *Metrics) RecordRequest(method, route string, status int, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveUpstream records one NoCodeBackend round trip; status 0 means the
// request failed before a response arrived.
func (m *Metrics) ObserveUpstream(method, operation string, status int, elapsed time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.UpstreamRequestsTotal.WithLabelValues(method, operation, label).Inc()
	m.UpstreamRequestDuration.WithLabelValues(method, operation).Observe(elapsed.Seconds())
}

// RegisterCache exports the counters of a named cache.
func (m *Metrics) RegisterCache(namespace, name string, cache CacheSource) {
	labels := prometheus.Labels{"cache": name}
	counter := func(metric, help string, read func(common.CacheStats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        metric,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 { return float64(read(cache.Stats())) })
	}

	m.registry.MustRegister(
		counter("cache_hits_total", "Cache lookups served from memory",
			func(s common.CacheStats) uint64 { return s.Hits }),
		counter("cache_misses_total", "Cache lookups that fell through to the upstream",
			func(s common.CacheStats) uint64 { return s.Misses }),
		counter("cache_evictions_total", "Entries evicted to admit a new key",
			func(s common.CacheStats) uint64 { return s.Evictions }),
		counter("cache_expirations_total", "Entries purged after their TTL elapsed",
			func(s common.CacheStats) uint64 { return s.Expirations }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "cache_entries",
			Help:        "Entries currently held",
			ConstLabels: labels,
		}, func() float64 { return float64(cache.Len()) }),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
