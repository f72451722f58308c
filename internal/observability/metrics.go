package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	upstreamRemapped *prometheus.CounterVec
	routesRegistered *prometheus.GaugeVec
	vendorHealth     prometheus.Gauge
	startTime        prometheus.Gauge
	registry         *prometheus.Registry
}

// NewMetrics creates a new Metrics instance with its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "gateway"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets: []float64{
				.005, .025, .1, .25, .5, 1,
				2.5, 5, 10, 30, 60, 120,
			},
		},
		[]string{"method", "route", "status"},
	)

	m.upstreamRemapped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_remapped_total",
			Help:      "Upstream failures remapped to 429 busy responses",
		},
		[]string{"reason"},
	)

	m.routesRegistered = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "routes_registered",
			Help:      "Passthrough routes by registration outcome",
		},
		[]string{"outcome"},
	)

	m.vendorHealth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vendor_healthy",
			Help:      "Whether all vendor service ports are reachable (1 or 0)",
		},
	)

	m.startTime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "start_time_seconds",
			Help:      "Unix timestamp of gateway start",
		},
	)
	m.startTime.SetToCurrentTime()

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.upstreamRemapped,
		m.routesRegistered,
		m.vendorHealth,
		m.startTime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// RecordRequest records a completed HTTP request.
func (m *Metrics) RecordRequest(method, route string, status int, duration time.Duration) {
	statusStr := strconv.Itoa(status)
	m.requestsTotal.WithLabelValues(method, route, statusStr).Inc()
	m.requestDuration.WithLabelValues(method, route, statusStr).Observe(duration.Seconds())
}

// RecordRemap records an upstream failure remapped to a 429 response.
func (m *Metrics) RecordRemap(reason string) {
	m.upstreamRemapped.WithLabelValues(reason).Inc()
}

// SetRoutesRegistered records registration outcome counts.
func (m *Metrics) SetRoutesRegistered(registered, skipped int) {
	m.routesRegistered.WithLabelValues("registered").Set(float64(registered))
	m.routesRegistered.WithLabelValues("skipped").Set(float64(skipped))
}

// SetVendorHealthy records whether all vendor ports are reachable.
func (m *Metrics) SetVendorHealthy(healthy bool) {
	if healthy {
		m.vendorHealth.Set(1)
	} else {
		m.vendorHealth.Set(0)
	}
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
