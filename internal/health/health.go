// Package health serves the gateway's liveness surface.
//
// The endpoint always answers 200: the platform reads the body to decide
// whether the worker is serviceable, and a non-200 here would be
// indistinguishable from the gateway itself being down.
package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/elbios/vendorgw/internal/observability"
	"github.com/elbios/vendorgw/internal/probe"
)

// VendorStatus reports whether the supervised vendor process is still
// alive. Implemented by the supervisor handle.
type VendorStatus interface {
	Exited() bool
}

// Handler probes the vendor service ports on every request and reports
// the outcome.
type Handler struct {
	prober    *probe.Prober
	endpoints []probe.Endpoint
	vendor    VendorStatus
	timeout   time.Duration
	logger    observability.Logger
	metrics   *observability.Metrics
}

// Option is a functional option for configuring the handler.
type Option func(*Handler)

// WithVendor wires the supervised process so its death is named in the
// health body instead of showing up only as unreachable ports.
func WithVendor(vendor VendorStatus) Option {
	return func(h *Handler) {
		h.vendor = vendor
	}
}

// WithTimeout sets the per-port probe timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(h *Handler) {
		h.timeout = timeout
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(h *Handler) {
		h.metrics = metrics
	}
}

// New creates a health handler checking the given endpoints.
func New(prober *probe.Prober, endpoints []probe.Endpoint, opts ...Option) *Handler {
	h := &Handler{
		prober:    prober,
		endpoints: endpoints,
		timeout:   probe.DefaultProbeTimeout,
		logger:    observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle serves GET /health.
func (h *Handler) Handle(c *gin.Context) {
	errs := h.prober.All(c.Request.Context(), h.endpoints, h.timeout)
	if h.vendor != nil && h.vendor.Exited() {
		errs = append(errs, "vendor process has exited")
	}

	healthy := len(errs) == 0
	if h.metrics != nil {
		h.metrics.SetVendorHealthy(healthy)
	}

	if healthy {
		ports := make([]int, 0, len(h.endpoints))
		for _, ep := range h.endpoints {
			ports = append(ports, ep.Port)
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"ports":  ports,
		})
		return
	}

	h.logger.Warn("health check found unreachable dependencies",
		observability.Strings("errors", errs),
	)
	c.JSON(http.StatusOK, gin.H{
		"status": "unhealthy",
		"errors": errs,
	})
}
