// Package gateway assembles the public HTTP surface: middleware,
// translated routes, manifest passthrough routes and the operational
// endpoints.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"github.com/elbios/vendorgw/internal/config"
	"github.com/elbios/vendorgw/internal/health"
	"github.com/elbios/vendorgw/internal/observability"
	"github.com/elbios/vendorgw/internal/probe"
	"github.com/elbios/vendorgw/internal/proxy"
	"github.com/elbios/vendorgw/internal/registrar"
)

// Lifecycle states.
const (
	stateNew int32 = iota
	stateRunning
	stateStopping
	stateStopped
)

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("gateway already started")

// Gateway is the assembled HTTP server.
type Gateway struct {
	cfg       *config.GatewayConfig
	logger    observability.Logger
	metrics   *observability.Metrics
	forwarder *proxy.Forwarder
	handler   http.Handler
	server    *http.Server

	state      atomic.Int32
	registered int
	skipped    int
}

// Deps carries the collaborators the gateway serves with.
type Deps struct {
	Logger    observability.Logger
	Metrics   *observability.Metrics
	Forwarder *proxy.Forwarder
	Prober    *probe.Prober

	// Routes is the merged manifest; nil means manifest registration was
	// skipped.
	Routes []config.RouteEntry

	// Vendor reports whether the supervised process has exited. May be
	// nil when the gateway runs against an externally managed vendor.
	Vendor health.VendorStatus
}

// New builds the engine and wires every route. The route table is fixed
// for the life of the process; a changed manifest needs a restart.
func New(cfg *config.GatewayConfig, deps Deps) (*Gateway, error) {
	logger := deps.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	g := &Gateway{
		cfg:       cfg,
		logger:    logger,
		metrics:   deps.Metrics,
		forwarder: deps.Forwarder,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.RedirectTrailingSlash = false
	engine.Use(
		recoveryMiddleware(logger),
		requestIDMiddleware(),
		siloMiddleware(cfg.Silo.QueryParam, cfg.Silo.Header),
		accessLogMiddleware(logger, deps.Metrics),
	)

	reg := registrar.New(g.forwarder, cfg.Vendor.Host, cfg.DefaultServicePort(), logger, deps.Metrics)

	healthHandler := health.New(
		deps.Prober,
		probe.Endpoints(cfg.Vendor.Host, cfg.AllPorts()),
		health.WithVendor(deps.Vendor),
		health.WithLogger(logger),
		health.WithMetrics(deps.Metrics),
	)
	engine.GET("/health", healthHandler.Handle)
	reg.Reserve(http.MethodGet, "/health")

	if cfg.Observability.Metrics.Enabled && deps.Metrics != nil {
		engine.GET(cfg.Observability.Metrics.Path, gin.WrapH(deps.Metrics.Handler()))
		reg.Reserve(http.MethodGet, cfg.Observability.Metrics.Path)
	}

	for _, route := range cfg.Routes {
		engine.Handle(route.NormalizedMethod(), route.Path, g.translatedHandler(route))
		reg.Reserve(route.NormalizedMethod(), route.Path)
		logger.Info("registered translated route",
			observability.String("method", route.NormalizedMethod()),
			observability.String("path", route.Path),
			observability.String("encoding", route.NormalizedEncoding()),
		)
	}

	g.registered, g.skipped = reg.Register(engine, deps.Routes)

	g.handler = normalizeTrailingSlash(engine)
	g.server = &http.Server{
		Addr:    cfg.Server.Address,
		Handler: g.handler,
	}
	return g, nil
}

// Handler exposes the full request pipeline, mainly for tests.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// RouteCounts returns how many manifest routes were registered and
// skipped.
func (g *Gateway) RouteCounts() (registered, skipped int) {
	return g.registered, g.skipped
}

// Start begins serving and blocks until the listener stops.
func (g *Gateway) Start() error {
	if !g.state.CompareAndSwap(stateNew, stateRunning) {
		return ErrAlreadyStarted
	}
	g.logger.Info("gateway listening",
		observability.String("address", g.cfg.Server.Address),
		observability.Int("manifest_routes", g.registered),
	)
	if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		g.state.Store(stateStopped)
		return fmt.Errorf("gateway listener failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener. Idempotent.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if !g.state.CompareAndSwap(stateRunning, stateStopping) {
		return nil
	}
	defer g.state.Store(stateStopped)

	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(ctx)
}

// upstreamBase returns the scheme://host:port base for one route.
func (g *Gateway) upstreamBase(route config.RouteEntry) string {
	port := route.Port
	if port <= 0 {
		port = g.cfg.DefaultServicePort()
	}
	return "http://" + net.JoinHostPort(g.cfg.Vendor.Host, strconv.Itoa(port))
}

// translatedHandler serves one configured route with its declared
// upstream encoding.
func (g *Gateway) translatedHandler(route config.TranslatedRoute) gin.HandlerFunc {
	base := g.upstreamBase(route.RouteEntry)
	target := route.Target()

	switch route.NormalizedEncoding() {
	case config.EncodingRaw:
		return func(c *gin.Context) {
			if err := g.forwarder.Raw(c.Writer, c.Request, base+target, route.Stream); err != nil {
				g.forwarder.WriteError(c, err)
			}
		}

	case config.EncodingMultipart:
		return func(c *gin.Context) {
			payload, err := proxy.ReadJSONBody(c)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "BadRequest", "message": err.Error()})
				return
			}
			res, err := g.forwarder.PostMultipart(c.Request.Context(), base, target, payload)
			if err != nil {
				g.forwarder.WriteError(c, err)
				return
			}
			g.forwarder.WriteResult(c, route, res)
		}

	default:
		if route.NormalizedMethod() == http.MethodGet {
			return func(c *gin.Context) {
				res, err := g.forwarder.Get(c.Request.Context(), base, target, c.Request.URL.Query())
				if err != nil {
					g.forwarder.WriteError(c, err)
					return
				}
				g.forwarder.WriteResult(c, route, res)
			}
		}
		return func(c *gin.Context) {
			payload, err := proxy.ReadJSONBody(c)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "BadRequest", "message": err.Error()})
				return
			}
			res, err := g.forwarder.PostJSON(c.Request.Context(), base, target, payload)
			if err != nil {
				g.forwarder.WriteError(c, err)
				return
			}
			g.forwarder.WriteResult(c, route, res)
		}
	}
}
