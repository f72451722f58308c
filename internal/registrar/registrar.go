package registrar

import (
	"net"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/elbios/vendorgw/internal/config"
	"github.com/elbios/vendorgw/internal/observability"
	"github.com/elbios/vendorgw/internal/proxy"
)

// Registrar registers passthrough routes onto a gin engine. Every route
// is served by the same relay handler; the entry itself carries the
// upstream port, target path and streaming mode.
type Registrar struct {
	forwarder   *proxy.Forwarder
	host        string
	defaultPort int
	logger      observability.Logger
	metrics     *observability.Metrics

	// reserved holds "METHOD path" keys already taken by configured
	// routes or the gateway's own endpoints.
	reserved map[string]struct{}
}

// New creates a registrar forwarding to upstream services on host; routes
// without an explicit port use defaultPort.
func New(forwarder *proxy.Forwarder, host string, defaultPort int, logger observability.Logger, metrics *observability.Metrics) *Registrar {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Registrar{
		forwarder:   forwarder,
		host:        host,
		defaultPort: defaultPort,
		logger:      logger,
		metrics:     metrics,
		reserved:    make(map[string]struct{}),
	}
}

// Reserve marks a (method, path) pair as taken so later manifest entries
// cannot shadow it. gin panics on duplicate registration, so collisions
// must be filtered here.
func (r *Registrar) Reserve(method, path string) {
	r.reserved[config.RouteEntry{Path: path, Method: method}.Key()] = struct{}{}
}

// Register wires the manifest routes into the engine and returns how many
// were registered and how many skipped. Skips are logged, never fatal: a
// vendor manifest full of UI routes must not take the gateway down.
func (r *Registrar) Register(engine *gin.Engine, routes []config.RouteEntry) (registered, skipped int) {
	for idx, route := range routes {
		if excluded, reason := Excluded(route.Path); excluded {
			r.logger.Debug("skipping manifest route",
				observability.String("path", route.Path),
				observability.String("reason", reason),
			)
			skipped++
			continue
		}
		if _, taken := r.reserved[route.Key()]; taken {
			r.logger.Warn("manifest route collides with configured route, skipping",
				observability.String("method", route.NormalizedMethod()),
				observability.String("path", route.Path),
			)
			skipped++
			continue
		}

		engine.Handle(route.NormalizedMethod(), route.Path, r.handler(route))
		r.reserved[route.Key()] = struct{}{}
		registered++

		r.logger.Info("registered passthrough route",
			observability.String("name", routeName(route, idx)),
			observability.String("method", route.NormalizedMethod()),
			observability.String("path", route.Path),
			observability.Int("port", r.portFor(route)),
			observability.Bool("stream", route.Stream),
		)
	}

	if r.metrics != nil {
		r.metrics.SetRoutesRegistered(registered, skipped)
	}
	r.logger.Info("route registration complete",
		observability.Int("registered", registered),
		observability.Int("skipped", skipped),
	)
	return registered, skipped
}

// handler returns the relay handler for one manifest entry.
func (r *Registrar) handler(route config.RouteEntry) gin.HandlerFunc {
	target := r.targetURL(route)
	return func(c *gin.Context) {
		if err := r.forwarder.Raw(c.Writer, c.Request, target, route.Stream); err != nil {
			r.forwarder.WriteError(c, err)
		}
	}
}

func (r *Registrar) portFor(route config.RouteEntry) int {
	if route.Port > 0 {
		return route.Port
	}
	return r.defaultPort
}

func (r *Registrar) targetURL(route config.RouteEntry) string {
	addr := net.JoinHostPort(r.host, strconv.Itoa(r.portFor(route)))
	return "http://" + addr + route.Target()
}

// routeName builds a log-friendly identifier that stays unique even when
// several manifest entries share a path.
func routeName(route config.RouteEntry, idx int) string {
	sanitized := strings.Trim(strings.ReplaceAll(route.Path, "/", "_"), "_")
	return strings.ToLower(route.NormalizedMethod()) + "_" + sanitized + "_" + strconv.Itoa(idx)
}
