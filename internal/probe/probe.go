// Package probe implements TCP readiness probing for upstream services.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/elbios/vendorgw/internal/observability"
)

// DefaultRetryInterval is the pause between connection attempts while
// waiting for an endpoint to come up.
const DefaultRetryInterval = 1 * time.Second

// DefaultProbeTimeout is the per-endpoint timeout for live health probes.
const DefaultProbeTimeout = 5 * time.Second

// ErrWaitTimeout indicates an endpoint never became reachable in time.
var ErrWaitTimeout = errors.New("timed out waiting for endpoint")

// Endpoint is one upstream (host, port) dependency.
type Endpoint struct {
	Host string
	Port int
}

// Addr returns the dialable address.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Endpoints builds a list of endpoints for one host and several ports.
func Endpoints(host string, ports []int) []Endpoint {
	eps := make([]Endpoint, 0, len(ports))
	for _, port := range ports {
		eps = append(eps, Endpoint{Host: host, Port: port})
	}
	return eps
}

// Prober polls endpoints until they accept TCP connections. A successful
// connection is closed immediately: this is a liveness check only, not an
// application-level health check.
type Prober struct {
	logger        observability.Logger
	retryInterval time.Duration
}

// Option is a functional option for configuring the prober.
type Option func(*Prober)

// WithLogger sets the logger for the prober.
func WithLogger(logger observability.Logger) Option {
	return func(p *Prober) {
		p.logger = logger
	}
}

// WithRetryInterval sets the pause between connection attempts.
func WithRetryInterval(interval time.Duration) Option {
	return func(p *Prober) {
		p.retryInterval = interval
	}
}

// New creates a new prober.
func New(opts ...Option) *Prober {
	p := &Prober{
		logger:        observability.NopLogger(),
		retryInterval: DefaultRetryInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WaitFor blocks until every endpoint accepts a connection or the timeout
// elapses. The deadline is computed once at call start and shared across
// endpoints. A timed-out wait returns ErrWaitTimeout naming the endpoint.
func (p *Prober) WaitFor(ctx context.Context, endpoints []Endpoint, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	for _, ep := range endpoints {
		if err := p.waitForOne(ctx, ep, deadline); err != nil {
			return err
		}
		p.logger.Info("endpoint ready", observability.String("endpoint", ep.Addr()))
	}
	return nil
}

func (p *Prober) waitForOne(ctx context.Context, ep Endpoint, deadline time.Time) error {
	dialer := &net.Dialer{}
	for {
		conn, err := dialer.DialContext(ctx, "tcp", ep.Addr())
		if err == nil {
			_ = conn.Close()
			return nil
		}

		if ctx.Err() != nil || !time.Now().Before(deadline) {
			return fmt.Errorf("%w %s", ErrWaitTimeout, ep.Addr())
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w %s", ErrWaitTimeout, ep.Addr())
		case <-time.After(p.retryInterval):
		}
	}
}

// All probes every endpoint with a short per-endpoint timeout and collects
// one message per unreachable endpoint. It never returns an error: it is
// the basis of the health endpoint, which reports rather than fails.
func (p *Prober) All(ctx context.Context, endpoints []Endpoint, timeout time.Duration) []string {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	var errs []string
	for _, ep := range endpoints {
		deadline := time.Now().Add(timeout)
		probeCtx, cancel := context.WithDeadline(ctx, deadline)
		err := p.waitForOne(probeCtx, ep, deadline)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Sprintf("port %d: %v", ep.Port, err))
		}
	}
	return errs
}
