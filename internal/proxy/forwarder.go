package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/elbios/vendorgw/internal/config"
	"github.com/elbios/vendorgw/internal/observability"
	"github.com/elbios/vendorgw/internal/silo"
)

// DefaultRequestTimeout bounds one forwarded call. Synthesis-style calls
// can legitimately run for minutes.
const DefaultRequestTimeout = 5 * time.Minute

// Forwarder relays gateway requests to the local vendor services. It is
// stateless per request: the only per-request input beyond arguments is
// the silo key carried in the context.
type Forwarder struct {
	client     *http.Client
	logger     observability.Logger
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	siloFields []string

	breakerCfg config.CircuitBreakerConfig
	breakerMu  sync.Mutex
	breakers   map[string]*gobreaker.CircuitBreaker
}

// Option is a functional option for configuring the forwarder.
type Option func(*Forwarder)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(f *Forwarder) {
		f.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(f *Forwarder) {
		f.metrics = metrics
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer *observability.Tracer) Option {
	return func(f *Forwarder) {
		f.tracer = tracer
	}
}

// WithHTTPClient sets the HTTP client used for upstream calls.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Forwarder) {
		f.client = client
	}
}

// WithSiloFields sets the payload fields rewritten per caller.
func WithSiloFields(fields []string) Option {
	return func(f *Forwarder) {
		f.siloFields = fields
	}
}

// WithCircuitBreaker enables circuit breaking per upstream base URL.
func WithCircuitBreaker(cfg config.CircuitBreakerConfig) Option {
	return func(f *Forwarder) {
		f.breakerCfg = cfg
	}
}

// New creates a forwarder with the given request timeout.
func New(timeout time.Duration, opts ...Option) *Forwarder {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	f := &Forwarder{
		client:   &http.Client{Timeout: timeout},
		logger:   observability.NopLogger(),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.tracer == nil {
		f.tracer, _ = observability.NewTracer(observability.TracerConfig{ServiceName: "vendorgw"})
	}
	return f
}

// Get forwards a GET request with the given query parameters.
func (f *Forwarder) Get(ctx context.Context, base, path string, query url.Values) (*Result, error) {
	target := base + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", target, err)
	}
	if len(query) > 0 {
		req.URL.RawQuery = query.Encode()
	}
	return f.send(req)
}

// PostJSON forwards the payload as a JSON request body. Configured silo
// fields are rewritten with the caller's key before serialization.
func (f *Forwarder) PostJSON(ctx context.Context, base, path string, payload map[string]any) (*Result, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	f.applySilo(ctx, payload)

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize payload: %w", err)
	}

	target := base + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", target, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return f.send(req)
}

// PostMultipart translates the payload to multipart form-data and forwards
// it. Silo fields are rewritten before encoding so file names derived from
// them land in the caller's namespace.
func (f *Forwarder) PostMultipart(ctx context.Context, base, path string, payload map[string]any) (*Result, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	f.applySilo(ctx, payload)

	body, contentType, err := encodeMultipart(payload, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to encode multipart payload: %w", err)
	}

	target := base + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", target, err)
	}
	req.Header.Set("Content-Type", contentType)
	return f.send(req)
}

// send performs the round trip and classifies the buffered response.
func (f *Forwarder) send(req *http.Request) (*Result, error) {
	resp, err := f.roundTrip(req)
	if err != nil {
		return nil, err
	}
	return consume(resp, req.URL.String(), f.logger)
}

// roundTrip performs the HTTP call through the circuit breaker and maps
// transport failures to UnreachableError. The caller owns the response
// body.
func (f *Forwarder) roundTrip(req *http.Request) (*http.Response, error) {
	ctx, span := f.tracer.Start(req.Context(), "proxy.forward",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("url.full", req.URL.String()),
		),
	)
	defer span.End()
	req = req.WithContext(ctx)

	do := func() (any, error) {
		resp, err := f.client.Do(req)
		if err != nil {
			return nil, &UnreachableError{URL: req.URL.String(), Cause: err}
		}
		return resp, nil
	}

	var result any
	var err error
	if breaker := f.breakerFor(req.URL.Host); breaker != nil {
		result, err = breaker.Execute(do)
	} else {
		result, err = do()
	}

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			f.logger.Warn("circuit open for upstream, rejecting request",
				observability.String("upstream", req.URL.Host),
			)
			return nil, fmt.Errorf("%w: %s", ErrUpstreamBusy, req.URL.Host)
		}
		f.logger.Error("connection error to upstream",
			observability.String("url", req.URL.String()),
			observability.Error(err),
		)
		return nil, err
	}

	resp := result.(*http.Response)
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	// A 5xx counts as a breaker failure even though the transport call
	// succeeded; feed it back by hand so sustained upstream errors trip
	// the circuit.
	if resp.StatusCode >= http.StatusInternalServerError {
		f.recordServerError(req.URL.Host)
	}
	return resp, nil
}

// recordServerError feeds an upstream 5xx into the breaker as a failure.
func (f *Forwarder) recordServerError(host string) {
	breaker := f.breakerFor(host)
	if breaker == nil {
		return
	}
	_, _ = breaker.Execute(func() (any, error) {
		return nil, &UpstreamError{Status: http.StatusInternalServerError}
	})
}

// breakerFor lazily creates one breaker per upstream host.
func (f *Forwarder) breakerFor(host string) *gobreaker.CircuitBreaker {
	if !f.breakerCfg.Enabled {
		return nil
	}

	f.breakerMu.Lock()
	defer f.breakerMu.Unlock()

	if breaker, ok := f.breakers[host]; ok {
		return breaker
	}

	threshold := uint32(f.breakerCfg.Threshold) //nolint:gosec // validated positive
	logger := f.logger
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        host,
		MaxRequests: threshold,
		Interval:    f.breakerCfg.Timeout.Duration(),
		Timeout:     f.breakerCfg.Timeout.Duration(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= threshold && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state change",
				observability.String("upstream", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
	})
	f.breakers[host] = breaker
	return breaker
}

// applySilo rewrites configured payload fields with the caller's key.
func (f *Forwarder) applySilo(ctx context.Context, payload map[string]any) {
	if len(f.siloFields) == 0 {
		return
	}
	key := silo.KeyFromContext(ctx)
	silo.Apply(payload, f.siloFields, key)
	f.logger.Debug("siloed payload fields",
		observability.String("key", key),
		observability.Strings("fields", f.siloFields),
	)
}

// Raw relays the inbound request unmodified: original method, headers
// minus hop-by-hop, body and query string. The response is relayed after
// the status line is inspected, so upstream 5xx can still be remapped;
// streaming routes flush incrementally.
func (f *Forwarder) Raw(w http.ResponseWriter, r *http.Request, target string, stream bool) error {
	upstreamURL := target
	if r.URL.RawQuery != "" {
		upstreamURL += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, upstreamURL, r.Body)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", upstreamURL, err)
	}

	req.Header = r.Header.Clone()
	for _, h := range stripHeaders {
		req.Header.Del(h)
	}

	resp, err := f.roundTrip(req)
	if err != nil {
		return err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		// Buffer and classify so 5xx gets the same remap as translated
		// routes instead of leaking through verbatim.
		_, consumeErr := consume(resp, upstreamURL, f.logger)
		return consumeErr
	}

	defer resp.Body.Close()

	header := w.Header()
	for key, values := range resp.Header {
		for _, value := range values {
			header.Add(key, value)
		}
	}
	w.WriteHeader(resp.StatusCode)

	if stream {
		if flusher, ok := w.(http.Flusher); ok {
			_, err = io.Copy(&flushWriter{w: w, f: flusher}, resp.Body)
			return err
		}
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

// flushWriter flushes after every write for incremental relay.
type flushWriter struct {
	w io.Writer
	f http.Flusher
}

func (fw *flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	fw.f.Flush()
	return n, err
}
