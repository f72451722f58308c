package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elbios/vendorgw/internal/config"
	"github.com/elbios/vendorgw/internal/observability"
	"github.com/elbios/vendorgw/internal/probe"
	"github.com/elbios/vendorgw/internal/proxy"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type vendorStub struct {
	server *httptest.Server
	host   string
	port   int

	lastBody map[string]any
}

func newVendorStub(t *testing.T) *vendorStub {
	t.Helper()
	stub := &vendorStub{}
	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/speak":
			stub.lastBody = map[string]any{}
			_ = json.NewDecoder(r.Body).Decode(&stub.lastBody)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"done":true}`))
		case "/voices":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`["alice","bob"]`))
		case "/broken":
			http.Error(w, "model crashed", http.StatusInternalServerError)
		case "/inference":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"raw":true}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(stub.server.Close)

	u, err := url.Parse(stub.server.URL)
	require.NoError(t, err)
	stub.host = u.Hostname()
	stub.port, err = strconv.Atoi(u.Port())
	require.NoError(t, err)
	return stub
}

func newTestGateway(t *testing.T, stub *vendorStub, routes []config.RouteEntry) *Gateway {
	t.Helper()

	cfg := &config.GatewayConfig{
		Vendor: config.VendorConfig{
			Host:         stub.host,
			ServicePorts: []int{stub.port},
			Entrypoint:   "/bin/true",
		},
		Routes: []config.TranslatedRoute{
			{
				RouteEntry: config.RouteEntry{Path: "/speak", Method: "POST"},
				Encoding:   config.EncodingJSON,
			},
			{
				RouteEntry: config.RouteEntry{Path: "/voices", Method: "GET"},
				Encoding:   config.EncodingJSON,
			},
			{
				RouteEntry: config.RouteEntry{Path: "/broken", Method: "GET"},
				Encoding:   config.EncodingJSON,
			},
		},
	}
	cfg.ApplyDefaults()
	cfg.Observability.Metrics.Enabled = true

	forwarder := proxy.New(5*time.Second,
		proxy.WithSiloFields(cfg.Silo.Fields),
	)

	gw, err := New(cfg, Deps{
		Logger:    observability.NopLogger(),
		Metrics:   observability.NewMetrics("test"),
		Forwarder: forwarder,
		Prober:    probe.New(probe.WithRetryInterval(10 * time.Millisecond)),
		Routes:    routes,
	})
	require.NoError(t, err)
	return gw
}

func do(gw *Gateway, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)
	return rec
}

func TestTranslatedJSONRoute(t *testing.T) {
	t.Parallel()

	stub := newVendorStub(t)
	gw := newTestGateway(t, stub, nil)

	req := httptest.NewRequest(http.MethodPost, "/speak", strings.NewReader(`{"text":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := do(gw, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"done":true}`, rec.Body.String())
	assert.Equal(t, "hi", stub.lastBody["text"])
}

func TestSiloKeyFromQueryParameter(t *testing.T) {
	t.Parallel()

	stub := newVendorStub(t)
	gw := newTestGateway(t, stub, nil)

	req := httptest.NewRequest(http.MethodPost, "/speak?silo_id=caller-42",
		strings.NewReader(`{"speaker_name":"alice"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := do(gw, req)

	require.Equal(t, http.StatusOK, rec.Code)
	name, _ := stub.lastBody["speaker_name"].(string)
	require.NotEmpty(t, name)
	assert.True(t, strings.HasSuffix(name, "_alice"), "got %q", name)
	assert.NotEqual(t, "alice", name)
	assert.NotContains(t, name, "caller-42")
}

func TestSiloKeyFromHeader(t *testing.T) {
	t.Parallel()

	stub := newVendorStub(t)
	gw := newTestGateway(t, stub, nil)

	req := httptest.NewRequest(http.MethodPost, "/speak", strings.NewReader(`{"speaker_name":"alice"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Silo-ID", "caller-42")
	rec := do(gw, req)

	require.Equal(t, http.StatusOK, rec.Code)
	name, _ := stub.lastBody["speaker_name"].(string)
	assert.True(t, strings.HasSuffix(name, "_alice"), "got %q", name)
}

func TestAnonymousCallerGetsDefaultSilo(t *testing.T) {
	t.Parallel()

	stub := newVendorStub(t)
	gw := newTestGateway(t, stub, nil)

	req := httptest.NewRequest(http.MethodPost, "/speak", strings.NewReader(`{"speaker_name":"alice"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := do(gw, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "default_alice", stub.lastBody["speaker_name"])
}

func TestTrailingSlashNormalization(t *testing.T) {
	t.Parallel()

	stub := newVendorStub(t)
	gw := newTestGateway(t, stub, nil)

	rec := do(gw, httptest.NewRequest(http.MethodGet, "/voices/", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["alice","bob"]`, rec.Body.String())
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()

	stub := newVendorStub(t)
	gw := newTestGateway(t, stub, nil)

	rec := do(gw, httptest.NewRequest(http.MethodGet, "/voices", http.NoBody))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/voices", http.NoBody)
	req.Header.Set(RequestIDHeader, "caller-chosen-id")
	rec = do(gw, req)
	assert.Equal(t, "caller-chosen-id", rec.Header().Get(RequestIDHeader))
}

func TestUpstreamServerErrorRemapped(t *testing.T) {
	t.Parallel()

	stub := newVendorStub(t)
	gw := newTestGateway(t, stub, nil)

	rec := do(gw, httptest.NewRequest(http.MethodGet, "/broken", http.NoBody))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "UpstreamError", body["error"])
	assert.EqualValues(t, http.StatusInternalServerError, body["upstream_status"])
}

func TestManifestRoutesAreServed(t *testing.T) {
	t.Parallel()

	stub := newVendorStub(t)
	gw := newTestGateway(t, stub, []config.RouteEntry{
		{Path: "/inference", Method: "POST", Port: stub.port},
		{Path: "/favicon.ico", Method: "GET"},
	})

	registered, skipped := gw.RouteCounts()
	assert.Equal(t, 1, registered)
	assert.Equal(t, 1, skipped)

	rec := do(gw, httptest.NewRequest(http.MethodPost, "/inference", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"raw":true}`, rec.Body.String())
}

func TestManifestRouteCannotShadowConfiguredRoute(t *testing.T) {
	t.Parallel()

	stub := newVendorStub(t)
	gw := newTestGateway(t, stub, []config.RouteEntry{
		{Path: "/speak", Method: "POST", Port: 1},
		{Path: "/health", Method: "GET", Port: 1},
	})

	registered, skipped := gw.RouteCounts()
	assert.Equal(t, 0, registered)
	assert.Equal(t, 2, skipped)

	// The translated route still answers.
	req := httptest.NewRequest(http.MethodPost, "/speak", strings.NewReader(`{"text":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := do(gw, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthEndpointRegistered(t *testing.T) {
	t.Parallel()

	stub := newVendorStub(t)
	gw := newTestGateway(t, stub, nil)

	rec := do(gw, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestMetricsEndpointRegistered(t *testing.T) {
	t.Parallel()

	stub := newVendorStub(t)
	gw := newTestGateway(t, stub, nil)

	// Drive one request first so the request counter has a sample.
	do(gw, httptest.NewRequest(http.MethodGet, "/voices", http.NoBody))

	rec := do(gw, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_requests_total")
}
