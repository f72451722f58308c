package proxy

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elbios/vendorgw/internal/config"
)

func testContext(t *testing.T) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/speak", http.NoBody)
	return c, rec
}

func TestWriteErrorRemapsServerErrorTo429(t *testing.T) {
	t.Parallel()

	c, rec := testContext(t)
	f := newForwarder()

	f.WriteError(c, &UpstreamError{
		URL:    "http://127.0.0.1:8020/speak",
		Status: http.StatusServiceUnavailable,
		Detail: map[string]any{"detail": "model loading"},
	})

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "UpstreamError", body["error"])
	assert.EqualValues(t, http.StatusServiceUnavailable, body["upstream_status"])
	assert.Equal(t, map[string]any{"detail": "model loading"}, body["message"])
}

func TestWriteErrorRelaysClientErrorVerbatim(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		detail   any
		wantBody func(t *testing.T, rec *httptest.ResponseRecorder)
	}{
		{
			name:   "json detail",
			detail: map[string]any{"detail": "unknown voice"},
			wantBody: func(t *testing.T, rec *httptest.ResponseRecorder) {
				assert.JSONEq(t, `{"detail":"unknown voice"}`, rec.Body.String())
			},
		},
		{
			name:   "text detail",
			detail: "unknown voice",
			wantBody: func(t *testing.T, rec *httptest.ResponseRecorder) {
				assert.Equal(t, "unknown voice", rec.Body.String())
			},
		},
		{
			name:   "no detail",
			detail: nil,
			wantBody: func(t *testing.T, rec *httptest.ResponseRecorder) {
				assert.Empty(t, rec.Body.String())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, rec := testContext(t)
			f := newForwarder()

			f.WriteError(c, &UpstreamError{Status: http.StatusNotFound, Detail: tt.detail})
			c.Writer.WriteHeaderNow()

			assert.Equal(t, http.StatusNotFound, rec.Code)
			tt.wantBody(t, rec)
		})
	}
}

func TestWriteErrorUnreachableBecomes429(t *testing.T) {
	t.Parallel()

	c, rec := testContext(t)
	f := newForwarder()

	f.WriteError(c, &UnreachableError{
		URL:   "http://127.0.0.1:8020/speak",
		Cause: fmt.Errorf("connection refused"),
	})

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "UpstreamUnreachable", body["error"])
}

func TestWriteErrorCircuitOpenBecomes429(t *testing.T) {
	t.Parallel()

	c, rec := testContext(t)
	f := newForwarder()

	f.WriteError(c, fmt.Errorf("%w: 127.0.0.1:8020", ErrUpstreamBusy))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "UpstreamUnreachable")
}

func TestWriteErrorUnknownFailureIs500(t *testing.T) {
	t.Parallel()

	c, rec := testContext(t)
	f := newForwarder()

	f.WriteError(c, fmt.Errorf("payload too strange"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "GatewayError")
}

func TestWriteResultContentTypeOverride(t *testing.T) {
	t.Parallel()

	c, rec := testContext(t)
	f := newForwarder()

	route := config.TranslatedRoute{
		RouteEntry:          config.RouteEntry{Path: "/speak", Method: "POST"},
		ResponseContentType: "audio/wav",
	}
	f.WriteResult(c, route, &Result{
		Status:      http.StatusOK,
		ContentType: "application/octet-stream",
		Body:        []byte("wav bytes"),
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/wav", rec.Header().Get("Content-Type"))
	assert.Equal(t, "wav bytes", rec.Body.String())
}

func TestReadJSONBody(t *testing.T) {
	t.Parallel()

	t.Run("empty body yields empty payload", func(t *testing.T) {
		t.Parallel()
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodPost, "/speak", http.NoBody)

		payload, err := ReadJSONBody(c)
		require.NoError(t, err)
		assert.Empty(t, payload)
	})

	t.Run("invalid json is rejected", func(t *testing.T) {
		t.Parallel()
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		req := httptest.NewRequest(http.MethodPost, "/speak", strings.NewReader("{broken"))
		req.Header.Set("Content-Type", "application/json")
		c.Request = req

		_, err := ReadJSONBody(c)
		assert.Error(t, err)
	})
}
