package proxy

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/elbios/vendorgw/internal/config"
	"github.com/elbios/vendorgw/internal/observability"
)

// Remap reasons recorded on the metrics surface.
const (
	remapServerError = "server_error"
	remapUnreachable = "unreachable"
	remapCircuitOpen = "circuit_open"
)

// WriteResult writes a classified upstream response to the caller. The
// configured response content type, when set, overrides whatever the
// upstream declared.
func (f *Forwarder) WriteResult(c *gin.Context, route config.TranslatedRoute, res *Result) {
	contentType := res.ContentType
	if route.ResponseContentType != "" {
		contentType = route.ResponseContentType
	}
	c.Data(res.Status, contentType, res.Body)
}

// WriteError maps a forwarding failure to the caller-facing response.
//
// Upstream 5xx and connection failures both surface as 429 so the
// platform treats the worker as busy and retries elsewhere, rather than
// marking it broken on a transient fault. Upstream 4xx is the caller's
// own mistake and is relayed with its original status.
func (f *Forwarder) WriteError(c *gin.Context, err error) {
	var upstreamErr *UpstreamError
	if errors.As(err, &upstreamErr) {
		if upstreamErr.IsServerError() {
			f.recordRemap(remapServerError)
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":           "UpstreamError",
				"upstream_status": upstreamErr.Status,
				"message":         upstreamErr.Detail,
			})
			return
		}
		f.relayClientError(c, upstreamErr)
		return
	}

	if errors.Is(err, ErrUpstreamUnreachable) {
		f.recordRemap(remapUnreachable)
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":   "UpstreamUnreachable",
			"message": err.Error(),
		})
		return
	}

	if errors.Is(err, ErrUpstreamBusy) {
		f.recordRemap(remapCircuitOpen)
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":   "UpstreamUnreachable",
			"message": err.Error(),
		})
		return
	}

	f.logger.Error("request forwarding failed",
		observability.String("path", c.Request.URL.Path),
		observability.Error(err),
	)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "GatewayError",
		"message": err.Error(),
	})
}

// relayClientError passes an upstream 4xx through with its original
// status and body.
func (f *Forwarder) relayClientError(c *gin.Context, upstreamErr *UpstreamError) {
	switch detail := upstreamErr.Detail.(type) {
	case string:
		c.String(upstreamErr.Status, "%s", detail)
	case nil:
		c.Status(upstreamErr.Status)
	default:
		c.JSON(upstreamErr.Status, detail)
	}
}

// recordRemap counts one error remap when metrics are wired.
func (f *Forwarder) recordRemap(reason string) {
	if f.metrics != nil {
		f.metrics.RecordRemap(reason)
	}
}

// ReadJSONBody decodes the request body as a JSON object. An empty body
// is treated as an empty payload; anything else that is not an object is
// rejected.
func ReadJSONBody(c *gin.Context) (map[string]any, error) {
	payload := map[string]any{}
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return payload, nil
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	return payload, nil
}
