package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/elbios/vendorgw/internal/observability"
)

// maxErrorDetailBytes bounds how much of an upstream error body is kept
// as diagnostic detail.
const maxErrorDetailBytes = 64 * 1024

// Result is a classified upstream response.
type Result struct {
	Status      int
	ContentType string
	Body        []byte

	// JSON holds the parsed body when the upstream sent valid JSON.
	JSON any
}

// IsJSON reports whether the body parsed as JSON.
func (r *Result) IsJSON() bool {
	return r.JSON != nil
}

// stripHeaders are hop-by-hop and gateway-specific headers never forwarded
// upstream on raw passthrough.
var stripHeaders = []string{
	"Host",
	"Content-Length",
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Accept-Encoding",
}

// consume reads the upstream response body once and classifies it.
//
// JSON bodies are parsed best-effort: a parse failure is logged, not
// fatal, and the raw bytes remain usable. Upstream 4xx and 5xx become
// UpstreamError with the parsed detail; the response writers decide how
// each is surfaced to the caller.
func consume(resp *http.Response, url string, logger observability.Logger) (*Result, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UnreachableError{URL: url, Cause: err}
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	var parsed any
	if strings.Contains(contentType, "application/json") {
		if jsonErr := json.Unmarshal(body, &parsed); jsonErr != nil {
			logger.Warn("unable to decode JSON payload from upstream",
				observability.String("url", url),
				observability.Error(jsonErr),
			)
			parsed = nil
		}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		detail := parsed
		if detail == nil {
			if len(body) > maxErrorDetailBytes {
				body = body[:maxErrorDetailBytes]
			}
			detail = string(body)
		}
		logger.Warn("upstream returned error status",
			observability.String("url", url),
			observability.Int("status", resp.StatusCode),
		)
		return nil, &UpstreamError{URL: url, Status: resp.StatusCode, Detail: detail}
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/octet-stream"
	}
	return &Result{
		Status:      resp.StatusCode,
		ContentType: ct,
		Body:        body,
		JSON:        parsed,
	}, nil
}
