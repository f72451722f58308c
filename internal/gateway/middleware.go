package gateway

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/elbios/vendorgw/internal/observability"
	"github.com/elbios/vendorgw/internal/silo"
)

// RequestIDHeader carries the request ID back to the caller.
const RequestIDHeader = "X-Request-ID"

// requestIDMiddleware assigns each request an ID, honoring one supplied
// by the caller.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Request = c.Request.WithContext(
			observability.ContextWithRequestID(c.Request.Context(), requestID))
		c.Header(RequestIDHeader, requestID)
		c.Next()
	}
}

// siloMiddleware derives the caller's silo key from the request and
// stores it in the request context. The key is request-scoped from here
// on; nothing downstream reads the raw identifier.
func siloMiddleware(queryParam, header string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Query(queryParam)
		if raw == "" {
			raw = c.GetHeader(header)
		}
		key := silo.DeriveKey(raw)
		c.Request = c.Request.WithContext(
			silo.ContextWithKey(c.Request.Context(), key))
		c.Next()
	}
}

// normalizeTrailingSlash rewrites /speak/ to /speak before the router
// sees the path, so both spellings hit the same route without a redirect.
// It wraps the engine rather than running as gin middleware: gin matches
// the route before Use middleware runs. The root path is left alone.
func normalizeTrailingSlash(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if len(path) > 1 && strings.HasSuffix(path, "/") {
			r.URL.Path = strings.TrimRight(path, "/")
		}
		next.ServeHTTP(w, r)
	})
}

// accessLogMiddleware logs each completed request and feeds the request
// metrics.
func accessLogMiddleware(logger observability.Logger, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		if metrics != nil {
			metrics.RecordRequest(c.Request.Method, route, status, elapsed)
		}
		logger.WithContext(c.Request.Context()).Info("request completed",
			observability.String("method", c.Request.Method),
			observability.String("path", c.Request.URL.Path),
			observability.Int("status", status),
			observability.Duration("elapsed", elapsed),
		)
	}
}

// recoveryMiddleware converts handler panics into 500 responses instead
// of dropping the connection.
func recoveryMiddleware(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.WithContext(c.Request.Context()).Error("handler panicked",
					observability.Any("panic", r),
					observability.String("path", c.Request.URL.Path),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "GatewayError",
				})
			}
		}()
		c.Next()
	}
}
