package middleware

import (
	"net/http"
	"strings"
	"time"

	"midimesh/pkg/tracing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// TracingMiddleware spans each status-API request. Session and peer lookups
// get their route identifier attached under the shared attribute keys, so
// API spans correlate with control-plane and transport spans for the same
// session or peer.
func TracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		ctx, span := tracing.TraceHTTPRequest(c.Request.Context(), c.Request.Method, route)
		defer span.End()

		span.SetAttributes(attribute.String("http.remote_addr", c.ClientIP()))
		if id := c.Param("id"); id != "" {
			key := tracing.SessionIDKey
			if strings.Contains(route, "/peers/") {
				key = tracing.PeerIDKey
			}
			span.SetAttributes(key.String(id))
		}
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(
			attribute.Int("http.status_code", status),
			attribute.Int64("http.duration_ms", time.Since(start).Milliseconds()),
		)
		if status >= http.StatusBadRequest {
			span.SetStatus(codes.Error, c.Errors.String())
			return
		}
		span.SetStatus(codes.Ok, "")
	}
}
