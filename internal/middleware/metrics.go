// Package middleware provides Gin HTTP middleware for authentication, rate
// limiting, request identification, and metrics. All middleware in this
// package is registered in internal/api/router.go before any route handlers
// so that every request is covered regardless of handler.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Recovery → RequestID → Metrics → RateLimit → Auth → Handler
//
// Rate limiting runs before auth to block brute-force attempts before any
// token verification work. Auth populates the caller identity; handlers read
// it from the context for role gating and audit attribution.
package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cloud-guardrail/cloud-guardrail/internal/telemetry"
)

// MetricsMiddleware returns a Gin handler that records two Prometheus metrics for every
// request that passes through the router.
//
// Recorded metrics:
//   - http_requests_total{method, path, status}    — CounterVec
//   - http_request_duration_seconds{method, path}  — HistogramVec
//
// The path label is set from c.FullPath(), which returns the matched Gin route template
// (e.g. /api/v1/actions/:resource_type/:action) rather than the raw URL. Requests that
// do not match any registered route (404/405) use the literal string "<no-route>" so
// unhandled paths do not inflate label cardinality.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		// Resolve the route template; fall back for 404/405 situations.
		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}

		duration := time.Since(start).Seconds()
		method := c.Request.Method
		status := fmt.Sprintf("%d", c.Writer.Status())

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}
