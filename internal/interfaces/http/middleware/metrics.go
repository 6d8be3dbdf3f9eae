package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/telemetry"
)

// HTTPMetrics records request counts and latency per route pattern.
func HTTPMetrics(m *telemetry.Metrics) gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		m.HTTPRequest(c.Request.Method, routePattern(c), c.Writer.Status(), time.Since(start))
	}
}

// routePattern returns the matched pattern (e.g. "/uploads/*key") so raw
// paths do not explode label cardinality.
func routePattern(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}
