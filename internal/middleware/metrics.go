// metrics.go records per-request Prometheus metrics. All middleware in this
// package is registered in internal/api/router.go before any route handlers
// so that every request is covered regardless of handler.

package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chronobill/chronobill/internal/telemetry"
)

// noRoute is the path label for requests no registered route matched.
// Labelling those with the raw URL would let clients mint unbounded label
// values just by probing paths.
const noRoute = "<no-route>"

// MetricsMiddleware feeds every finished request into
// telemetry.HTTPRequestsTotal and telemetry.HTTPRequestDuration. The path
// label carries c.FullPath(), the matched route template such as
// /api/v1/invoices/:id, never the raw URL. Register it after gin.Recovery so
// recovered panics still record their 500.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = noRoute
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
