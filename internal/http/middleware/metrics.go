package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ridemarket/internal/observability"
)

// Metrics records request counts and latency labelled by route template, so
// ride ids do not explode label cardinality.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		observability.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		observability.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
