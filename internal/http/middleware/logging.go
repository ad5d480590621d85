// README: Access log middleware writing one zap line per request.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ridemarket/internal/logger"
)

func Logging(log *zap.Logger) gin.HandlerFunc {
	log = logger.OrNop(log)
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			logger.String("method", c.Request.Method),
			logger.String("path", c.Request.URL.Path),
			logger.Int("status", c.Writer.Status()),
			logger.Duration("latency", time.Since(start)),
		}
		if uid := CallerUID(c); uid != "" {
			fields = append(fields, logger.String("uid", uid))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, logger.String("errors", c.Errors.String()))
		}
		switch {
		case c.Writer.Status() >= 500:
			log.Error("http request", fields...)
		default:
			log.Info("http request", fields...)
		}
	}
}
