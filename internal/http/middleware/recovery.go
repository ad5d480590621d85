// README: Panic recovery middleware.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ridemarket/internal/logger"
)

func Recovery(log *zap.Logger) gin.HandlerFunc {
	log = logger.OrNop(log)
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic in handler",
					logger.String("path", c.Request.URL.Path),
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"code": "internal", "error": "internal error"})
			}
		}()
		c.Next()
	}
}
