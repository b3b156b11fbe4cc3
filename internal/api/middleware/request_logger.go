package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

// RequestLogger logs each request with its request_id and, when
// authenticated, the caller's user id.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := map[string]interface{}{
			"status":  c.Writer.Status(),
			"method":  c.Request.Method,
			"path":    SanitizePath(c.Request.URL.Path),
			"latency": time.Since(start).String(),
			"client":  c.ClientIP(),
		}
		if uid, ok := c.Get(UserIDKey); ok {
			fields["user_id"] = uid
		}
		entry := GetRequestLogger(c).WithFields(fields)
		if c.Writer.Status() >= 500 {
			entry.Warn("handled request")
			return
		}
		entry.Info("handled request")
	}
}
