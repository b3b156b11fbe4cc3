package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/optiplay/backend/internal/ratelimit"
)

// TooManyRequestsMessage is the body text of every 429 response.
const TooManyRequestsMessage = "Too many requests. Please try again later."

// AbortTooManyRequests writes the 429 response for res, including Retry-After.
func AbortTooManyRequests(c *gin.Context, res ratelimit.Result, now time.Time) {
	retry := res.RetryAfter(now)
	c.Header("Retry-After", strconv.Itoa(int(retry.Seconds())))
	c.Header("X-RateLimit-Remaining", "0")
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": TooManyRequestsMessage})
}

// RateLimit limits authenticated callers by user id, falling back to the
// client IP when the route is not authenticated.
func RateLimit(limiter *ratelimit.Limiter, rule ratelimit.Rule) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.ClientIP()
		if uid := CurrentUserID(c); uid != 0 {
			id = "user:" + strconv.FormatUint(uint64(uid), 10)
		}
		res := limiter.Allow(c.Request.Context(), id, rule)
		if !res.Success {
			AbortTooManyRequests(c, res, limiter.Now())
			return
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Next()
	}
}
