// Package cerberus is the IP gate in front of every route.
package cerberus

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/optiplay/backend/internal/iprep"
	"github.com/optiplay/backend/internal/logger"
)

// Guard is the reputation check the middleware consults.
type Guard interface {
	IsBlocked(ip string) bool
	Admit(ip string, action iprep.Action) error
}

// Cerberus refuses blacklisted addresses and tracks mutating requests.
type Cerberus struct {
	guard Guard
}

// New creates a new Cerberus instance
func New(guard Guard) *Cerberus {
	return &Cerberus{guard: guard}
}

// actionFor maps a request onto the tracked action. Auth routes track
// themselves with their own actions and are skipped here.
func actionFor(method, path string) (iprep.Action, bool) {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return "", false
	}
	switch {
	case strings.HasPrefix(path, "/api/v1/auth/"):
		return "", false
	case strings.HasSuffix(path, "/comments"):
		return iprep.ActionComment, true
	case strings.HasPrefix(path, "/api/v1/posts"):
		return iprep.ActionPost, true
	}
	return iprep.ActionRequest, true
}

// Middleware returns a Gin middleware that enforces the IP checks.
func (c *Cerberus) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ip := ctx.ClientIP()

		if c.guard.IsBlocked(ip) {
			c.deny(ctx, ip, "blacklisted")
			return
		}

		if action, ok := actionFor(ctx.Request.Method, ctx.Request.URL.Path); ok {
			if err := c.guard.Admit(ip, action); err != nil {
				c.deny(ctx, ip, "abusive")
				return
			}
		}

		ctx.Next()
	}
}

func (c *Cerberus) deny(ctx *gin.Context, ip, decision string) {
	logger.Component("cerberus").WithFields(map[string]interface{}{
		"ip":       ip,
		"decision": decision,
		"method":   ctx.Request.Method,
		"path":     ctx.Request.URL.Path,
	}).Warn("request blocked")
	ctx.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Access denied"})
}
