package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/optiplay/backend/internal/api/middleware"
	"github.com/optiplay/backend/internal/models"
	"github.com/optiplay/backend/internal/moderation"
	"github.com/optiplay/backend/internal/mute"
	"github.com/optiplay/backend/internal/services"
)

// respondError maps service errors onto status codes and JSON bodies.
func respondError(c *gin.Context, err error) {
	var (
		rle     *services.RateLimitError
		flagged *services.FlaggedError
		muted   *services.MutedError
	)
	switch {
	case errors.As(err, &rle):
		middleware.AbortTooManyRequests(c, rle.Result, time.Now())
	case errors.As(err, &flagged):
		v := flagged.Verdict
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"error":           "Content was flagged for review",
			"flagged":         v.Flagged,
			"score":           v.Score,
			"source":          v.Source,
			"message":         v.Message,
			"overrideAllowed": models.IsPrivilegedRole(c.GetString(middleware.RoleKey)),
		})
	case errors.As(err, &muted):
		body := gin.H{"error": muted.Error()}
		if muted.Reason != "" {
			body["reason"] = muted.Reason
		}
		if muted.ExpiresAt != nil {
			body["expiresAt"] = muted.ExpiresAt.UTC().Format(time.RFC3339)
		}
		c.AbortWithStatusJSON(http.StatusForbidden, body)
	case moderation.IsPolicyViolation(err), errors.Is(err, services.ErrInvalidIP):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrInvalidCredentials), errors.Is(err, services.ErrInvalidToken):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, mute.ErrCannotMuteOwner),
		errors.Is(err, services.ErrOverrideForbidden),
		errors.Is(err, services.ErrIPBlocked),
		errors.Is(err, services.ErrAccountDisabled):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrUserNotFound), errors.Is(err, services.ErrPostNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrDuplicateUser):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		middleware.GetRequestLogger(c).WithError(err).Error("request failed")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
