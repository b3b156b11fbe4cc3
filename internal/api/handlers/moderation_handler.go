package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/optiplay/backend/internal/api/middleware"
	"github.com/optiplay/backend/internal/mute"
	"github.com/optiplay/backend/internal/services"
)

// ModerationHandler serves the staff-only endpoints.
type ModerationHandler struct {
	mutes      *services.MuteService
	reputation *services.ReputationService
	security   *services.SecurityService
	posts      *services.PostService
}

func NewModerationHandler(mutes *services.MuteService, reputation *services.ReputationService,
	security *services.SecurityService, posts *services.PostService) *ModerationHandler {
	return &ModerationHandler{mutes: mutes, reputation: reputation, security: security, posts: posts}
}

type MuteRequest struct {
	Mute            *bool      `json:"mute" binding:"required"`
	Reason          string     `json:"reason" binding:"max=500"`
	DurationMinutes int        `json:"durationMinutes" binding:"min=0"`
	ExpiresAt       *time.Time `json:"expiresAt"`
}

// SetMute mutes or unmutes the target user.
func (h *ModerationHandler) SetMute(c *gin.Context) {
	userID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req MuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	moderator := c.GetString(middleware.EmailKey)
	var err error
	if *req.Mute {
		_, err = h.mutes.Mute(userID, mute.Request{
			Reason:          req.Reason,
			DurationMinutes: req.DurationMinutes,
			ExpiresAt:       req.ExpiresAt,
			ModeratorEmail:  moderator,
		})
	} else {
		_, err = h.mutes.Unmute(userID, moderator)
	}
	if err != nil {
		respondError(c, err)
		return
	}

	user, err := h.mutes.RefreshMuteStatus(userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":            true,
		"muted":         user.IsMuted,
		"mutedReason":   user.MutedReason,
		"mutedAt":       user.MutedAt,
		"mutedByEmail":  user.MutedByEmail,
		"muteExpiresAt": user.MuteExpiresAt,
	})
}

func (h *ModerationHandler) MuteAudit(c *gin.Context) {
	userID, ok := parseID(c, "id")
	if !ok {
		return
	}
	entries, err := h.mutes.ListAudit(userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *ModerationHandler) IPReport(c *gin.Context) {
	report, err := h.reputation.Report(c.Param("ip"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

type BlacklistRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

func (h *ModerationHandler) BlacklistIP(c *gin.Context) {
	var req BlacklistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	report, err := h.reputation.Blacklist(c.Param("ip"), req.Reason, c.GetString(middleware.EmailKey))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *ModerationHandler) Decisions(c *gin.Context) {
	decisions, err := h.security.ListDecisions(queryLimit(c, 50, 500))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, decisions)
}

func (h *ModerationHandler) Audits(c *gin.Context) {
	audits, err := h.security.ListAudits(queryLimit(c, 50, 500))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, audits)
}

// queryLimit reads ?limit=, falling back to def and capping at max.
func queryLimit(c *gin.Context, def, max int) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

type ScanRequest struct {
	Text    string `json:"text" binding:"max=20000"`
	Context string `json:"context" binding:"max=32"`
}

// Scan previews the toxicity verdict for text without storing it.
func (h *ModerationHandler) Scan(c *gin.Context) {
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	verdict, err := h.posts.Preview(c.Request.Context(), middleware.CurrentUserID(c), req.Context, req.Text)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, verdict)
}
