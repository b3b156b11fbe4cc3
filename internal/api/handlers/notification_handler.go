package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/optiplay/backend/internal/models"
	"github.com/optiplay/backend/internal/services"
)

// NotificationHandler serves the staff inbox and the external provider list.
type NotificationHandler struct {
	service *services.NotificationService
}

func NewNotificationHandler(service *services.NotificationService) *NotificationHandler {
	return &NotificationHandler{service: service}
}

func (h *NotificationHandler) List(c *gin.Context) {
	unreadOnly := c.Query("unread") == "true"
	notifications, err := h.service.List(unreadOnly)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list notifications"})
		return
	}
	c.JSON(http.StatusOK, notifications)
}

func (h *NotificationHandler) MarkAsRead(c *gin.Context) {
	if err := h.service.MarkAsRead(c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to mark notification as read"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Notification marked as read"})
}

func (h *NotificationHandler) MarkAllAsRead(c *gin.Context) {
	if err := h.service.MarkAllAsRead(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to mark all notifications as read"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "All notifications marked as read"})
}

func (h *NotificationHandler) ListProviders(c *gin.Context) {
	providers, err := h.service.ListProviders()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list providers"})
		return
	}
	c.JSON(http.StatusOK, providers)
}

type ProviderRequest struct {
	Name            string `json:"name" binding:"required"`
	Type            string `json:"type" binding:"required,oneof=discord slack telegram generic webhook"`
	URL             string `json:"url" binding:"required"`
	Enabled         *bool  `json:"enabled"`
	Template        string `json:"template" binding:"omitempty,oneof=minimal detailed"`
	NotifyMutes     *bool  `json:"notify_mutes"`
	NotifyBlacklist *bool  `json:"notify_blacklist"`
	NotifyFlagged   *bool  `json:"notify_flagged"`
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func (r ProviderRequest) provider() models.NotificationProvider {
	return models.NotificationProvider{
		Name:            r.Name,
		Type:            r.Type,
		URL:             r.URL,
		Enabled:         boolOr(r.Enabled, true),
		Template:        r.Template,
		NotifyMutes:     boolOr(r.NotifyMutes, true),
		NotifyBlacklist: boolOr(r.NotifyBlacklist, true),
		NotifyFlagged:   boolOr(r.NotifyFlagged, true),
	}
}

func (h *NotificationHandler) CreateProvider(c *gin.Context) {
	var req ProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	provider := req.provider()
	if err := h.service.CreateProvider(&provider); err != nil {
		if errors.Is(err, services.ErrInvalidWebhookURL) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create provider"})
		return
	}
	c.JSON(http.StatusCreated, provider)
}

func (h *NotificationHandler) DeleteProvider(c *gin.Context) {
	if err := h.service.DeleteProvider(c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete provider"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Provider deleted"})
}

// TestProvider sends a test message through an unsaved provider.
func (h *NotificationHandler) TestProvider(c *gin.Context) {
	var req ProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.service.TestProvider(req.provider()); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Test notification sent"})
}
