package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NotificationProvider is an external channel (Discord, Slack, generic webhook...)
// that receives moderation events.
type NotificationProvider struct {
	ID      string `gorm:"primaryKey" json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"` // discord, slack, telegram, generic, webhook
	URL     string `json:"url"`  // shoutrrr URL or webhook URL
	Enabled bool   `json:"enabled"`
	// Template is "minimal" or "detailed"; only used by the webhook type.
	Template string `json:"template" gorm:"default:minimal"`

	NotifyMutes     bool `json:"notify_mutes" gorm:"default:true"`
	NotifyBlacklist bool `json:"notify_blacklist" gorm:"default:true"`
	NotifyFlagged   bool `json:"notify_flagged" gorm:"default:true"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (n *NotificationProvider) BeforeCreate(tx *gorm.DB) (err error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if strings.TrimSpace(n.Template) == "" {
		n.Template = "minimal"
	}
	return
}

// Wants reports whether the provider is subscribed to eventType.
func (n *NotificationProvider) Wants(eventType string) bool {
	switch eventType {
	case "mute":
		return n.NotifyMutes
	case "blacklist":
		return n.NotifyBlacklist
	case "flagged":
		return n.NotifyFlagged
	default:
		return true
	}
}
