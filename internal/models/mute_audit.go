package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MuteAction identifies a mute state transition.
type MuteAction string

const (
	MuteActionMute       MuteAction = "mute"
	MuteActionUnmute     MuteAction = "unmute"
	MuteActionAutoUnmute MuteAction = "auto_unmute"
)

// MuteAuditEntry is an append-only record written with every mute state change.
type MuteAuditEntry struct {
	ID             uint       `json:"id" gorm:"primaryKey"`
	UUID           string     `json:"uuid" gorm:"uniqueIndex"`
	UserID         uint       `json:"user_id" gorm:"index;not null"`
	Action         MuteAction `json:"action" gorm:"not null"`
	Reason         string     `json:"reason,omitempty" gorm:"type:text"`
	ModeratorEmail string     `json:"moderator_email,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at" gorm:"index"`
}

func (e *MuteAuditEntry) BeforeCreate(tx *gorm.DB) (err error) {
	if e.UUID == "" {
		e.UUID = uuid.NewString()
	}
	return
}
