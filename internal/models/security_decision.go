package models

import (
	"time"
)

// SecurityDecision stores an anti-abuse action (IP blacklist, rate-limit block, manual
// override) so it can be audited and surfaced to moderators.
type SecurityDecision struct {
	ID        uint       `json:"id" gorm:"primaryKey"`
	UUID      string     `json:"uuid" gorm:"uniqueIndex"`
	Source    string     `json:"source"` // e.g. iprep, manual, peer
	Action    string     `json:"action"` // block, allow
	IP        string     `json:"ip" gorm:"index"`
	Actor     string     `json:"actor,omitempty"`
	Details   string     `json:"details" gorm:"type:text"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
