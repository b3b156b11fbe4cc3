package models

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Role values stored on User.Role.
const (
	RoleOwner     = "owner"
	RoleModerator = "moderator"
	RoleUser      = "user"
)

// User is a forum account. The mute fields are the persisted half of the mute
// state machine; they are only trustworthy after MuteService.RefreshMuteStatus.
type User struct {
	ID           uint   `json:"id" gorm:"primaryKey"`
	UUID         string `json:"uuid" gorm:"uniqueIndex"`
	Username     string `json:"username" gorm:"uniqueIndex"`
	Email        string `json:"email" gorm:"uniqueIndex"`
	PasswordHash string `json:"-"`
	Role         string `json:"role" gorm:"default:'user'"` // "owner", "moderator", "user"
	Enabled      bool   `json:"enabled" gorm:"default:true"`
	RegisteredIP string `json:"-"`

	IsMuted       bool       `json:"is_muted" gorm:"default:false;index"`
	MutedAt       *time.Time `json:"muted_at,omitempty"`
	MutedReason   string     `json:"muted_reason,omitempty"`
	MutedByEmail  string     `json:"muted_by_email,omitempty"`
	MuteExpiresAt *time.Time `json:"mute_expires_at,omitempty"`

	LastLogin *time.Time `json:"last_login,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.UUID == "" {
		u.UUID = uuid.NewString()
	}
	return
}

// SetPassword hashes and sets the user's password.
func (u *User) SetPassword(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	return nil
}

// CheckPassword compares the provided password with the stored hash.
func (u *User) CheckPassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
	return err == nil
}

// IsOwner reports whether the account is an owner. Owners can never be muted.
func (u *User) IsOwner() bool {
	return u.Role == RoleOwner
}

// IsPrivileged reports whether the account may override moderation verdicts.
func (u *User) IsPrivileged() bool {
	return IsPrivilegedRole(u.Role)
}

// IsPrivilegedRole reports whether role belongs to staff (owner or moderator).
func IsPrivilegedRole(role string) bool {
	return role == RoleOwner || role == RoleModerator
}
