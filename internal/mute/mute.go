// Package mute holds the pure mute state transitions. Callers persist the
// returned State and append one audit row per returned Event.
package mute

import (
	"errors"
	"strings"
	"time"

	"github.com/optiplay/backend/internal/models"
)

// ErrCannotMuteOwner is returned when the target of a mute is an owner account.
var ErrCannotMuteOwner = errors.New("owners cannot be muted")

// State is the moderation state stored on a user.
type State struct {
	Owner         bool
	IsMuted       bool
	MutedAt       *time.Time
	MutedReason   string
	MutedByEmail  string
	MuteExpiresAt *time.Time
}

// FromUser reads the mute state off a user row.
func FromUser(u *models.User) State {
	return State{
		Owner:         u.IsOwner(),
		IsMuted:       u.IsMuted,
		MutedAt:       u.MutedAt,
		MutedReason:   u.MutedReason,
		MutedByEmail:  u.MutedByEmail,
		MuteExpiresAt: u.MuteExpiresAt,
	}
}

// Apply writes s onto u.
func (s State) Apply(u *models.User) {
	u.IsMuted = s.IsMuted
	u.MutedAt = s.MutedAt
	u.MutedReason = s.MutedReason
	u.MutedByEmail = s.MutedByEmail
	u.MuteExpiresAt = s.MuteExpiresAt
}

// Expired reports whether s is muted with an expiry at or before now.
func (s State) Expired(now time.Time) bool {
	return s.IsMuted && s.MuteExpiresAt != nil && !s.MuteExpiresAt.After(now)
}

// Request describes a mute. DurationMinutes, when positive, wins over ExpiresAt.
type Request struct {
	Reason          string
	DurationMinutes int
	ExpiresAt       *time.Time
	ModeratorEmail  string
}

// Event is a transition to be recorded in the audit trail.
type Event struct {
	Action         models.MuteAction
	Reason         string
	ModeratorEmail string
	ExpiresAt      *time.Time
	At             time.Time
}

// Entry converts the event into an audit row for userID.
func (e Event) Entry(userID uint) models.MuteAuditEntry {
	return models.MuteAuditEntry{
		UserID:         userID,
		Action:         e.Action,
		Reason:         e.Reason,
		ModeratorEmail: e.ModeratorEmail,
		ExpiresAt:      e.ExpiresAt,
		CreatedAt:      e.At,
	}
}

// ResolveExpiry computes the expiry for req at now. A nil result means the
// mute is indefinite.
func ResolveExpiry(req Request, now time.Time) *time.Time {
	if req.DurationMinutes > 0 {
		t := now.Add(time.Duration(req.DurationMinutes) * time.Minute)
		return &t
	}
	if req.ExpiresAt != nil && req.ExpiresAt.After(now) {
		t := *req.ExpiresAt
		return &t
	}
	return nil
}

// Mute places s in the muted state. Muting an already muted user replaces
// the reason, moderator and expiry.
func Mute(s State, req Request, now time.Time) (State, []Event, error) {
	if s.Owner {
		return s, nil, ErrCannotMuteOwner
	}

	mutedAt := now
	expires := ResolveExpiry(req, now)
	reason := strings.TrimSpace(req.Reason)

	next := State{
		Owner:         s.Owner,
		IsMuted:       true,
		MutedAt:       &mutedAt,
		MutedReason:   reason,
		MutedByEmail:  req.ModeratorEmail,
		MuteExpiresAt: expires,
	}
	return next, []Event{{
		Action:         models.MuteActionMute,
		Reason:         reason,
		ModeratorEmail: req.ModeratorEmail,
		ExpiresAt:      expires,
		At:             now,
	}}, nil
}

// Unmute clears every mute field. It always records an event, even when s
// was not muted, so the trail reflects every moderator action.
func Unmute(s State, moderatorEmail string, now time.Time) (State, []Event) {
	return cleared(s), []Event{{
		Action:         models.MuteActionUnmute,
		ModeratorEmail: moderatorEmail,
		At:             now,
	}}
}

// Refresh lifts an expired mute. Any other state is returned unchanged with
// no events.
func Refresh(s State, now time.Time) (State, []Event) {
	if !s.Expired(now) {
		return s, nil
	}
	return cleared(s), []Event{{
		Action:    models.MuteActionAutoUnmute,
		Reason:    "mute expired",
		ExpiresAt: s.MuteExpiresAt,
		At:        now,
	}}
}

func cleared(s State) State {
	return State{Owner: s.Owner}
}
