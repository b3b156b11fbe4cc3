package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/optiplay/backend/internal/moderation"
	"github.com/optiplay/backend/internal/ratelimit"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrPostNotFound       = errors.New("post not found")
	ErrDuplicateUser      = errors.New("username or email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrUserMuted          = errors.New("You are muted")
	ErrOverrideForbidden  = errors.New("only moderators can override a flagged verdict")
	ErrIPBlocked          = errors.New("requests from this address are blocked")
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidWebhookURL  = errors.New("invalid webhook url")
)

// RateLimitError is returned by write paths when a rule denied the request.
type RateLimitError struct {
	Rule   ratelimit.Rule
	Result ratelimit.Result
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit %s exceeded", e.Rule.Name)
}

// FlaggedError is returned when the toxicity scanner flagged the submission
// and no privileged override was requested.
type FlaggedError struct {
	Verdict moderation.Verdict
}

func (e *FlaggedError) Error() string {
	return fmt.Sprintf("content flagged by %s (score %.2f)", e.Verdict.Source, e.Verdict.Score)
}

// MutedError carries the mute that blocked a write. It matches ErrUserMuted.
type MutedError struct {
	Reason    string
	ExpiresAt *time.Time
}

func (e *MutedError) Error() string { return ErrUserMuted.Error() }

func (e *MutedError) Unwrap() error { return ErrUserMuted }
