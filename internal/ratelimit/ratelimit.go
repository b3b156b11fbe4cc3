// Package ratelimit implements fixed-window request counting keyed by identifier
// and rule. Counters live in a Store: an in-process map by default, or Redis
// when limits must be shared between instances.
package ratelimit

import (
	"context"
	"math"
	"time"

	"github.com/optiplay/backend/internal/logger"
	"github.com/optiplay/backend/internal/metrics"
)

// Rule is a named limit class. The name namespaces the counter key, so one
// identifier is limited independently per rule.
type Rule struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Standard write-path rules.
var (
	RulePost    = Rule{Name: "post", Limit: 5, Window: time.Minute}
	RuleComment = Rule{Name: "comment", Limit: 10, Window: time.Minute}
	RuleMute    = Rule{Name: "mute", Limit: 30, Window: time.Minute}
	RuleScan    = Rule{Name: "scan", Limit: 20, Window: time.Minute}
)

// Strict rules for auth-sensitive actions, keyed by client IP.
var (
	RuleLogin    = Rule{Name: "login", Limit: 5, Window: 15 * time.Minute}
	RuleRegister = Rule{Name: "register", Limit: 3, Window: time.Hour}
)

// Result is the outcome of one counted request.
type Result struct {
	Success   bool
	Remaining int
	ResetTime time.Time
}

// RetryAfter is the time left until the window resets, rounded up to whole seconds.
func (r Result) RetryAfter(now time.Time) time.Duration {
	d := r.ResetTime.Sub(now)
	if d <= 0 {
		return time.Second
	}
	return time.Duration(math.Ceil(d.Seconds())) * time.Second
}

// Store counts hits per key within a fixed window.
type Store interface {
	// Hit records one request against key and returns the count in the
	// current window together with the instant the window ends.
	Hit(ctx context.Context, key string, window time.Duration, now time.Time) (count int, resetAt time.Time, err error)
}

// Limiter applies rules against a Store.
type Limiter struct {
	store Store
	now   func() time.Time
}

// NewLimiter creates a Limiter. A nil store selects a fresh MemoryStore.
func NewLimiter(store Store) *Limiter {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Limiter{store: store, now: time.Now}
}

// WithClock replaces the limiter's time source.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Allow counts one request for identifier under rule.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) Result {
	res := l.Check(ctx, rule.Name+":"+identifier, rule.Limit, rule.Window)
	if !res.Success {
		metrics.IncRateLimited(rule.Name)
		logger.Component("ratelimit").WithFields(map[string]interface{}{
			"rule":       rule.Name,
			"identifier": identifier,
			"reset":      res.ResetTime,
		}).Debug("rate limit exceeded")
	}
	return res
}

// Check counts one request against an arbitrary key. Store failures fail open.
func (l *Limiter) Check(ctx context.Context, key string, limit int, window time.Duration) Result {
	now := l.now()
	count, resetAt, err := l.store.Hit(ctx, key, window, now)
	if err != nil {
		logger.Component("ratelimit").WithError(err).WithField("key", key).Warn("rate limit store error, failing open")
		return Result{Success: true, Remaining: limit - 1, ResetTime: now.Add(window)}
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{Success: count <= limit, Remaining: remaining, ResetTime: resetAt}
}

// Now returns the limiter's current time.
func (l *Limiter) Now() time.Time {
	return l.now()
}
