package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter() (*Limiter, *MemoryStore, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	return NewLimiter(store).WithClock(clock.Now), store, clock
}

func TestAllow_WithinLimit(t *testing.T) {
	l, _, clock := newTestLimiter()
	ctx := context.Background()

	for i := 1; i <= RulePost.Limit; i++ {
		res := l.Allow(ctx, "user-1", RulePost)
		require.True(t, res.Success, "request %d", i)
		assert.Equal(t, RulePost.Limit-i, res.Remaining)
		assert.Equal(t, clock.Now().Add(RulePost.Window), res.ResetTime)
	}

	res := l.Allow(ctx, "user-1", RulePost)
	assert.False(t, res.Success)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, clock.Now().Add(RulePost.Window), res.ResetTime)
}

func TestAllow_WindowResets(t *testing.T) {
	l, _, clock := newTestLimiter()
	ctx := context.Background()

	first := l.Allow(ctx, "user-1", RuleLogin)
	assert.True(t, first.Success)
	assert.Equal(t, RuleLogin.Limit-1, first.Remaining)

	clock.Advance(RuleLogin.Window + time.Millisecond)
	second := l.Allow(ctx, "user-1", RuleLogin)
	assert.True(t, second.Success)
	assert.Equal(t, RuleLogin.Limit-1, second.Remaining)
	assert.Equal(t, clock.Now().Add(RuleLogin.Window), second.ResetTime)
}

func TestAllow_BoundaryIsInclusive(t *testing.T) {
	l, _, clock := newTestLimiter()
	ctx := context.Background()
	rule := Rule{Name: "t", Limit: 1, Window: time.Minute}

	assert.True(t, l.Allow(ctx, "a", rule).Success)
	clock.Advance(time.Minute)
	// exactly at windowStart+window the window is still open
	assert.False(t, l.Allow(ctx, "a", rule).Success)
	clock.Advance(time.Nanosecond)
	assert.True(t, l.Allow(ctx, "a", rule).Success)
}

func TestAllow_RulesAreIndependent(t *testing.T) {
	l, _, _ := newTestLimiter()
	ctx := context.Background()

	for i := 0; i < RuleRegister.Limit; i++ {
		require.True(t, l.Allow(ctx, "203.0.113.9", RuleRegister).Success)
	}
	assert.False(t, l.Allow(ctx, "203.0.113.9", RuleRegister).Success)
	assert.True(t, l.Allow(ctx, "203.0.113.9", RuleLogin).Success)
	assert.True(t, l.Allow(ctx, "198.51.100.1", RuleRegister).Success)
}

func TestMemoryStore_Sweep(t *testing.T) {
	l, store, clock := newTestLimiter()
	ctx := context.Background()

	l.Allow(ctx, "a", RulePost)
	l.Allow(ctx, "b", RuleRegister)
	require.Equal(t, 2, store.Len())

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, store.Sweep(clock.Now()))
	assert.Equal(t, 1, store.Len())
}

type failingStore struct{}

func (failingStore) Hit(context.Context, string, time.Duration, time.Time) (int, time.Time, error) {
	return 0, time.Time{}, errors.New("store down")
}

func TestCheck_FailsOpen(t *testing.T) {
	l := NewLimiter(failingStore{})
	for i := 0; i < 10; i++ {
		assert.True(t, l.Allow(context.Background(), "x", RuleRegister).Success)
	}
}

func TestResult_RetryAfter(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 30*time.Second, Result{ResetTime: now.Add(30 * time.Second)}.RetryAfter(now))
	assert.Equal(t, 2*time.Second, Result{ResetTime: now.Add(1500 * time.Millisecond)}.RetryAfter(now))
	assert.Equal(t, time.Second, Result{ResetTime: now.Add(-time.Second)}.RetryAfter(now))
}
