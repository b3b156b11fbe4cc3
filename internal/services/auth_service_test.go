package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/optiplay/backend/internal/config"
	"github.com/optiplay/backend/internal/iprep"
	"github.com/optiplay/backend/internal/models"
	"github.com/optiplay/backend/internal/moderation"
	"github.com/optiplay/backend/internal/ratelimit"
)

func newAuthService(t *testing.T, db *gorm.DB) *AuthService {
	t.Helper()
	tracker := iprep.NewTracker()
	t.Cleanup(tracker.Shutdown)
	cfg := config.Config{JWTSecret: "test-secret"}
	return NewAuthService(db, cfg, moderation.NewPolicy(), ratelimit.NewLimiter(nil), tracker)
}

func register(svc *AuthService, username, email, ip string) (*models.User, error) {
	return svc.Register(context.Background(), RegisterInput{
		Username: username,
		Email:    email,
		Password: "password123",
		IP:       ip,
	})
}

func TestAuthService_Register(t *testing.T) {
	db := setupTestDB(t)
	svc := newAuthService(t, db)

	owner, err := register(svc, "founder", "Founder@OptiPlay.gg", "198.51.100.1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleOwner, owner.Role, "first account becomes owner")
	assert.Equal(t, "founder@optiplay.gg", owner.Email)
	assert.NotEmpty(t, owner.UUID)
	assert.NotEqual(t, "password123", owner.PasswordHash)

	user, err := register(svc, "player", "player@optiplay.gg", "198.51.100.2")
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, user.Role)
	assert.Equal(t, "198.51.100.2", user.RegisteredIP)
}

func TestAuthService_RegisterRejections(t *testing.T) {
	db := setupTestDB(t)
	svc := newAuthService(t, db)

	_, err := register(svc, "fresh", "fresh@mailinator.com", "198.51.100.1")
	assert.ErrorIs(t, err, moderation.ErrDisposableEmail)

	_, err = register(svc, "Sieg_Heil88", "clean@optiplay.gg", "198.51.100.2")
	assert.ErrorIs(t, err, moderation.ErrBlockedUsername)

	_, err = register(svc, "taken", "taken@optiplay.gg", "198.51.100.3")
	require.NoError(t, err)
	_, err = register(svc, "taken", "other@optiplay.gg", "198.51.100.4")
	assert.ErrorIs(t, err, ErrDuplicateUser)
	_, err = register(svc, "other", "TAKEN@optiplay.gg", "198.51.100.5")
	assert.ErrorIs(t, err, ErrDuplicateUser)
}

func TestAuthService_RegisterRateLimitedPerIP(t *testing.T) {
	db := setupTestDB(t)
	svc := newAuthService(t, db)
	clock := newTestClock()
	svc.tracker.WithClock(clock.Now)
	svc.limiter.WithClock(clock.Now)

	for _, n := range []string{"a1", "a2", "a3"} {
		_, err := register(svc, n, n+"@optiplay.gg", "203.0.113.50")
		require.NoError(t, err)
	}

	// outside the 5 minute registration burst but inside the hourly window
	clock.Advance(6 * time.Minute)
	_, err := register(svc, "a4", "a4@optiplay.gg", "203.0.113.50")
	var rl *RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, "register", rl.Rule.Name)
	assert.False(t, svc.tracker.IsBlacklisted("203.0.113.50"))

	_, err = register(svc, "b1", "b1@optiplay.gg", "203.0.113.51")
	assert.NoError(t, err)
}

func TestAuthService_RegistrationBurstBlacklistsIP(t *testing.T) {
	db := setupTestDB(t)
	svc := newAuthService(t, db)
	const ip = "203.0.113.9"

	for i := 0; i < 3; i++ {
		_, err := register(svc, fmt.Sprintf("burst%d", i), fmt.Sprintf("burst%d@optiplay.gg", i), ip)
		require.NoError(t, err)
	}

	for i := 3; i < 6; i++ {
		_, err := register(svc, fmt.Sprintf("burst%d", i), fmt.Sprintf("burst%d@optiplay.gg", i), ip)
		assert.ErrorIs(t, err, ErrIPBlocked, "attempt %d", i+1)
	}
	assert.True(t, svc.tracker.IsBlacklisted(ip))
	assert.Equal(t, iprep.ReputationBlacklisted, svc.tracker.Reputation(ip))

	var count int64
	require.NoError(t, db.Model(&models.User{}).Count(&count).Error)
	assert.Equal(t, int64(3), count)
}

func TestAuthService_RegisterBlacklistedIP(t *testing.T) {
	db := setupTestDB(t)
	svc := newAuthService(t, db)
	svc.tracker.Blacklist("203.0.113.60", "test")

	_, err := register(svc, "x", "x@optiplay.gg", "203.0.113.60")
	assert.ErrorIs(t, err, ErrIPBlocked)
}

func TestAuthService_Login(t *testing.T) {
	db := setupTestDB(t)
	svc := newAuthService(t, db)

	_, err := register(svc, "tester", "test@optiplay.gg", "198.51.100.1")
	require.NoError(t, err)

	token, user, err := svc.Login(context.Background(), "TEST@optiplay.gg", "password123", "198.51.100.1")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.NotNil(t, user.LastLogin)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, "test@optiplay.gg", claims.Email)
	assert.Equal(t, models.RoleOwner, claims.Role)

	token, _, err = svc.Login(context.Background(), "test@optiplay.gg", "wrongpassword", "198.51.100.1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Empty(t, token)

	_, _, err = svc.Login(context.Background(), "nobody@optiplay.gg", "password123", "198.51.100.1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthService_LoginRateLimited(t *testing.T) {
	db := setupTestDB(t)
	svc := newAuthService(t, db)

	for i := 0; i < ratelimit.RuleLogin.Limit; i++ {
		_, _, err := svc.Login(context.Background(), "nobody@optiplay.gg", "x", "203.0.113.70")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}
	_, _, err := svc.Login(context.Background(), "nobody@optiplay.gg", "x", "203.0.113.70")
	var rl *RateLimitError
	assert.True(t, errors.As(err, &rl))
}

func TestAuthService_ValidateToken(t *testing.T) {
	db := setupTestDB(t)
	svc := newAuthService(t, db)

	_, err := svc.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other := NewAuthService(db, config.Config{JWTSecret: "another-secret"}, moderation.NewPolicy(), ratelimit.NewLimiter(nil), iprep.NewTracker())
	token, err := other.GenerateToken(&models.User{ID: 1, Email: "a@b.c", Role: models.RoleUser})
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
