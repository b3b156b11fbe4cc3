package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"

	"github.com/optiplay/backend/internal/config"
	"github.com/optiplay/backend/internal/iprep"
	"github.com/optiplay/backend/internal/logger"
	"github.com/optiplay/backend/internal/models"
	"github.com/optiplay/backend/internal/moderation"
	"github.com/optiplay/backend/internal/ratelimit"
	"github.com/optiplay/backend/internal/util"
)

const tokenTTL = 24 * time.Hour

// Claims is the JWT payload issued at login.
type Claims struct {
	UserID uint   `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// RegisterInput is a sign-up request.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	IP       string
}

type AuthService struct {
	db      *gorm.DB
	config  config.Config
	policy  *moderation.Policy
	limiter *ratelimit.Limiter
	tracker *iprep.Tracker
	now     func() time.Time
}

func NewAuthService(db *gorm.DB, cfg config.Config, policy *moderation.Policy, limiter *ratelimit.Limiter, tracker *iprep.Tracker) *AuthService {
	return &AuthService{
		db:      db,
		config:  cfg,
		policy:  policy,
		limiter: limiter,
		tracker: tracker,
		now:     time.Now,
	}
}

// guardIP applies the reputation checks and then a strict rule for ip. Every
// attempt from a non-blacklisted address is tracked, including the ones the
// rule later rejects.
func (s *AuthService) guardIP(ctx context.Context, ip string, rule ratelimit.Rule, action iprep.Action) error {
	if s.tracker.IsBlacklisted(ip) {
		return ErrIPBlocked
	}
	s.tracker.Track(ip, action)
	if s.tracker.IsAbusive(ip) {
		return ErrIPBlocked
	}
	if res := s.limiter.Allow(ctx, ip, rule); !res.Success {
		return &RateLimitError{Rule: rule, Result: res}
	}
	return nil
}

// Register creates an account. The first account ever created becomes the owner.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	if err := s.guardIP(ctx, in.IP, ratelimit.RuleRegister, iprep.ActionRegister); err != nil {
		return nil, err
	}

	username := strings.TrimSpace(in.Username)
	email := strings.ToLower(strings.TrimSpace(in.Email))

	if moderation.IsDisposableEmail(email) {
		recordViolation(moderation.ErrDisposableEmail)
		return nil, moderation.ErrDisposableEmail
	}
	if err := s.policy.AssertCleanUsername(username); err != nil {
		recordViolation(err)
		return nil, err
	}

	user := models.User{
		Username:     username,
		Email:        email,
		Role:         models.RoleUser,
		Enabled:      true,
		RegisteredIP: in.IP,
	}
	if err := user.SetPassword(in.Password); err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&models.User{}).Where("email = ? OR username = ?", email, username).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrDuplicateUser
		}
		var total int64
		if err := tx.Model(&models.User{}).Count(&total).Error; err != nil {
			return err
		}
		if total == 0 {
			user.Role = models.RoleOwner
		}
		return tx.Create(&user).Error
	})
	if err != nil {
		return nil, err
	}

	logger.Component("auth").WithFields(map[string]interface{}{
		"user_id":  user.ID,
		"username": util.SanitizeForLog(user.Username),
		"role":     user.Role,
	}).Info("account registered")
	return &user, nil
}

// Login verifies credentials and returns a signed token.
func (s *AuthService) Login(ctx context.Context, email, password, ip string) (string, *models.User, error) {
	if err := s.guardIP(ctx, ip, ratelimit.RuleLogin, iprep.ActionLogin); err != nil {
		return "", nil, err
	}

	var user models.User
	if err := s.db.Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}
	if !user.CheckPassword(password) {
		return "", nil, ErrInvalidCredentials
	}
	if !user.Enabled {
		return "", nil, ErrAccountDisabled
	}

	now := s.now().UTC()
	if err := s.db.Model(&user).Update("last_login", now).Error; err != nil {
		return "", nil, err
	}
	user.LastLogin = &now

	token, err := s.GenerateToken(&user)
	if err != nil {
		return "", nil, err
	}
	return token, &user, nil
}

// GenerateToken signs an HS256 token for user.
func (s *AuthService) GenerateToken(user *models.User) (string, error) {
	now := s.now()
	claims := Claims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.UUID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			Issuer:    "optiplay",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.JWTSecret))
}

// ValidateToken parses tokenString and returns its claims.
func (s *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.config.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// GetUser loads a user by id.
func (s *AuthService) GetUser(id uint) (*models.User, error) {
	return loadUser(s.db, id)
}
