package services

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/optiplay/backend/internal/logger"
	"github.com/optiplay/backend/internal/metrics"
	"github.com/optiplay/backend/internal/models"
	"github.com/optiplay/backend/internal/mute"
	"github.com/optiplay/backend/internal/util"
)

// MuteService persists mute transitions. Every state change and its audit
// rows are written in one transaction.
type MuteService struct {
	db     *gorm.DB
	notify *NotificationService
	now    func() time.Time
}

// NewMuteService returns a MuteService. notify may be nil.
func NewMuteService(db *gorm.DB, notify *NotificationService) *MuteService {
	return &MuteService{db: db, notify: notify, now: time.Now}
}

// WithClock replaces the service's time source.
func (s *MuteService) WithClock(now func() time.Time) *MuteService {
	s.now = now
	return s
}

func (s *MuteService) clock() time.Time {
	return s.now().UTC()
}

func loadUser(tx *gorm.DB, userID uint) (*models.User, error) {
	var user models.User
	if err := tx.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func muteColumns(s mute.State) map[string]interface{} {
	return map[string]interface{}{
		"is_muted":        s.IsMuted,
		"muted_at":        s.MutedAt,
		"muted_reason":    s.MutedReason,
		"muted_by_email":  s.MutedByEmail,
		"mute_expires_at": s.MuteExpiresAt,
	}
}

func writeEvents(tx *gorm.DB, userID uint, events []mute.Event) error {
	for _, ev := range events {
		entry := ev.Entry(userID)
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("write mute audit: %w", err)
		}
	}
	return nil
}

// Mute places the user in the muted state.
func (s *MuteService) Mute(userID uint, req mute.Request) (*models.User, error) {
	now := s.clock()
	if req.ExpiresAt != nil {
		t := req.ExpiresAt.UTC()
		req.ExpiresAt = &t
	}

	var user *models.User
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		if user, err = loadUser(tx, userID); err != nil {
			return err
		}
		next, events, err := mute.Mute(mute.FromUser(user), req, now)
		if err != nil {
			return err
		}
		if err := tx.Model(user).Updates(muteColumns(next)).Error; err != nil {
			return fmt.Errorf("update mute state: %w", err)
		}
		next.Apply(user)
		return writeEvents(tx, user.ID, events)
	})
	if err != nil {
		return nil, err
	}

	metrics.IncMuteTransition(string(models.MuteActionMute))
	logger.Component("mute").WithFields(map[string]interface{}{
		"user_id":   user.ID,
		"moderator": req.ModeratorEmail,
		"reason":    util.SanitizeForLog(user.MutedReason),
		"expires":   user.MuteExpiresAt,
	}).Info("user muted")

	if s.notify != nil {
		until := "indefinitely"
		if user.MuteExpiresAt != nil {
			until = "until " + user.MuteExpiresAt.Format(time.RFC3339)
		}
		s.notify.Notify(models.NotificationTypeWarning, EventMute, "User muted",
			fmt.Sprintf("%s was muted %s by %s", user.Username, until, req.ModeratorEmail),
			map[string]interface{}{"UserID": user.ID, "Reason": user.MutedReason})
	}
	return user, nil
}

// Unmute clears the user's mute.
func (s *MuteService) Unmute(userID uint, moderatorEmail string) (*models.User, error) {
	now := s.clock()

	var user *models.User
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		if user, err = loadUser(tx, userID); err != nil {
			return err
		}
		next, events := mute.Unmute(mute.FromUser(user), moderatorEmail, now)
		if err := tx.Model(user).Updates(muteColumns(next)).Error; err != nil {
			return fmt.Errorf("update mute state: %w", err)
		}
		next.Apply(user)
		return writeEvents(tx, user.ID, events)
	})
	if err != nil {
		return nil, err
	}

	metrics.IncMuteTransition(string(models.MuteActionUnmute))
	logger.Component("mute").WithFields(map[string]interface{}{
		"user_id":   user.ID,
		"moderator": moderatorEmail,
	}).Info("user unmuted")
	return user, nil
}

// RefreshMuteStatus lifts an expired mute and returns the current user. The
// clearing update is conditional on the mute still being expired, so
// concurrent or repeated calls record a single auto_unmute.
func (s *MuteService) RefreshMuteStatus(userID uint) (*models.User, error) {
	now := s.clock()

	user, err := loadUser(s.db, userID)
	if err != nil {
		return nil, err
	}
	next, events := mute.Refresh(mute.FromUser(user), now)
	if len(events) == 0 {
		return user, nil
	}

	var cleared bool
	err = s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.User{}).
			Where("id = ? AND is_muted = ? AND mute_expires_at IS NOT NULL AND mute_expires_at <= ?", user.ID, true, now).
			Updates(muteColumns(next))
		if res.Error != nil {
			return fmt.Errorf("clear expired mute: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return nil
		}
		cleared = true
		return writeEvents(tx, user.ID, events)
	})
	if err != nil {
		return nil, err
	}

	if cleared {
		metrics.IncMuteTransition(string(models.MuteActionAutoUnmute))
		logger.Component("mute").WithField("user_id", user.ID).Info("mute expired")
	}
	return loadUser(s.db, userID)
}

// ListAudit returns the user's mute trail, newest first.
func (s *MuteService) ListAudit(userID uint) ([]models.MuteAuditEntry, error) {
	if _, err := loadUser(s.db, userID); err != nil {
		return nil, err
	}
	var entries []models.MuteAuditEntry
	if err := s.db.Where("user_id = ?", userID).Order("created_at desc").Order("id desc").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// EnsureNotMuted refreshes the user's mute and fails with a *MutedError when
// the user is still muted.
func (s *MuteService) EnsureNotMuted(userID uint) (*models.User, error) {
	user, err := s.RefreshMuteStatus(userID)
	if err != nil {
		return nil, err
	}
	if user.IsMuted {
		return user, &MutedError{Reason: user.MutedReason, ExpiresAt: user.MuteExpiresAt}
	}
	return user, nil
}
