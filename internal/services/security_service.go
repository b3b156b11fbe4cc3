package services

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/optiplay/backend/internal/iprep"
	"github.com/optiplay/backend/internal/models"
)

// Decision sources.
const (
	DecisionSourceIPRep  = "iprep"
	DecisionSourceManual = "manual"
	DecisionSourcePeer   = "peer"
)

type SecurityService struct {
	db *gorm.DB
}

// NewSecurityService returns a SecurityService using the provided DB
func NewSecurityService(db *gorm.DB) *SecurityService {
	return &SecurityService{db: db}
}

// LogDecision stores a security decision record
func (s *SecurityService) LogDecision(d *models.SecurityDecision) error {
	if d == nil {
		return nil
	}
	if d.UUID == "" {
		d.UUID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	return s.db.Create(d).Error
}

// RecordBlacklist stores a blacklist insert as a block decision.
func (s *SecurityService) RecordBlacklist(ev iprep.BlacklistEvent, actor string) error {
	source := DecisionSourceIPRep
	switch ev.Origin {
	case iprep.OriginManual:
		source = DecisionSourceManual
	case iprep.OriginPeer:
		source = DecisionSourcePeer
	}
	expires := ev.ExpiresAt.UTC()
	if err := s.LogDecision(&models.SecurityDecision{
		Source:    source,
		Action:    "block",
		IP:        ev.IP,
		Actor:     actor,
		Details:   ev.Reason,
		ExpiresAt: &expires,
	}); err != nil {
		return fmt.Errorf("record blacklist %s: %w", ev.IP, err)
	}
	return nil
}

// ListDecisions returns recent security decisions, ordered by created_at desc
func (s *SecurityService) ListDecisions(limit int) ([]models.SecurityDecision, error) {
	var res []models.SecurityDecision
	q := s.db.Order("created_at desc").Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&res).Error; err != nil {
		return nil, err
	}
	return res, nil
}

// LogAudit stores an audit entry
func (s *SecurityService) LogAudit(a *models.SecurityAudit) error {
	if a == nil {
		return nil
	}
	if a.UUID == "" {
		a.UUID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return s.db.Create(a).Error
}

// ListAudits returns recent staff audit entries, newest first.
func (s *SecurityService) ListAudits(limit int) ([]models.SecurityAudit, error) {
	var res []models.SecurityAudit
	q := s.db.Order("created_at desc").Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&res).Error; err != nil {
		return nil, err
	}
	return res, nil
}
