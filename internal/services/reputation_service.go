package services

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/optiplay/backend/internal/iprep"
	"github.com/optiplay/backend/internal/logger"
	"github.com/optiplay/backend/internal/models"
)

var ErrInvalidIP = errors.New("invalid IP address")

// BlacklistPublisher announces local blacklist inserts to peer instances.
type BlacklistPublisher interface {
	PublishBlacklist(ev iprep.BlacklistEvent) error
}

// IPReport is what moderators see for an address.
type IPReport struct {
	IP          string           `json:"ip"`
	Reputation  iprep.Reputation `json:"reputation"`
	Blacklisted bool             `json:"blacklisted"`
	Suspicious  bool             `json:"suspicious"`
}

// ReputationService mirrors tracker blacklist inserts into decisions,
// staff notifications and peer instances.
type ReputationService struct {
	tracker   *iprep.Tracker
	security  *SecurityService
	notify    *NotificationService
	publisher BlacklistPublisher
}

// NewReputationService registers itself as the tracker's blacklist hook.
// notify and publisher may be nil.
func NewReputationService(tracker *iprep.Tracker, security *SecurityService, notify *NotificationService, publisher BlacklistPublisher) *ReputationService {
	s := &ReputationService{tracker: tracker, security: security, notify: notify, publisher: publisher}
	tracker.OnBlacklist(s.onBlacklist)
	return s
}

func (s *ReputationService) onBlacklist(ev iprep.BlacklistEvent) {
	log := logger.Component("iprep").WithField("ip", ev.IP)

	if err := s.security.RecordBlacklist(ev, "system"); err != nil {
		log.WithError(err).Error("failed to record blacklist decision")
	}
	if s.publisher != nil {
		if err := s.publisher.PublishBlacklist(ev); err != nil {
			log.WithError(err).Warn("failed to publish blacklist to peers")
		}
	}
	if s.notify != nil {
		s.notify.Notify(models.NotificationTypeAlert, EventBlacklist, "IP blacklisted",
			fmt.Sprintf("%s was blacklisted until %s: %s", ev.IP, ev.ExpiresAt.Format("2006-01-02 15:04 MST"), ev.Reason),
			map[string]interface{}{"IP": ev.IP, "Origin": string(ev.Origin)})
	}
}

// Report classifies ip.
func (s *ReputationService) Report(ip string) (IPReport, error) {
	ip = strings.TrimSpace(ip)
	if net.ParseIP(ip) == nil {
		return IPReport{}, ErrInvalidIP
	}
	return IPReport{
		IP:          ip,
		Reputation:  s.tracker.Reputation(ip),
		Blacklisted: s.tracker.IsBlacklisted(ip),
		Suspicious:  s.tracker.IsSuspicious(ip),
	}, nil
}

// Blacklist adds ip on behalf of a moderator.
func (s *ReputationService) Blacklist(ip, reason, actor string) (IPReport, error) {
	ip = strings.TrimSpace(ip)
	if net.ParseIP(ip) == nil {
		return IPReport{}, ErrInvalidIP
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "manual blacklist"
	}

	added := s.tracker.Blacklist(ip, reason)
	if err := s.security.LogAudit(&models.SecurityAudit{
		Actor:   actor,
		Action:  "blacklist_ip",
		Details: fmt.Sprintf("ip=%s added=%t reason=%q", ip, added, reason),
	}); err != nil {
		logger.Component("iprep").WithError(err).Warn("failed to audit manual blacklist")
	}
	return s.Report(ip)
}

// IsBlocked reports whether ip is currently blacklisted.
func (s *ReputationService) IsBlocked(ip string) bool {
	return s.tracker.IsBlacklisted(ip)
}

// Admit records action for ip and refuses blacklisted or abusive addresses.
func (s *ReputationService) Admit(ip string, action iprep.Action) error {
	if s.tracker.IsBlacklisted(ip) {
		return ErrIPBlocked
	}
	s.tracker.Track(ip, action)
	if s.tracker.IsAbusive(ip) {
		return ErrIPBlocked
	}
	return nil
}
