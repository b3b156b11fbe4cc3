package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	neturl "net/url"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/containrrr/shoutrrr"
	"gorm.io/gorm"

	"github.com/optiplay/backend/internal/iprep"
	"github.com/optiplay/backend/internal/logger"
	"github.com/optiplay/backend/internal/models"
)

// Moderation events delivered to providers.
const (
	EventMute      = "mute"
	EventBlacklist = "blacklist"
	EventFlagged   = "flagged"
	EventTest      = "test"
)

const (
	minimalTemplate  = `{"message": {{toJSON .Message}}, "title": {{toJSON .Title}}, "time": {{toJSON .Time}}, "event": {{toJSON .EventType}}}`
	detailedTemplate = `{"title": {{toJSON .Title}}, "message": {{toJSON .Message}}, "time": {{toJSON .Time}}, "event": {{toJSON .EventType}}, "data": {{toJSON .}}}`
)

type NotificationService struct {
	DB *gorm.DB

	client *http.Client
	send   func(url, message string) error
	wg     sync.WaitGroup
}

func NewNotificationService(db *gorm.DB) *NotificationService {
	return &NotificationService{
		DB: db,
		client: &http.Client{
			Timeout: 10 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		send: func(url, message string) error { return shoutrrr.Send(url, message) },
	}
}

var discordWebhookRegex = regexp.MustCompile(`^https://discord(?:app)?\.com/api/webhooks/(\d+)/([a-zA-Z0-9_-]+)`)

func normalizeURL(serviceType, rawURL string) string {
	if serviceType == "discord" {
		matches := discordWebhookRegex.FindStringSubmatch(rawURL)
		if len(matches) == 3 {
			return fmt.Sprintf("discord://%s@%s", matches[2], matches[1])
		}
	}
	return rawURL
}

// Internal Notifications (DB)

func (s *NotificationService) Create(nType models.NotificationType, event, title, message string) (*models.Notification, error) {
	notification := &models.Notification{
		Type:    nType,
		Event:   event,
		Title:   title,
		Message: message,
		Read:    false,
	}
	result := s.DB.Create(notification)
	return notification, result.Error
}

func (s *NotificationService) List(unreadOnly bool) ([]models.Notification, error) {
	var notifications []models.Notification
	query := s.DB.Order("created_at desc")
	if unreadOnly {
		query = query.Where("read = ?", false)
	}
	result := query.Find(&notifications)
	return notifications, result.Error
}

func (s *NotificationService) MarkAsRead(id string) error {
	return s.DB.Model(&models.Notification{}).Where("id = ?", id).Update("read", true).Error
}

func (s *NotificationService) MarkAllAsRead() error {
	return s.DB.Model(&models.Notification{}).Where("read = ?", false).Update("read", true).Error
}

// Notify stores an in-app notification and fans it out to subscribed providers.
func (s *NotificationService) Notify(nType models.NotificationType, event, title, message string, data map[string]interface{}) {
	if _, err := s.Create(nType, event, title, message); err != nil {
		logger.Component("notify").WithError(err).WithField("event", event).Error("failed to store notification")
	}
	s.SendExternal(event, title, message, data)
}

// External Notifications (Shoutrrr & Custom Webhooks)

// SendExternal delivers asynchronously; Wait blocks until in-flight sends finish.
func (s *NotificationService) SendExternal(eventType, title, message string, data map[string]interface{}) {
	var providers []models.NotificationProvider
	if err := s.DB.Where("enabled = ?", true).Find(&providers).Error; err != nil {
		logger.Component("notify").WithError(err).Error("failed to fetch notification providers")
		return
	}

	payload := make(map[string]interface{}, len(data)+4)
	for k, v := range data {
		payload[k] = v
	}
	payload["Title"] = title
	payload["Message"] = message
	payload["Time"] = time.Now().UTC().Format(time.RFC3339)
	payload["EventType"] = eventType

	for _, provider := range providers {
		if !provider.Wants(eventType) {
			continue
		}

		s.wg.Add(1)
		go func(p models.NotificationProvider) {
			defer s.wg.Done()
			if err := s.deliver(p, title, message, payload); err != nil {
				logger.Component("notify").WithError(err).WithField("provider", p.Name).Warn("failed to send notification")
			}
		}(provider)
	}
}

// Wait blocks until all in-flight external sends have returned.
func (s *NotificationService) Wait() {
	s.wg.Wait()
}

func (s *NotificationService) deliver(p models.NotificationProvider, title, message string, data map[string]interface{}) error {
	if p.Type == "webhook" {
		return s.sendCustomWebhook(p, data)
	}
	url := normalizeURL(p.Type, p.URL)
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		if _, err := validateWebhookURL(url); err != nil {
			return fmt.Errorf("invalid destination: %w", err)
		}
	}
	return s.send(url, fmt.Sprintf("%s\n\n%s", title, message))
}

func (s *NotificationService) sendCustomWebhook(p models.NotificationProvider, data map[string]interface{}) error {
	body, err := renderTemplate(p.Template, data)
	if err != nil {
		return err
	}

	u, err := validateWebhookURL(p.URL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWebhookURL, err)
	}

	req, err := http.NewRequest(http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status: %d", resp.StatusCode)
	}
	return nil
}

func renderTemplate(name string, data map[string]interface{}) ([]byte, error) {
	tmplStr := minimalTemplate
	if strings.EqualFold(strings.TrimSpace(name), "detailed") {
		tmplStr = detailedTemplate
	}

	tmpl, err := template.New("webhook").Funcs(template.FuncMap{
		"toJSON": func(v interface{}) string {
			b, _ := json.Marshal(v)
			return string(b)
		},
	}).Parse(tmplStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse webhook template: %w", err)
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		return nil, fmt.Errorf("failed to execute webhook template: %w", err)
	}
	return body.Bytes(), nil
}

// validateWebhookURL parses and validates webhook URLs and ensures
// the resolved addresses are not private/local.
func validateWebhookURL(raw string) (*neturl.URL, error) {
	u, err := neturl.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("missing host")
	}

	// Allow explicit loopback/localhost addresses for local tests.
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return u, nil
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, fmt.Errorf("dns lookup failed: %w", err)
	}
	for _, ip := range ips {
		if iprep.IsSuspicious(ip.String()) {
			return nil, fmt.Errorf("disallowed host IP: %s", ip.String())
		}
	}
	return u, nil
}

// TestProvider sends a test message through p.
func (s *NotificationService) TestProvider(p models.NotificationProvider) error {
	return s.deliver(p, "Test Notification", "This is a test notification from OptiPlay", map[string]interface{}{
		"Title":     "Test Notification",
		"Message":   "This is a test notification from OptiPlay",
		"Time":      time.Now().UTC().Format(time.RFC3339),
		"EventType": EventTest,
	})
}

// Provider Management

func (s *NotificationService) ListProviders() ([]models.NotificationProvider, error) {
	var providers []models.NotificationProvider
	result := s.DB.Order("created_at").Find(&providers)
	return providers, result.Error
}

func (s *NotificationService) CreateProvider(provider *models.NotificationProvider) error {
	if provider.Type == "webhook" {
		if _, err := validateWebhookURL(provider.URL); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidWebhookURL, err)
		}
	}
	return s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(provider).Error; err != nil {
			return err
		}
		// columns with a default ignore false on insert
		return tx.Model(provider).Select("notify_mutes", "notify_blacklist", "notify_flagged").
			Updates(map[string]interface{}{
				"notify_mutes":     provider.NotifyMutes,
				"notify_blacklist": provider.NotifyBlacklist,
				"notify_flagged":   provider.NotifyFlagged,
			}).Error
	})
}

func (s *NotificationService) DeleteProvider(id string) error {
	return s.DB.Delete(&models.NotificationProvider{}, "id = ?", id).Error
}
