package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optiplay/backend/internal/models"
)

func TestNotificationService_CreateAndList(t *testing.T) {
	db := setupTestDB(t)
	svc := NewNotificationService(db)

	n1, err := svc.Create(models.NotificationTypeInfo, EventFlagged, "N1", "M1")
	require.NoError(t, err)
	assert.NotEmpty(t, n1.ID)
	_, err = svc.Create(models.NotificationTypeAlert, EventBlacklist, "N2", "M2")
	require.NoError(t, err)

	list, err := svc.List(false)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, svc.MarkAsRead(n1.ID))
	unread, err := svc.List(true)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, "N2", unread[0].Title)

	require.NoError(t, svc.MarkAllAsRead())
	unread, err = svc.List(true)
	require.NoError(t, err)
	assert.Empty(t, unread)
}

func TestNotificationService_WebhookDelivery(t *testing.T) {
	db := setupTestDB(t)
	svc := NewNotificationService(db)

	var mu sync.Mutex
	var payloads []map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		payloads = append(payloads, body)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, svc.CreateProvider(&models.NotificationProvider{
		Name: "staff-hook", Type: "webhook", URL: srv.URL, Enabled: true,
		NotifyMutes: true, NotifyBlacklist: true, NotifyFlagged: true,
	}))
	quiet := &models.NotificationProvider{
		Name: "no-mutes", Type: "webhook", URL: srv.URL, Enabled: true,
		NotifyBlacklist: true, NotifyFlagged: true,
	}
	require.NoError(t, svc.CreateProvider(quiet))

	var stored models.NotificationProvider
	require.NoError(t, db.First(&stored, "id = ?", quiet.ID).Error)
	assert.False(t, stored.NotifyMutes)

	svc.SendExternal(EventMute, "User muted", "player was muted", nil)
	svc.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, payloads, 1)
	assert.Equal(t, "User muted", payloads[0]["title"])
	assert.Equal(t, EventMute, payloads[0]["event"])
}

func TestNotificationService_ShoutrrrProviders(t *testing.T) {
	db := setupTestDB(t)
	svc := NewNotificationService(db)

	var mu sync.Mutex
	var sent []string
	svc.send = func(url, message string) error {
		mu.Lock()
		sent = append(sent, url+"|"+message)
		mu.Unlock()
		return nil
	}

	require.NoError(t, svc.CreateProvider(&models.NotificationProvider{
		Name: "discord", Type: "discord", Enabled: true,
		URL:         "https://discord.com/api/webhooks/123/abc_DEF",
		NotifyMutes: true, NotifyBlacklist: true, NotifyFlagged: true,
	}))
	require.NoError(t, svc.CreateProvider(&models.NotificationProvider{
		Name: "disabled", Type: "slack", URL: "slack://x", Enabled: true,
	}))
	require.NoError(t, db.Model(&models.NotificationProvider{}).Where("name = ?", "disabled").Update("enabled", false).Error)

	svc.SendExternal(EventBlacklist, "IP blacklisted", "203.0.113.7", nil)
	svc.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, sent, 1)
	assert.Equal(t, "discord://abc_DEF@123|IP blacklisted\n\n203.0.113.7", sent[0])
}

func TestNotificationService_CreateProviderValidatesWebhook(t *testing.T) {
	db := setupTestDB(t)
	svc := NewNotificationService(db)

	err := svc.CreateProvider(&models.NotificationProvider{Name: "bad", Type: "webhook", URL: "ftp://example.com"})
	assert.ErrorIs(t, err, ErrInvalidWebhookURL)

	providers, err := svc.ListProviders()
	require.NoError(t, err)
	assert.Empty(t, providers)
}

func TestRenderTemplate(t *testing.T) {
	data := map[string]interface{}{"Title": "T", "Message": "M \"quoted\"", "Time": "now", "EventType": EventFlagged, "Score": 0.9}

	minimal, err := renderTemplate("minimal", data)
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"M \"quoted\"","title":"T","time":"now","event":"flagged"}`, string(minimal))

	detailed, err := renderTemplate("detailed", data)
	require.NoError(t, err)
	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(detailed, &parsed))
	assert.Equal(t, 0.9, parsed["data"].(map[string]interface{})["Score"])
}
