package models_test

import (
	"testing"

	"github.com/optiplay/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestNotificationProvider_BeforeCreate(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.NotificationProvider{}))

	provider := models.NotificationProvider{Name: "Test"}
	require.NoError(t, db.Create(&provider).Error)

	assert.NotEmpty(t, provider.ID)
	assert.Equal(t, "minimal", provider.Template)
}

func TestNotificationProvider_Wants(t *testing.T) {
	p := models.NotificationProvider{NotifyMutes: true, NotifyBlacklist: false, NotifyFlagged: true}

	assert.True(t, p.Wants("mute"))
	assert.False(t, p.Wants("blacklist"))
	assert.True(t, p.Wants("flagged"))
	assert.True(t, p.Wants("test"))
}

func TestMuteAuditEntry_BeforeCreate(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.MuteAuditEntry{}, &models.Post{}, &models.Comment{}, &models.User{}))

	entry := models.MuteAuditEntry{UserID: 1, Action: models.MuteActionMute}
	require.NoError(t, db.Create(&entry).Error)
	assert.NotEmpty(t, entry.UUID)

	post := models.Post{AuthorID: 1, Title: "t", Body: "b"}
	require.NoError(t, db.Create(&post).Error)
	assert.NotEmpty(t, post.UUID)

	comment := models.Comment{PostID: post.ID, AuthorID: 1, Body: "c"}
	require.NoError(t, db.Create(&comment).Error)
	assert.NotEmpty(t, comment.UUID)
}
