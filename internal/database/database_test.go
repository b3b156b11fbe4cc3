package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optiplay/backend/internal/models"
)

func TestConnect(t *testing.T) {
	db, err := Connect("file:database_test_memory?mode=memory&cache=shared")
	require.NoError(t, err)
	assert.NotNil(t, db)
	assert.True(t, db.Migrator().HasTable(&models.MuteAuditEntry{}))

	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "test.db")
	db, err = Connect(dbPath)
	require.NoError(t, err)
	assert.True(t, db.Migrator().HasTable(&models.User{}))
	assert.True(t, db.Migrator().HasColumn(&models.User{}, "mute_expires_at"))
	assert.FileExists(t, dbPath)
}

func TestWithPragmas(t *testing.T) {
	assert.Equal(t, "a.db?_journal_mode=WAL&_busy_timeout=5000", withPragmas("a.db"))
	assert.Equal(t, "file:x?mode=memory&_journal_mode=WAL&_busy_timeout=5000", withPragmas("file:x?mode=memory"))
}
