package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/optiplay/backend/internal/api/handlers"
	"github.com/optiplay/backend/internal/api/routes"
	"github.com/optiplay/backend/internal/config"
	"github.com/optiplay/backend/internal/models"
	"github.com/optiplay/backend/internal/moderation"
)

const defaultClientAddr = "198.51.100.10:4000"

type testEnv struct {
	db     *gorm.DB
	router *gin.Engine
	app    *routes.App
}

func newTestEnv(t *testing.T, scanner *moderation.Scanner) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := handlers.OpenTestDB(t)
	router := gin.New()
	app, err := routes.Register(router, routes.Deps{
		DB:      db,
		Config:  config.Config{JWTSecret: "test-secret"},
		Scanner: scanner,
	})
	require.NoError(t, err)
	t.Cleanup(app.Tracker.Shutdown)
	t.Cleanup(app.Notification.Wait)
	return &testEnv{db: db, router: router, app: app}
}

// user creates an account directly and returns it with a signed token.
func (e *testEnv) user(t *testing.T, username, role string) (*models.User, string) {
	t.Helper()
	u := &models.User{Username: username, Email: username + "@optiplay.test", Role: role, Enabled: true}
	require.NoError(t, u.SetPassword("password123"))
	require.NoError(t, e.db.Create(u).Error)
	token, err := e.app.Auth.GenerateToken(u)
	require.NoError(t, err)
	return u, token
}

type call struct {
	method string
	path   string
	body   interface{}
	token  string
	addr   string
	header map[string]string
}

func (e *testEnv) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if c.body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(c.body))
	}
	req := httptest.NewRequest(c.method, c.path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range c.header {
		req.Header.Set(k, v)
	}
	req.RemoteAddr = defaultClientAddr
	if c.addr != "" {
		req.RemoteAddr = c.addr
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// perspectiveScanner returns a scanner backed by a fake classifier that
// always answers score.
func perspectiveScanner(t *testing.T, score float64) *moderation.Scanner {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"attributeScores": map[string]interface{}{
				"TOXICITY": map[string]interface{}{"summaryScore": map[string]interface{}{"value": score}},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return moderation.NewScanner(moderation.ScannerConfig{APIKey: "test-key", Endpoint: srv.URL, QPS: 1000})
}
