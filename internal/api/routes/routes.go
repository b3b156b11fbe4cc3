package routes

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/optiplay/backend/internal/api/handlers"
	"github.com/optiplay/backend/internal/api/middleware"
	"github.com/optiplay/backend/internal/cerberus"
	"github.com/optiplay/backend/internal/config"
	"github.com/optiplay/backend/internal/iprep"
	"github.com/optiplay/backend/internal/metrics"
	"github.com/optiplay/backend/internal/models"
	"github.com/optiplay/backend/internal/moderation"
	"github.com/optiplay/backend/internal/ratelimit"
	"github.com/optiplay/backend/internal/services"
)

// Deps are the long-lived components owned by the caller. Nil Limiter,
// Tracker, Policy and Scanner are replaced with defaults built from Config.
type Deps struct {
	DB        *gorm.DB
	Config    config.Config
	Limiter   *ratelimit.Limiter
	Tracker   *iprep.Tracker
	Policy    *moderation.Policy
	Scanner   *moderation.Scanner
	Publisher services.BlacklistPublisher
}

// App exposes the services built by Register.
type App struct {
	Auth         *services.AuthService
	Posts        *services.PostService
	Mutes        *services.MuteService
	Reputation   *services.ReputationService
	Security     *services.SecurityService
	Notification *services.NotificationService
	Tracker      *iprep.Tracker
	Limiter      *ratelimit.Limiter
}

func (d *Deps) defaults() error {
	if d.DB == nil {
		return errors.New("routes: database is required")
	}
	if d.Limiter == nil {
		d.Limiter = ratelimit.NewLimiter(nil)
	}
	if d.Tracker == nil {
		d.Tracker = iprep.NewTracker()
	}
	if d.Policy == nil {
		d.Policy = moderation.NewPolicy(d.Config.Moderation.ExtraBannedTerms...)
	}
	if d.Scanner == nil {
		d.Scanner = moderation.NewScanner(moderation.ScannerConfig{
			APIKey:   d.Config.Moderation.PerspectiveAPIKey,
			Endpoint: d.Config.Moderation.PerspectiveURL,
			QPS:      d.Config.Moderation.PerspectiveQPS,
		})
	}
	return nil
}

// Register builds the services and wires the API routes onto router.
func Register(router *gin.Engine, deps Deps) (*App, error) {
	if err := deps.defaults(); err != nil {
		return nil, err
	}
	// nil trusts no proxy, so ClientIP is the TCP peer
	if err := router.SetTrustedProxies(deps.Config.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	db := deps.DB

	notify := services.NewNotificationService(db)
	security := services.NewSecurityService(db)
	mutes := services.NewMuteService(db, notify)
	reputation := services.NewReputationService(deps.Tracker, security, notify, deps.Publisher)
	auth := services.NewAuthService(db, deps.Config, deps.Policy, deps.Limiter, deps.Tracker)
	posts := services.NewPostService(db, deps.Policy, deps.Scanner, deps.Limiter, mutes, security, notify)

	app := &App{
		Auth:         auth,
		Posts:        posts,
		Mutes:        mutes,
		Reputation:   reputation,
		Security:     security,
		Notification: notify,
		Tracker:      deps.Tracker,
		Limiter:      deps.Limiter,
	}

	router.GET("/api/v1/health", handlers.HealthHandler(db))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := router.Group("/api/v1")

	// Cerberus refuses blacklisted addresses and tracks mutating requests
	cerb := cerberus.New(reputation)
	api.Use(cerb.Middleware())

	authHandler := handlers.NewAuthHandler(auth)
	authMiddleware := middleware.AuthMiddleware(auth)

	api.POST("/auth/register", authHandler.Register)
	api.POST("/auth/login", authHandler.Login)

	protected := api.Group("/")
	protected.Use(authMiddleware)
	protected.GET("/auth/me", authHandler.Me)

	postHandler := handlers.NewPostHandler(posts)
	api.GET("/posts", postHandler.List)
	api.GET("/posts/:id", postHandler.Get)
	protected.POST("/posts", postHandler.Create)
	protected.POST("/posts/:id/comments", postHandler.CreateComment)

	staff := protected.Group("/moderation")
	staff.Use(middleware.RequireRole(models.RoleOwner, models.RoleModerator))

	modHandler := handlers.NewModerationHandler(mutes, reputation, security, posts)
	staff.PUT("/users/:id/mute", middleware.RateLimit(deps.Limiter, ratelimit.RuleMute), modHandler.SetMute)
	staff.GET("/users/:id/mute-audit", modHandler.MuteAudit)
	staff.GET("/ip/:ip", modHandler.IPReport)
	staff.POST("/ip/:ip/blacklist", modHandler.BlacklistIP)
	staff.GET("/decisions", modHandler.Decisions)
	staff.GET("/audits", modHandler.Audits)
	staff.POST("/scan", modHandler.Scan)

	notificationHandler := handlers.NewNotificationHandler(notify)
	staff.GET("/notifications", notificationHandler.List)
	staff.POST("/notifications/:id/read", notificationHandler.MarkAsRead)
	staff.POST("/notifications/read-all", notificationHandler.MarkAllAsRead)

	owner := staff.Group("/providers")
	owner.Use(middleware.RequireRole(models.RoleOwner))
	owner.GET("", notificationHandler.ListProviders)
	owner.POST("", notificationHandler.CreateProvider)
	owner.POST("/test", notificationHandler.TestProvider)
	owner.DELETE("/:id", notificationHandler.DeleteProvider)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	return app, nil
}
