package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/optiplay/backend/internal/version"
)

// HealthHandler responds with basic service metadata for uptime checks. The
// database is pinged when db is non-nil.
func HealthHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, code, dbState := "ok", http.StatusOK, "skipped"
		if db != nil {
			dbState = "ok"
			if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
				status, code, dbState = "degraded", http.StatusServiceUnavailable, "unreachable"
			}
		}
		c.JSON(code, gin.H{
			"status":     status,
			"service":    version.Name,
			"version":    version.Version,
			"git_commit": version.GitCommit,
			"build_time": version.BuildTime,
			"database":   dbState,
		})
	}
}
