// File: /controllers/health_controller.go
package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"tourops-api/services"
)

type HealthController struct {
	db     *gorm.DB
	cache  *services.CacheService
	logger *zap.Logger
}

func NewHealthController(db *gorm.DB, cache *services.CacheService, logger *zap.Logger) *HealthController {
	return &HealthController{
		db:     db,
		cache:  cache,
		logger: logger,
	}
}

// Check pings the database and redis. A disabled cache reports "disabled".
func (hc *HealthController) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	healthy := true
	database := "up"
	if err := hc.pingDB(ctx); err != nil {
		hc.logger.Warn("Database health check failed", zap.Error(err))
		database = "down"
		healthy = false
	}

	cache := "disabled"
	if hc.cache.Enabled() {
		cache = "up"
		if err := hc.cache.Ping(ctx); err != nil {
			hc.logger.Warn("Redis health check failed", zap.Error(err))
			cache = "down"
			healthy = false
		}
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":   status,
		"database": database,
		"cache":    cache,
	})
}

func (hc *HealthController) pingDB(ctx context.Context) error {
	sqlDB, err := hc.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
