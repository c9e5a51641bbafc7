package api

import (
	"github.com/gin-gonic/gin"
	"github.com/jmwalsh/foreclosure-monitor/internal/cache"
	"github.com/jmwalsh/foreclosure-monitor/internal/config"
	"github.com/jmwalsh/foreclosure-monitor/internal/database"
	"github.com/jmwalsh/foreclosure-monitor/internal/heal"
	"github.com/jmwalsh/foreclosure-monitor/internal/monitor"
	"github.com/jmwalsh/foreclosure-monitor/pkg/logger"
	"gorm.io/gorm"
)

// SetupRoutes configures all application routes
func SetupRoutes(router *gin.Engine, db *gorm.DB, store *database.Store, cache cache.Cache, scheduler *monitor.Scheduler, healer *heal.Controller, logger *logger.Logger, cfg *config.Config) {
	h := NewHandlers(db, store, cache, scheduler, healer, logger, cfg)

	api := router.Group("/api")
	{
		// Health check
		api.GET("/health", h.HealthCheck)

		// Case endpoints
		api.GET("/cases", h.ListCases)
		api.GET("/cases/:number", h.GetCase)
		api.POST("/cases", h.RegisterCase)
		api.POST("/cases/:number/reprocess", h.ReprocessCase)

		// Monitor endpoints
		api.POST("/monitor/run", h.RunMonitor)
		api.GET("/monitor/logs", h.MonitorLogs)

		// Cache stats
		api.GET("/cache/stats", h.CacheStats)
	}
}
