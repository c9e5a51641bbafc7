package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmwalsh/foreclosure-monitor/internal/cache"
	"github.com/jmwalsh/foreclosure-monitor/internal/config"
	"github.com/jmwalsh/foreclosure-monitor/internal/database"
	"github.com/jmwalsh/foreclosure-monitor/internal/heal"
	"github.com/jmwalsh/foreclosure-monitor/internal/monitor"
	"github.com/jmwalsh/foreclosure-monitor/pkg/logger"
	"gorm.io/gorm"
)

// Handlers holds all HTTP handlers
type Handlers struct {
	db        *gorm.DB
	store     *database.Store
	cache     cache.Cache
	scheduler *monitor.Scheduler
	healer    *heal.Controller
	logger    *logger.Logger
	cfg       *config.Config
}

// NewHandlers creates a new handlers instance
func NewHandlers(db *gorm.DB, store *database.Store, cache cache.Cache, scheduler *monitor.Scheduler, healer *heal.Controller, logger *logger.Logger, cfg *config.Config) *Handlers {
	return &Handlers{
		db:        db,
		store:     store,
		cache:     cache,
		scheduler: scheduler,
		healer:    healer,
		logger:    logger,
		cfg:       cfg,
	}
}

// ListCases returns cases with pagination and optional status filtering
func (h *Handlers) ListCases(c *gin.Context) {
	var cases []database.Case

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset := (page - 1) * limit

	query := h.db.Model(&database.Case{})
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if finalized := c.Query("finalized"); finalized != "" {
		query = query.Where("finalized = ?", finalized == "true")
	}

	var total int64
	query.Count(&total)

	query.Offset(offset).Limit(limit).Order("case_number ASC").Find(&cases)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    cases,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// GetCase returns one case with its events, documents and the unresolved
// missing-field list for manual review
func (h *Handlers) GetCase(c *gin.Context) {
	caseNumber := c.Param("number")

	cacheKey := cache.GenerateCacheKey(caseNumber)
	if cached, found := h.cache.Get(cacheKey); found {
		c.JSON(http.StatusOK, gin.H{
			"success":                  true,
			"data":                     cached,
			"unresolved_missing_fields": heal.MissingFields(cached),
			"from_cache":               true,
		})
		return
	}

	caseRec, err := h.store.GetCase(caseNumber)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "Case not found",
		})
		return
	}

	h.cache.Set(cacheKey, caseRec)

	c.JSON(http.StatusOK, gin.H{
		"success":                  true,
		"data":                     caseRec,
		"unresolved_missing_fields": heal.MissingFields(caseRec),
		"from_cache":               false,
	})
}

// RegisterCase creates a case for monitoring on first sighting
func (h *Handlers) RegisterCase(c *gin.Context) {
	var req struct {
		CaseNumber string `json:"case_number" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	caseRec, err := h.scheduler.RegisterCase(req.CaseNumber)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error":   "Failed to register case: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    caseRec,
	})
}

// ReprocessCase is the explicit operator operation that clears sticky
// fields and rebuilds extracted data from every stored document
func (h *Handlers) ReprocessCase(c *gin.Context) {
	caseNumber := c.Param("number")

	caseRec, err := h.store.GetCase(caseNumber)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "Case not found",
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Minute)
	defer cancel()

	result, err := h.healer.Reprocess(ctx, caseRec)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	h.cache.Delete(cache.GenerateCacheKey(caseNumber))

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"result":  result,
	})
}

// RunMonitor triggers a monitoring cycle in the background
func (h *Handlers) RunMonitor(c *gin.Context) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.MonitorInterval)
		defer cancel()
		if _, err := h.scheduler.Run(ctx); err != nil {
			h.logger.Error("Triggered monitor cycle failed", "error", err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"message": "Monitor cycle started",
	})
}

// MonitorLogs returns recent monitoring cycles
func (h *Handlers) MonitorLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	var logs []database.MonitorLog
	h.db.Order("started_at DESC").Limit(limit).Find(&logs)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    logs,
	})
}

// HealthCheck returns the health status
func (h *Handlers) HealthCheck(c *gin.Context) {
	var count int64
	dbHealthy := h.db.Model(&database.Case{}).Count(&count).Error == nil

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": dbHealthy,
		"cases":    count,
		"cache":    h.cache.Stats(),
		"time":     time.Now().Unix(),
	})
}

// CacheStats returns cache statistics
func (h *Handlers) CacheStats(c *gin.Context) {
	stats := h.cache.Stats()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stats":   stats,
	})
}
