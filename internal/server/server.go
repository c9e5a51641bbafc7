package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmwalsh/foreclosure-monitor/internal/api"
	"github.com/jmwalsh/foreclosure-monitor/internal/cache"
	"github.com/jmwalsh/foreclosure-monitor/internal/classify"
	"github.com/jmwalsh/foreclosure-monitor/internal/config"
	"github.com/jmwalsh/foreclosure-monitor/internal/database"
	"github.com/jmwalsh/foreclosure-monitor/internal/heal"
	"github.com/jmwalsh/foreclosure-monitor/internal/monitor"
	"github.com/jmwalsh/foreclosure-monitor/internal/scraper"
	"github.com/jmwalsh/foreclosure-monitor/pkg/logger"
	"gorm.io/gorm"
)

type Server struct {
	cfg       *config.Config
	db        *gorm.DB
	cache     cache.Cache
	logger    *logger.Logger
	router    *gin.Engine
	scraper   *scraper.Scraper
	scheduler *monitor.Scheduler
}

func New(cfg *config.Config, db *gorm.DB, cacheService cache.Cache, log *logger.Logger) *Server {
	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(loggingMiddleware(log))
	router.Use(corsMiddleware())

	scraperInstance, err := scraper.NewScraper(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize scraper", "error", err)
	}

	store := database.NewStore(db)

	policy := classify.Policy{
		WindowDays:   cfg.UpsetBidWindowDays,
		BusinessDays: cfg.UseBusinessDays,
		Tables:       classify.DefaultTables(),
	}
	if err := policy.Tables.Extend(cfg.ExtraEventKeywords); err != nil {
		log.Fatal("Invalid EXTRA_EVENT_KEYWORDS", "error", err)
	}

	scheduler := monitor.NewScheduler(cfg, store, scraperInstance, policy, log)

	docs := scraper.NewDocumentFetcher(scraperInstance, scraper.PlainTextRecognizer{}, log, cfg.UserAgent)
	healer := heal.NewController(store, docs, scheduler, policy, log)
	scheduler.SetHealer(healer)
	scheduler.SetCache(cacheService)

	server := &Server{
		cfg:       cfg,
		db:        db,
		cache:     cacheService,
		logger:    log,
		router:    router,
		scraper:   scraperInstance,
		scheduler: scheduler,
	}

	api.SetupRoutes(router, db, store, cacheService, scheduler, healer, log, cfg)

	return server
}

// Scheduler exposes the monitor for run-once invocations
func (s *Server) Scheduler() *monitor.Scheduler {
	return s.scheduler
}

func (s *Server) Run() error {
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.cfg.Host, s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("Failed to start server", "error", err)
		}
	}()

	s.logger.Info("Server started", "address", srv.Addr)

	// Daily-cadence monitor loop
	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	go s.monitorLoop(monitorCtx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	s.logger.Info("Shutting down server...")
	stopMonitor()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.scraper.Close(); err != nil {
		s.logger.Error("Failed to close scraper", "error", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Error("Server forced to shutdown", "error", err)
		return err
	}

	s.logger.Info("Server exited gracefully")
	return nil
}

// monitorLoop runs a cycle immediately and then on the configured interval
func (s *Server) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		if _, err := s.scheduler.Run(ctx); err != nil {
			s.logger.Error("Monitor cycle failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func loggingMiddleware(logger *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		clientIP := c.ClientIP()
		method := c.Request.Method
		statusCode := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		logger.Info("HTTP Request",
			"client_ip", clientIP,
			"method", method,
			"path", path,
			"status", statusCode,
			"latency", latency.String(),
			"user_agent", c.Request.UserAgent(),
		)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
