package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/jmwalsh/foreclosure-monitor/internal/cache"
	"github.com/jmwalsh/foreclosure-monitor/internal/config"
	"github.com/jmwalsh/foreclosure-monitor/internal/database"
	"github.com/jmwalsh/foreclosure-monitor/internal/server"
	"github.com/jmwalsh/foreclosure-monitor/pkg/logger"
)

func main() {
	var migrate bool
	var runOnce bool
	flag.BoolVar(&migrate, "migrate", false, "Run database migrations")
	flag.BoolVar(&runOnce, "monitor", false, "Run one monitoring cycle and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	db, err := database.Initialize(cfg.DatabasePath)
	if err != nil {
		log.Fatal("Failed to initialize database", "error", err)
	}

	if migrate {
		if err := database.Migrate(db); err != nil {
			log.Fatal("Failed to run migrations", "error", err)
		}
		log.Info("Database migrations completed successfully")
		return
	}

	cacheService := cache.NewCache(cfg.CacheSize, cfg.CacheTTL)

	srv := server.New(cfg, db, cacheService, log)

	if runOnce {
		cycle, err := srv.Scheduler().Run(context.Background())
		if err != nil {
			log.Fatal("Monitor cycle failed", "error", err)
		}
		log.Info("Monitor cycle complete",
			"checked", cycle.CasesChecked,
			"updated", cycle.CasesUpdated,
			"failed", cycle.CasesFailed,
		)
		return
	}

	log.Info("Starting Foreclosure Case Monitor",
		"host", cfg.Host,
		"port", cfg.Port,
		"county", cfg.CountyName,
	)

	if err := srv.Run(); err != nil {
		log.Fatal("Server failed to start", "error", err)
	}
}
