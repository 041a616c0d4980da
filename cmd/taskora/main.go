package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/taskora/taskora/internal/config"
	"github.com/taskora/taskora/internal/database"
	"github.com/taskora/taskora/internal/identities"
	"github.com/taskora/taskora/internal/ledger"
	"github.com/taskora/taskora/internal/matchcache"
	"github.com/taskora/taskora/internal/server"
	"github.com/taskora/taskora/internal/task"
	"github.com/taskora/taskora/internal/tier"
	"github.com/taskora/taskora/pkg/logger"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.NewLogger(cfg.Server.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	var db *gorm.DB
	switch cfg.Database.Driver {
	case "postgres":
		db, err = database.NewPostgresDB(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	default:
		db, err = database.NewSQLiteDB(cfg.Database.Path)
	}
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		zapLogger.Fatal("Failed to migrate schema", zap.Error(err))
	}

	var cache matchcache.Cache
	if cfg.Redis.Addr != "" {
		cache, err = matchcache.NewRedisCache(zapLogger, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Match.TokenTTL)
		if err != nil {
			zapLogger.Fatal("Failed to connect to redis", zap.Error(err))
		}
	} else {
		cache = matchcache.NewMemoryCache(zapLogger, cfg.Match.TokenTTL, cfg.Match.SweepInterval)
	}

	identitiesSvc, err := identities.NewService(zapLogger, db, cfg.Auth.JWTSecret, cfg.Auth.JWTExpirationHours)
	if err != nil {
		zapLogger.Fatal("Failed to create identities service", zap.Error(err))
	}

	ledgerSvc, err := ledger.NewService(zapLogger, db)
	if err != nil {
		zapLogger.Fatal("Failed to create ledger service", zap.Error(err))
	}

	tierSvc, err := tier.NewService(zapLogger, db)
	if err != nil {
		zapLogger.Fatal("Failed to create tier service", zap.Error(err))
	}

	taskSvc, err := task.NewService(zapLogger, db, cache, tierSvc, cfg.Match)
	if err != nil {
		zapLogger.Fatal("Failed to create task service", zap.Error(err))
	}

	for _, svc := range []interface{ Start() error }{identitiesSvc, ledgerSvc, taskSvc} {
		if err := svc.Start(); err != nil {
			zapLogger.Fatal("Failed to start service", zap.Error(err))
		}
	}

	apiServer := server.NewServer(zapLogger, identitiesSvc, ledgerSvc, tierSvc, taskSvc)
	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: apiServer.Router(),
	}

	go func() {
		zapLogger.Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		zapLogger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	if err := taskSvc.Stop(); err != nil {
		zapLogger.Error("Failed to stop task service", zap.Error(err))
	}
	if err := ledgerSvc.Stop(); err != nil {
		zapLogger.Error("Failed to stop ledger service", zap.Error(err))
	}
	if err := identitiesSvc.Stop(); err != nil {
		zapLogger.Error("Failed to stop identities service", zap.Error(err))
	}
}
