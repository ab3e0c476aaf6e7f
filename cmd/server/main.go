package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/merchware/gatekeeper/internal/application"
	"github.com/merchware/gatekeeper/internal/config"
	"github.com/merchware/gatekeeper/internal/domain/service"
	"github.com/merchware/gatekeeper/internal/infrastructure/monitoring"
	"github.com/merchware/gatekeeper/internal/infrastructure/persistence/memory"
	"github.com/merchware/gatekeeper/internal/infrastructure/persistence/postgres"
	"github.com/merchware/gatekeeper/internal/infrastructure/persistence/redis"
	"github.com/merchware/gatekeeper/internal/infrastructure/ratelimit"
	"github.com/merchware/gatekeeper/internal/interfaces/http/handlers"
	"github.com/merchware/gatekeeper/internal/interfaces/http/middleware"
	"github.com/merchware/gatekeeper/internal/interfaces/http/router"
	"github.com/merchware/gatekeeper/internal/scheduler"
	"github.com/merchware/gatekeeper/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	appLogger, err := logger.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}

	ctx := context.Background()

	db, err := postgres.Connect(ctx, &cfg.Database, appLogger)
	if err != nil {
		appLogger.Error(ctx, "failed to connect to database", err)
		os.Exit(1)
	}

	var (
		kvStore     service.KeyValueStore
		redisClient goredis.UniversalClient
	)
	if cfg.Cache.InMemory {
		appLogger.Warn(ctx, "using in-process cache; counters are not shared across workers")
		kvStore = memory.NewKVStore()
	} else {
		redisClient, err = redis.Connect(ctx, &cfg.Redis, appLogger)
		if err != nil {
			appLogger.Error(ctx, "failed to connect to redis", err)
			os.Exit(1)
		}
		kvStore = redis.NewKVStore(redisClient)
	}

	metrics := monitoring.NewMetrics()

	keyRepo := postgres.NewAPIKeyRepository(db)
	auditLog := postgres.NewAuditLog(db)

	validator := application.NewValidatorService(keyRepo, kvStore, cfg.Cache.ValidationTTL(), appLogger)
	validator.CacheLookup = metrics.RecordCacheLookup

	rotation := application.NewRotationService(keyRepo, auditLog, kvStore, application.RotationConfig{
		ExpiryMonths:     cfg.Rotation.ExpiryMonths,
		TransitionDays:   cfg.Rotation.TransitionDays,
		ExpiringSoonDays: cfg.Rotation.ExpiringSoonDays,
		UnusedDays:       cfg.Rotation.UnusedDays,
		RotatedDays:      cfg.Rotation.RotatedDays,
	}, appLogger)
	rotation.SweepProcessed = metrics.RecordSweep

	limiter := ratelimit.NewFixedWindowLimiter(kvStore, appLogger)

	registry := middleware.NewOperationRegistry(cfg.Auth.PublicOperations)
	authenticator := middleware.NewAuthenticator(validator, limiter, registry, middleware.AuthenticatorConfig{
		PublicPaths: cfg.Auth.PublicPaths,
		QueryPaths:  cfg.Auth.QueryPaths,
		Window:      cfg.RateLimit.Window(),
	}, metrics, appLogger)

	engine := router.New(router.Options{
		Authenticator: authenticator,
		AdminKeys:     handlers.NewAdminKeysHandler(rotation, auditLog, appLogger),
		Health:        handlers.NewHealthHandler(db, redisClient),
		EnablePprof:   cfg.Server.EnablePprof,
	})

	var sweeper *scheduler.Sweeper
	if cfg.Scheduler.Enabled {
		sweeper = scheduler.NewSweeper(rotation, cfg.Scheduler.SweepSchedule, appLogger)
		if err := sweeper.Start(); err != nil {
			appLogger.Error(ctx, "failed to start sweeper", err)
			os.Exit(1)
		}
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      engine,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		appLogger.Info(ctx, "http server listening", logger.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error(ctx, "http server failed", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "graceful shutdown failed", err)
	}
	if sweeper != nil {
		sweeper.Stop()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	closeDB(db, appLogger)
	appLogger.Info(ctx, "shutdown complete")
}

func closeDB(db *gorm.DB, log logger.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn(context.Background(), "closing database failed", logger.Err(err))
	}
}
