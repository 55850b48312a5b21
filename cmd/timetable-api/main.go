package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/univent/timetable-api/api/swagger"
	"github.com/univent/timetable-api/internal/handler"
	internalmiddleware "github.com/univent/timetable-api/internal/middleware"
	"github.com/univent/timetable-api/internal/repository"
	"github.com/univent/timetable-api/internal/service"
	"github.com/univent/timetable-api/pkg/cache"
	"github.com/univent/timetable-api/pkg/config"
	"github.com/univent/timetable-api/pkg/database"
	"github.com/univent/timetable-api/pkg/logger"
	corsmiddleware "github.com/univent/timetable-api/pkg/middleware/cors"
	reqidmiddleware "github.com/univent/timetable-api/pkg/middleware/requestid"
	"github.com/univent/timetable-api/pkg/storage"
)

// @title Univent Timetable API
// @version 1.0.0
// @description Timetable scheduling and conflict detection engine
// @BasePath /
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close() //nolint:errcheck

	validate := validator.New()

	timetableRepo := repository.NewTimetableRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsSvc := service.NewMetricsService()
	tokenSvc := service.NewTokenService(cfg.JWT)

	auditSvc := service.NewAuditService(auditRepo, cfg.Audit, logr)
	auditSvc.Start(ctx)
	defer auditSvc.Stop()

	timetableSvc := service.NewTimetableService(timetableRepo, auditSvc, cacheRepo, metricsSvc, validate, logr)

	var availabilitySvc *service.AvailabilityService
	if cfg.Availability.CacheEnabled {
		availabilitySvc = service.NewAvailabilityService(timetableSvc, cacheRepo, metricsSvc, cfg.Availability.CacheTTL, logr)
	} else {
		availabilitySvc = service.NewAvailabilityService(timetableSvc, nil, metricsSvc, cfg.Availability.CacheTTL, logr)
	}

	var exportSvc *service.ExportService
	if cfg.Exports.Enabled {
		fileStore, err := storage.NewExportStore(cfg.Exports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init export storage", "error", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
		exportSvc = service.NewExportService(timetableSvc, fileStore, signer, service.ExportConfig{APIPrefix: cfg.APIPrefix}, logr)
		go pruneExports(ctx, fileStore, cfg.Exports.RetainFor, logr)
	}

	timetableHandler := handler.NewTimetableHandler(timetableSvc, exportSvc, auditSvc)
	entryHandler := handler.NewEntryHandler(timetableSvc)
	availabilityHandler := handler.NewAvailabilityHandler(availabilitySvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "component": "postgres"})
			return
		}
		if err := redisClient.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "component": "redis"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registerRoutes(r, cfg, tokenSvc, timetableHandler, entryHandler, availabilityHandler)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}

// pruneExports drops export files that outlived their retention window.
func pruneExports(ctx context.Context, store *storage.ExportStore, retainFor time.Duration, logr *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruned, err := store.PruneOlderThan(retainFor)
			if err != nil {
				logr.Sugar().Warnw("export prune failed", "error", err)
				continue
			}
			if len(pruned) > 0 {
				logr.Sugar().Infow("pruned expired exports", "count", len(pruned))
			}
		}
	}
}
