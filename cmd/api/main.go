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
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/noah-isme/studio-booking-api/api/swagger"
	"github.com/noah-isme/studio-booking-api/internal/handler"
	"github.com/noah-isme/studio-booking-api/internal/middleware"
	"github.com/noah-isme/studio-booking-api/internal/repository"
	"github.com/noah-isme/studio-booking-api/internal/service"
	"github.com/noah-isme/studio-booking-api/pkg/cache"
	"github.com/noah-isme/studio-booking-api/pkg/config"
	"github.com/noah-isme/studio-booking-api/pkg/database"
	"github.com/noah-isme/studio-booking-api/pkg/jobs"
	"github.com/noah-isme/studio-booking-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/studio-booking-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/studio-booking-api/pkg/middleware/requestid"
)

// @title Studio Booking API
// @version 1.0.0
// @description Yoga class catalog, seat booking with waitlists, and member profiles.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	if cfg.RunMigrations {
		if err := database.Migrate(ctx, db, logr); err != nil {
			logr.Fatal("failed to migrate database", zap.Error(err))
		}
	}

	var redisClient *redis.Client
	if cfg.Cache.Enabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, class cache disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
		}
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	classRepo := repository.NewClassSessionRepository(db)
	profileRepo := repository.NewProfileRepository(db)

	var cacheRepo *repository.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, "studio", logr)
	}
	cacheSvc := service.NewCacheService(cacheRepoOrNil(cacheRepo), metricsSvc, cfg.Cache.ClassTTL, logr, cacheRepo != nil)

	statsSvc := service.NewStatsService(profileRepo, metricsSvc, logr)
	statsQueue := jobs.NewQueue("profile-stats", statsSvc.Handle, jobs.QueueConfig{
		Workers:    cfg.Stats.Workers,
		BufferSize: cfg.Stats.BufferSize,
		MaxRetries: cfg.Stats.MaxRetries,
		RetryDelay: 500 * time.Millisecond,
		Logger:     logr,
	})
	statsQueue.Start(context.Background())
	statsSvc.UseQueue(statsQueue)

	scheduler := jobs.NewScheduler(time.UTC, logr)
	if cfg.Stats.RolloverEnabled {
		if err := scheduler.Register("profile-counter-rollover", cfg.Stats.RolloverSpec, statsSvc.ResetPeriodCounters); err != nil {
			logr.Fatal("failed to schedule counter rollover", zap.Error(err))
		}
		scheduler.Start()
	}

	authSvc := service.NewAuthService(userRepo, profileRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	classSvc := service.NewClassService(service.ClassServiceParams{
		Repo:      classRepo,
		Users:     userRepo,
		Cache:     cacheSvc,
		Validator: validate,
		Logger:    logr,
		CacheTTL:  cfg.Cache.ClassTTL,
	})
	bookingSvc := service.NewBookingService(service.BookingServiceParams{
		Classes:   classRepo,
		Users:     userRepo,
		Stats:     statsSvc,
		Cache:     cacheSvc,
		Metrics:   metricsSvc,
		Validator: validate,
		Logger:    logr,
		Config:    service.BookingServiceConfig{MaxRetries: cfg.Booking.MaxRetries},
	})
	profileSvc := service.NewProfileService(service.ProfileServiceParams{
		Profiles:  profileRepo,
		Users:     userRepo,
		Classes:   classRepo,
		Validator: validate,
		Logger:    logr,
	})

	checks := map[string]handler.ReadinessCheck{
		"database": func(ctx context.Context) error {
			start := time.Now()
			err := db.PingContext(ctx)
			metricsSvc.ObserveDBQuery("ping", time.Since(start))
			return err
		},
	}
	if cacheRepo != nil {
		checks["redis"] = cacheRepo.Ping
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(middleware.WithResponseMeta())

	registerRoutes(r, cfg, routeDeps{
		auth:     handler.NewAuthHandler(authSvc),
		classes:  handler.NewClassHandler(classSvc),
		bookings: handler.NewBookingHandler(bookingSvc),
		profile:  handler.NewProfileHandler(profileSvc),
		ops:      handler.NewMetricsHandler(metricsSvc, checks),
		tokens:   authSvc,
		audit:    userRepo,
		logger:   logr,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	if cfg.Stats.RolloverEnabled {
		scheduler.Stop()
	}
	statsQueue.Stop()
}

// cacheRepoOrNil avoids handing the cache service a typed nil interface.
func cacheRepoOrNil(repo *repository.CacheRepository) service.CacheRepository {
	if repo == nil {
		return nil
	}
	return repo
}
