package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-progress-api/internal/config"
	"github.com/noah-isme/gema-progress-api/internal/database"
	"github.com/noah-isme/gema-progress-api/internal/handler"
	"github.com/noah-isme/gema-progress-api/internal/middleware"
	"github.com/noah-isme/gema-progress-api/internal/observability"
	"github.com/noah-isme/gema-progress-api/internal/progression"
	"github.com/noah-isme/gema-progress-api/internal/repository"
	"github.com/noah-isme/gema-progress-api/internal/router"
	"github.com/noah-isme/gema-progress-api/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	observability.RegisterMetrics()

	db, err := database.ConnectPostgres(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if cfg.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			log.Fatalf("failed to migrate database: %v", err)
		}
	}

	caps := database.DetectCapabilities(db)
	logger.Info().
		Bool("progress_table", caps.ProgressTable).
		Bool("unit_deadlines", caps.UnitDeadlines).
		Bool("deadline_overrides", caps.DeadlineOverrides).
		Msg("storage capabilities detected")
	observability.PublishCapabilities(caps.Flags())
	if !caps.ProgressTable {
		logger.Warn().Msg("unit_progress table missing; progression endpoints will report storage not provisioned")
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	natsConn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName, logger)
	if err != nil {
		log.Fatalf("failed to connect to nats: %v", err)
	}
	if natsConn != nil {
		defer natsConn.Close()
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	unitRepo := repository.NewUnitRepository(db, caps)
	progressRepo := repository.NewUnitProgressRepository(db, caps, cfg.LockTimeout)
	overrideRepo := repository.NewDeadlineOverrideRepository(db, caps)
	activityRepo := repository.NewActivityLogRepository(db)

	bus := service.NewInvalidationBus(redisClient, natsConn, cfg.RealtimeChannel, logger)
	activityService := service.NewActivityService(activityRepo, logger)
	deadlineService := service.NewDeadlineService(unitRepo, overrideRepo, bus, activityService, caps, validate, logger)
	progressService := service.NewProgressService(
		unitRepo,
		progressRepo,
		deadlineService,
		bus,
		activityService,
		progression.Classifier{TitleHeuristic: cfg.IntroTitleHeuristic},
		caps,
		validate,
		logger,
	)
	catalogueService := service.NewCatalogueService(unitRepo, bus, activityService, validate, logger)
	dashboardService := service.NewProgressDashboardService(progressService, unitRepo, deadlineService, redisClient, cfg.DashboardCacheTTL, cfg.DueSoonWindow, logger)
	bus.Subscribe(dashboardService.HandleChange)

	outcomeConsumer, err := service.NewOutcomeConsumer(progressService, natsConn, cfg.RealtimeChannel, logger)
	if err != nil {
		log.Fatalf("failed to build outcome consumer: %v", err)
	}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	bus.Start(workerCtx)
	outcomeConsumer.Start(workerCtx)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		ProgressHandler:      handler.NewProgressHandler(progressService, dashboardService, deadlineService, logger),
		AdminProgressHandler: handler.NewAdminProgressHandler(catalogueService, progressService, deadlineService, logger),
		AdminActivityHandler: handler.NewAdminActivityHandler(activityService, logger),
		Capabilities:         caps,
		JWTMiddleware:        middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, cancelWorkers)
}

func waitForShutdown(app *fiber.App, stopWorkers context.CancelFunc) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	stopWorkers()

	log.Println("server stopped")
}
