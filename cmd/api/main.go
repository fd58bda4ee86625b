package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/support-desk/internal/api/dto"
	httptransport "github.com/spec-kit/support-desk/internal/api/http"
	"github.com/spec-kit/support-desk/internal/api/http/handlers"
	"github.com/spec-kit/support-desk/internal/auth"
	"github.com/spec-kit/support-desk/internal/config"
	"github.com/spec-kit/support-desk/internal/events"
	"github.com/spec-kit/support-desk/internal/observability"
	"github.com/spec-kit/support-desk/internal/persistence"
	"github.com/spec-kit/support-desk/internal/repository"
	"github.com/spec-kit/support-desk/internal/service"
	"github.com/spec-kit/support-desk/internal/storage"
	"github.com/spec-kit/support-desk/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	flushSentry, err := observability.InitSentry(cfg.Sentry, cfg.App.Version)
	if err != nil {
		logger.Error("sentry init failed", zap.Error(err))
	}
	defer flushSentry()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticketRepo, historyRepo, closeStore := openStore(ctx, cfg, logger)
	defer closeStore()

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	dispatcher := events.NewInMemoryDispatcher()
	notifications := service.NewNotificationService(service.NotificationServiceDependencies{
		Dispatcher:     dispatcher,
		Sink:           events.NewRedisPublisher(redis.Client, cfg.Redis.EventsChannel),
		Logger:         logger,
		QueueSize:      cfg.Notify.QueueSize,
		PublishTimeout: cfg.Notify.PublishTimeout(),
	})
	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	workerDone := worker.StartNotificationWorker(workerCtx, notifications)

	var attachments service.AttachmentStorage
	if cfg.Storage.Enabled() {
		minioStorage, err := storage.NewMinioStorage(ctx, cfg.Storage, logger)
		if err != nil {
			logger.Fatal("failed to init attachment storage", zap.Error(err))
		}
		attachments = minioStorage
	} else {
		logger.Info("attachment storage disabled")
	}

	store := service.NewTicketStore(service.TicketStoreDependencies{
		TicketRepo:       ticketRepo,
		HistoryRepo:      historyRepo,
		Attachments:      attachments,
		Dispatcher:       dispatcher,
		Logger:           logger,
		MaxWriteAttempts: cfg.Store.MaxWriteAttempts,
	})

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	metrics := observability.NewMetrics()

	app := fiber.New(fiber.Config{
		AppName:   cfg.App.Name,
		BodyLimit: cfg.Storage.RequestBodyLimit(dto.MaxAttachmentsPerMessage),
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Pinger{
			cfg.Store.Backend: ticketRepo,
			"redis":           redis,
		}, metrics),
		Tickets:        handlers.NewTicketsHandler(store),
		StaffTickets:   handlers.NewStaffTicketsHandler(store),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	stopWorker()
	select {
	case <-workerDone:
	case <-time.After(10 * time.Second):
		logger.Warn("notification worker did not drain before shutdown",
			zap.Int64("dropped_events", notifications.Dropped()))
	}
}

// openStore connects the configured ticket backend. The returned func
// releases its connections.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.TicketRepository, repository.TicketHistoryRepository, func()) {
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			logger.Fatal("failed to connect postgres", zap.Error(err))
		}
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}
		pool := pg.PoolHandle()
		return repository.NewPostgresTicketRepository(pool), repository.NewTicketHistoryRepository(pool), pg.Close
	case config.BackendMemory:
		logger.Warn("using in-memory ticket store; data is lost on restart")
		return repository.NewMemoryTicketRepository(), repository.NewMemoryTicketHistoryRepository(), func() {}
	default:
		mongo, err := persistence.NewMongo(ctx, cfg.Mongo, logger)
		if err != nil {
			logger.Fatal("failed to connect mongo", zap.Error(err))
		}
		if err := repository.EnsureTicketIndexes(ctx, mongo.Database); err != nil {
			logger.Fatal("failed to create mongo indexes", zap.Error(err))
		}
		return repository.NewMongoTicketRepository(mongo.Database),
			repository.NewMongoTicketHistoryRepository(mongo.Database),
			func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				mongo.Close(closeCtx)
			}
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
