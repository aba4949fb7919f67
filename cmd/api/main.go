package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/modmail/internal/api/http"
	"github.com/spec-kit/modmail/internal/api/http/handlers"
	"github.com/spec-kit/modmail/internal/auth"
	"github.com/spec-kit/modmail/internal/clock"
	"github.com/spec-kit/modmail/internal/config"
	"github.com/spec-kit/modmail/internal/domain"
	"github.com/spec-kit/modmail/internal/events"
	"github.com/spec-kit/modmail/internal/observability"
	"github.com/spec-kit/modmail/internal/persistence"
	"github.com/spec-kit/modmail/internal/repository"
	"github.com/spec-kit/modmail/internal/service"
	"github.com/spec-kit/modmail/internal/transport/discord"
	"github.com/spec-kit/modmail/internal/worker"
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if pg.Enabled() && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), persistence.DefaultMigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	var redis *persistence.Redis
	if cfg.Snapshot.Backend == config.SnapshotBackendRedis {
		redis = persistence.NewRedis(ctx, cfg.Redis, logger)
		defer redis.Close()
	}

	snapshotter, err := persistence.NewSnapshotter(cfg.Snapshot, pg, redis, logger)
	if err != nil {
		logger.Fatal("failed to init snapshot backend", zap.Error(err))
	}

	clk := clock.Real()
	metrics := observability.NewMetrics()
	store := repository.NewTicketStore(cfg.Tickets.LimitPerUser, clk, logger)

	flusher := worker.NewSnapshotFlusher(store, snapshotter, clk, cfg.Snapshot.FlushInterval(), logger)
	if err := flusher.Load(ctx); err != nil {
		logger.Fatal("failed to load snapshot", zap.Error(err))
	}

	adapter, err := discord.New(cfg.Discord, logger)
	if err != nil {
		logger.Fatal("failed to init discord session", zap.Error(err))
	}

	dispatcher := events.NewInMemoryDispatcher()
	service.NewNotificationService(dispatcher, adapter, logger).RegisterHandlers()

	catalog := domain.NewCategoryCatalog(cfg.Tickets.Categories)
	lifecycle := service.NewLifecycleService(cfg.Tickets, service.LifecycleDependencies{
		Store:      store,
		Transport:  adapter,
		Dispatcher: dispatcher,
		Catalog:    catalog,
		Clock:      clk,
		Logger:     logger,
		Metrics:    metrics,
	})
	welcome := service.NewWelcomeService(store, adapter, catalog, clk, cfg.Welcome.Cooldown(), logger)
	typing := service.NewTypingRelay(store, adapter, clk, cfg.Tickets.TypingWindow(), logger)
	commands := service.NewCommandService(lifecycle, adapter, clk, cfg.Discord.CommandPrefix, logger)

	reaper := worker.NewIdleReaper(cfg.Reaper, cfg.Tickets.AutoCloseAfter(), worker.ReaperDependencies{
		Store:   store,
		Closer:  lifecycle,
		Clock:   clk,
		Logger:  logger,
		Metrics: metrics,
	})

	var workers sync.WaitGroup
	router := service.NewRouterService(cfg.Tickets, service.RouterDependencies{
		Store:     store,
		Transport: adapter,
		Lifecycle: lifecycle,
		Welcome:   welcome,
		Typing:    typing,
		Commands:  commands,
		Clock:     clk,
		Logger:    logger,
		Metrics:   metrics,
		OnFirstReady: func(context.Context) {
			workers.Add(2)
			go func() {
				defer workers.Done()
				reaper.Run(ctx)
			}()
			go func() {
				defer workers.Done()
				flusher.Run(ctx)
			}()
		},
	})

	if err := adapter.Start(ctx, router); err != nil {
		logger.Fatal("failed to open discord gateway", zap.Error(err))
	}
	defer adapter.Close() //nolint:errcheck

	authService := service.NewAuthService(cfg.Auth, clk, logger)
	authMiddleware := auth.NewAuthMiddleware(authService.TokenManager())

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
		Immutable:             true,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Staff:          handlers.NewStaffHandler(authService, lifecycle, metrics),
		Tickets:        handlers.NewTicketsHandler(lifecycle),
		Users:          handlers.NewUsersHandler(lifecycle),
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
	cancel()
	workers.Wait()
	if _, err := flusher.Flush(context.Background()); err != nil {
		logger.Error("snapshot flush on exit failed", zap.Error(err))
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
