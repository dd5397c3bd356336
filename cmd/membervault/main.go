package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"
	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jonboulle/clockwork"

	"github.com/ManuelReschke/MemberVault/app/controllers"
	"github.com/ManuelReschke/MemberVault/app/repository"
	"github.com/ManuelReschke/MemberVault/docs"
	"github.com/ManuelReschke/MemberVault/internal/pkg/billing"
	"github.com/ManuelReschke/MemberVault/internal/pkg/cache"
	"github.com/ManuelReschke/MemberVault/internal/pkg/config"
	"github.com/ManuelReschke/MemberVault/internal/pkg/database"
	"github.com/ManuelReschke/MemberVault/internal/pkg/env"
	"github.com/ManuelReschke/MemberVault/internal/pkg/jobqueue"
	"github.com/ManuelReschke/MemberVault/internal/pkg/router"
	"github.com/ManuelReschke/MemberVault/internal/pkg/session"
	"github.com/ManuelReschke/MemberVault/internal/pkg/telemetry"
)

const shutdownTimeout = 20 * time.Second

// Application bundles the HTTP app with the background parts that need an
// orderly shutdown.
type Application struct {
	App       *fiber.App
	Config    *config.Config
	manager   *jobqueue.Manager
	telemetry *telemetry.Telemetry
}

func main() {
	application, err := NewApplication(context.Background())
	if err != nil {
		log.Fatalf("[Server] startup failed: %v", err)
	}

	go func() {
		if err := application.App.Listen(application.Config.Server.Address()); err != nil {
			log.Fatalf("[Server] listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("[Server] shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	application.Shutdown(ctx)
	log.Info("[Server] stopped")
}

func NewApplication(ctx context.Context) (*Application, error) {
	if envFile := env.SetupEnvFile(); envFile != "" {
		log.Infof("[Server] loaded environment from %s", envFile)
	}

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, err
	}

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Sentry.DSN,
			EnableTracing:    cfg.Sentry.TracesSampleRate > 0,
			TracesSampleRate: cfg.Sentry.TracesSampleRate,
			Environment:      cfg.App.Environment,
			Release:          cfg.App.Version,
		}); err != nil {
			log.Errorf("[Server] sentry init failed: %v", err)
		}
	}

	if err := database.SetupDatabase(cfg.Database, cfg.IsDevelopment()); err != nil {
		return nil, err
	}
	repository.InitializeFactory(database.GetDB())

	rdb := cache.SetupCache(cfg.Cache)
	session.NewSessionStore(cfg.Cache, cfg.IsProduction())

	tel, err := telemetry.NewTelemetry(ctx, cfg.Otel, cfg.App)
	if err != nil {
		return nil, err
	}

	opts := []billing.Option{
		billing.WithConfig(cfg.BillingService()),
		billing.WithTracer(tel.Tracer),
	}
	if cfg.Billing.SharedSyncWindow {
		opts = append(opts, billing.WithSyncWindow(
			billing.NewRedisWindow(rdb, clockwork.NewRealClock(), cfg.Billing.CatalogSyncInterval)))
	}
	svc := billing.NewServiceFromDB(database.GetDB(), billing.NewStripeProvider(cfg.Stripe.SecretKey), opts...)

	var (
		queue   *jobqueue.Queue
		manager *jobqueue.Manager
	)
	if cfg.Queue.Enabled {
		queue = jobqueue.NewQueue(rdb, svc, cfg.Queue.Workers)
		manager = jobqueue.InitManager(queue, cfg.Queue.CatalogRefreshInterval)
		manager.Start()
	}
	dispatcher := jobqueue.NewDispatcher(queue, svc, cache.Available)

	// Warm the catalog so pricing works before the first webhook arrives.
	go svc.SyncCatalogBestEffort(context.Background(), false)

	controllers.InitializeControllers(svc, dispatcher, cache.Store{}, cfg.Stripe.WebhookSecret)

	app := fiber.New(fiber.Config{
		AppName:   cfg.App.Name,
		BodyLimit: cfg.Server.BodyLimit,
	})

	if cfg.Sentry.DSN != "" {
		app.Use(sentryfiber.New(sentryfiber.Options{
			Repanic:         true,
			WaitForDelivery: false,
		}))
	}

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	if _, err := docs.Load(ctx); err != nil {
		log.Warnf("[Server] openapi document is invalid: %v", err)
	}
	if _, err := os.Stat(openAPIPath); err == nil {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: openAPIPath,
			Path:     "v1",
		}))
	}

	// ROUTER
	repos := repository.GetGlobalRepositories()
	router.InstallRouter(app, router.Dependencies{
		Config:  cfg,
		Redis:   rdb,
		Users:   repos.User,
		APIKeys: repos.ApiKey,
	})

	return &Application{
		App:       app,
		Config:    cfg,
		manager:   manager,
		telemetry: tel,
	}, nil
}

const openAPIPath = "docs/openapi.yml"

// Shutdown stops accepting requests, drains the workers and flushes traces
// and error reports.
func (a *Application) Shutdown(ctx context.Context) {
	if err := a.App.ShutdownWithContext(ctx); err != nil {
		log.Errorf("[Server] shutdown error: %v", err)
	}

	if a.manager != nil {
		a.manager.Stop()
	}

	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil {
			log.Errorf("[Server] telemetry shutdown error: %v", err)
		}
	}

	if db := database.GetDB(); db != nil {
		if sqlDB, err := db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				log.Errorf("[Server] database close error: %v", err)
			}
		}
	}

	sentry.Flush(2 * time.Second)
}
