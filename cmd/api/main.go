package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/scan-intel/backend/internal/affiliation"
	"github.com/scan-intel/backend/internal/api/handlers"
	"github.com/scan-intel/backend/internal/cache/redis"
	"github.com/scan-intel/backend/internal/entitysync"
	"github.com/scan-intel/backend/internal/esi"
	"github.com/scan-intel/backend/internal/interesting"
	"github.com/scan-intel/backend/internal/metrics"
	"github.com/scan-intel/backend/internal/middleware/ratelimit"
	"github.com/scan-intel/backend/internal/middleware/security"
	"github.com/scan-intel/backend/internal/middleware/validation"
	"github.com/scan-intel/backend/internal/progress"
	"github.com/scan-intel/backend/internal/scan"
	"github.com/scan-intel/backend/internal/scheduler"
	"github.com/scan-intel/backend/internal/storage/sqlite"
	"github.com/scan-intel/backend/internal/supervisor"
	"github.com/scan-intel/backend/pkg/config"
	appLogger "github.com/scan-intel/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting scan intel API server")

	metrics.Init()

	store, err := sqlite.NewClient(cfg.SQLite.Path, appLogger.Named("sqlite"))
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer store.Close()

	if err := store.InitSchema(context.Background()); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	esiClient := esi.NewClient(esiConfig(cfg), appLogger.Named("esi"), esi.WithDeletionHandler(store.SoftDeletePilot))
	if err := metrics.RegisterRateLimitGauges(prometheus.DefaultRegisterer, esiClient.RateLimits()); err != nil {
		appLogger.Fatal("Failed to register rate-limit gauges", zap.Error(err))
	}

	hub := progress.NewHub(64)

	synchronizer := entitysync.NewSynchronizer(store, esiClient, hub, entitysync.Config{
		StaleAfter:        cfg.Sync.StaleAfter,
		ActiveWindow:      cfg.Sync.ActiveWindow,
		PilotBatch:        cfg.Sync.BatchSize.Pilots,
		OrganizationBatch: cfg.Sync.BatchSize.Organizations,
		AllianceBatch:     cfg.Sync.BatchSize.Alliances,
	}, appLogger.Named("entitysync"))

	resolver := affiliation.NewResolver(store, esiClient, synchronizer, affiliation.Config{
		FreshFor:     cfg.Resolver.FreshFor,
		ProfileBatch: cfg.Resolver.ProfileBatch,
	}, appLogger.Named("affiliation"))

	rules, errs := interesting.RulesFromConfig(cfg.Interesting.Rules)
	for _, e := range errs {
		appLogger.Warn("Ignoring interesting rule", zap.Error(e))
	}
	appLogger.Info("Interesting rules loaded", zap.Int("rules", len(rules)))
	evaluator := interesting.NewEvaluator(rules)

	var reportCache scan.ReportCache
	var invalidator scheduler.ReportInvalidator
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.ReportTTL, appLogger.Named("redis"))
		if err != nil {
			appLogger.Warn("Redis unavailable, report dedupe disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
			reportCache = redisClient
			invalidator = redisClient
		}
	}

	classifier := scan.NewClassifier(store, appLogger.Named("scan"))
	scanService := scan.NewService(classifier, evaluator, resolver, store, reportCache, cfg.Scan.MaxLength, appLogger.Named("scan"))

	interval := cfg.Sync.Interval
	if !cfg.Sync.Enabled {
		interval = 0
	}
	syncScheduler := scheduler.New(synchronizer, invalidator, scheduler.Config{
		Interval:   interval,
		RunOnStart: cfg.Sync.Enabled,
	}, appLogger.Named("scheduler"))

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
		Logger:            appLogger.Named("ratelimit"),
	})
	defer limiter.Stop()

	scanHandler := handlers.NewScanHandler(scanService, appLogger.Named("api"))
	syncHandler := handlers.NewSyncHandler(syncScheduler, appLogger.Named("api"))
	statusHandler := handlers.NewStatusHandler(esiClient, 5*time.Second, appLogger.Named("api"))
	wsHandler := handlers.NewWebSocketHandler(hub, appLogger.Named("ws"))

	api := app.Group("/api/v1")

	api.Post("/scans",
		limiter.Middleware(),
		validation.ScanMiddleware(validation.Config{MaxScanLength: cfg.Scan.MaxLength, Logger: appLogger.Named("validation")}),
		scanHandler.Submit,
	)
	api.Get("/scans/:id", scanHandler.Get)
	api.Post("/sync/:kind", limiter.Middleware(), syncHandler.Trigger)
	api.Get("/status", statusHandler.Status)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		if err := store.Ping(c.UserContext()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "unavailable",
			})
		}
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())
	app.Use("/ws", wsHandler.Upgrade)
	app.Get("/ws/sync", websocket.New(wsHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	root := supervisor.New("scan-intel", supervisor.DefaultConfig(), appLogger.Named("supervisor"))
	root.Add(supervisor.NewFiberService(app, addr, 10*time.Second, appLogger.Named("http")))
	root.Add(syncScheduler)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.Serve(ctx); err != nil && ctx.Err() == nil {
		appLogger.Error("Supervisor stopped", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}

func esiConfig(cfg *config.Config) esi.Config {
	out := esi.DefaultConfig()
	out.BaseURL = cfg.ESI.BaseURL
	out.UserAgent = cfg.ESI.UserAgent
	out.Timeout = time.Duration(cfg.ESI.TimeoutSec) * time.Second
	out.MaxAttempts = cfg.ESI.MaxRetries
	out.RetryBaseDelay = cfg.ESI.RetryBaseDelay
	out.MaxConnections = cfg.ESI.MaxConnections
	out.RequestsPerSecond = cfg.ESI.RequestsPerSecond
	out.Burst = cfg.ESI.Burst
	out.PreviewBytes = cfg.ESI.PreviewBytes
	if cfg.Resolver.NamesPerRequest > 0 {
		out.NamesPerRequest = cfg.Resolver.NamesPerRequest
	}
	if cfg.Resolver.IDsPerRequest > 0 {
		out.IDsPerRequest = cfg.Resolver.IDsPerRequest
	}
	return out
}
