package engine

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/ratewatch/ratewatch/internal/api"
	"github.com/ratewatch/ratewatch/internal/config"
	"github.com/ratewatch/ratewatch/internal/models"
	"github.com/ratewatch/ratewatch/internal/services/alerts"
	"github.com/ratewatch/ratewatch/internal/services/counter"
	"github.com/ratewatch/ratewatch/internal/services/dashboard"
	"github.com/ratewatch/ratewatch/internal/services/database"
	"github.com/ratewatch/ratewatch/internal/services/entity"
	"github.com/ratewatch/ratewatch/internal/services/gate"
	"github.com/ratewatch/ratewatch/internal/services/history"
	"github.com/ratewatch/ratewatch/internal/services/limiter"
	"github.com/ratewatch/ratewatch/internal/services/metrics"
)

// Engine wires the counter store, evaluator, history recorder and dashboard
// aggregator together and serves them over HTTP. It can also be embedded:
// Record, Check and Snapshot work without Run.
type Engine struct {
	config *config.Config
	app    *fiber.App

	redis *redis.Client
	db    *database.DB

	store      *counter.Store
	evaluator  *limiter.Evaluator
	alerts     *alerts.Log
	entities   *entity.Service
	recorder   *history.Recorder
	worker     *history.Worker
	gate       *gate.Service
	aggregator *dashboard.Aggregator
	metrics    *metrics.Metrics
	scheduler  *cron.Cron
}

// alertSink fans alert events out to the in-memory log and the metrics
// collectors.
type alertSink struct {
	log     *alerts.Log
	metrics *metrics.Metrics
}

func (s alertSink) Publish(event models.AlertEvent) {
	s.log.Publish(event)
	s.metrics.RecordAlert(event)
}

// New initializes infrastructure and services from the configuration. The
// returned engine is ready for embedded use; call Run to serve HTTP.
func New(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil - use config.LoadFromFile() to create one")
	}

	setupLogLevel(cfg)

	redisClient, err := createRedisClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis client: %w", err)
	}

	db, err := database.New(cfg.DatabaseConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}
	fiberlog.Infof("Database (%s) initialized successfully", db.DriverName())

	engineCfg := cfg.Engine.WithDefaults()

	var m *metrics.Metrics
	if cfg.Server.EnableMetrics {
		m = metrics.NewMetrics()
	}

	entities := entity.NewService(db.DB)
	recorder := history.NewRecorder(db.DB)
	if err := entities.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate entity tables: %w", err)
	}
	if err := recorder.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate history table: %w", err)
	}
	fiberlog.Info("Database migrations completed successfully")

	worker := history.NewWorker(recorder, m, engineCfg.SealWorkers, engineCfg.SealBuffer)
	store := counter.NewStore(worker)

	alertLog := alerts.NewLog(engineCfg.AlertLogSize)

	var cooldowns limiter.CooldownStore
	if redisClient != nil {
		cooldowns = limiter.NewRedisCooldownStore(redisClient)
	} else {
		fiberlog.Info("Redis not configured - cooldowns will not survive restarts")
		cooldowns = limiter.NewMemoryCooldownStore()
	}

	evaluator := limiter.NewEvaluator(cooldowns, alertSink{log: alertLog, metrics: m}, engineCfg.Cooldown)
	gateSvc := gate.NewService(store, evaluator, entities, m, engineCfg.SystemLimits())
	aggregator := dashboard.NewAggregator(store, evaluator, alertLog, entities, engineCfg)

	return &Engine{
		config:     cfg,
		redis:      redisClient,
		db:         db,
		store:      store,
		evaluator:  evaluator,
		alerts:     alertLog,
		entities:   entities,
		recorder:   recorder,
		worker:     worker,
		gate:       gateSvc,
		aggregator: aggregator,
		metrics:    m,
	}, nil
}

// Record ingests one traffic event and returns the gate verdict. Embedded
// equivalent of POST /v1/events.
func (e *Engine) Record(ctx context.Context, kind models.EntityKind, id uint, deltas models.TokenDeltas) (gate.Verdict, error) {
	return e.gate.Ingest(ctx, kind, id, deltas)
}

// Check evaluates the gate without counting anything.
func (e *Engine) Check(ctx context.Context, kind models.EntityKind, id uint) (gate.Verdict, error) {
	return e.gate.Check(ctx, kind, id)
}

// Snapshot returns the current dashboard snapshot.
func (e *Engine) Snapshot(ctx context.Context) dashboard.Snapshot {
	return e.aggregator.Snapshot(ctx)
}

// Run starts the HTTP server and the scheduled jobs and blocks until
// shutdown.
func (e *Engine) Run() error {
	if err := e.config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	port := e.config.Server.Port
	if port == "" {
		port = "8080"
	}
	listenAddr := ":" + port

	e.app = createFiberApp(e.config)
	setupMiddleware(e.app, e.config)
	e.setupRoutes()
	e.startScheduler()

	defer e.close()

	fmt.Printf("RateWatch starting on %s\n", listenAddr)
	fmt.Printf("   Environment: %s\n", e.config.Server.Environment)
	fmt.Printf("   Go version: %s\n", runtime.Version())
	fmt.Printf("   GOMAXPROCS: %d\n", runtime.GOMAXPROCS(0))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)

	serverErrChan := make(chan error, 1)
	go func() {
		if err := e.app.Listen(listenAddr); err != nil {
			serverErrChan <- err
		}
	}()

	select {
	case sig := <-sigChan:
		fiberlog.Infof("Received signal: %v. Starting graceful shutdown...", sig)
	case err := <-serverErrChan:
		return fmt.Errorf("server error: %w", err)
	}

	fiberlog.Info("Server shutting down gracefully...")
	if err := e.app.ShutdownWithTimeout(30 * time.Second); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	fiberlog.Info("Server shutdown completed successfully")

	return nil
}

// close flushes pending state and releases infrastructure. Open live
// buckets are sealed and handed to the worker so a clean shutdown loses no
// completed minutes.
func (e *Engine) close() {
	if e.scheduler != nil {
		e.scheduler.Stop()
	}

	e.store.Sweep()
	e.syncStats(context.Background())
	e.worker.Stop()

	if e.redis != nil {
		if err := e.redis.Close(); err != nil {
			fiberlog.Errorf("Failed to close Redis client: %v", err)
		}
	}
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			fiberlog.Errorf("Failed to close database connection: %v", err)
		}
	}
}

func (e *Engine) setupRoutes() {
	e.app.Get("/", welcomeHandler())

	api.NewHealthHandler(e.db, e.redis).RegisterRoutes(e.app, "/health")
	if e.metrics != nil {
		e.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	}

	api.NewEventsHandler(e.gate).RegisterRoutes(e.app, "/v1/events")
	api.NewLimitsHandler(e.entities, e.gate, e.recorder).RegisterRoutes(e.app, "/v1")
	api.NewDashboardHandler(e.aggregator).RegisterRoutes(e.app, "/v1")
}

// startScheduler registers the periodic jobs: sealing idle buckets just
// after each minute boundary, mirroring live stats into the database, and
// refreshing the dashboard snapshot.
func (e *Engine) startScheduler() {
	e.scheduler = cron.New(cron.WithSeconds())

	_, _ = e.scheduler.AddFunc("5 * * * * *", func() {
		if sealed := e.store.Sweep(); sealed > 0 {
			fiberlog.Debugf("sweep sealed %d idle minute buckets", sealed)
		}
	})

	_, _ = e.scheduler.AddFunc("20 * * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		e.syncStats(ctx)
	})

	_, _ = e.scheduler.AddFunc("*/10 * * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		e.aggregator.Refresh(ctx)
	})

	e.scheduler.Start()
}

// syncStats mirrors live counters into the entity configuration rows so the
// database reflects recent traffic even across restarts.
func (e *Engine) syncStats(ctx context.Context) {
	for _, tracked := range e.store.Tracked() {
		ent, err := e.entities.Lookup(ctx, tracked.Kind, tracked.ID)
		if err != nil {
			fiberlog.Debugf("stats sync skipping %s %d: %v", tracked.Kind, tracked.ID, err)
			continue
		}
		usage, state := e.gate.State(ctx, ent)
		if err := e.entities.SyncStats(ctx, tracked.Kind, tracked.ID, usage, state.RateLimitEndTime); err != nil {
			fiberlog.Errorf("stats sync failed for %s %d: %v", tracked.Kind, tracked.ID, err)
		}
	}
}

func createFiberApp(cfg *config.Config) *fiber.App {
	isProd := cfg.IsProduction()

	return fiber.New(fiber.Config{
		AppName:           "RateWatch v1.0",
		EnablePrintRoutes: !isProd,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       5 * time.Minute,
		CaseSensitive:     true,
		StrictRouting:     false,
		Network:           "tcp",
		ServerHeader:      "RateWatch",
	})
}

func setupMiddleware(app *fiber.App, cfg *config.Config) {
	isProd := cfg.IsProduction()

	// Recover middleware (must be first)
	app.Use(recover.New(recover.Config{
		EnableStackTrace: !isProd,
	}))

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	if isProd {
		app.Use(logger.New(logger.Config{
			Format: "${time} ${status} ${method} ${path} ${latency} ${bytesSent}b\n",
			Output: os.Stdout,
		}))
	} else {
		app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path} ${error}\n",
			Output: os.Stdout,
		}))
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.Server.AllowedOrigins,
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization",
		AllowMethods:  "GET, POST, PATCH, DELETE, OPTIONS",
		MaxAge:        86400,
		ExposeHeaders: "Content-Length, Content-Type, X-Request-ID",
	}))
}

func setupLogLevel(cfg *config.Config) {
	logLevel := cfg.GetNormalizedLogLevel()

	switch logLevel {
	case "trace":
		fiberlog.SetLevel(fiberlog.LevelTrace)
	case "debug":
		fiberlog.SetLevel(fiberlog.LevelDebug)
	case "info", "":
		fiberlog.SetLevel(fiberlog.LevelInfo)
	case "warn", "warning":
		fiberlog.SetLevel(fiberlog.LevelWarn)
	case "error":
		fiberlog.SetLevel(fiberlog.LevelError)
	case "fatal":
		fiberlog.SetLevel(fiberlog.LevelFatal)
	default:
		fiberlog.SetLevel(fiberlog.LevelInfo)
		fiberlog.Warnf("Unknown log level '%s', defaulting to 'info'", logLevel)
	}
}

func createRedisClient(cfg *config.Config) (*redis.Client, error) {
	redisURL := cfg.Redis.URL
	if redisURL == "" {
		return nil, nil
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opt.DialTimeout = 10 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second
	opt.MaxRetries = 3

	client := redis.NewClient(opt)

	const maxAttempts = 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = client.Ping(ctx).Err()
		cancel()

		if err == nil {
			fiberlog.Infof("Redis connection established successfully (attempt %d/%d)", attempt, maxAttempts)
			return client, nil
		}

		fiberlog.Warnf("Redis connection failed (attempt %d/%d): %v", attempt, maxAttempts, err)
		if attempt < maxAttempts {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	if closeErr := client.Close(); closeErr != nil {
		fiberlog.Errorf("Failed to close Redis client after connection failures: %v", closeErr)
	}
	return nil, fmt.Errorf("failed to connect to Redis after %d attempts: %w", maxAttempts, err)
}

func welcomeHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message":    "Welcome to RateWatch!",
			"version":    "1.0.0",
			"go_version": runtime.Version(),
			"status":     "running",
			"endpoints": fiber.Map{
				"events":    "/v1/events",
				"limits":    "/v1/:kind/:id/limits",
				"history":   "/v1/:kind/:id/limits/history",
				"dashboard": "/v1/dashboard/limits",
				"system":    "/v1/system/limits",
				"health":    "/health",
			},
		})
	}
}
