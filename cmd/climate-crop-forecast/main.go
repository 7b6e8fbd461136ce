package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	httpapi "github.com/i474232898/climate-crop-forecast/internal/api/http"
	"github.com/i474232898/climate-crop-forecast/internal/climate"
	"github.com/i474232898/climate-crop-forecast/internal/climate/climateserv"
	"github.com/i474232898/climate-crop-forecast/internal/config"
	"github.com/i474232898/climate-crop-forecast/internal/crops"
	"github.com/i474232898/climate-crop-forecast/internal/forecast"
	"github.com/i474232898/climate-crop-forecast/internal/logging"
	"github.com/i474232898/climate-crop-forecast/internal/metrics"
	"github.com/i474232898/climate-crop-forecast/internal/scheduler"
	"github.com/i474232898/climate-crop-forecast/internal/store"
)

const serviceName = "climate-crop-forecast"

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logging.New(serviceName, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logr.Sync() }()

	m := metrics.NewCollector("climate_crop_forecast", nil)

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	// ClimateSERV client with resilience (circuit breaker, optional backoff).
	provider := climateserv.NewClient(httpClient, climateserv.Config{
		BaseURL:      cfg.ClimateServBaseURL,
		PollInterval: cfg.PollInterval,
		PollMaxWait:  cfg.PollMaxWait,
		Backoff: climateserv.BackoffConfig{
			MaxRetries:      cfg.HTTPMaxRetries,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
		},
		BreakerFailureThreshold: uint32(cfg.BreakerFailureThreshold),
	}, logr.Named("climateserv"), m)

	batches := climate.NewBatchScheduler(provider, climate.BatchConfig{
		BaseDatasetID:       climate.DatasetID(cfg.BaseDatasetID),
		DatasetsPerAccuracy: cfg.DatasetsPerAccuracy,
		BatchSize:           cfg.BatchSize,
		HorizonMonths:       cfg.HorizonMonths,
		ProgressMargin:      cfg.ProgressMargin,
		Now:                 time.Now,
	}, logr.Named("batches"), m)

	table, err := crops.Load(cfg.CropsFile)
	if err != nil {
		logr.Fatal("failed to load crop table", zap.String("path", cfg.CropsFile), zap.Error(err))
	}
	logr.Info("crop table loaded", zap.Int("crops", table.Len()))

	// In-memory run registry; finished runs expire after RUN_RETENTION.
	runs := store.NewMemoryStore(cfg.RunMaxRecords)

	// Core service orchestrating collection, aggregation and ranking.
	service := forecast.NewService(batches, table, runs, logr.Named("forecast"), m, forecast.Options{
		RunTimeout: cfg.RunTimeout,
		Retention:  cfg.RunRetention,
	})

	// Scheduler that periodically evicts expired runs.
	sched := scheduler.New(service, cfg.RunSweepInterval, logr.Named("scheduler"))
	if err := sched.Start(); err != nil {
		logr.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer sched.Stop()

	// Basic app configuration
	app := fiber.New(fiber.Config{
		AppName:               serviceName,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		// Synchronous forecasts (?wait=true) can take as long as a run.
		WriteTimeout: cfg.RunTimeout + 10*time.Second,
		ErrorHandler: httpapi.ErrorHandler,
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())
	app.Use(httpapi.Metrics(m))

	// Basic health endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": serviceName,
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// API routes.
	httpapi.RegisterRoutes(app, service, httpapi.Options{MaxAreaKm2: cfg.MaxAreaKm2})

	// Start server with graceful shutdown
	go func() {
		logr.Info("listening", zap.String("port", cfg.Port))
		if err := app.Listen(":" + cfg.Port); err != nil {
			logr.Warn("fiber server stopped", zap.Error(err))
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Cancel runs first so synchronous handlers return before the server drains.
	if err := service.Shutdown(shutdownCtx); err != nil {
		logr.Warn("forecast runs did not stop in time", zap.Error(err))
	}
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logr.Warn("error during shutdown", zap.Error(err))
	}
}
