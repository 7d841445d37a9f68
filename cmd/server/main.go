package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"MailQueue/internal/api"
	"MailQueue/internal/config"
	"MailQueue/internal/db"
	"MailQueue/internal/email"
	"MailQueue/internal/lock"
	"MailQueue/internal/metrics"
	"MailQueue/internal/worker"
)

func main() {

	// ------------------------------------------------
	// Logger
	// ------------------------------------------------
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// ------------------------------------------------
	// Config
	// ------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// ------------------------------------------------
	// Root Context + Shutdown
	// ------------------------------------------------
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ------------------------------------------------
	// Database
	// ------------------------------------------------
	store, err := db.Connect(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer store.Close()

	if cfg.MigrateOnStart {
		if err := store.Migrate(ctx, logger); err != nil {
			logger.Fatal("database migration failed", zap.Error(err))
		}
	}

	// ------------------------------------------------
	// Metrics
	// ------------------------------------------------
	metrics.Init()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	metricsServer := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics server started", zap.String("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("metrics server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Mail Transport
	// ------------------------------------------------
	mailer, err := email.New(cfg)
	if err != nil {
		logger.Fatal("mail transport setup failed", zap.Error(err))
	}
	logger.Info("mail transport ready", zap.String("transport", cfg.MailTransport))

	// ------------------------------------------------
	// Queue Processor
	// ------------------------------------------------
	opts := []worker.Option{worker.WithBatchSize(cfg.BatchSize)}

	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("invalid REDIS_URL", zap.Error(err))
		}
		rdb := redis.NewClient(redisOpts)
		defer rdb.Close()

		opts = append(opts, worker.WithLocker(lock.NewRedisLock(rdb, lock.DefaultKey, cfg.RunLockTTL, logger)))
		logger.Info("run lock enabled", zap.Duration("ttl", cfg.RunLockTTL))
	}

	processor := worker.NewProcessor(
		store,
		mailer,
		worker.NewPacer(cfg.SendsPerSecond),
		cfg.MailFrom,
		logger,
		opts...,
	)

	// ------------------------------------------------
	// Scheduler (optional)
	// ------------------------------------------------
	var wg sync.WaitGroup

	if cfg.ScheduleInterval > 0 {
		scheduler := worker.NewScheduler(processor, cfg.ScheduleInterval, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			scheduler.Start(ctx)
		}()
	}

	// ------------------------------------------------
	// HTTP API Server
	// ------------------------------------------------
	apiHandler := &api.Handler{
		Runner:    processor,
		Store:     store,
		CronToken: cfg.CronSecretToken,
		Log:       logger,
	}

	apiServer := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           apiHandler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("api server started", zap.String("port", cfg.APIPort))
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("api server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Wait for shutdown
	// ------------------------------------------------
	<-ctx.Done()

	logger.Info("shutting down services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Shutdown waits for in-flight queue runs.
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", zap.Error(err))
	}

	wg.Wait()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", zap.Error(err))
	}

	logger.Info("application shutdown complete")
}
