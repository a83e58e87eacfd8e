package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kaanrky/courier/internal/config"
	"github.com/kaanrky/courier/internal/dispatch"
	"github.com/kaanrky/courier/internal/infra/postgresql"
	"github.com/kaanrky/courier/internal/infra/redis"
	"github.com/kaanrky/courier/internal/observability"
	"github.com/kaanrky/courier/internal/resource"
	"github.com/kaanrky/courier/internal/supervisor"
	"github.com/kaanrky/courier/internal/tenant"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "connector exited: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "courier-connector")
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // stderr sync is best-effort

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sharedDB, err := postgresql.NewShared(cfg.SharedDatabaseDSN)
	if err != nil {
		return err
	}
	defer postgresql.Close(sharedDB) //nolint:errcheck // shutdown path

	registry, err := tenant.NewRegistry(
		tenant.NewGormSource(sharedDB),
		time.Duration(cfg.TenantRefreshSeconds)*time.Second,
		logger,
	)
	if err != nil {
		return err
	}
	if err := registry.Refresh(ctx); err != nil {
		return err
	}

	metrics := observability.NewMetrics()

	resources, err := resource.NewCache(
		registry,
		resource.Options{
			Capacity: uint64(cfg.ResourceCacheCapacity),
			IdleTTL:  time.Duration(cfg.ResourceCacheIdleTTLs) * time.Second,
		},
		func(kind resource.Kind, reason string) {
			metrics.IncResourceEviction(string(kind), reason)
		},
		logger,
	)
	if err != nil {
		return err
	}
	resources.Start()
	defer resources.ReleaseAll()

	redisClient, err := redis.NewRedis(cfg.RedisURL)
	if err != nil {
		return err
	}
	defer redisClient.Close() //nolint:errcheck // shutdown path

	limiter, err := redis.NewRedisRateLimiter(redisClient, cfg.RateLimitPerSec)
	if err != nil {
		return err
	}

	dispatcher, err := dispatch.NewDispatcher(registry, resources, limiter, metrics, logger)
	if err != nil {
		return err
	}

	runner, err := dispatch.NewRunner(
		registry,
		resources,
		dispatcher,
		cfg.ConsumerPrefetch,
		time.Duration(cfg.TenantRefreshSeconds)*time.Second,
		logger,
	)
	if err != nil {
		return err
	}

	shards := []supervisor.Shard{
		{Name: "tenant-registry", Run: registry.Run},
		{Name: "consumer-runner", Run: runner.Run},
	}

	if cfg.RedriveIntervalSeconds > 0 {
		redriver, err := dispatch.NewRedriver(
			registry,
			resources,
			time.Duration(cfg.RedriveIntervalSeconds)*time.Second,
			cfg.RedriveBatchSize,
			metrics,
			logger,
		)
		if err != nil {
			return err
		}
		shards = append(shards, supervisor.Shard{Name: "redrive-scanner", Run: redriver.Run})
	} else {
		logger.Info("redrive scanner disabled")
	}

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: metrics.Handler(),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	logger.Info("connector starting",
		zap.Int("prefetch", cfg.ConsumerPrefetch),
		zap.Int("metricsPort", cfg.MetricsPort),
	)

	err = supervisor.New(logger, shards...).Run(ctx)

	logger.Info("shutting down connector")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if shutdownErr := metricsServer.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn("metrics shutdown failed", zap.Error(shutdownErr))
	}

	return err
}
