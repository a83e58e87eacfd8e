package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kaanrky/courier/internal/config"
	"github.com/kaanrky/courier/internal/gateway"
	"github.com/kaanrky/courier/internal/handler"
	"github.com/kaanrky/courier/internal/infra/postgresql"
	"github.com/kaanrky/courier/internal/infra/postgresql/migrations"
	"github.com/kaanrky/courier/internal/observability"
	"github.com/kaanrky/courier/internal/resource"
	"github.com/kaanrky/courier/internal/tenant"
	"github.com/kaanrky/courier/internal/transport"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "api exited: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "courier-api")
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
	if err := migrateTenants(registry, logger); err != nil {
		return err
	}
	go registry.Run(ctx) //nolint:errcheck // stops with ctx

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

	gw, err := gateway.NewGateway(registry, resources, metrics, logger)
	if err != nil {
		return err
	}

	notifyHandler, err := handler.NewNotifyHandler(gw, logger)
	if err != nil {
		return err
	}
	healthHandler := handler.NewHealthHandler(map[string]handler.ReadinessCheck{
		"database": func(ctx context.Context) error {
			sqlDB, err := sharedDB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	})

	app := fiber.New(fiber.Config{
		AppName:               "courier-api",
		DisableStartupMessage: true,
		ErrorHandler:          transport.NewErrorHandler(logger),
	})
	app.Use(transport.CorrelationMiddleware())
	app.Use(metrics.HTTPMiddleware())
	notifyHandler.Register(app)
	healthHandler.Register(app)

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: metrics.Handler(),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", zap.Int("port", cfg.APIPort))
		errCh <- app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down api")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("api shutdown failed", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics shutdown failed", zap.Error(err))
	}

	return nil
}

// migrateTenants applies the per-tenant schema for every tenant in the
// initial snapshot. Short-lived sessions; the resource cache owns the
// long-lived ones.
func migrateTenants(registry *tenant.Registry, logger *zap.Logger) error {
	for _, cfg := range registry.All() {
		db, err := postgresql.NewTenantSession(cfg.DatabaseDSN, cfg.Schema)
		if err != nil {
			return fmt.Errorf("failed to open tenant %s database: %w", cfg.ID, err)
		}

		err = migrations.MigrateTenant(db)
		if closeErr := postgresql.Close(db); closeErr != nil {
			logger.Warn("failed to close migration session",
				zap.String("tenantId", cfg.ID),
				zap.Error(closeErr),
			)
		}
		if err != nil {
			return fmt.Errorf("failed to migrate tenant %s: %w", cfg.ID, err)
		}

		logger.Info("tenant schema migrated", zap.String("tenantId", cfg.ID))
	}

	return nil
}
