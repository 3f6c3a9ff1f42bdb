// cmd/cryptgate/main.go
package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/FairForge/cryptgate/internal/api"
	"github.com/FairForge/cryptgate/internal/backend"
	"github.com/FairForge/cryptgate/internal/cache"
	"github.com/FairForge/cryptgate/internal/config"
	"github.com/FairForge/cryptgate/internal/crypto"
	"github.com/FairForge/cryptgate/internal/fallback"
	"github.com/FairForge/cryptgate/internal/logging"
	"github.com/FairForge/cryptgate/internal/metrics"
	"github.com/FairForge/cryptgate/internal/scheduler"
	"github.com/FairForge/cryptgate/internal/service"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Bootstrap logger until the configured one exists
	boot, _ := zap.NewProduction()

	cfg, err := config.Load()
	if err != nil {
		boot.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		boot.Fatal("failed to build logger", zap.Error(err))
	}
	_ = boot.Sync()
	defer func() { _ = logger.Sync() }()

	collector := metrics.NewCollector()

	cipher, err := crypto.NewCipher(crypto.Config{
		Algorithm:  cfg.Encryption.Algorithm,
		KDF:        cfg.Encryption.KDF,
		KeyLength:  cfg.Encryption.KeyLength,
		Iterations: cfg.Encryption.Iterations,
		Salt:       cfg.Encryption.Salt,
	})
	if err != nil {
		logger.Fatal("failed to create cipher", zap.Error(err))
	}

	client := backend.NewClient(logger,
		backend.WithMetrics(collector),
		backend.WithRetryPolicy(backend.NewRetryPolicy(logger, backend.WithJitter(true))),
	)

	table := scheduler.NewHealthTable(cfg.CrudAPI.Instances)
	monitor := scheduler.NewHealthMonitor(table, client, logger,
		scheduler.WithInterval(cfg.CrudAPI.HealthCheckInterval),
		scheduler.WithMonitorMetrics(collector),
	)
	sched := scheduler.New(table, cfg.CrudAPI.Strategy, scheduler.WithMetrics(collector))

	store, err := cache.NewStore(cfg.Cache, logger, cache.WithMetrics(collector))
	if err != nil {
		logger.Fatal("failed to open cache", zap.Error(err))
	}

	manager := fallback.NewManager(cfg.Fallback, store, client, logger, fallback.WithMetrics(collector))

	svc := service.New(cfg, service.Deps{
		Cipher:   cipher,
		Selector: sched,
		Backend:  client,
		Cache:    store,
		Fallback: manager,
	}, logger)

	server := api.NewServer(cfg, svc, logger, api.WithMetrics(collector))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		monitor.Run(ctx)
		return nil
	})
	g.Go(func() error {
		store.Run(ctx)
		return nil
	})
	g.Go(func() error {
		manager.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return server.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	logger.Info("cryptgate started",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("service_id", cfg.Service.ID),
		zap.String("service_role", string(cfg.Service.Role)),
		zap.String("strategy", string(cfg.CrudAPI.Strategy)),
		zap.Int("instances", len(cfg.CrudAPI.Instances)),
		zap.String("algorithm", cipher.Algorithm()),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("server failed", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
