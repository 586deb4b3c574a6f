package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/nftbridge/starknet-migrator/internal/api"
	"github.com/nftbridge/starknet-migrator/internal/config"
	"github.com/nftbridge/starknet-migrator/internal/db"
	"github.com/nftbridge/starknet-migrator/internal/metrics"
	"github.com/nftbridge/starknet-migrator/internal/queue"
	"github.com/nftbridge/starknet-migrator/internal/ratelimiter"
	"github.com/nftbridge/starknet-migrator/internal/repository"
	"github.com/nftbridge/starknet-migrator/internal/service"
	"github.com/nftbridge/starknet-migrator/internal/signature"
	"github.com/nftbridge/starknet-migrator/internal/starknet"
	"github.com/nftbridge/starknet-migrator/internal/worker"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// ---- database ----
	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(cfg.MigrationsSource, cfg.DatabaseURL); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("database migrations applied")

	// ---- destination chain ----
	var chain starknet.Manager
	switch cfg.ChainBackend {
	case config.ChainMemory:
		logger.Warn("using in-memory starknet manager; nothing is minted on chain")
		chain = starknet.NewMemoryManager()
	default:
		chain, err = starknet.NewOnChainManager(
			cfg.StarknetRPCURL,
			cfg.StarknetAccountAddress,
			cfg.StarknetAccountPubKey,
			cfg.StarknetPrivateKey,
			cfg.StarknetMaxFee,
			logger.Named("starknet"),
		)
		if err != nil {
			logger.Fatal("failed to create starknet manager", zap.Error(err))
		}
	}

	// ---- core dependencies ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	buf := queue.New(cfg.BufferSize)
	svc, err := service.NewMigrationService(
		repository.NewPgQueueRepository(pool),
		repository.NewPgCustomerKeysRepository(pool),
		repository.NewPgTransactionRepository(pool),
		signature.NewKeplrValidator(cfg.Bech32Prefix),
		service.Options{
			BatchSize:         cfg.BatchSize,
			RequireProvenance: cfg.RequireProvenance,
			ReplayCacheSize:   cfg.ReplayCacheSize,
		},
		m.ServiceHooks(),
		logger.Named("service"),
	)
	if err != nil {
		logger.Fatal("failed to create migration service", zap.Error(err))
	}

	// ---- worker pool ----
	// Context for all background goroutines; cancelled on shutdown signal.
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	workers := worker.NewPool(
		cfg, buf, svc,
		repository.NewPgMintLockRepository(pool),
		chain,
		ratelimiter.New(cfg.MintRateLimit),
		logger.Named("worker"),
		m.WorkerHooks(),
	)
	workers.Start(workerCtx)

	// ---- HTTP server ----
	router := api.NewRouter(svc, buf, pool.Ping, reg, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// Start server in a goroutine so it does not block the shutdown listener.
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("chain_backend", cfg.ChainBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Stop claiming and signal workers to finish their current item.
	cancelWorkers()

	// 3. Wait for in-flight items, then release anything still buffered.
	workers.Wait()

	logger.Info("server stopped cleanly")
}
