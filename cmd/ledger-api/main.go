package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"accounts-ledger/pkg/account"
	"accounts-ledger/pkg/account/memory"
	accountpg "accounts-ledger/pkg/account/postgres"
	accountredis "accounts-ledger/pkg/account/redis"
	"accounts-ledger/pkg/api"
	"accounts-ledger/pkg/compensation"
	"accounts-ledger/pkg/config"
	"accounts-ledger/pkg/directory"
	"accounts-ledger/pkg/ledger"
	"accounts-ledger/pkg/logging"
	"accounts-ledger/pkg/metrics"
	promMetrics "accounts-ledger/pkg/metrics/prometheus"
	pg "accounts-ledger/pkg/postgres"
	"accounts-ledger/pkg/reconcile"
	"accounts-ledger/pkg/resilience"
	"accounts-ledger/pkg/retry"
	"accounts-ledger/pkg/transfer"
	transferpg "accounts-ledger/pkg/transfer/postgres"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/rueidis"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// closer is run in reverse order on shutdown.
type closer func() error

func main() {
	logger, err := logging.NewLoggerFromEnv()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	// balances and amounts are rendered as JSON numbers
	decimal.MarshalJSONWithoutQuotes = true

	collector := promMetrics.NewCollector("ledger")
	prometheus.MustRegister(collector)

	var closers []closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("shutdown step failed", zap.Error(err))
			}
		}
	}()

	store, intents, redisClient, cls, err := openStorage(cfg, logger)
	closers = append(closers, cls...)
	if err != nil {
		logger.Error("Failed to open storage", zap.String("backend", cfg.StoreBackend), zap.Error(err))
		return
	}
	resilient := resilience.NewStoreWithMetrics(store, resilience.DefaultConfig(), collector)
	logger.Info("account store ready", zap.String("backend", store.Name()))

	bootCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	master, err := resilient.EnsureMaster(bootCtx, cfg.MasterAccountNumber)
	cancel()
	if err != nil {
		logger.Error("Failed to bootstrap master account", logging.MasterAccountNumber(cfg.MasterAccountNumber), zap.Error(err))
		return
	}
	logger.Info("master account ready",
		logging.MasterAccountNumber(master.AccountNumber),
		zap.String("balance", master.Balance.String()),
	)

	dir, err := newDirectory(cfg, collector, logger)
	if err != nil {
		logger.Error("Failed to create client directory", zap.Error(err))
		return
	}

	comp, cls, err := newCompensator(cfg, intents, redisClient, collector, logger)
	closers = append(closers, cls...)
	if err != nil {
		logger.Error("Failed to create compensator", zap.Error(err))
		return
	}

	coord, err := ledger.New(ledger.Config{
		MasterAccountNumber: cfg.MasterAccountNumber,
		Retry: retry.DefaultPolicy().
			WithBaseDelay(cfg.RetryBaseDelay).
			WithAttemptTimeout(cfg.RetryAttemptTimeout),
	}, ledger.Dependencies{
		Store:       resilient,
		Directory:   dir,
		Intents:     intents,
		Compensator: comp,
		Metrics:     collector,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("Failed to create ledger", zap.Error(err))
		return
	}

	reconciler := reconcile.New(intents, coord, reconcile.Config{
		Interval: cfg.ReconcileInterval,
		Grace:    cfg.ReconcileGrace,
	}, collector)
	reconciler.Start()
	closers = append(closers, func() error { reconciler.Stop(); return nil })

	serverConfig := api.DefaultServerConfig()
	serverConfig.Address = ":" + cfg.Port
	serverConfig.Registerer = prometheus.DefaultRegisterer
	server, err := api.NewServer(coord, resilient, serverConfig)
	if err != nil {
		logger.Error("Failed to create server", zap.Error(err))
		return
	}
	serverErr := server.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			logger.Error("server failed", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("server stopped")
}

// openStorage returns the account store, the intents repository and, for the
// Redis backend, the shared Redis client.
func openStorage(cfg config.Config, logger *logging.Logger) (account.Store, transfer.Repository, rueidis.Client, []closer, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err := pg.Open(cfg.Postgres)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		closers := []closer{db.Close}

		store, intents, err := openPostgres(db)
		if err != nil {
			return nil, nil, nil, closers, err
		}
		return store, intents, nil, closers, nil

	case config.BackendRedis:
		store, err := accountredis.NewStore(cfg.Redis)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		logger.Warn("withdrawal intents are kept in memory with the redis backend")
		return store, transfer.NewMemoryRepository(), store.Client(), []closer{store.Close}, nil

	default:
		logger.Warn("using the in-memory account store, data is lost on restart")
		store := memory.NewStore(memory.Config{})
		return store, transfer.NewMemoryRepository(), nil, []closer{store.Close}, nil
	}
}

func openPostgres(db *sql.DB) (account.Store, transfer.Repository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := accountpg.NewStore(ctx, db)
	if err != nil {
		return nil, nil, err
	}
	intents, err := transferpg.NewRepository(ctx, db)
	if err != nil {
		return nil, nil, err
	}
	return store, intents, nil
}

func newDirectory(cfg config.Config, collector metrics.Collector, logger *logging.Logger) (directory.Directory, error) {
	if cfg.ClientServiceURL == "" {
		logger.Warn("CLIENT_SERVICE_URL not set, every account creation will be rejected")
		return directory.NewStatic(), nil
	}
	return directory.NewClient(directory.ClientConfig{
		BaseURL:    cfg.ClientServiceURL,
		Resilience: resilience.DirectoryConfig(),
	}, collector)
}

func newCompensator(cfg config.Config, intents transfer.Repository, client rueidis.Client, collector metrics.Collector, logger *logging.Logger) (compensation.Compensator, []closer, error) {
	var (
		comp    compensation.Compensator
		closers []closer
	)

	switch cfg.CompensationMode {
	case compensation.ModeNoOp:
		comp = compensation.NoOp{}
	case compensation.ModeLog:
		comp = compensation.NewLog(logger)
	case compensation.ModeReconcile:
		comp = compensation.Chain{compensation.NewLog(logger), compensation.NewReconcile(intents)}
	case compensation.ModeQueue:
		if client == nil {
			c, err := accountredis.NewClient(cfg.Redis)
			if err != nil {
				return nil, nil, fmt.Errorf("compensation queue: %w", err)
			}
			client = c
			closers = append(closers, func() error { c.Close(); return nil })
		}
		dispatcher := compensation.NewDispatcher(
			compensation.NewRedisStream(client, cfg.CompensationStream),
			compensation.DispatcherConfig{},
			collector,
		)
		closers = append(closers, dispatcher.Close)
		comp = compensation.Chain{compensation.NewLog(logger), dispatcher}
	default:
		return nil, nil, fmt.Errorf("unknown compensation mode %q", cfg.CompensationMode)
	}

	logger.Info("compensation configured", zap.String("mode", string(cfg.CompensationMode)))
	return compensation.WithMetrics(comp, cfg.CompensationMode, collector), closers, nil
}
