package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/boddenberg/retail-ledger/internal/config"
	"github.com/boddenberg/retail-ledger/internal/domain"
	"github.com/boddenberg/retail-ledger/internal/handler"
	"github.com/boddenberg/retail-ledger/internal/infra/cache"
	"github.com/boddenberg/retail-ledger/internal/infra/clock"
	"github.com/boddenberg/retail-ledger/internal/infra/lock"
	"github.com/boddenberg/retail-ledger/internal/infra/memstore"
	"github.com/boddenberg/retail-ledger/internal/infra/observability"
	"github.com/boddenberg/retail-ledger/internal/infra/pgstore"
	"github.com/boddenberg/retail-ledger/internal/infra/resilience"
	"github.com/boddenberg/retail-ledger/internal/infra/scheduler"
	"github.com/boddenberg/retail-ledger/internal/port"
	"github.com/boddenberg/retail-ledger/internal/service"
)

// ledgerStore is what every store backend offers.
type ledgerStore interface {
	port.LedgerStore
	port.StatementReader
	port.AdminStore
	port.HealthChecker
}

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	loc, _ := cfg.Location()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("store_backend", cfg.StoreBackend),
		zap.String("lock_backend", cfg.LockBackend),
		zap.String("timezone", cfg.Timezone),
		zap.String("bank_code", cfg.BankCode),
		zap.Stringer("external_atm_fee", cfg.ExternalATMFee),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Bool("caller_auth", cfg.CallerJWTSecret != ""),
		zap.Bool("dev_tools", cfg.DevTools),
	)

	// --- Tracing ---
	shutdownTracer, err := observability.InitTracer(cfg.OTLPEndpoint, "retail-ledger")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdownTracer(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Store ---
	var (
		store ledgerStore
		refs  port.ReferenceGenerator
	)
	switch cfg.StoreBackend {
	case config.StorePostgres:
		if cfg.DBMigrate {
			if err := pgstore.Migrate(cfg.DBDSN, logger); err != nil {
				logger.Fatal("migrations failed", zap.Error(err))
			}
		}
		pg, err := pgstore.Open(ctx, cfg.DBDSN, int32(cfg.DBMaxConns), metrics, logger)
		if err != nil {
			logger.Fatal("failed to open ledger database", zap.Error(err))
		}
		defer pg.Close()
		store, refs = pg, pgstore.NewSequenceReferences(pg)
	default:
		logger.Warn("using in-memory store, balances are lost on restart")
		store, refs = memstore.New(), service.NewCounterReferences()
	}
	checkers := []port.HealthChecker{store}

	// --- Account lock ---
	var locker port.AccountLocker
	switch cfg.LockBackend {
	case config.LockRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		opts := lock.DefaultOptions()
		opts.Expiry = cfg.LockExpiry
		rl := lock.NewRedis(rdb, opts, logger)
		locker = rl
		checkers = append(checkers, rl)
	default:
		locker = lock.NewLocal()
	}

	// --- Services ---
	sysClock := clock.System{}
	fees := service.CommissionSchedule{
		ExternalATMFee: cfg.ExternalATMFee,
		TransferRate:   cfg.ExternalTransferRate,
		TransferMinFee: cfg.ExternalTransferMinFee,
		BankCode:       cfg.BankCode,
	}
	ledgerSvc := service.NewLedgerService(store, locker, refs, sysClock, metrics, logger,
		service.WithLocation(loc),
		service.WithCommissionSchedule(fees),
		service.WithRetry(resilience.Config{
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
			MaxBackoff:     cfg.MaxBackoff,
		}),
	)

	entryCache := cache.New[*domain.LedgerEntry](cfg.CacheTTL, cache.WithMaxEntries(cfg.CacheMaxEntries))
	defer entryCache.Close()
	statementSvc := service.NewStatementService(store, store, entryCache, sysClock, loc, metrics, logger)
	reconciler := service.NewReconciler(store, locker, sysClock, metrics, logger)

	var devSvc *service.DevToolsService
	if cfg.DevTools {
		devSvc = service.NewDevToolsService(store, ledgerSvc, sysClock, logger, service.WithEntryCache(entryCache))
		logger.Warn("dev tools enabled, /v1/dev routes are mounted")
	}

	var tokens *service.CallerTokens
	if cfg.CallerJWTSecret != "" {
		tokens, err = service.NewCallerTokens(cfg.CallerJWTSecret, cfg.CallerTokenTTL)
		if err != nil {
			logger.Fatal("invalid caller token secret", zap.Error(err))
		}
	}

	// --- Scheduler ---
	sched := scheduler.New(loc, logger)
	if cfg.ReconcileSchedule != "" {
		if err := sched.Add("reconcile", cfg.ReconcileSchedule, reconciler.Run); err != nil {
			logger.Fatal("invalid reconcile schedule", zap.Error(err))
		}
	}
	sched.Start()

	// --- Router ---
	router := handler.NewRouter(handler.Deps{
		Ledger:         ledgerSvc,
		Statements:     statementSvc,
		Reconciler:     reconciler,
		DevTools:       devSvc,
		Tokens:         tokens,
		Metrics:        metrics,
		Checkers:       checkers,
		MaxConcurrency: cfg.MaxConcurrency,
		QueueWait:      cfg.QueueWait,
	}, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	// --- Graceful shutdown ---
	<-ctx.Done()
	logger.Info("server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced shutdown", zap.Error(err))
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Warn("scheduler did not stop in time", zap.Error(err))
	}

	logger.Info("server stopped")
}
