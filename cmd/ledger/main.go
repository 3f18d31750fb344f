package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/bank-ledger-go/internal/config"
	"github.com/boddenberg/bank-ledger-go/internal/handler"
	"github.com/boddenberg/bank-ledger-go/internal/infra/cache"
	"github.com/boddenberg/bank-ledger-go/internal/infra/client"
	"github.com/boddenberg/bank-ledger-go/internal/infra/memory"
	"github.com/boddenberg/bank-ledger-go/internal/infra/observability"
	"github.com/boddenberg/bank-ledger-go/internal/infra/postgres"
	"github.com/boddenberg/bank-ledger-go/internal/infra/resilience"
	"github.com/boddenberg/bank-ledger-go/internal/infra/supabase"
	"github.com/boddenberg/bank-ledger-go/internal/infra/wal"
	"github.com/boddenberg/bank-ledger-go/internal/port"
	"github.com/boddenberg/bank-ledger-go/internal/service"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("storage", cfg.Storage),
		zap.Bool("wal", cfg.WALPath != ""),
		zap.String("owner_backend", cfg.OwnerBackend),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Int("max_concurrency", cfg.MaxConcurrency),
		zap.Bool("auth", cfg.AuthEnabled()),
	)

	// --- Tracing ---
	shutdownTracer, err := observability.InitTracer(cfg.OTLPEndpoint, cfg.ServiceName)
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdownTracer(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Storage ---
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	store, closeStore, err := openStore(startupCtx, cfg, logger)
	cancelStartup()
	if err != nil {
		logger.Fatal("failed to open ledger store", zap.Error(err))
	}
	defer closeStore()

	// --- Owner directory ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	owners := newOwnerDirectory(cfg, httpClient, resilienceCfg, logger)

	// --- Cache ---
	ownerCache := cache.New[bool](cfg.CacheTTL)
	defer ownerCache.Close()

	// --- Services ---
	ledger := service.NewLedgerService(
		store,
		owners,
		service.NewAccountNumberGenerator(),
		ownerCache,
		metrics,
		logger,
		service.WithAccountNumberAttempts(cfg.AccountNumberAttempts),
		service.WithDefaultAccountType(cfg.DefaultAccountType),
	)
	reports := service.NewReportingService(store, logger)

	var tokens *service.TokenService
	if cfg.AuthEnabled() {
		tokens = service.NewTokenService(cfg.JWTSecret, cfg.JWTAccessTTL)
		logger.Info("bearer token authentication enabled")
	} else {
		logger.Warn("JWT_SECRET not set, /v1 routes are unauthenticated")
	}

	// --- Router ---
	router := handler.NewRouter(ledger, reports, tokens, resilience.NewBulkhead(cfg.MaxConcurrency), metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

// openStore builds the configured ledger store and returns its release func.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (port.LedgerStore, func(), error) {
	switch cfg.Storage {
	case config.StoragePostgres:
		store, err := postgres.NewLedgerStore(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
		logger.Info("using postgres ledger store")
		return store, store.Close, nil

	default:
		if cfg.WALPath == "" {
			logger.Warn("using in-memory ledger store without a journal, state is lost on restart")
			return memory.NewLedgerStore(logger), func() {}, nil
		}
		journal, err := wal.Open(cfg.WALPath)
		if err != nil {
			return nil, nil, err
		}
		store, err := memory.NewJournaledLedgerStore(journal, logger)
		if err != nil {
			journal.Close()
			return nil, nil, err
		}
		logger.Info("using in-memory ledger store", zap.String("wal_path", cfg.WALPath))
		return store, func() {
			if err := journal.Close(); err != nil {
				logger.Error("failed to close journal", zap.Error(err))
			}
		}, nil
	}
}

// newOwnerDirectory picks where owner existence is checked.
func newOwnerDirectory(cfg *config.Config, httpClient *http.Client, rcfg resilience.Config, logger *zap.Logger) port.OwnerDirectory {
	switch cfg.OwnerBackend {
	case config.OwnersSupabase:
		logger.Info("using Supabase as owner directory", zap.String("supabase_url", cfg.SupabaseURL))
		return supabase.NewClient(
			httpClient,
			cfg.SupabaseURL,
			cfg.SupabaseAnonKey,
			cfg.SupabaseServiceKey,
			resilience.NewLoggedCircuitBreaker("supabase", logger),
			rcfg,
			logger,
		)
	case config.OwnersHTTP:
		logger.Info("using HTTP owner directory", zap.String("owner_api_url", cfg.OwnerAPIURL))
		return client.NewOwnerClient(httpClient, cfg.OwnerAPIURL, resilience.NewLoggedCircuitBreaker("identity", logger), rcfg)
	default:
		if len(cfg.StaticOwners) == 0 {
			logger.Warn("static owner directory is empty, no account can be opened")
		}
		logger.Info("using static owner directory", zap.Strings("owners", cfg.StaticOwners))
		return memory.NewOwnerRegistry(cfg.StaticOwners...)
	}
}
