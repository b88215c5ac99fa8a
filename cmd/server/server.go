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

	"go.uber.org/zap"

	"github.com/agent-smit/marketplace-mcp/internal/api"
	"github.com/agent-smit/marketplace-mcp/internal/cache"
	"github.com/agent-smit/marketplace-mcp/internal/config"
	"github.com/agent-smit/marketplace-mcp/internal/db"
	"github.com/agent-smit/marketplace-mcp/internal/extensions"
	"github.com/agent-smit/marketplace-mcp/internal/kv"
	"github.com/agent-smit/marketplace-mcp/internal/logging"
	"github.com/agent-smit/marketplace-mcp/internal/mcp"
	"github.com/agent-smit/marketplace-mcp/internal/ratelimit"
	"github.com/agent-smit/marketplace-mcp/internal/registry"
	"github.com/agent-smit/marketplace-mcp/internal/telemetry"
	"github.com/agent-smit/marketplace-mcp/internal/tools"
	"github.com/agent-smit/marketplace-mcp/internal/usage"
)

const reapInterval = 10 * time.Minute

func runMigrate() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for migrate")
	}
	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	fmt.Println("database migrations applied")
	return nil
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting marketplace-mcp",
		zap.String("port", cfg.Port),
		zap.String("environment", cfg.Environment),
		zap.String("kv_backend", cfg.KVBackend),
		zap.String("session_backend", cfg.SessionBackend),
		zap.Int("rate_limit_hourly", cfg.RateLimitHourly),
		zap.Int("rate_limit_daily", cfg.RateLimitDaily),
	)

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.OTELServiceName)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown error", zap.Error(err))
		}
	}()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var sessions mcp.SessionStore
	var memSessions *mcp.MemorySessionStore
	switch cfg.SessionBackend {
	case config.SessionBackendKV:
		sessions = mcp.NewKVSessionStore(store, cfg.SessionIdleTTL)
	default:
		memSessions = mcp.NewMemorySessionStore(cfg.SessionIdleTTL)
		sessions = memSessions
	}

	// Expired-entry cleanup goroutine
	go reapLoop(ctx, store, memSessions, logger)

	registryClient := registry.NewClient(registry.Config{
		BaseURL:   cfg.RegistryURL,
		SearchURL: cfg.RegistrySearchURL,
		Timeout:   cfg.RegistryTimeout,
		RPS:       cfg.RegistryRPS,
		Breaker:   registry.DefaultBreakerConfig,
	}, logger)

	service := extensions.NewService(registryClient, cache.New(store, logger), logger)
	executor, err := tools.NewExecutor(service, logger)
	if err != nil {
		return fmt.Errorf("tools: %w", err)
	}

	limiter := ratelimit.NewRateLimiter(store, ratelimit.Limits{
		Hourly: cfg.RateLimitHourly,
		Daily:  cfg.RateLimitDaily,
	}, logger)

	monitor := usage.NewMonitor(store, usage.Config{
		Workers:    cfg.UsageWorkers,
		SampleRate: cfg.UsageSampleRate,
		Tools:      tools.Names(),
	}, logger)
	monitor.Start()
	defer monitor.Stop()

	transport := mcp.NewTransport(mcp.TransportConfig{
		Handler:   api.NewMCPHandler(executor, logger),
		Sessions:  sessions,
		Admission: limiter,
		Logger:    logger,
	})

	router := api.NewRouter(api.RouterConfig{
		Health:     &api.HealthHandler{Store: store, Backend: cfg.KVBackend, Logger: logger},
		MCP:        transport,
		Usage:      &api.UsageHandler{Limiter: limiter, Logger: logger},
		Admin:      &api.AdminHandler{Monitor: monitor, Logger: logger},
		AdminToken: cfg.AdminToken,
		Tracker:    monitor,
		Logger:     logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigCh:
			logger.Info("shutting down", zap.String("signal", sig.String()))
		case <-ctx.Done():
		}
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		errCh <- srv.Shutdown(shutdownCtx)
	}()

	logger.Info("server listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}

	return <-errCh
}

// openStore builds the configured KV backend. The returned close func is
// always safe to call.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (kv.Store, func(), error) {
	switch cfg.KVBackend {
	case config.KVBackendPostgres:
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			return nil, nil, fmt.Errorf("migrations: %w", err)
		}
		logger.Info("database migrations applied")

		pool, err := kv.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("database pool: %w", err)
		}
		return kv.NewPostgres(pool), pool.Close, nil

	case config.KVBackendSQLite:
		s, err := kv.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite: %w", err)
		}
		return s, func() {
			if err := s.Close(); err != nil {
				logger.Warn("sqlite close error", zap.Error(err))
			}
		}, nil

	default:
		return kv.NewMemory(), func() {}, nil
	}
}

func reapLoop(ctx context.Context, store kv.Store, sessions *mcp.MemorySessionStore, logger *zap.Logger) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if r, ok := store.(kv.Reaper); ok {
				deleted, err := r.DeleteExpired(ctx)
				if err != nil {
					logger.Warn("kv cleanup error", zap.Error(err))
				} else if deleted > 0 {
					logger.Info("cleaned up expired kv entries", zap.Int64("deleted", deleted))
				}
			}
			if sessions != nil {
				if n := sessions.Reap(); n > 0 {
					logger.Info("cleaned up idle sessions", zap.Int("deleted", n))
				}
			}
		case <-ctx.Done():
			return
		}
	}
}
