package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ospgroupvn/usage-monitor/internal/config"
	"github.com/ospgroupvn/usage-monitor/internal/ingest"
	"github.com/ospgroupvn/usage-monitor/internal/notifications"
	"github.com/ospgroupvn/usage-monitor/internal/relay"
	"github.com/ospgroupvn/usage-monitor/internal/server"
	"github.com/ospgroupvn/usage-monitor/internal/token"
	"github.com/ospgroupvn/usage-monitor/pkg/cache"
	"github.com/ospgroupvn/usage-monitor/pkg/database"
	"github.com/ospgroupvn/usage-monitor/pkg/events"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting usage monitor")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize the token registry backend
	store, checks, cleanup, err := buildRegistry(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize token registry", zap.Error(err))
	}
	defer cleanup()
	logger.Info("initialized token registry", zap.String("backend", cfg.Registry.Backend))

	// Initialize event bus
	eventBus := events.NewBus(logger)
	logger.Info("initialized event bus")

	// Initialize notifications
	notifier := notifications.NewNotifier(cfg.Notifications, logger)
	notifier.SubscribeAll(eventBus)

	// Initialize token manager
	manager := token.NewManager(token.NewCodec(cfg.Auth.TokenSecretKey), store, eventBus, logger)

	// Initialize observability relay
	langfuseClient := relay.NewClient(cfg.Langfuse, logger)
	usageRelay := relay.NewRelay(langfuseClient, logger)
	logger.Info("initialized observability relay", zap.String("host", cfg.Langfuse.Host))

	// Initialize ingestion service
	ingestService := ingest.NewService(manager, usageRelay, eventBus, logger)

	// Initialize API server
	srv := server.NewServer(cfg.Server, ingestService, manager, cfg.Auth.AdminAPIToken, logger, checks...)
	srv.StartDependencyMetrics(ctx, 30*time.Second)
	logger.Info("initialized API server")

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server",
			zap.String("address", httpServer.Addr),
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}

// buildRegistry constructs the configured token store plus the readiness
// checks and cleanup hook that go with it.
func buildRegistry(ctx context.Context, cfg *config.Config, logger *zap.Logger) (token.Store, []server.HealthCheck, func(), error) {
	noop := func() {}

	switch cfg.Registry.Backend {
	case config.RegistryBackendFile:
		store, err := token.NewFileStore(cfg.Registry.TokensFile)
		if err != nil {
			return nil, nil, noop, err
		}
		return store, nil, noop, nil

	case config.RegistryBackendRedis:
		redisCache, err := cache.NewCache(cfg.Redis)
		if err != nil {
			return nil, nil, noop, err
		}
		logger.Info("connected to Redis")
		checks := []server.HealthCheck{{Name: "redis", Check: redisCache.Health}}
		return token.NewRedisStore(redisCache), checks, func() { redisCache.Close() }, nil

	case config.RegistryBackendPostgres:
		db, err := database.NewDatabase(cfg.Database)
		if err != nil {
			return nil, nil, noop, err
		}
		logger.Info("connected to database")
		store, err := token.NewPostgresStore(ctx, db)
		if err != nil {
			db.Close()
			return nil, nil, noop, err
		}
		checks := []server.HealthCheck{{Name: "database", Check: db.Health}}
		return store, checks, db.Close, nil

	default:
		return nil, nil, noop, fmt.Errorf("unknown registry backend %q", cfg.Registry.Backend)
	}
}
