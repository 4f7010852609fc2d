package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"edgesites/internal/caching"
	"edgesites/internal/config"
	"edgesites/internal/edge"
	"edgesites/internal/logger"
	"edgesites/internal/objectstore"
	"edgesites/internal/registry"
	"edgesites/pkg/database"
)

const (
	shutdownTimeout = 10 * time.Second
	resolveTimeout  = 2 * time.Second
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zlog, err := logger.New(cfg.LogLevel, cfg.LogFormat, "edgesites-edge")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, zlog); err != nil {
		zlog.Fatal("edge router exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, zlog *zap.Logger) error {
	clock := clockwork.NewRealClock()
	policy := cfg.EdgeRetryPolicy(zlog)

	var resolver edge.Resolver
	switch {
	case cfg.ControlPlaneURL != "":
		resolver = edge.NewControlPlaneResolver(cfg.ControlPlaneURL, cfg.InternalAPIKey, resolveTimeout, policy, zlog)
	case cfg.RegistryDriver == config.DriverPostgres:
		pool, err := database.NewPool(ctx, cfg.DatabaseURL, zlog)
		if err != nil {
			return err
		}
		defer database.ClosePool(pool, zlog)
		resolver = edge.NewRegistryResolver(registry.NewPostgresRegistry(pool))
	default:
		zlog.Warn("no control plane or database configured; custom domains will not resolve")
		resolver = edge.NewRegistryResolver(registry.NewMemoryRegistry(clock))
	}

	if cfg.RedisAddr != "" {
		client := caching.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, zlog)
		defer func() { _ = client.Close() }()
		resolver = edge.NewRedisTier(caching.NewRedisCacheService(client, zlog), resolver, cfg.HostCacheTTL, cfg.HostCacheNegativeTTL, zlog)
	}

	hosts := edge.NewHostCache(resolver, edge.HostCacheConfig{
		TTL:            cfg.HostCacheTTL,
		NegativeTTL:    cfg.HostCacheNegativeTTL,
		MaxEntries:     cfg.HostCacheSize,
		ResolveTimeout: resolveTimeout,
	}, clock, zlog)

	var store objectstore.Store
	if cfg.ObjectStoreDriver == config.DriverMinio {
		minioStore, err := objectstore.NewMinioStore(cfg.MinioConfig())
		if err != nil {
			return err
		}
		store = objectstore.WithRetry(minioStore, policy)
	} else {
		zlog.Warn("using in-memory object store; every tenant site is empty")
		store = objectstore.NewMemoryStore(clock)
	}

	router := edge.NewRouter(store, hosts, edge.RouterConfig{
		PlatformDomain: cfg.PlatformDomain,
		HealthPath:     cfg.EdgeHealthPath,
	}, zlog)
	e := router.Echo()

	errCh := make(chan error, 1)
	go func() {
		zlog.Info("edge router starting",
			zap.String("port", cfg.EdgePort),
			zap.String("platform_domain", cfg.PlatformDomain),
			zap.Int("host_cache_size", cfg.HostCacheSize),
		)
		if err := e.Start(":" + cfg.EdgePort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zlog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
