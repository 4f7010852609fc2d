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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"edgesites/internal/caching"
	"edgesites/internal/config"
	"edgesites/internal/deploy"
	"edgesites/internal/domains"
	"edgesites/internal/edgeapi"
	"edgesites/internal/handlers"
	"edgesites/internal/jobs"
	"edgesites/internal/logger"
	"edgesites/internal/objectstore"
	"edgesites/internal/platform"
	"edgesites/internal/registry"
	"edgesites/pkg/database"
)

const (
	version         = "1.0.0"
	shutdownTimeout = 15 * time.Second
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zlog, err := logger.New(cfg.LogLevel, cfg.LogFormat, "edgesites-api")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, zlog); err != nil {
		zlog.Fatal("server exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, zlog *zap.Logger) error {
	clock := clockwork.NewRealClock()
	policy := cfg.RetryPolicy(zlog)

	reg, pool, err := openRegistry(ctx, cfg, clock, zlog)
	if err != nil {
		return err
	}
	defer database.ClosePool(pool, zlog)

	store, err := openStore(ctx, cfg, clock, zlog)
	if err != nil {
		return err
	}

	var cache caching.CacheService
	if cfg.RedisAddr != "" {
		client := caching.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, zlog)
		defer func() { _ = client.Close() }()
		cache = caching.NewRedisCacheService(client, zlog)
	}

	if !cfg.EdgeAPIConfigured() {
		zlog.Warn("edge platform credentials missing; custom domain calls will fail")
	}
	edge := edgeapi.NewClient(cfg.EdgeAPIConfig(), policy, zlog)

	engine := deploy.NewEngine(store, cfg.DeployConcurrency, clock, zlog)
	domainManager := domains.NewManager(reg, edge, domains.Config{
		PlatformDomain: cfg.PlatformDomain,
		CNAMETarget:    cfg.CNAMETarget,
	}, clock, zlog)

	service := platform.NewService(reg, engine, domainManager, cache, platform.Config{
		PlatformDomain: cfg.PlatformDomain,
		DeployRoot:     cfg.DeployRoot,
	}, clock, zlog)

	if cfg.WorkerScriptPath != "" {
		err := platform.InstallWorker(ctx, edge, platform.WorkerConfig{
			ScriptPath:        cfg.WorkerScriptPath,
			CompatibilityDate: cfg.WorkerCompatibilityDate,
			PlatformDomain:    cfg.PlatformDomain,
			Bucket:            cfg.ObjectStoreBucket,
			ControlPlaneURL:   cfg.ControlPlaneURL,
		}, zlog)
		if err != nil {
			zlog.Error("failed to install edge worker", zap.Error(err))
		}
	}

	scheduler, err := jobs.NewJobScheduler(clock, zlog)
	if err != nil {
		return err
	}
	var hosts jobs.HostForgetter
	if cache != nil {
		hosts = cache
	}
	verifier := jobs.NewDomainVerifier(reg, domainManager, hosts, jobs.VerifierConfig{
		Timeout: cfg.DomainVerifyTimeout,
	}, clock, zlog)
	if err := scheduler.ScheduleDomainVerification(verifier, cfg.DomainPollInterval); err != nil {
		return err
	}
	scheduler.Start()
	defer func() {
		if err := scheduler.Stop(); err != nil {
			zlog.Warn("scheduler shutdown failed", zap.Error(err))
		}
	}()

	health := handlers.NewHealthHandlers(reg, cache, store, version)
	e := handlers.NewServer(service, health, handlers.ServerConfig{InternalAPIKey: cfg.InternalAPIKey}, zlog)

	errCh := make(chan error, 1)
	go func() {
		zlog.Info("edgesites api starting",
			zap.String("version", version),
			zap.String("port", cfg.Port),
			zap.String("registry", cfg.RegistryDriver),
			zap.String("object_store", cfg.ObjectStoreDriver),
		)
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

func openRegistry(ctx context.Context, cfg *config.Config, clock clockwork.Clock, zlog *zap.Logger) (registry.Registry, *pgxpool.Pool, error) {
	if cfg.RegistryDriver != config.DriverPostgres {
		zlog.Warn("using in-memory registry; tenants are lost on restart")
		return registry.NewMemoryRegistry(clock), nil, nil
	}
	pool, err := database.NewPool(ctx, cfg.DatabaseURL, zlog)
	if err != nil {
		return nil, nil, err
	}
	reg := registry.NewPostgresRegistry(pool)
	if err := reg.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return reg, pool, nil
}

func openStore(ctx context.Context, cfg *config.Config, clock clockwork.Clock, zlog *zap.Logger) (objectstore.Store, error) {
	if cfg.ObjectStoreDriver != config.DriverMinio {
		zlog.Warn("using in-memory object store; deployments are lost on restart")
		return objectstore.NewMemoryStore(clock), nil
	}
	minioStore, err := objectstore.NewMinioStore(cfg.MinioConfig())
	if err != nil {
		return nil, err
	}
	store := objectstore.WithRetry(minioStore, cfg.RetryPolicy(zlog))
	if err := store.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return store, nil
}
