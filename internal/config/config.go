// Package config loads process configuration from defaults, an optional
// config.yaml and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverMinio    = "minio"
)

// Config holds all configuration for the control plane and the edge router
type Config struct {
	Environment string `mapstructure:"ENVIRONMENT"`
	Port        string `mapstructure:"PORT"`
	EdgePort    string `mapstructure:"EDGE_PORT"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	LogFormat   string `mapstructure:"LOG_FORMAT"`

	// Platform
	PlatformDomain string `mapstructure:"PLATFORM_DOMAIN"`
	CNAMETarget    string `mapstructure:"CNAME_TARGET"`

	// Edge platform API
	CloudflareAPIToken      string `mapstructure:"CLOUDFLARE_API_TOKEN"`
	CloudflareAccountID     string `mapstructure:"CLOUDFLARE_ACCOUNT_ID"`
	CloudflareZoneID        string `mapstructure:"CLOUDFLARE_ZONE_ID"`
	CloudflareAPIBaseURL    string `mapstructure:"CLOUDFLARE_API_BASE_URL"`
	WorkerScriptName        string `mapstructure:"WORKER_SCRIPT_NAME"`
	WorkerScriptPath        string `mapstructure:"WORKER_SCRIPT_PATH"`
	WorkerCompatibilityDate string `mapstructure:"WORKER_COMPATIBILITY_DATE"`

	// Object storage
	ObjectStoreDriver    string `mapstructure:"OBJECT_STORE_DRIVER"`
	ObjectStoreEndpoint  string `mapstructure:"OBJECT_STORE_ENDPOINT"`
	ObjectStoreAccessKey string `mapstructure:"OBJECT_STORE_ACCESS_KEY"`
	ObjectStoreSecretKey string `mapstructure:"OBJECT_STORE_SECRET_KEY"`
	ObjectStoreBucket    string `mapstructure:"OBJECT_STORE_BUCKET"`
	ObjectStoreRegion    string `mapstructure:"OBJECT_STORE_REGION"`
	ObjectStoreUseSSL    bool   `mapstructure:"OBJECT_STORE_USE_SSL"`

	// Registry
	RegistryDriver string `mapstructure:"REGISTRY_DRIVER"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`

	// Redis. An empty address disables the shared cache tier.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// Edge router
	HostCacheTTL         time.Duration `mapstructure:"HOST_CACHE_TTL"`
	HostCacheNegativeTTL time.Duration `mapstructure:"HOST_CACHE_NEGATIVE_TTL"`
	HostCacheSize        int           `mapstructure:"HOST_CACHE_SIZE"`
	ControlPlaneURL      string        `mapstructure:"CONTROL_PLANE_URL"`
	InternalAPIKey       string        `mapstructure:"INTERNAL_API_KEY"`
	EdgeHealthPath       string        `mapstructure:"EDGE_HEALTH_PATH"`
	EdgeRetryMaxAttempts int           `mapstructure:"EDGE_RETRY_MAX_ATTEMPTS"`
	EdgeRetryBaseDelay   time.Duration `mapstructure:"EDGE_RETRY_BASE_DELAY"`
	EdgeRetryMaxDelay    time.Duration `mapstructure:"EDGE_RETRY_MAX_DELAY"`

	// Deployment and outbound calls
	DeployRoot        string        `mapstructure:"DEPLOY_ROOT"`
	DeployConcurrency int           `mapstructure:"DEPLOY_CONCURRENCY"`
	RetryMaxAttempts  int           `mapstructure:"RETRY_MAX_ATTEMPTS"`
	RetryBaseDelay    time.Duration `mapstructure:"RETRY_BASE_DELAY"`
	RetryMaxDelay     time.Duration `mapstructure:"RETRY_MAX_DELAY"`
	RetryJitter       float64       `mapstructure:"RETRY_JITTER"`

	// Domain verification
	DomainPollInterval  time.Duration `mapstructure:"DOMAIN_POLL_INTERVAL"`
	DomainVerifyTimeout time.Duration `mapstructure:"DOMAIN_VERIFY_TIMEOUT"`
}

var keys = []string{
	"ENVIRONMENT", "PORT", "EDGE_PORT", "LOG_LEVEL", "LOG_FORMAT",
	"PLATFORM_DOMAIN", "CNAME_TARGET",
	"CLOUDFLARE_API_TOKEN", "CLOUDFLARE_ACCOUNT_ID", "CLOUDFLARE_ZONE_ID", "CLOUDFLARE_API_BASE_URL",
	"WORKER_SCRIPT_NAME", "WORKER_SCRIPT_PATH", "WORKER_COMPATIBILITY_DATE",
	"OBJECT_STORE_DRIVER", "OBJECT_STORE_ENDPOINT", "OBJECT_STORE_ACCESS_KEY", "OBJECT_STORE_SECRET_KEY",
	"OBJECT_STORE_BUCKET", "OBJECT_STORE_REGION", "OBJECT_STORE_USE_SSL",
	"REGISTRY_DRIVER", "DATABASE_URL",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
	"HOST_CACHE_TTL", "HOST_CACHE_NEGATIVE_TTL", "HOST_CACHE_SIZE",
	"CONTROL_PLANE_URL", "INTERNAL_API_KEY", "EDGE_HEALTH_PATH",
	"EDGE_RETRY_MAX_ATTEMPTS", "EDGE_RETRY_BASE_DELAY", "EDGE_RETRY_MAX_DELAY",
	"DEPLOY_ROOT", "DEPLOY_CONCURRENCY", "RETRY_MAX_ATTEMPTS", "RETRY_BASE_DELAY", "RETRY_MAX_DELAY", "RETRY_JITTER",
	"DOMAIN_POLL_INTERVAL", "DOMAIN_VERIFY_TIMEOUT",
}

// Load reads configuration from config.yaml (if present) and the environment
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	// Unmarshal only sees keys viper knows about, so every key is bound explicitly.
	v.AutomaticEnv()
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	config.PlatformDomain = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(config.PlatformDomain), "."))
	if config.CNAMETarget == "" {
		config.CNAMETarget = config.PlatformDomain
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("PORT", "8080")
	v.SetDefault("EDGE_PORT", "8081")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("CLOUDFLARE_API_BASE_URL", "https://api.cloudflare.com/client/v4")
	v.SetDefault("WORKER_SCRIPT_NAME", "edgesites-router")
	v.SetDefault("WORKER_COMPATIBILITY_DATE", "2024-09-23")

	v.SetDefault("OBJECT_STORE_DRIVER", DriverMemory)
	v.SetDefault("OBJECT_STORE_BUCKET", "tenant-sites")
	v.SetDefault("OBJECT_STORE_REGION", "auto")
	v.SetDefault("OBJECT_STORE_USE_SSL", true)

	v.SetDefault("REGISTRY_DRIVER", DriverMemory)

	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("HOST_CACHE_TTL", 60*time.Second)
	v.SetDefault("HOST_CACHE_NEGATIVE_TTL", 10*time.Second)
	v.SetDefault("HOST_CACHE_SIZE", 10000)
	v.SetDefault("EDGE_HEALTH_PATH", "/__health")
	v.SetDefault("EDGE_RETRY_MAX_ATTEMPTS", 2)
	v.SetDefault("EDGE_RETRY_BASE_DELAY", 20*time.Millisecond)
	v.SetDefault("EDGE_RETRY_MAX_DELAY", 100*time.Millisecond)

	v.SetDefault("DEPLOY_ROOT", "./sites")
	v.SetDefault("DEPLOY_CONCURRENCY", 8)
	v.SetDefault("RETRY_MAX_ATTEMPTS", 3)
	v.SetDefault("RETRY_BASE_DELAY", 500*time.Millisecond)
	v.SetDefault("RETRY_MAX_DELAY", 10*time.Second)
	v.SetDefault("RETRY_JITTER", 0.5)

	v.SetDefault("DOMAIN_POLL_INTERVAL", 30*time.Second)
	v.SetDefault("DOMAIN_VERIFY_TIMEOUT", 72*time.Hour)
}

func validate(config *Config) error {
	var errs []error

	if config.PlatformDomain == "" || !strings.Contains(config.PlatformDomain, ".") {
		errs = append(errs, fmt.Errorf("PLATFORM_DOMAIN must be a domain name, got %q", config.PlatformDomain))
	}

	switch config.RegistryDriver {
	case DriverMemory:
	case DriverPostgres:
		if config.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when REGISTRY_DRIVER is postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown REGISTRY_DRIVER %q", config.RegistryDriver))
	}

	switch config.ObjectStoreDriver {
	case DriverMemory:
	case DriverMinio:
		if config.ObjectStoreEndpoint == "" || config.ObjectStoreAccessKey == "" || config.ObjectStoreSecretKey == "" {
			errs = append(errs, errors.New("OBJECT_STORE_ENDPOINT, OBJECT_STORE_ACCESS_KEY and OBJECT_STORE_SECRET_KEY are required when OBJECT_STORE_DRIVER is minio"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown OBJECT_STORE_DRIVER %q", config.ObjectStoreDriver))
	}
	if config.ObjectStoreBucket == "" {
		errs = append(errs, errors.New("OBJECT_STORE_BUCKET is required"))
	}

	if strings.TrimSpace(config.DeployRoot) == "" {
		errs = append(errs, errors.New("DEPLOY_ROOT is required"))
	}
	if config.DeployConcurrency <= 0 {
		errs = append(errs, errors.New("DEPLOY_CONCURRENCY must be positive"))
	}
	if config.RetryMaxAttempts <= 0 {
		errs = append(errs, errors.New("RETRY_MAX_ATTEMPTS must be positive"))
	}
	if config.EdgeRetryMaxAttempts <= 0 {
		errs = append(errs, errors.New("EDGE_RETRY_MAX_ATTEMPTS must be positive"))
	}
	if config.RetryJitter < 0 || config.RetryJitter > 1 {
		errs = append(errs, errors.New("RETRY_JITTER must be between 0 and 1"))
	}
	if config.HostCacheSize <= 0 {
		errs = append(errs, errors.New("HOST_CACHE_SIZE must be positive"))
	}
	if config.HostCacheTTL <= 0 || config.HostCacheNegativeTTL <= 0 {
		errs = append(errs, errors.New("HOST_CACHE_TTL and HOST_CACHE_NEGATIVE_TTL must be positive"))
	}
	if config.DomainPollInterval <= 0 || config.DomainVerifyTimeout <= 0 {
		errs = append(errs, errors.New("DOMAIN_POLL_INTERVAL and DOMAIN_VERIFY_TIMEOUT must be positive"))
	}
	if !strings.HasPrefix(config.EdgeHealthPath, "/") {
		errs = append(errs, errors.New("EDGE_HEALTH_PATH must start with /"))
	}

	if config.Environment == "production" && config.InternalAPIKey == "" {
		errs = append(errs, errors.New("INTERNAL_API_KEY must be set in production"))
	}

	return errors.Join(errs...)
}

// EdgeAPIConfigured reports whether credentials for the edge platform API are present.
func (c *Config) EdgeAPIConfigured() bool {
	return c.CloudflareAPIToken != "" && c.CloudflareZoneID != ""
}
