package config

import (
	"go.uber.org/zap"

	"edgesites/internal/edgeapi"
	"edgesites/internal/objectstore"
	"edgesites/internal/retry"
)

// RetryPolicy is the policy every outbound call is wrapped in.
func (c *Config) RetryPolicy(logger *zap.Logger) retry.Policy {
	return retry.Policy{
		MaxAttempts: c.RetryMaxAttempts,
		BaseDelay:   c.RetryBaseDelay,
		MaxDelay:    c.RetryMaxDelay,
		Jitter:      c.RetryJitter,
		Logger:      logger,
	}
}

// EdgeRetryPolicy wraps calls on the edge request path, where a retry must
// stay within the routing latency budget.
func (c *Config) EdgeRetryPolicy(logger *zap.Logger) retry.Policy {
	return retry.Policy{
		MaxAttempts: c.EdgeRetryMaxAttempts,
		BaseDelay:   c.EdgeRetryBaseDelay,
		MaxDelay:    c.EdgeRetryMaxDelay,
		Jitter:      c.RetryJitter,
		Logger:      logger,
	}
}

func (c *Config) EdgeAPIConfig() edgeapi.Config {
	return edgeapi.Config{
		BaseURL:    c.CloudflareAPIBaseURL,
		APIToken:   c.CloudflareAPIToken,
		AccountID:  c.CloudflareAccountID,
		ZoneID:     c.CloudflareZoneID,
		ScriptName: c.WorkerScriptName,
	}
}

func (c *Config) MinioConfig() objectstore.MinioConfig {
	return objectstore.MinioConfig{
		Endpoint:  c.ObjectStoreEndpoint,
		AccessKey: c.ObjectStoreAccessKey,
		SecretKey: c.ObjectStoreSecretKey,
		Bucket:    c.ObjectStoreBucket,
		Region:    c.ObjectStoreRegion,
		UseSSL:    c.ObjectStoreUseSSL,
	}
}
