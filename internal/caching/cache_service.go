// Package caching holds the redis tier shared by edge router instances for
// custom domain lookups.
package caching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "edgesites"

// HostEntry is a cached host lookup. An empty TenantID records a known miss.
type HostEntry struct {
	TenantID string    `json:"tenant_id,omitempty"`
	CachedAt time.Time `json:"cached_at"`
}

func (e HostEntry) Found() bool { return e.TenantID != "" }

type CacheService interface {
	// GetHost returns nil, nil on a cache miss.
	GetHost(ctx context.Context, host string) (*HostEntry, error)
	SetHost(ctx context.Context, host string, entry HostEntry, ttl time.Duration) error
	DeleteHost(ctx context.Context, host string) error
	// InvalidateTenantCache drops every host cached for tenantID.
	InvalidateTenantCache(ctx context.Context, tenantID string) error
	InvalidateAllCache(ctx context.Context) error
	Ping(ctx context.Context) error
}

type redisCacheService struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisClient accepts either host:port or a redis:// / rediss:// address.
func NewRedisClient(addr, password string, db int, logger *zap.Logger) *redis.Client {
	parsedAddr := addr
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		if hostPort := strings.TrimPrefix(strings.TrimPrefix(addr, "redis://"), "rediss://"); hostPort != addr {
			parsedAddr = hostPort
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     parsedAddr,
		Password: password,
		DB:       db,
	})

	if pingErr := client.Ping(context.Background()).Err(); pingErr != nil {
		logger.Warn("redis ping failed on initialization", zap.String("address", parsedAddr), zap.Error(pingErr))
	} else {
		logger.Debug("redis connection established", zap.String("address", parsedAddr))
	}
	return client
}

func NewRedisCacheService(client *redis.Client, logger *zap.Logger) CacheService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &redisCacheService{client: client, logger: logger}
}

func hostKey(host string) string {
	return fmt.Sprintf("%s:host:%s", keyPrefix, host)
}

func tenantHostsKey(tenantID string) string {
	return fmt.Sprintf("%s:tenant-hosts:%s", keyPrefix, tenantID)
}

func (r *redisCacheService) GetHost(ctx context.Context, host string) (*HostEntry, error) {
	data, err := r.client.Get(ctx, hostKey(host)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // cache miss
		}
		return nil, err
	}

	var entry HostEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *redisCacheService) SetHost(ctx context.Context, host string, entry HostEntry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, hostKey(host), data, ttl)
	if entry.Found() {
		// reverse index so a tenant's hosts can be dropped without KEYS
		pipe.SAdd(ctx, tenantHostsKey(entry.TenantID), host)
		pipe.Expire(ctx, tenantHostsKey(entry.TenantID), ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (r *redisCacheService) DeleteHost(ctx context.Context, host string) error {
	return r.client.Del(ctx, hostKey(host)).Err()
}

func (r *redisCacheService) InvalidateTenantCache(ctx context.Context, tenantID string) error {
	hosts, err := r.client.SMembers(ctx, tenantHostsKey(tenantID)).Result()
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(hosts)+1)
	for _, h := range hosts {
		keys = append(keys, hostKey(h))
	}
	keys = append(keys, tenantHostsKey(tenantID))
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return err
	}
	r.logger.Debug("tenant host cache invalidated", zap.String("tenant_id", tenantID), zap.Int("hosts", len(hosts)))
	return nil
}

func (r *redisCacheService) InvalidateAllCache(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, keyPrefix+":*", 500).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (r *redisCacheService) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
