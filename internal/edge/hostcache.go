package edge

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultHostCacheTTL         = 60 * time.Second
	DefaultHostCacheNegativeTTL = 10 * time.Second
	DefaultHostCacheSize        = 10000
	DefaultHostResolveTimeout   = 2 * time.Second
)

type HostCacheConfig struct {
	TTL         time.Duration
	NegativeTTL time.Duration
	MaxEntries  int
	// ResolveTimeout bounds one shared resolver call. The call outlives the
	// request that started it so coalesced waiters are not failed by its cancellation.
	ResolveTimeout time.Duration
}

type hostEntry struct {
	tenantID string
	found    bool
	expires  time.Time
}

// HostCache is a read-through, size bounded TTL cache in front of a Resolver.
// Concurrent misses for one host share a single resolver call. When the
// resolver fails, an expired entry is served instead of the error.
type HostCache struct {
	resolver Resolver
	cfg      HostCacheConfig
	clock    clockwork.Clock
	logger   *zap.Logger

	entries sync.Map // host -> *hostEntry
	size    atomic.Int64
	group   singleflight.Group
}

func NewHostCache(resolver Resolver, cfg HostCacheConfig, clock clockwork.Clock, logger *zap.Logger) *HostCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultHostCacheTTL
	}
	if cfg.NegativeTTL <= 0 {
		cfg.NegativeTTL = DefaultHostCacheNegativeTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultHostCacheSize
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = DefaultHostResolveTimeout
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HostCache{resolver: resolver, cfg: cfg, clock: clock, logger: logger}
}

// Lookup returns the tenant for host, resolving and caching on a miss.
func (c *HostCache) Lookup(ctx context.Context, host string) (string, bool, error) {
	if e, ok := c.fresh(host); ok {
		return e.tenantID, e.found, nil
	}

	ch := c.group.DoChan(host, func() (any, error) {
		// a flight that finished since the check above has already filled the entry
		if e, ok := c.fresh(host); ok {
			return e, nil
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ResolveTimeout)
		defer cancel()
		tenantID, found, err := c.resolver.ResolveHost(rctx, host)
		if err != nil {
			return nil, err
		}
		ttl := c.cfg.TTL
		if !found {
			ttl = c.cfg.NegativeTTL
		}
		e := &hostEntry{tenantID: tenantID, found: found, expires: c.clock.Now().Add(ttl)}
		c.store(host, e)
		return e, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
	if res.Err != nil {
		if stale, ok := c.entries.Load(host); ok {
			e := stale.(*hostEntry)
			c.logger.Warn("serving stale host mapping", zap.String("host", host), zap.Error(res.Err))
			return e.tenantID, e.found, nil
		}
		return "", false, res.Err
	}
	e := res.Val.(*hostEntry)
	return e.tenantID, e.found, nil
}

func (c *HostCache) fresh(host string) (*hostEntry, bool) {
	v, ok := c.entries.Load(host)
	if !ok {
		return nil, false
	}
	e := v.(*hostEntry)
	return e, c.clock.Now().Before(e.expires)
}

func (c *HostCache) store(host string, e *hostEntry) {
	if _, loaded := c.entries.Swap(host, e); loaded {
		return
	}
	if c.size.Add(1) > int64(c.cfg.MaxEntries) {
		c.evict(host)
	}
}

// evict drops expired entries, then arbitrary ones, until the cache is back
// under its bound. keep is never evicted.
func (c *HostCache) evict(keep string) {
	now := c.clock.Now()
	c.entries.Range(func(k, v any) bool {
		if k.(string) != keep && !now.Before(v.(*hostEntry).expires) {
			if c.entries.CompareAndDelete(k, v) {
				c.size.Add(-1)
			}
		}
		return true
	})
	c.entries.Range(func(k, v any) bool {
		if c.size.Load() <= int64(c.cfg.MaxEntries) {
			return false
		}
		if k.(string) != keep && c.entries.CompareAndDelete(k, v) {
			c.size.Add(-1)
		}
		return true
	})
}

// Invalidate forgets host so the next lookup goes to the resolver.
func (c *HostCache) Invalidate(host string) {
	if _, loaded := c.entries.LoadAndDelete(host); loaded {
		c.size.Add(-1)
	}
}

func (c *HostCache) Len() int {
	return int(c.size.Load())
}
