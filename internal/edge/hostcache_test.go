package edge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	mu    sync.Mutex
	hosts map[string]string
	err   error
	calls int
}

func newFakeResolver(hosts map[string]string) *fakeResolver {
	return &fakeResolver{hosts: hosts}
}

func (f *fakeResolver) ResolveHost(ctx context.Context, host string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", false, f.err
	}
	tenantID, ok := f.hosts[host]
	return tenantID, ok, nil
}

func (f *fakeResolver) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeResolver) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestHostCache_CachesUntilTTL(t *testing.T) {
	clock := clockwork.NewFakeClock()
	resolver := newFakeResolver(map[string]string{"www.acme.com": "tenant-acme"})
	cache := NewHostCache(resolver, HostCacheConfig{TTL: time.Minute, NegativeTTL: 5 * time.Second}, clock, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		tenantID, found, err := cache.Lookup(ctx, "www.acme.com")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "tenant-acme", tenantID)
	}
	assert.Equal(t, 1, resolver.callCount())

	clock.Advance(61 * time.Second)
	_, _, err := cache.Lookup(ctx, "www.acme.com")
	require.NoError(t, err)
	assert.Equal(t, 2, resolver.callCount())
}

func TestHostCache_NegativeEntriesExpireSooner(t *testing.T) {
	clock := clockwork.NewFakeClock()
	resolver := newFakeResolver(map[string]string{})
	cache := NewHostCache(resolver, HostCacheConfig{TTL: time.Minute, NegativeTTL: 5 * time.Second}, clock, nil)
	ctx := context.Background()

	_, found, err := cache.Lookup(ctx, "unknown.example.org")
	require.NoError(t, err)
	assert.False(t, found)
	_, _, _ = cache.Lookup(ctx, "unknown.example.org")
	assert.Equal(t, 1, resolver.callCount())

	clock.Advance(6 * time.Second)
	_, _, _ = cache.Lookup(ctx, "unknown.example.org")
	assert.Equal(t, 2, resolver.callCount())
}

func TestHostCache_ServesStaleOnResolverError(t *testing.T) {
	clock := clockwork.NewFakeClock()
	resolver := newFakeResolver(map[string]string{"www.acme.com": "tenant-acme"})
	cache := NewHostCache(resolver, HostCacheConfig{TTL: time.Minute}, clock, nil)
	ctx := context.Background()

	_, _, err := cache.Lookup(ctx, "www.acme.com")
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	resolver.setErr(errors.New("control plane down"))

	tenantID, found, err := cache.Lookup(ctx, "www.acme.com")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "tenant-acme", tenantID)

	_, _, err = cache.Lookup(ctx, "never-seen.example.org")
	assert.Error(t, err)
}

func TestHostCache_Bounded(t *testing.T) {
	clock := clockwork.NewFakeClock()
	resolver := newFakeResolver(map[string]string{
		"a.example.com": "tenant-a",
		"b.example.com": "tenant-b",
		"c.example.com": "tenant-c",
	})
	cache := NewHostCache(resolver, HostCacheConfig{TTL: time.Minute, MaxEntries: 2}, clock, nil)
	ctx := context.Background()

	for _, h := range []string{"a.example.com", "b.example.com", "c.example.com"} {
		_, _, err := cache.Lookup(ctx, h)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, cache.Len())

	// the newest entry always survives eviction
	calls := resolver.callCount()
	tenantID, found, err := cache.Lookup(ctx, "c.example.com")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "tenant-c", tenantID)
	assert.Equal(t, calls, resolver.callCount())
}

func TestHostCache_EvictsExpiredFirst(t *testing.T) {
	clock := clockwork.NewFakeClock()
	resolver := newFakeResolver(map[string]string{"a.example.com": "tenant-a", "b.example.com": "tenant-b"})
	cache := NewHostCache(resolver, HostCacheConfig{TTL: time.Minute, NegativeTTL: time.Second, MaxEntries: 2}, clock, nil)
	ctx := context.Background()

	_, _, _ = cache.Lookup(ctx, "a.example.com")
	_, _, _ = cache.Lookup(ctx, "gone.example.com")
	clock.Advance(2 * time.Second)
	_, _, _ = cache.Lookup(ctx, "b.example.com")

	assert.Equal(t, 2, cache.Len())
	calls := resolver.callCount()
	_, _, _ = cache.Lookup(ctx, "a.example.com")
	_, _, _ = cache.Lookup(ctx, "b.example.com")
	assert.Equal(t, calls, resolver.callCount())
}

type gatedResolver struct {
	calls   atomic.Int32
	release chan struct{}
}

func (g *gatedResolver) ResolveHost(ctx context.Context, host string) (string, bool, error) {
	g.calls.Add(1)
	select {
	case <-g.release:
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
	return "tenant-acme", true, nil
}

func TestHostCache_CoalescesConcurrentMisses(t *testing.T) {
	resolver := &gatedResolver{release: make(chan struct{})}
	cache := NewHostCache(resolver, HostCacheConfig{TTL: time.Minute}, clockwork.NewFakeClock(), nil)

	var wg sync.WaitGroup
	results := make(chan string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tenantID, _, err := cache.Lookup(context.Background(), "www.acme.com")
			if err == nil {
				results <- tenantID
			}
		}()
	}

	require.Eventually(t, func() bool { return resolver.calls.Load() == 1 }, time.Second, time.Millisecond)
	close(resolver.release)
	wg.Wait()
	close(results)

	assert.Equal(t, int32(1), resolver.calls.Load())
	count := 0
	for tenantID := range results {
		assert.Equal(t, "tenant-acme", tenantID)
		count++
	}
	assert.Equal(t, 10, count)
}

func TestHostCache_Invalidate(t *testing.T) {
	resolver := newFakeResolver(map[string]string{"www.acme.com": "tenant-acme"})
	cache := NewHostCache(resolver, HostCacheConfig{}, clockwork.NewFakeClock(), nil)
	ctx := context.Background()

	_, _, _ = cache.Lookup(ctx, "www.acme.com")
	cache.Invalidate("www.acme.com")
	assert.Equal(t, 0, cache.Len())
	_, _, _ = cache.Lookup(ctx, "www.acme.com")
	assert.Equal(t, 2, resolver.callCount())
}

func TestHostCache_FirstCallerCancellationDoesNotFailWaiters(t *testing.T) {
	resolver := &gatedResolver{release: make(chan struct{})}
	cache := NewHostCache(resolver, HostCacheConfig{TTL: time.Minute}, clockwork.NewFakeClock(), nil)

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := cache.Lookup(firstCtx, "www.acme.com")
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return resolver.calls.Load() == 1 }, time.Second, time.Millisecond)

	type lookup struct {
		tenantID string
		err      error
	}
	waiter := make(chan lookup, 1)
	go func() {
		tenantID, _, err := cache.Lookup(context.Background(), "www.acme.com")
		waiter <- lookup{tenantID, err}
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(resolver.release)
	got := <-waiter
	require.NoError(t, got.err)
	assert.Equal(t, "tenant-acme", got.tenantID)
	assert.Equal(t, int32(1), resolver.calls.Load())
}

func TestHostCache_ResolveTimeoutBoundsSharedCall(t *testing.T) {
	resolver := &gatedResolver{release: make(chan struct{})}
	cache := NewHostCache(resolver, HostCacheConfig{ResolveTimeout: 20 * time.Millisecond}, clockwork.NewFakeClock(), nil)

	_, _, err := cache.Lookup(context.Background(), "www.acme.com")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
