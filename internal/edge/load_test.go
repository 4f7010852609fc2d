package edge

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgesites/internal/models"
	"edgesites/internal/objectstore"
)

const loadTenants = 20

func newLoadRouter(tb testing.TB) (*echo.Echo, *fakeResolver) {
	tb.Helper()
	clock := clockwork.NewFakeClock()
	store := objectstore.NewMemoryStore(clock)
	hosts := make(map[string]string, loadTenants)

	for i := 0; i < loadTenants; i++ {
		tenantID := fmt.Sprintf("tenant-site%d", i)
		hosts[fmt.Sprintf("www.site%d.com", i)] = tenantID
		body := fmt.Sprintf("<h1>site %d</h1>", i)
		err := store.Put(context.Background(), tenantID+"/index.html", strings.NewReader(body), int64(len(body)), objectstore.PutOptions{
			ContentType:  models.ContentTypeFor("index.html"),
			CacheControl: models.HTMLCacheControl,
		})
		require.NoError(tb, err)
	}

	resolver := newFakeResolver(hosts)
	cache := NewHostCache(resolver, HostCacheConfig{TTL: time.Minute, NegativeTTL: time.Second}, clock, nil)
	return NewRouter(store, cache, RouterConfig{PlatformDomain: platformDomain}, nil).Echo(), resolver
}

func serve(e *echo.Echo, host, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Host = host
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

// Many clients hitting many custom domains at once resolve each host once and
// never see another tenant's content.
func TestRouter_ConcurrentClients(t *testing.T) {
	e, resolver := newLoadRouter(t)

	const clients = 100
	const requestsPerClient = 10

	var (
		wg       sync.WaitGroup
		failures atomic.Int64
		crossed  atomic.Int64
	)
	for c := 0; c < clients; c++ {
		wg.Add(1)
		go func(client int) {
			defer wg.Done()
			for r := 0; r < requestsPerClient; r++ {
				site := (client + r) % loadTenants
				var rec *httptest.ResponseRecorder
				if r%2 == 0 {
					rec = serve(e, fmt.Sprintf("www.site%d.com", site), "/")
				} else {
					rec = serve(e, fmt.Sprintf("tenant-site%d.%s", site, platformDomain), "/pricing")
				}
				if rec.Code != http.StatusOK {
					failures.Add(1)
					continue
				}
				if rec.Body.String() != fmt.Sprintf("<h1>site %d</h1>", site) {
					crossed.Add(1)
				}
			}
		}(c)
	}
	wg.Wait()

	assert.Zero(t, failures.Load())
	assert.Zero(t, crossed.Load())
	assert.Equal(t, loadTenants, resolver.callCount())
}

func BenchmarkRouter_CustomDomain(b *testing.B) {
	e, _ := newLoadRouter(b)
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			serve(e, fmt.Sprintf("www.site%d.com", i%loadTenants), "/")
			i++
		}
	})
}

func BenchmarkHostCache_Lookup(b *testing.B) {
	resolver := newFakeResolver(map[string]string{"www.acme.com": "tenant-acme"})
	cache := NewHostCache(resolver, HostCacheConfig{}, clockwork.NewFakeClock(), nil)
	ctx := context.Background()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _, _ = cache.Lookup(ctx, "www.acme.com")
		}
	})
}
