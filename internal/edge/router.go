package edge

import (
	"context"
	"errors"
	"net"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	apperrors "edgesites/internal/errors"
	"edgesites/internal/middleware"
	"edgesites/internal/models"
	"edgesites/internal/objectstore"
)

const DefaultHealthPath = "/__health"

// TenantLookup resolves custom domains. HostCache implements it.
type TenantLookup interface {
	Lookup(ctx context.Context, host string) (tenantID string, found bool, err error)
}

type RouterConfig struct {
	PlatformDomain string
	HealthPath     string
}

type Router struct {
	store  objectstore.Store
	hosts  TenantLookup
	cfg    RouterConfig
	logger *zap.Logger
}

func NewRouter(store objectstore.Store, hosts TenantLookup, cfg RouterConfig, logger *zap.Logger) *Router {
	if cfg.HealthPath == "" {
		cfg.HealthPath = DefaultHealthPath
	}
	cfg.PlatformDomain = strings.ToLower(strings.TrimSuffix(cfg.PlatformDomain, "."))
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{store: store, hosts: hosts, cfg: cfg, logger: logger}
}

// Echo builds the server handling every host.
func (r *Router) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echoMiddleware.Recover())
	e.Use(middleware.RequestLogger(r.logger))
	e.Use(echoMiddleware.CORSWithConfig(echoMiddleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
	}))

	e.Match([]string{http.MethodGet, http.MethodHead}, r.cfg.HealthPath, r.health)
	e.Any("/*", r.serve)
	return e
}

func (r *Router) health(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func normalizeHost(hostport string) string {
	host := strings.TrimSpace(hostport)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	return strings.TrimSuffix(strings.ToLower(host), ".")
}

// tenantFor maps a normalized host to a tenant. Platform subdomains are
// decided locally; every other host goes through the cache.
func (r *Router) tenantFor(ctx context.Context, host string) (string, bool, error) {
	if host == "" || host == r.cfg.PlatformDomain {
		return "", false, nil
	}
	if r.cfg.PlatformDomain != "" && strings.HasSuffix(host, "."+r.cfg.PlatformDomain) {
		label := strings.TrimSuffix(host, "."+r.cfg.PlatformDomain)
		if _, ok := models.SlugFromTenantID(label); ok {
			return label, true, nil
		}
		return "", false, nil
	}
	return r.hosts.Lookup(ctx, host)
}

// objectKeyFor cleans the request path under the tenant prefix. Paths without
// an extension are client side routes and get the root document.
func objectKeyFor(tenantID, reqPath string) string {
	clean := strings.TrimPrefix(path.Clean("/"+reqPath), "/")
	if clean == "" || path.Ext(clean) == "" {
		clean = models.IndexDocument
	}
	return models.ObjectKey(tenantID, "", clean)
}

func quoteETag(etag string) string {
	if strings.HasPrefix(etag, `"`) || strings.HasPrefix(etag, `W/"`) {
		return etag
	}
	return `"` + etag + `"`
}

func etagMatches(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == strings.TrimPrefix(etag, "W/") {
			return true
		}
	}
	return false
}

func (r *Router) serve(c echo.Context) error {
	req := c.Request()
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		c.Response().Header().Set(echo.HeaderAllow, "GET, HEAD, OPTIONS")
		return c.String(http.StatusMethodNotAllowed, "Method Not Allowed")
	}

	ctx := req.Context()
	host := normalizeHost(req.Host)
	tenantID, found, err := r.tenantFor(ctx, host)
	if err != nil {
		r.logger.Error("host resolution failed", zap.String("host", host), zap.Error(err))
		return c.String(http.StatusBadGateway, "Bad Gateway")
	}
	if !found {
		return c.String(http.StatusNotFound, "Not Found")
	}

	key := objectKeyFor(tenantID, req.URL.Path)
	if objectstore.ValidateKey(key) != nil {
		return c.String(http.StatusNotFound, "Not Found")
	}

	obj, err := r.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, apperrors.ErrObjectNotFound) {
			return c.String(http.StatusNotFound, "Not Found")
		}
		r.logger.Error("object fetch failed", zap.String("tenant_id", tenantID), zap.String("key", key), zap.Error(err))
		return c.String(http.StatusBadGateway, "Bad Gateway")
	}
	defer obj.Body.Close()

	contentType := obj.ContentType
	if contentType == "" {
		contentType = models.ContentTypeFor(key)
	}
	cacheControl := obj.CacheControl
	if cacheControl == "" {
		cacheControl = models.CacheControlFor(key)
	}

	h := c.Response().Header()
	h.Set(echo.HeaderContentType, contentType)
	h.Set("Cache-Control", cacheControl)
	h.Set(echo.HeaderAccessControlAllowOrigin, "*")
	if obj.ETag != "" {
		etag := quoteETag(obj.ETag)
		h.Set("ETag", etag)
		if inm := req.Header.Get("If-None-Match"); inm != "" && etagMatches(inm, etag) {
			return c.NoContent(http.StatusNotModified)
		}
	}
	h.Set(echo.HeaderContentLength, strconv.FormatInt(obj.Size, 10))

	if req.Method == http.MethodHead {
		return c.NoContent(http.StatusOK)
	}
	return c.Stream(http.StatusOK, contentType, obj.Body)
}
