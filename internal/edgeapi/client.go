// Package edgeapi is a small client for the Cloudflare v4 API surface used to
// register tenant custom hostnames and worker routes.
package edgeapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	apperrors "edgesites/internal/errors"
	"edgesites/internal/retry"
)

const DefaultBaseURL = "https://api.cloudflare.com/client/v4"

type Config struct {
	BaseURL   string
	APIToken  string
	AccountID string
	ZoneID    string
	// ScriptName is the worker that serves tenant traffic; new routes point at it.
	ScriptName string
	Timeout    time.Duration
}

type Client struct {
	http   *resty.Client
	cfg    Config
	policy retry.Policy
	logger *zap.Logger
}

func NewClient(cfg Config, policy retry.Policy, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// retries come from the policy, never from resty
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetAuthToken(cfg.APIToken).
		SetHeader("Accept", "application/json")

	return &Client{http: httpClient, cfg: cfg, policy: policy, logger: logger}
}

// call performs one API request with retries. build is invoked once per attempt
// so request bodies (multipart readers in particular) are fresh every time.
func (c *Client) call(ctx context.Context, op, method, path string, build func(*resty.Request), out any) error {
	return c.policy.Do(ctx, "edgeapi."+op, func(ctx context.Context) error {
		var env envelope
		req := c.http.R().
			SetContext(ctx).
			SetResult(&env).
			SetError(&env)
		if build != nil {
			build(req)
		}

		resp, err := req.Execute(method, path)
		if err != nil {
			return &apperrors.EdgePlatformError{Op: op, Err: err}
		}

		if resp.IsError() || !env.Success {
			edgeErr := &apperrors.EdgePlatformError{Op: op, StatusCode: resp.StatusCode()}
			for _, m := range env.Errors {
				edgeErr.Codes = append(edgeErr.Codes, m.Code)
				edgeErr.Messages = append(edgeErr.Messages, m.Message)
			}
			c.logger.Warn("edge platform request failed",
				zap.String("operation", op),
				zap.Int("status_code", resp.StatusCode()),
				zap.Strings("messages", edgeErr.Messages),
			)
			return edgeErr
		}

		if out != nil && len(env.Result) > 0 {
			if err := json.Unmarshal(env.Result, out); err != nil {
				return fmt.Errorf("decode %s result: %w", op, err)
			}
		}
		return nil
	})
}

func (c *Client) zonePath(suffix string) string {
	return "/zones/" + url.PathEscape(c.cfg.ZoneID) + suffix
}

// CreateCustomHostname registers hostname in the zone with a DV certificate
// validated by sslMethod (http, txt or cname).
func (c *Client) CreateCustomHostname(ctx context.Context, hostname, sslMethod string) (*CustomHostname, error) {
	body := createHostnameRequest{
		Hostname: hostname,
		SSL: sslRequest{
			Method: sslMethod,
			Type:   "dv",
			Settings: SSLSettings{
				HTTP2:         "on",
				MinTLSVersion: "1.2",
				TLS13:         "on",
			},
		},
	}

	var out CustomHostname
	err := c.call(ctx, "create-custom-hostname", http.MethodPost, c.zonePath("/custom_hostnames"),
		func(r *resty.Request) { r.SetBody(body) }, &out)
	if err != nil {
		return nil, err
	}

	c.logger.Info("custom hostname created",
		zap.String("domain", hostname),
		zap.String("hostname_id", out.ID),
		zap.String("status", out.Status),
	)
	return &out, nil
}

func (c *Client) GetCustomHostname(ctx context.Context, id string) (*CustomHostname, error) {
	var out CustomHostname
	err := c.call(ctx, "get-custom-hostname", http.MethodGet, c.zonePath("/custom_hostnames/"+url.PathEscape(id)), nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// FindCustomHostname looks a hostname up by name. It returns nil, nil when
// the zone has no such hostname.
func (c *Client) FindCustomHostname(ctx context.Context, hostname string) (*CustomHostname, error) {
	var out []CustomHostname
	err := c.call(ctx, "find-custom-hostname", http.MethodGet, c.zonePath("/custom_hostnames"),
		func(r *resty.Request) { r.SetQueryParam("hostname", hostname) }, &out)
	if err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Hostname == hostname {
			return &out[i], nil
		}
	}
	return nil, nil
}

func (c *Client) DeleteCustomHostname(ctx context.Context, id string) error {
	err := c.call(ctx, "delete-custom-hostname", http.MethodDelete, c.zonePath("/custom_hostnames/"+url.PathEscape(id)), nil, nil)
	if IsNotFound(err) {
		return nil
	}
	return err
}

func (c *Client) ListRoutes(ctx context.Context) ([]Route, error) {
	var out []Route
	if err := c.call(ctx, "list-routes", http.MethodGet, c.zonePath("/workers/routes"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateRoute(ctx context.Context, pattern string) (*Route, error) {
	body := Route{Pattern: pattern, Script: c.cfg.ScriptName}
	var out Route
	err := c.call(ctx, "create-route", http.MethodPost, c.zonePath("/workers/routes"),
		func(r *resty.Request) { r.SetBody(body) }, &out)
	if err != nil {
		return nil, err
	}
	if out.Pattern == "" {
		out.Pattern = pattern
		out.Script = c.cfg.ScriptName
	}
	return &out, nil
}

func (c *Client) DeleteRoute(ctx context.Context, id string) error {
	err := c.call(ctx, "delete-route", http.MethodDelete, c.zonePath("/workers/routes/"+url.PathEscape(id)), nil, nil)
	if IsNotFound(err) {
		return nil
	}
	return err
}

// EnsureRoute creates the route for pattern unless one already exists.
func (c *Client) EnsureRoute(ctx context.Context, pattern string) (*Route, error) {
	routes, err := c.ListRoutes(ctx)
	if err != nil {
		return nil, err
	}
	for i := range routes {
		if routes[i].Pattern == pattern {
			return &routes[i], nil
		}
	}
	return c.CreateRoute(ctx, pattern)
}

// RemoveRoute deletes every route whose pattern matches. Missing routes are not an error.
func (c *Client) RemoveRoute(ctx context.Context, pattern string) error {
	routes, err := c.ListRoutes(ctx)
	if err != nil {
		return err
	}
	for _, r := range routes {
		if r.Pattern != pattern {
			continue
		}
		if err := c.DeleteRoute(ctx, r.ID); err != nil {
			return err
		}
	}
	return nil
}

// UploadScript publishes an ES module worker under the configured script name.
func (c *Client) UploadScript(ctx context.Context, source []byte, compatibilityDate string, bindings []ScriptBinding) error {
	meta, err := json.Marshal(scriptMetadata{
		MainModule:        "index.js",
		CompatibilityDate: compatibilityDate,
		Bindings:          bindings,
	})
	if err != nil {
		return err
	}

	path := "/accounts/" + url.PathEscape(c.cfg.AccountID) + "/workers/scripts/" + url.PathEscape(c.cfg.ScriptName)
	err = c.call(ctx, "upload-script", http.MethodPut, path, func(r *resty.Request) {
		r.SetMultipartField("metadata", "", "application/json", bytes.NewReader(meta))
		r.SetMultipartField("index.js", "index.js", "application/javascript+module", bytes.NewReader(source))
	}, nil)
	if err != nil {
		return err
	}

	c.logger.Info("worker script uploaded", zap.String("script", c.cfg.ScriptName), zap.Int("bytes", len(source)))
	return nil
}

// IsDuplicateHostname reports whether err is the platform's "hostname already exists" rejection.
func IsDuplicateHostname(err error) bool {
	var edgeErr *apperrors.EdgePlatformError
	return errors.As(err, &edgeErr) && edgeErr.HasCode(codeDuplicateHostname)
}

func IsNotFound(err error) bool {
	var edgeErr *apperrors.EdgePlatformError
	return errors.As(err, &edgeErr) && edgeErr.StatusCode == http.StatusNotFound
}
