package platform

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"edgesites/internal/edgeapi"
)

// WorkerInstaller is the part of the edge API used to publish the router worker.
type WorkerInstaller interface {
	UploadScript(ctx context.Context, source []byte, compatibilityDate string, bindings []edgeapi.ScriptBinding) error
	EnsureRoute(ctx context.Context, pattern string) (*edgeapi.Route, error)
}

type WorkerConfig struct {
	ScriptPath        string
	CompatibilityDate string
	PlatformDomain    string
	Bucket            string
	ControlPlaneURL   string
}

// WildcardRoute is the route sending every platform subdomain to the worker.
func WildcardRoute(platformDomain string) string {
	return "*." + platformDomain + "/*"
}

func workerBindings(cfg WorkerConfig) []edgeapi.ScriptBinding {
	bindings := []edgeapi.ScriptBinding{
		{Type: "r2_bucket", Name: "BUCKET", BucketName: cfg.Bucket},
		{Type: "plain_text", Name: "PLATFORM_DOMAIN", Text: cfg.PlatformDomain},
	}
	if cfg.ControlPlaneURL != "" {
		bindings = append(bindings, edgeapi.ScriptBinding{Type: "plain_text", Name: "CONTROL_PLANE_URL", Text: cfg.ControlPlaneURL})
	}
	return bindings
}

// InstallWorker uploads the router script and routes the platform's
// subdomains to it. Both calls are idempotent.
func InstallWorker(ctx context.Context, edge WorkerInstaller, cfg WorkerConfig, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	source, err := os.ReadFile(cfg.ScriptPath)
	if err != nil {
		return fmt.Errorf("read worker script: %w", err)
	}
	if err := edge.UploadScript(ctx, source, cfg.CompatibilityDate, workerBindings(cfg)); err != nil {
		return translate("upload worker script", err)
	}
	route, err := edge.EnsureRoute(ctx, WildcardRoute(cfg.PlatformDomain))
	if err != nil {
		return translate("ensure worker route", err)
	}
	logger.Info("edge worker installed",
		zap.String("script", cfg.ScriptPath),
		zap.String("route", route.Pattern),
		zap.Int("bytes", len(source)),
	)
	return nil
}
