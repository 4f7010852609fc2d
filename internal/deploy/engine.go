// Package deploy uploads a local site tree into a tenant's object namespace.
package deploy

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apperrors "edgesites/internal/errors"
	"edgesites/internal/models"
	"edgesites/internal/objectstore"
)

const DefaultConcurrency = 8

type Engine struct {
	store       objectstore.Store
	concurrency int
	clock       clockwork.Clock
	logger      *zap.Logger
}

// NewEngine expects store to already carry the retry decorator.
func NewEngine(store objectstore.Store, concurrency int, clock clockwork.Clock, logger *zap.Logger) *Engine {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, concurrency: concurrency, clock: clock, logger: logger}
}

func checkRoot(tenantID, localRoot string) error {
	info, err := os.Stat(localRoot)
	if err != nil {
		return &apperrors.DeploymentError{Kind: apperrors.DeploymentPathNotFound, TenantID: tenantID, Path: localRoot, Err: err}
	}
	if !info.IsDir() {
		return &apperrors.DeploymentError{Kind: apperrors.DeploymentPathNotFound, TenantID: tenantID, Path: localRoot,
			Err: fmt.Errorf("not a directory")}
	}
	return nil
}

// Deploy uploads every regular file under localRoot to {tenantID}/{basePrefix}/{relative path}.
// Per-file failures are reported in the result; an error is returned only when
// nothing could be attempted (bad root, unreachable storage) or ctx was canceled.
func (e *Engine) Deploy(ctx context.Context, tenantID, localRoot, basePrefix string) (*models.DeploymentResult, error) {
	if err := checkRoot(tenantID, localRoot); err != nil {
		return nil, err
	}
	files, failures, err := collectFiles(localRoot)
	if err != nil {
		return nil, &apperrors.DeploymentError{Kind: apperrors.DeploymentPathNotFound, TenantID: tenantID, Path: localRoot, Err: err}
	}
	return e.upload(ctx, tenantID, basePrefix, files, failures)
}

// DeployFiles re-uploads only relPaths, typically the FailedFiles of an earlier deployment.
func (e *Engine) DeployFiles(ctx context.Context, tenantID, localRoot, basePrefix string, relPaths []string) (*models.DeploymentResult, error) {
	if err := checkRoot(tenantID, localRoot); err != nil {
		return nil, err
	}
	files, failures, err := selectFiles(localRoot, relPaths)
	if err != nil {
		return nil, &apperrors.DeploymentError{Kind: apperrors.DeploymentPathNotFound, TenantID: tenantID, Path: localRoot, Err: err}
	}
	return e.upload(ctx, tenantID, basePrefix, files, failures)
}

func (e *Engine) upload(ctx context.Context, tenantID, basePrefix string, files []localFile, failures []walkFailure) (*models.DeploymentResult, error) {
	start := e.clock.Now()
	log := e.logger.With(zap.String("tenant_id", tenantID))

	if err := e.store.EnsureBucket(ctx); err != nil {
		log.Error("object store unavailable", zap.Error(err))
		return nil, &apperrors.DeploymentError{Kind: apperrors.DeploymentStorageUnavailable, TenantID: tenantID, Err: err}
	}

	result := &models.DeploymentResult{
		DeploymentID: uuid.NewString(),
		TenantID:     tenantID,
		FailedFiles:  make([]models.FailedFile, 0),
	}
	for _, f := range failures {
		result.FailedFiles = append(result.FailedFiles, models.FailedFile{Path: f.rel, Reason: f.reason})
	}

	log.Info("deployment started",
		zap.String("deployment_id", result.DeploymentID),
		zap.Int("files", len(files)),
		zap.String("base_prefix", basePrefix),
	)

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(e.concurrency)

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			mu.Lock()
			result.FailedFiles = append(result.FailedFiles, models.FailedFile{Path: f.rel, Reason: err.Error()})
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			key := models.ObjectKey(tenantID, basePrefix, f.rel)
			err := e.uploadFile(ctx, key, f)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Warn("file upload failed", zap.String("key", key), zap.Error(err))
				result.FailedFiles = append(result.FailedFiles, models.FailedFile{Path: f.rel, Reason: err.Error()})
				return nil
			}
			result.FilesUploaded++
			result.TotalSizeBytes += f.size
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(result.FailedFiles, func(i, j int) bool { return result.FailedFiles[i].Path < result.FailedFiles[j].Path })
	result.Success = len(result.FailedFiles) == 0
	if !result.Success {
		msg := fmt.Sprintf("%d of %d files failed to upload", len(result.FailedFiles), len(result.FailedFiles)+result.FilesUploaded)
		result.ErrorMessage = &msg
	}
	elapsed := e.clock.Since(start)
	result.DeploymentTimeSeconds = elapsed.Seconds()

	log.Info("deployment finished",
		zap.String("deployment_id", result.DeploymentID),
		zap.Bool("success", result.Success),
		zap.Int("files_uploaded", result.FilesUploaded),
		zap.Int("files_failed", len(result.FailedFiles)),
		zap.Int64("total_size_bytes", result.TotalSizeBytes),
		zap.Duration("elapsed", elapsed),
	)

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

func (e *Engine) uploadFile(ctx context.Context, key string, f localFile) error {
	fh, err := os.Open(f.abs)
	if err != nil {
		return err
	}
	defer fh.Close()

	return e.store.Put(ctx, key, fh, f.size, objectstore.PutOptions{
		ContentType:  models.ContentTypeFor(f.rel),
		CacheControl: models.CacheControlFor(f.rel),
	})
}

// Status summarizes what is currently stored for a tenant.
func (e *Engine) Status(ctx context.Context, tenantID string) (*models.DeploymentStatus, error) {
	objects, err := e.store.List(ctx, models.TenantPrefix(tenantID))
	if err != nil {
		return nil, err
	}

	status := &models.DeploymentStatus{TenantID: tenantID, ObjectCount: len(objects)}
	for _, o := range objects {
		status.TotalSizeBytes += o.Size
		if status.LastModified == nil || o.LastModified.After(*status.LastModified) {
			lm := o.LastModified
			status.LastModified = &lm
		}
	}
	return status, nil
}

// Purge deletes every object under the tenant prefix and returns how many were removed.
func (e *Engine) Purge(ctx context.Context, tenantID string) (int, error) {
	n, err := e.store.DeletePrefix(ctx, models.TenantPrefix(tenantID))
	if err != nil {
		return n, err
	}
	e.logger.Info("tenant objects purged", zap.String("tenant_id", tenantID), zap.Int("objects", n))
	return n, nil
}
