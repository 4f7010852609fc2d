package objectstore

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	apperrors "edgesites/internal/errors"
)

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// MinioStore talks to any S3-compatible endpoint (MinIO, R2, S3).
type MinioStore struct {
	client *minio.Client
	bucket string
	region string
}

func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}
	return &MinioStore{client: client, bucket: cfg.Bucket, region: cfg.Region}, nil
}

// classify turns a minio error into an ObjectStoreOperationError carrying the HTTP status.
func classify(op, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" {
		return notFound(key)
	}
	return &apperrors.ObjectStoreOperationError{
		Op:         op,
		Key:        key,
		StatusCode: resp.StatusCode,
		Code:       resp.Code,
		Err:        err,
	}
}

func (m *MinioStore) EnsureBucket(ctx context.Context) error {
	found, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return classify("bucket-exists", m.bucket, err)
	}
	if !found {
		err = m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: m.region})
		return classify("make-bucket", m.bucket, err)
	}
	return nil
}

func (m *MinioStore) Put(ctx context.Context, key string, body io.ReadSeeker, size int64, opts PutOptions) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	_, err := m.client.PutObject(ctx, m.bucket, key, body, size, minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		CacheControl: opts.CacheControl,
	})
	return classify("put", key, err)
}

func (m *MinioStore) Get(ctx context.Context, key string) (*Object, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classify("get", key, err)
	}
	stat, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, classify("get", key, err)
	}
	return &Object{ObjectInfo: infoFrom(stat), Body: obj}, nil
}

func (m *MinioStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, classify("list", prefix, obj.Err)
		}
		out = append(out, infoFrom(obj))
	}
	return out, nil
}

func (m *MinioStore) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	return classify("delete", key, m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}))
}

func (m *MinioStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, &apperrors.ObjectStoreOperationError{Op: "delete-prefix", StatusCode: http.StatusBadRequest, Err: errors.New("refusing to delete the whole bucket")}
	}
	objects, err := m.List(ctx, prefix)
	if err != nil {
		return 0, err
	}

	ch := make(chan minio.ObjectInfo)
	go func() {
		defer close(ch)
		for _, o := range objects {
			select {
			case ch <- minio.ObjectInfo{Key: o.Key}:
			case <-ctx.Done():
				return
			}
		}
	}()

	deleted := len(objects)
	var firstErr error
	for rerr := range m.client.RemoveObjects(ctx, m.bucket, ch, minio.RemoveObjectsOptions{}) {
		deleted--
		if firstErr == nil {
			firstErr = classify("delete-prefix", rerr.ObjectName, rerr.Err)
		}
	}
	return deleted, firstErr
}

func infoFrom(o minio.ObjectInfo) ObjectInfo {
	info := ObjectInfo{
		Key:          o.Key,
		Size:         o.Size,
		ContentType:  o.ContentType,
		ETag:         o.ETag,
		LastModified: o.LastModified,
	}
	if o.Metadata != nil {
		info.CacheControl = o.Metadata.Get("Cache-Control")
	}
	return info
}
