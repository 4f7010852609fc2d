package objectstore

import (
	"context"
	"io"

	"edgesites/internal/retry"
)

type retryingStore struct {
	next   Store
	policy retry.Policy
}

// WithRetry decorates every call on next with the retry policy. Put rewinds
// the body before each attempt.
func WithRetry(next Store, policy retry.Policy) Store {
	return &retryingStore{next: next, policy: policy}
}

func (r *retryingStore) EnsureBucket(ctx context.Context) error {
	return r.policy.Do(ctx, "objectstore.ensure-bucket", r.next.EnsureBucket)
}

func (r *retryingStore) Put(ctx context.Context, key string, body io.ReadSeeker, size int64, opts PutOptions) error {
	return r.policy.Do(ctx, "objectstore.put", func(ctx context.Context) error {
		if _, err := body.Seek(0, io.SeekStart); err != nil {
			return err
		}
		return r.next.Put(ctx, key, body, size, opts)
	})
}

func (r *retryingStore) Get(ctx context.Context, key string) (*Object, error) {
	var obj *Object
	err := r.policy.Do(ctx, "objectstore.get", func(ctx context.Context) error {
		var err error
		obj, err = r.next.Get(ctx, key)
		return err
	})
	return obj, err
}

func (r *retryingStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	err := r.policy.Do(ctx, "objectstore.list", func(ctx context.Context) error {
		var err error
		out, err = r.next.List(ctx, prefix)
		return err
	})
	return out, err
}

func (r *retryingStore) Delete(ctx context.Context, key string) error {
	return r.policy.Do(ctx, "objectstore.delete", func(ctx context.Context) error {
		return r.next.Delete(ctx, key)
	})
}

func (r *retryingStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	var n int
	err := r.policy.Do(ctx, "objectstore.delete-prefix", func(ctx context.Context) error {
		var err error
		n, err = r.next.DeletePrefix(ctx, prefix)
		return err
	})
	return n, err
}
