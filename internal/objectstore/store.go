// Package objectstore is the keyed blob store holding every tenant's deployed files.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "edgesites/internal/errors"
)

const maxKeyLength = 1024

type PutOptions struct {
	ContentType  string
	CacheControl string
}

type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	CacheControl string
	ETag         string
	LastModified time.Time
}

type Object struct {
	ObjectInfo
	Body io.ReadCloser
}

// Store is implemented by every backing store. Get returns an error matching
// apperrors.ErrObjectNotFound when the key does not exist.
type Store interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, body io.ReadSeeker, size int64, opts PutOptions) error
	Get(ctx context.Context, key string) (*Object, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// ValidateKey rejects keys the store would refuse or that could escape a tenant prefix.
func ValidateKey(key string) error {
	var reason string
	switch {
	case key == "":
		reason = "empty key"
	case len(key) > maxKeyLength:
		reason = "key too long"
	case !utf8.ValidString(key):
		reason = "key is not valid UTF-8"
	case strings.HasPrefix(key, "/"):
		reason = "key must not start with a slash"
	case strings.Contains(key, "//"):
		reason = "key contains an empty segment"
	}
	if reason == "" {
		for _, seg := range strings.Split(key, "/") {
			if seg == "." || seg == ".." {
				reason = "key contains a relative segment"
				break
			}
		}
	}
	if reason != "" {
		return &apperrors.ObjectStoreOperationError{
			Op:         "validate",
			Key:        key,
			StatusCode: http.StatusBadRequest,
			Code:       "InvalidKey",
			Err:        fmt.Errorf("malformed key: %s", reason),
		}
	}
	return nil
}

func notFound(key string) error {
	return fmt.Errorf("%w: %s", apperrors.ErrObjectNotFound, key)
}
