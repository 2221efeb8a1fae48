package interfaces

import (
	"context"
	"io"
)

// BlobStore persists binary artifacts (uploads, page files, results)
// under bucket-prefixed keys.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader) error
	PutBytes(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	GetBytes(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every object under the prefix. Used when a
	// job is deleted or cleaned up.
	DeletePrefix(ctx context.Context, prefix string) error

	// LocalPath returns a filesystem path for the object so converters
	// that need a real file can read it without a copy.
	LocalPath(key string) string

	// PublicURL returns a stable URL for a stored result, or "" when
	// the store is not publicly addressable.
	PublicURL(key string) string
}
