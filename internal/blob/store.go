// -----------------------------------------------------------------------
// Blob Store - Filesystem-backed artifact storage
// -----------------------------------------------------------------------

package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quill/internal/interfaces"
	"github.com/ternarybob/quill/internal/models"
)

// Bucket prefixes for the artifact families.
const (
	BucketUploads = "uploads"
	BucketAudio   = "audio"
	BucketPages   = "pages"
	BucketResults = "results"
)

// UploadKey returns the blob key for an original upload.
func UploadKey(mainID, filename string) string {
	return fmt.Sprintf("%s/%s/%s", BucketUploads, mainID, filename)
}

// AudioKey returns the blob key for an audio upload.
func AudioKey(mainID, filename string) string {
	return fmt.Sprintf("%s/%s/%s", BucketAudio, mainID, filename)
}

// PageKey returns the blob key for a split page artifact.
func PageKey(mainID string, pageNumber int) string {
	return fmt.Sprintf("%s/%s/page_%04d.pdf", BucketPages, mainID, pageNumber)
}

// PageResultKey returns the blob key for a converted page result.
func PageResultKey(mainID string, pageNumber int) string {
	return fmt.Sprintf("%s/%s/page_%04d.md", BucketResults, mainID, pageNumber)
}

// ResultKey returns the blob key for a merged markdown result.
func ResultKey(mainID string) string {
	return fmt.Sprintf("%s/%s/result.md", BucketResults, mainID)
}

// Store implements interfaces.BlobStore over a local directory tree.
// Keys map directly to paths under the root.
type Store struct {
	root       string
	publicBase string
	logger     arbor.ILogger
}

var _ interfaces.BlobStore = (*Store)(nil)

// NewStore creates the blob root if needed.
func NewStore(root, publicBase string, logger arbor.ILogger) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}
	return &Store{
		root:       root,
		publicBase: strings.TrimRight(publicBase, "/"),
		logger:     logger,
	}, nil
}

// Put streams an object to disk. The write goes through a temp file
// and a rename so readers never observe a partial object.
func (s *Store) Put(ctx context.Context, key string, r io.Reader) error {
	path, err := s.keyPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return fmt.Errorf("failed to create temp blob: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write blob %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close blob %s: %w", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to store blob %s: %w", key, err)
	}
	return nil
}

// PutBytes stores an in-memory payload.
func (s *Store) PutBytes(ctx context.Context, key string, data []byte) error {
	return s.Put(ctx, key, bytes.NewReader(data))
}

// Get opens an object for reading.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := s.keyPath(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open blob %s: %w", key, err)
	}
	return f, nil
}

// GetBytes reads a whole object into memory.
func (s *Store) GetBytes(ctx context.Context, key string) ([]byte, error) {
	r, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", key, err)
	}
	return data, nil
}

// Exists reports whether an object is stored.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	path, err := s.keyPath(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes an object. Missing objects are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	path, err := s.keyPath(key)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob %s: %w", key, err)
	}
	return nil
}

// DeletePrefix removes every object under the prefix.
func (s *Store) DeletePrefix(ctx context.Context, prefix string) error {
	path, err := s.keyPath(prefix)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to delete blobs under %s: %w", prefix, err)
	}
	return nil
}

// LocalPath returns the filesystem path behind a key.
func (s *Store) LocalPath(key string) string {
	path, err := s.keyPath(key)
	if err != nil {
		return ""
	}
	return path
}

// PublicURL returns a stable URL when a public base is configured.
func (s *Store) PublicURL(key string) string {
	if s.publicBase == "" {
		return ""
	}
	return s.publicBase + "/" + key
}

// keyPath maps a key to a path under the root and rejects traversal.
func (s *Store) keyPath(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid blob key: %q", key)
	}
	return filepath.Join(s.root, clean), nil
}
