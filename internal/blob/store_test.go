package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quill/internal/models"
)

func setupTestStore(t *testing.T) *Store {
	store, err := NewStore(t.TempDir(), "", arbor.NewLogger())
	require.NoError(t, err)
	return store
}

func TestStore_PutAndGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	key := UploadKey("main-1", "report.pdf")
	require.NoError(t, store.PutBytes(ctx, key, []byte("pdf bytes")))

	data, err := store.GetBytes(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("pdf bytes"), data)

	exists, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestStore_GetMissing(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetBytes(context.Background(), "uploads/none/missing.pdf")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStore_DeletePrefix(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutBytes(ctx, PageKey("main-1", 1), []byte("p1")))
	require.NoError(t, store.PutBytes(ctx, PageKey("main-1", 2), []byte("p2")))
	require.NoError(t, store.PutBytes(ctx, PageKey("main-2", 1), []byte("other")))

	require.NoError(t, store.DeletePrefix(ctx, BucketPages+"/main-1"))

	exists, err := store.Exists(ctx, PageKey("main-1", 1))
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = store.Exists(ctx, PageKey("main-2", 1))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestStore_RejectsTraversalKeys(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	assert.Error(t, store.PutBytes(ctx, "../escape.txt", []byte("x")))
	assert.Error(t, store.PutBytes(ctx, "/absolute.txt", []byte("x")))
	assert.Empty(t, store.LocalPath("../escape.txt"))
}

func TestStore_Keys(t *testing.T) {
	assert.Equal(t, "pages/m1/page_0007.pdf", PageKey("m1", 7))
	assert.Equal(t, "results/m1/page_0007.md", PageResultKey("m1", 7))
	assert.Equal(t, "results/m1/result.md", ResultKey("m1"))
	assert.Equal(t, "uploads/m1/a.pdf", UploadKey("m1", "a.pdf"))
	assert.Equal(t, "audio/m1/a.mp3", AudioKey("m1", "a.mp3"))
}

func TestStore_PublicURL(t *testing.T) {
	store, err := NewStore(t.TempDir(), "https://files.example.com/", arbor.NewLogger())
	require.NoError(t, err)

	assert.Equal(t, "https://files.example.com/results/m1/result.md", store.PublicURL(ResultKey("m1")))

	bare := setupTestStore(t)
	assert.Empty(t, bare.PublicURL(ResultKey("m1")))
}
