package badger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quill/internal/common"
	"github.com/ternarybob/quill/internal/models"
)

func setupTestCache(t *testing.T) (*StatusCache, func()) {
	config := &common.BadgerConfig{
		Path: t.TempDir() + "/status",
	}

	logger := arbor.NewLogger()
	db, err := NewBadgerDB(logger, config)
	require.NoError(t, err)

	cache := NewStatusCache(db, logger)
	cleanup := func() {
		cache.Close()
	}
	return cache, cleanup
}

func TestStatusCache_PutAndGet(t *testing.T) {
	cache, cleanup := setupTestCache(t)
	defer cleanup()
	ctx := context.Background()

	rec := &models.StatusRecord{
		JobID:    "job-1",
		Type:     models.JobTypeMain,
		Status:   models.StatusProcessing,
		Progress: 20,
	}
	require.NoError(t, cache.PutStatus(ctx, rec))

	got, err := cache.GetStatus(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, got.Status)
	assert.Equal(t, 20, got.Progress)
}

func TestStatusCache_GetMiss(t *testing.T) {
	cache, cleanup := setupTestCache(t)
	defer cleanup()

	_, err := cache.GetStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStatusCache_ProgressOnlyAdvances(t *testing.T) {
	cache, cleanup := setupTestCache(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, cache.PutStatus(ctx, &models.StatusRecord{JobID: "job-1", Progress: 50}))
	require.NoError(t, cache.UpdateProgress(ctx, "job-1", 30))

	got, err := cache.GetStatus(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 50, got.Progress)

	require.NoError(t, cache.UpdateProgress(ctx, "job-1", 80))
	got, err = cache.GetStatus(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 80, got.Progress)

	// A cache miss is not an error
	require.NoError(t, cache.UpdateProgress(ctx, "missing", 10))
}

func TestStatusCache_Ownership(t *testing.T) {
	cache, cleanup := setupTestCache(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, cache.SetOwner(ctx, "job-1", "user-1"))

	assert.NoError(t, cache.VerifyOwner(ctx, "job-1", "user-1"))
	assert.ErrorIs(t, cache.VerifyOwner(ctx, "job-1", "user-2"), models.ErrOwnershipDenied)
	assert.ErrorIs(t, cache.VerifyOwner(ctx, "missing", "user-1"), models.ErrNotFound)
}

func TestStatusCache_UserJobListing(t *testing.T) {
	cache, cleanup := setupTestCache(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, cache.AddUserJob(ctx, "user-1", "job-1"))
	require.NoError(t, cache.AddUserJob(ctx, "user-1", "job-2"))
	require.NoError(t, cache.AddUserJob(ctx, "user-1", "job-1"))

	ids, err := cache.ListUserJobs(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"job-1", "job-2"}, ids)
}

func TestStatusCache_ChildRegistration(t *testing.T) {
	cache, cleanup := setupTestCache(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, cache.AddChild(ctx, "main-1", models.RoleSplit, "split-1"))
	require.NoError(t, cache.AddChild(ctx, "main-1", models.RolePage, "page-1"))
	require.NoError(t, cache.AddChild(ctx, "main-1", models.RolePage, "page-2"))

	pages, err := cache.GetChildren(ctx, "main-1", models.RolePage)
	require.NoError(t, err)
	assert.Equal(t, []string{"page-1", "page-2"}, pages)

	splits, err := cache.GetChildren(ctx, "main-1", models.RoleSplit)
	require.NoError(t, err)
	assert.Equal(t, []string{"split-1"}, splits)
}

func TestStatusCache_MergeSlotSingleWinner(t *testing.T) {
	cache, cleanup := setupTestCache(t)
	defer cleanup()
	ctx := context.Background()

	won, id, err := cache.SetMergeChild(ctx, "main-1", "merge-a")
	require.NoError(t, err)
	assert.True(t, won)
	assert.Equal(t, "merge-a", id)

	won, id, err = cache.SetMergeChild(ctx, "main-1", "merge-b")
	require.NoError(t, err)
	assert.False(t, won)
	assert.Equal(t, "merge-a", id)

	got, err := cache.GetMergeChild(ctx, "main-1")
	require.NoError(t, err)
	assert.Equal(t, "merge-a", got)
}

func TestStatusCache_MergeSlotConcurrentClaims(t *testing.T) {
	cache, cleanup := setupTestCache(t)
	defer cleanup()
	ctx := context.Background()

	const claimers = 16
	var winners int32
	var wg sync.WaitGroup

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			won, _, err := cache.SetMergeChild(ctx, "main-1", fmt.Sprintf("merge-%d", n))
			assert.NoError(t, err)
			if won {
				atomic.AddInt32(&winners, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners)
}

func TestStatusCache_PageJobMapping(t *testing.T) {
	cache, cleanup := setupTestCache(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, cache.SetPageJobByNumber(ctx, "main-1", 3, "pj-old"))
	require.NoError(t, cache.SetPageJobByNumber(ctx, "main-1", 3, "pj-new"))

	got, err := cache.GetPageJobByNumber(ctx, "main-1", 3)
	require.NoError(t, err)
	assert.Equal(t, "pj-new", got)
}

func TestStatusCache_Result(t *testing.T) {
	cache, cleanup := setupTestCache(t)
	defer cleanup()
	ctx := context.Background()

	result := &models.ConversionResult{
		Markdown: "# Converted",
		Metadata: models.ResultMetadata{Pages: 3, Words: 120, Format: "pdf"},
	}
	require.NoError(t, cache.SetResult(ctx, "main-1", result))

	got, err := cache.GetResult(ctx, "main-1")
	require.NoError(t, err)
	assert.Equal(t, "# Converted", got.Markdown)
	assert.Equal(t, 3, got.Metadata.Pages)
}

func TestStatusCache_DeleteJobKeys(t *testing.T) {
	cache, cleanup := setupTestCache(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, cache.PutStatus(ctx, &models.StatusRecord{JobID: "main-1"}))
	require.NoError(t, cache.PutStatus(ctx, &models.StatusRecord{JobID: "page-1"}))
	require.NoError(t, cache.AddChild(ctx, "main-1", models.RolePage, "page-1"))
	require.NoError(t, cache.SetPagesTotal(ctx, "main-1", 1))
	require.NoError(t, cache.SetPageJobByNumber(ctx, "main-1", 1, "page-1"))
	require.NoError(t, cache.SetResult(ctx, "main-1", &models.ConversionResult{Markdown: "x"}))
	_, _, err := cache.SetMergeChild(ctx, "main-1", "merge-1")
	require.NoError(t, err)

	require.NoError(t, cache.DeleteJobKeys(ctx, "main-1"))

	_, err = cache.GetStatus(ctx, "main-1")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = cache.GetStatus(ctx, "page-1")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = cache.GetResult(ctx, "main-1")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = cache.GetPagesTotal(ctx, "main-1")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = cache.GetMergeChild(ctx, "main-1")
	assert.ErrorIs(t, err, models.ErrNotFound)

	children, err := cache.GetChildren(ctx, "main-1", models.RolePage)
	require.NoError(t, err)
	assert.Empty(t, children)

	// Running the sweep again is a no-op
	require.NoError(t, cache.DeleteJobKeys(ctx, "main-1"))
}
