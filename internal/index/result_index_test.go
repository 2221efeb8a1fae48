package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quill/internal/common"
	"github.com/ternarybob/quill/internal/storage/sqlite"
)

func setupTestIndex(t *testing.T) (*ResultIndex, func()) {
	config := &common.SQLiteConfig{
		Path:          t.TempDir() + "/test.db",
		CacheSizeMB:   10,
		BusyTimeoutMS: 5000,
	}

	logger := arbor.NewLogger()
	db, err := sqlite.NewSQLiteDB(logger, config)
	require.NoError(t, err)

	idx, err := NewResultIndex(db.DB(), logger)
	require.NoError(t, err)

	cleanup := func() {
		db.Close()
	}
	return idx, cleanup
}

func TestResultIndex_IndexAndSearch(t *testing.T) {
	idx, cleanup := setupTestIndex(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, idx.IndexResult(ctx, "job-1", "user-1", "report.pdf", 0,
		"# Quarterly Report\n\nRevenue grew substantially this quarter."))
	require.NoError(t, idx.IndexResult(ctx, "job-2", "user-1", "notes.pdf", 0,
		"# Meeting Notes\n\nDiscussed the hiring plan."))

	hits, err := idx.Search(ctx, "user-1", "revenue", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "job-1", hits[0].JobID)
	assert.Equal(t, "report.pdf", hits[0].Filename)
	assert.Contains(t, hits[0].Snippet, "<b>Revenue</b>")
}

func TestResultIndex_SearchScopedToUser(t *testing.T) {
	idx, cleanup := setupTestIndex(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, idx.IndexResult(ctx, "job-1", "user-1", "a.pdf", 0, "confidential budget figures"))
	require.NoError(t, idx.IndexResult(ctx, "job-2", "user-2", "b.pdf", 0, "confidential budget figures"))

	hits, err := idx.Search(ctx, "user-1", "budget", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "job-1", hits[0].JobID)
}

func TestResultIndex_ReindexReplaces(t *testing.T) {
	idx, cleanup := setupTestIndex(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, idx.IndexResult(ctx, "job-1", "user-1", "a.pdf", 1, "original wording"))
	require.NoError(t, idx.IndexResult(ctx, "job-1", "user-1", "a.pdf", 1, "replacement wording"))

	hits, err := idx.Search(ctx, "user-1", "original", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = idx.Search(ctx, "user-1", "replacement", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 1, hits[0].PageNumber)
}

func TestResultIndex_DeleteJob(t *testing.T) {
	idx, cleanup := setupTestIndex(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, idx.IndexResult(ctx, "job-1", "user-1", "a.pdf", 0, "merged document text"))
	require.NoError(t, idx.IndexResult(ctx, "job-1", "user-1", "a.pdf", 1, "page one text"))
	require.NoError(t, idx.DeleteJob(ctx, "job-1"))

	hits, err := idx.Search(ctx, "user-1", "text", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
