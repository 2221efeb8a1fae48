package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quill/internal/common"
	"github.com/ternarybob/quill/internal/models"
)

// setupTestDB creates a test database and returns cleanup function
func setupTestDB(t *testing.T) (*SQLiteDB, func()) {
	tempDir := t.TempDir()
	dbPath := tempDir + "/test.db"

	config := &common.SQLiteConfig{
		Path:          dbPath,
		CacheSizeMB:   10,
		WALMode:       false,
		BusyTimeoutMS: 5000,
	}

	logger := arbor.NewLogger()
	db, err := NewSQLiteDB(logger, config)
	require.NoError(t, err)

	cleanup := func() {
		db.Close()
	}

	return db, cleanup
}

func testMainJob(id, userID string) *models.Job {
	sub := &models.Submission{
		UserID:     userID,
		SourceType: models.SourceFile,
		Filename:   "report.pdf",
	}
	job := models.NewMainJob(id, userID, sub)
	job.FileChecksum = "checksum-" + id
	return job
}

func TestJobStorage_SaveAndGet(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	job := testMainJob("job-1", "user-1")
	require.NoError(t, storage.SaveJob(ctx, job))

	got, err := storage.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.ID)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, models.JobTypeMain, got.Type)
	assert.Equal(t, models.StatusQueued, got.Status)
	assert.Equal(t, "report.pdf", got.Filename)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestJobStorage_GetNotFound(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewJobStorage(db, arbor.NewLogger())

	_, err := storage.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestJobStorage_SaveIsIdempotent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	job := testMainJob("job-1", "user-1")
	require.NoError(t, storage.SaveJob(ctx, job))
	require.NoError(t, storage.SaveJob(ctx, job))

	jobs, err := storage.ListUserJobs(ctx, "user-1", "", 0, 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestJobStorage_StatusTransitions(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, storage.SaveJob(ctx, testMainJob("job-1", "user-1")))

	// PENDING -> PROCESSING stamps started_at
	require.NoError(t, storage.UpdateJobStatus(ctx, "job-1", models.StatusProcessing, ""))
	got, err := storage.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, got.Status)
	assert.False(t, got.StartedAt.IsZero())
	assert.True(t, got.CompletedAt.IsZero())

	// PROCESSING -> FAILED stamps completed_at and keeps the error
	require.NoError(t, storage.UpdateJobStatus(ctx, "job-1", models.StatusFailed, "conversion timed out"))
	got, err = storage.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "conversion timed out", got.ErrorMessage)
	assert.False(t, got.CompletedAt.IsZero())
}

func TestJobStorage_UpdateStatusNotFound(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewJobStorage(db, arbor.NewLogger())

	err := storage.UpdateJobStatus(context.Background(), "missing", models.StatusCompleted, "")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestJobStorage_ProgressNeverDecreases(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, storage.SaveJob(ctx, testMainJob("job-1", "user-1")))
	require.NoError(t, storage.UpdateProgress(ctx, "job-1", 60))
	require.NoError(t, storage.UpdateProgress(ctx, "job-1", 20))

	got, err := storage.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 60, got.ProgressPercent)
}

func TestJobStorage_DedupLookup(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	job := testMainJob("job-1", "user-1")
	job.FileChecksum = "abc123"
	require.NoError(t, storage.SaveJob(ctx, job))

	// Same user and checksum finds the job
	got, err := storage.FindMainByChecksum(ctx, "user-1", "abc123")
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.ID)

	// Different user does not
	_, err = storage.FindMainByChecksum(ctx, "user-2", "abc123")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestJobStorage_DedupIndexRejectsDuplicate(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	first := testMainJob("job-1", "user-1")
	first.FileChecksum = "same"
	require.NoError(t, storage.SaveJob(ctx, first))

	second := testMainJob("job-2", "user-1")
	second.FileChecksum = "same"
	assert.Error(t, storage.SaveJob(ctx, second))
}

func TestJobStorage_FindChildren(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	main := testMainJob("main-1", "user-1")
	require.NoError(t, storage.SaveJob(ctx, main))

	split := models.NewChildJob("split-1", models.JobTypeSplit, "main-1")
	require.NoError(t, storage.SaveJob(ctx, split))

	for i := 1; i <= 3; i++ {
		page := models.NewChildJob(common.NewJobID(), models.JobTypePage, "main-1")
		page.PageNumber = i
		require.NoError(t, storage.SaveJob(ctx, page))
	}

	children, err := storage.FindChildren(ctx, "main-1", "")
	require.NoError(t, err)
	assert.Len(t, children, 4)

	queued, err := storage.FindChildren(ctx, "main-1", models.StatusQueued)
	require.NoError(t, err)
	assert.Len(t, queued, 4)
}

func TestJobStorage_FindStuckJobs(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	old := testMainJob("old-1", "user-1")
	old.Status = models.StatusProcessing
	old.StartedAt = time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, storage.SaveJob(ctx, old))

	fresh := testMainJob("fresh-1", "user-2")
	fresh.Status = models.StatusProcessing
	fresh.StartedAt = time.Now().UTC()
	require.NoError(t, storage.SaveJob(ctx, fresh))

	stuck, err := storage.FindStuckJobs(ctx, time.Now().UTC().Add(-30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, "old-1", stuck[0].ID)
}

func TestJobStorage_FindExpiredJobs(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	expired := testMainJob("expired-1", "user-1")
	expired.Status = models.StatusCompleted
	expired.CompletedAt = time.Now().UTC().Add(-10 * 24 * time.Hour)
	require.NoError(t, storage.SaveJob(ctx, expired))

	recent := testMainJob("recent-1", "user-2")
	recent.Status = models.StatusCompleted
	recent.CompletedAt = time.Now().UTC().Add(-1 * time.Hour)
	require.NoError(t, storage.SaveJob(ctx, recent))

	found, err := storage.FindExpiredJobs(ctx, time.Now().UTC().Add(-7*24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "expired-1", found[0].ID)
}

func TestJobStorage_DeleteCascade(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := arbor.NewLogger()
	jobs := NewJobStorage(db, logger)
	pages := NewPageStorage(db, logger)
	ctx := context.Background()

	main := testMainJob("main-1", "user-1")
	require.NoError(t, jobs.SaveJob(ctx, main))
	require.NoError(t, jobs.SaveJob(ctx, models.NewChildJob("split-1", models.JobTypeSplit, "main-1")))
	require.NoError(t, pages.CreatePage(ctx, models.NewPage(common.NewPageID(), "main-1", 1, "pj-1", "pages/main-1/page_0001.pdf")))

	require.NoError(t, jobs.DeleteCascade(ctx, "main-1"))

	_, err := jobs.GetJob(ctx, "main-1")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = jobs.GetJob(ctx, "split-1")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = pages.GetPage(ctx, "main-1", 1)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestJobStorage_CountByStatus(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, storage.SaveJob(ctx, testMainJob("a", "user-1")))
	b := testMainJob("b", "user-2")
	b.Status = models.StatusCompleted
	require.NoError(t, storage.SaveJob(ctx, b))

	counts, err := storage.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.StatusQueued])
	assert.Equal(t, 1, counts[models.StatusCompleted])
}
