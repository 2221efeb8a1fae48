package admin

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quill/internal/blob"
	"github.com/ternarybob/quill/internal/common"
	"github.com/ternarybob/quill/internal/models"
	"github.com/ternarybob/quill/internal/pipeline/monitor"
	"github.com/ternarybob/quill/internal/queue"
	"github.com/ternarybob/quill/internal/storage/badger"
	"github.com/ternarybob/quill/internal/storage/sqlite"
)

type noopFanIn struct{}

func (noopFanIn) CheckFanIn(ctx context.Context, mainID string) {}

func newTestService(t *testing.T) (*Service, *sqlite.JobStorage, *sqlite.PageStorage, *blob.Store, *common.Config) {
	t.Helper()
	tempDir := t.TempDir()
	logger := arbor.NewLogger()

	config := common.NewDefaultConfig()
	config.Storage.SQLite.Path = filepath.Join(tempDir, "quill.db")
	config.Storage.SQLite.WALMode = false
	config.Storage.Badger.Path = filepath.Join(tempDir, "status")
	config.Storage.Blob.Root = filepath.Join(tempDir, "blobs")
	config.Storage.Blob.ScratchRoot = filepath.Join(tempDir, "scratch")
	// A zero-minute threshold makes every PROCESSING row count as stuck.
	config.Monitor.StuckThresholdMinutes = 0

	db, err := sqlite.NewSQLiteDB(logger, &config.Storage.SQLite)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	bdb, err := badger.NewBadgerDB(logger, &config.Storage.Badger)
	require.NoError(t, err)
	t.Cleanup(func() { bdb.Close() })

	qm, err := queue.NewManager(db.DB(), &config.Queue)
	require.NoError(t, err)

	blobs, err := blob.NewStore(config.Storage.Blob.Root, "", logger)
	require.NoError(t, err)

	jobs := sqlite.NewJobStorage(db, logger)
	pages := sqlite.NewPageStorage(db, logger)
	cache := badger.NewStatusCache(bdb, logger)

	mon := monitor.New(jobs, pages, cache, qm, blobs, noopFanIn{}, config, logger)
	service := NewService(jobs, pages, qm, mon, config, logger)

	return service, jobs, pages, blobs, config
}

func processingMain(t *testing.T, jobs *sqlite.JobStorage) *models.Job {
	t.Helper()
	ctx := context.Background()

	job := models.NewMainJob(common.NewJobID(), "user-1", &models.Submission{
		UserID:     "user-1",
		SourceType: models.SourceFile,
		Filename:   "report.pdf",
	})
	require.NoError(t, jobs.SaveJob(ctx, job))
	require.NoError(t, jobs.UpdateJobStatus(ctx, job.ID, models.StatusProcessing, ""))
	return job
}

func TestService_ListStuckJobs(t *testing.T) {
	service, jobs, _, _, _ := newTestService(t)
	ctx := context.Background()

	job := processingMain(t, jobs)

	stuck, err := service.ListStuckJobs(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, job.ID, stuck[0].ID)

	// Listing does not flip anything.
	got, err := jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, got.Status)
}

func TestService_TriggerStuckRecovery(t *testing.T) {
	service, jobs, pages, _, _ := newTestService(t)
	ctx := context.Background()

	job := processingMain(t, jobs)
	page := models.NewPage(common.NewPageID(), job.ID, 1, common.NewJobID(), "")
	require.NoError(t, pages.CreatePage(ctx, page))
	require.NoError(t, pages.MarkPageProcessing(ctx, job.ID, 1))

	stuckJobs, stuckPages, err := service.TriggerStuckRecovery(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, stuckJobs)
	assert.Equal(t, 1, stuckPages)

	got, err := jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
}

func TestService_Stats(t *testing.T) {
	service, jobs, pages, _, _ := newTestService(t)
	ctx := context.Background()

	job := processingMain(t, jobs)
	page := models.NewPage(common.NewPageID(), job.ID, 1, common.NewJobID(), "")
	require.NoError(t, pages.CreatePage(ctx, page))

	stats, err := service.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.JobsByStatus[models.StatusProcessing])
	assert.Equal(t, 1, stats.PagesByStatus[models.StatusPending])
	assert.Zero(t, stats.QueueLength)
	assert.Equal(t, 1, stats.StuckJobs)
}

func TestService_BulkRetryFailedPages(t *testing.T) {
	service, jobs, pages, blobs, _ := newTestService(t)
	ctx := context.Background()

	job := processingMain(t, jobs)
	page := models.NewPage(common.NewPageID(), job.ID, 1, common.NewJobID(), blob.PageKey(job.ID, 1))
	require.NoError(t, blobs.PutBytes(ctx, page.BlobKey, []byte("page body")))
	require.NoError(t, pages.CreatePage(ctx, page))
	require.NoError(t, pages.MarkPageFailed(ctx, job.ID, 1, "conversion failed"))

	count, err := service.BulkRetryFailedPages(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := pages.GetPage(ctx, job.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
}

func TestService_StuckThresholdOverride(t *testing.T) {
	service, jobs, _, _, _ := newTestService(t)
	ctx := context.Background()

	job := processingMain(t, jobs)

	// A generous override hides the freshly started job.
	stuck, err := service.ListStuckJobs(ctx, time.Hour, 0)
	require.NoError(t, err)
	assert.Empty(t, stuck)

	flippedJobs, flippedPages, err := service.TriggerStuckRecovery(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, flippedJobs)
	assert.Zero(t, flippedPages)

	got, err := jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, got.Status)
}

func TestService_CleanupDaysOverride(t *testing.T) {
	service, jobs, _, _, _ := newTestService(t)
	ctx := context.Background()

	job := models.NewMainJob(common.NewJobID(), "user-1", &models.Submission{
		UserID:     "user-1",
		SourceType: models.SourceFile,
		Filename:   "report.pdf",
	})
	job.Status = models.StatusCompleted
	job.CompletedAt = time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, jobs.SaveJob(ctx, job))

	// The configured seven-day horizon keeps a two-day-old job.
	count, err := service.Cleanup(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, count)

	// A one-day override purges it.
	count, err = service.Cleanup(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
