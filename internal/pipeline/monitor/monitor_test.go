package monitor

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quill/internal/blob"
	"github.com/ternarybob/quill/internal/common"
	"github.com/ternarybob/quill/internal/models"
	"github.com/ternarybob/quill/internal/queue"
	"github.com/ternarybob/quill/internal/storage/badger"
	"github.com/ternarybob/quill/internal/storage/sqlite"
)

// fanInRecorder captures which MAINs had their fan-in re-checked.
type fanInRecorder struct {
	mu   sync.Mutex
	seen []string
}

func (r *fanInRecorder) CheckFanIn(ctx context.Context, mainID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, mainID)
}

type testEnv struct {
	monitor *Monitor
	jobs    *sqlite.JobStorage
	pages   *sqlite.PageStorage
	cache   *badger.StatusCache
	queue   *queue.Manager
	blobs   *blob.Store
	fanIn   *fanInRecorder
	config  *common.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	tempDir := t.TempDir()
	logger := arbor.NewLogger()

	config := common.NewDefaultConfig()
	config.Storage.SQLite.Path = filepath.Join(tempDir, "quill.db")
	config.Storage.SQLite.WALMode = false
	config.Storage.Badger.Path = filepath.Join(tempDir, "status")
	config.Storage.Blob.Root = filepath.Join(tempDir, "blobs")
	config.Storage.Blob.ScratchRoot = filepath.Join(tempDir, "scratch")

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
	fanIn := &fanInRecorder{}

	m := New(jobs, pages, cache, qm, blobs, fanIn, config, logger)

	return &testEnv{
		monitor: m,
		jobs:    jobs,
		pages:   pages,
		cache:   cache,
		queue:   qm,
		blobs:   blobs,
		fanIn:   fanIn,
		config:  config,
	}
}

func (e *testEnv) createMain(t *testing.T, status models.JobStatus) *models.Job {
	t.Helper()
	ctx := context.Background()

	job := models.NewMainJob(common.NewJobID(), "user-1", &models.Submission{
		UserID:     "user-1",
		SourceType: models.SourceFile,
		Filename:   "report.pdf",
	})
	require.NoError(t, e.jobs.SaveJob(ctx, job))
	if status != models.StatusQueued {
		require.NoError(t, e.jobs.UpdateJobStatus(ctx, job.ID, status, ""))
	}
	return job
}

func TestMonitor_SweepStuckJobs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	stuck := env.createMain(t, models.StatusProcessing)
	healthy := env.createMain(t, models.StatusCompleted)

	// A cutoff in the future makes every PROCESSING job count as stuck.
	count, err := env.monitor.SweepStuckJobs(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := env.jobs.GetJob(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "marked as failed by monitoring system")

	rec, err := env.cache.GetStatus(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, rec.Status)

	got, err = env.jobs.GetJob(ctx, healthy.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
}

func TestMonitor_SweepStuckJobsHonorsCutoff(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	job := env.createMain(t, models.StatusProcessing)

	// A cutoff in the past leaves recently started jobs alone.
	count, err := env.monitor.SweepStuckJobs(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, count)

	got, err := env.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, got.Status)
}

func TestMonitor_SweepStuckPages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	main := env.createMain(t, models.StatusProcessing)
	require.NoError(t, env.jobs.SetTotalPages(ctx, main.ID, 2))

	for i := 1; i <= 2; i++ {
		page := models.NewPage(common.NewPageID(), main.ID, i, common.NewJobID(), "")
		require.NoError(t, env.pages.CreatePage(ctx, page))
	}
	require.NoError(t, env.pages.MarkPageProcessing(ctx, main.ID, 1))

	count, err := env.monitor.SweepStuckPages(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	page, err := env.pages.GetPage(ctx, main.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, page.Status)
	assert.Contains(t, page.ErrorMessage, "Page stuck in processing")

	// The parent counter and the fan-in check both saw the failure.
	got, err := env.jobs.GetJob(ctx, main.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.PagesFailed)
	assert.Equal(t, []string{main.ID}, env.fanIn.seen)

	// Pending page 2 is untouched.
	page, err = env.pages.GetPage(ctx, main.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, page.Status)
}

func TestMonitor_AutoRetryPages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	main := env.createMain(t, models.StatusProcessing)
	page := models.NewPage(common.NewPageID(), main.ID, 1, "old-page-job", blob.PageKey(main.ID, 1))
	require.NoError(t, env.blobs.PutBytes(ctx, page.BlobKey, []byte("page artifact")))
	require.NoError(t, env.pages.CreatePage(ctx, page))
	require.NoError(t, env.pages.MarkPageFailed(ctx, main.ID, 1, "conversion failed"))

	count, err := env.monitor.AutoRetryPages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := env.pages.GetPage(ctx, main.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.NotEqual(t, "old-page-job", got.PageJobID)

	// The new PAGE job record exists and the mapping was refreshed.
	pageJob, err := env.jobs.GetJob(ctx, got.PageJobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobTypePage, pageJob.Type)
	assert.Equal(t, main.ID, pageJob.ParentID)

	mapped, err := env.cache.GetPageJobByNumber(ctx, main.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, got.PageJobID, mapped)

	length, err := env.queue.GetQueueLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, length)
}

func TestMonitor_AutoRetryLeavesSourcelessPagesPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Neither a split artifact nor an upload blob survives.
	main := env.createMain(t, models.StatusProcessing)
	page := models.NewPage(common.NewPageID(), main.ID, 1, "old-page-job", blob.PageKey(main.ID, 1))
	require.NoError(t, env.pages.CreatePage(ctx, page))
	require.NoError(t, env.pages.MarkPageFailed(ctx, main.ID, 1, "conversion failed"))

	count, err := env.monitor.AutoRetryPages(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	// The page sits PENDING for manual recovery, with its budget spent
	// on the reset but no task on the queue.
	got, err := env.pages.GetPage(ctx, main.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)

	length, err := env.queue.GetQueueLength(ctx)
	require.NoError(t, err)
	assert.Zero(t, length)
}

func TestMonitor_AutoRetrySkipsExhaustedPages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	main := env.createMain(t, models.StatusProcessing)
	page := models.NewPage(common.NewPageID(), main.ID, 1, "page-job", "")
	require.NoError(t, env.pages.CreatePage(ctx, page))

	// Burn the whole retry budget.
	for i := 0; i < env.config.Monitor.MaxRetryCount; i++ {
		require.NoError(t, env.pages.MarkPageFailed(ctx, main.ID, 1, "conversion failed"))
		require.NoError(t, env.pages.ResetPageForRetry(ctx, main.ID, 1, common.NewJobID(), env.config.Monitor.MaxRetryCount))
	}
	require.NoError(t, env.pages.MarkPageFailed(ctx, main.ID, 1, "conversion failed"))

	count, err := env.monitor.AutoRetryPages(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	got, err := env.pages.GetPage(ctx, main.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
}

func TestMonitor_RunCleanup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	job := env.createMain(t, models.StatusCompleted)
	require.NoError(t, env.cache.PutStatus(ctx, &models.StatusRecord{
		JobID:  job.ID,
		Type:   models.JobTypeMain,
		Status: models.StatusCompleted,
	}))
	pageKey := blob.PageKey(job.ID, 1)
	require.NoError(t, env.blobs.PutBytes(ctx, pageKey, []byte("page artifact")))
	resultKey := blob.ResultKey(job.ID)
	require.NoError(t, env.blobs.PutBytes(ctx, resultKey, []byte("# Result")))

	count, err := env.monitor.RunCleanup(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Cache keys and page artifacts are gone.
	_, err = env.cache.GetStatus(ctx, job.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	exists, err := env.blobs.Exists(ctx, pageKey)
	require.NoError(t, err)
	assert.False(t, exists)

	// The metadata row and the stored result survive.
	got, err := env.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	exists, err = env.blobs.Exists(ctx, resultKey)
	require.NoError(t, err)
	assert.True(t, exists)

	// Running the sweep again is harmless.
	_, err = env.monitor.RunCleanup(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
}

func TestMonitor_CleanupLeavesRecentJobs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	job := env.createMain(t, models.StatusCompleted)
	require.NoError(t, env.cache.PutStatus(ctx, &models.StatusRecord{
		JobID:  job.ID,
		Type:   models.JobTypeMain,
		Status: models.StatusCompleted,
	}))

	count, err := env.monitor.RunCleanup(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = env.cache.GetStatus(ctx, job.ID)
	require.NoError(t, err)
}
