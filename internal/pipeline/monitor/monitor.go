// -----------------------------------------------------------------------
// Monitor - periodic recovery sweeps for stuck and failed work
// -----------------------------------------------------------------------

package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quill/internal/blob"
	"github.com/ternarybob/quill/internal/common"
	"github.com/ternarybob/quill/internal/interfaces"
	"github.com/ternarybob/quill/internal/models"
)

// FanInChecker re-evaluates a MAIN's fan-in state after the monitor
// flips one of its pages. The pipeline implements this.
type FanInChecker interface {
	CheckFanIn(ctx context.Context, mainID string)
}

// Monitor runs the recovery sweeps on a cron schedule: stuck jobs and
// pages, automatic page retries, expired-job cleanup, and a health
// beat.
type Monitor struct {
	jobs   interfaces.JobStorage
	pages  interfaces.PageStorage
	cache  interfaces.StatusCache
	queue  interfaces.QueueManager
	blobs  interfaces.BlobStore
	fanIn  FanInChecker
	config *common.Config
	logger arbor.ILogger
	cron   *cron.Cron
}

// New wires a monitor. Call Start to begin the sweeps.
func New(
	jobs interfaces.JobStorage,
	pages interfaces.PageStorage,
	cache interfaces.StatusCache,
	queue interfaces.QueueManager,
	blobs interfaces.BlobStore,
	fanIn FanInChecker,
	config *common.Config,
	logger arbor.ILogger,
) *Monitor {
	return &Monitor{
		jobs:   jobs,
		pages:  pages,
		cache:  cache,
		queue:  queue,
		blobs:  blobs,
		fanIn:  fanIn,
		config: config,
		logger: logger,
	}
}

// Start schedules the sweeps. Stuck detection and auto-retry run every
// check interval, cleanup runs daily at 02:00 UTC, the health beat
// every minute.
func (m *Monitor) Start() error {
	if !m.config.Monitor.Enabled {
		m.logger.Info().Msg("Monitoring disabled")
		return nil
	}

	m.cron = cron.New(cron.WithLocation(time.UTC))

	interval := fmt.Sprintf("@every %dm", m.config.Monitor.CheckIntervalMinutes)
	if _, err := m.cron.AddFunc(interval, m.runRecoverySweeps); err != nil {
		return fmt.Errorf("failed to schedule recovery sweeps: %w", err)
	}
	if _, err := m.cron.AddFunc("0 2 * * *", m.runCleanupSweep); err != nil {
		return fmt.Errorf("failed to schedule cleanup: %w", err)
	}
	if _, err := m.cron.AddFunc("@every 1m", m.healthBeat); err != nil {
		return fmt.Errorf("failed to schedule health beat: %w", err)
	}

	m.cron.Start()
	m.logger.Info().
		Int("check_interval_minutes", m.config.Monitor.CheckIntervalMinutes).
		Int("stuck_threshold_minutes", m.config.Monitor.StuckThresholdMinutes).
		Int("cleanup_days", m.config.Monitor.CleanupDays).
		Msg("Monitor started")
	return nil
}

// Stop halts the schedule and waits for running sweeps.
func (m *Monitor) Stop() {
	if m.cron == nil {
		return
	}
	ctx := m.cron.Stop()
	<-ctx.Done()
	m.logger.Info().Msg("Monitor stopped")
}

func (m *Monitor) runRecoverySweeps() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().Add(-m.config.StuckThreshold())
	if _, err := m.SweepStuckJobs(ctx, cutoff); err != nil {
		m.logger.Error().Err(err).Msg("Stuck job sweep failed")
	}
	if _, err := m.SweepStuckPages(ctx, cutoff); err != nil {
		m.logger.Error().Err(err).Msg("Stuck page sweep failed")
	}
	if m.config.Monitor.AutoRetryEnabled {
		if _, err := m.AutoRetryPages(ctx); err != nil {
			m.logger.Error().Err(err).Msg("Auto-retry sweep failed")
		}
	}
}

func (m *Monitor) runCleanupSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().Add(-m.config.CleanupHorizon())
	if _, err := m.RunCleanup(ctx, cutoff); err != nil {
		m.logger.Error().Err(err).Msg("Cleanup sweep failed")
	}
	if err := m.cache.RunGC(); err != nil {
		m.logger.Warn().Err(err).Msg("Status cache GC failed")
	}
}

// SweepStuckJobs fails jobs that have sat in PROCESSING since before
// cutoff. Returns the number of jobs flipped.
func (m *Monitor) SweepStuckJobs(ctx context.Context, cutoff time.Time) (int, error) {
	stuck, err := m.jobs.FindStuckJobs(ctx, cutoff, m.config.Monitor.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to find stuck jobs: %w", err)
	}

	errMsg := fmt.Sprintf(
		"Job stuck in processing for >%dmin - marked as failed by monitoring system",
		m.config.Monitor.StuckThresholdMinutes)

	count := 0
	for _, job := range stuck {
		if err := m.jobs.UpdateJobStatus(ctx, job.ID, models.StatusFailed, errMsg); err != nil {
			m.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to fail stuck job")
			continue
		}
		m.mirrorFailure(ctx, job, errMsg)
		count++

		m.logger.Warn().
			Str("job_id", job.ID).
			Str("job_type", string(job.Type)).
			Str("started_at", job.StartedAt.Format(time.RFC3339)).
			Msg("Stuck job marked as failed")
	}
	return count, nil
}

// SweepStuckPages fails pages that have sat in PROCESSING since before
// cutoff and re-runs the fan-in check for their parents. Page rows
// carry no started_at, so the cutoff applies to created_at.
func (m *Monitor) SweepStuckPages(ctx context.Context, cutoff time.Time) (int, error) {
	stuck, err := m.pages.FindStuckPages(ctx, cutoff, m.config.Monitor.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to find stuck pages: %w", err)
	}

	errMsg := fmt.Sprintf(
		"Page stuck in processing for >%dmin - marked as failed by monitoring system",
		m.config.Monitor.StuckThresholdMinutes)

	count := 0
	for _, page := range stuck {
		if err := m.pages.MarkPageFailed(ctx, page.JobID, page.PageNumber, errMsg); err != nil {
			m.logger.Error().Err(err).Str("job_id", page.JobID).Int("page", page.PageNumber).Msg("Failed to fail stuck page")
			continue
		}
		count++

		m.logger.Warn().
			Str("job_id", page.JobID).
			Int("page", page.PageNumber).
			Msg("Stuck page marked as failed")

		m.fanIn.CheckFanIn(ctx, page.JobID)
	}
	return count, nil
}

// AutoRetryPages resets failed pages that still have retry budget and
// enqueues a retry task for each under a fresh page job id. A retry is
// only enqueued while the page bytes are still reachable; once both the
// split artifact and the original upload are gone the page stays
// PENDING for manual recovery instead of burning its retry budget.
func (m *Monitor) AutoRetryPages(ctx context.Context) (int, error) {
	maxRetries := m.config.Monitor.MaxRetryCount
	failed, err := m.pages.FindFailedPagesForRetry(ctx, maxRetries, m.config.Monitor.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to find retryable pages: %w", err)
	}

	count := 0
	for _, page := range failed {
		newPageJobID := common.NewJobID()
		err := m.pages.ResetPageForRetry(ctx, page.JobID, page.PageNumber, newPageJobID, maxRetries)
		if errors.Is(err, models.ErrRetryExhausted) {
			continue
		}
		if err != nil {
			m.logger.Error().Err(err).Str("job_id", page.JobID).Int("page", page.PageNumber).Msg("Failed to reset page for retry")
			continue
		}
		if err := m.cache.SetPageJobByNumber(ctx, page.JobID, page.PageNumber, newPageJobID); err != nil {
			m.logger.Warn().Err(err).Str("job_id", page.JobID).Msg("Failed to re-map page job id")
		}

		main, gerr := m.jobs.GetJob(ctx, page.JobID)
		if gerr != nil {
			m.logger.Error().Err(gerr).Str("job_id", page.JobID).Int("page", page.PageNumber).Msg("Failed to load parent for page retry")
			continue
		}
		if !m.pageSourceExists(ctx, page, main) {
			m.logger.Error().
				Str("job_id", page.JobID).
				Int("page", page.PageNumber).
				Msg("Page artifact and original upload are gone, requires manual retry")
			continue
		}

		pageJob := models.NewChildJob(newPageJobID, models.JobTypePage, page.JobID)
		pageJob.PageNumber = page.PageNumber
		pageJob.UserID = main.UserID
		if err := m.jobs.SaveJob(ctx, pageJob); err != nil {
			m.logger.Error().Err(err).Str("job_id", page.JobID).Int("page", page.PageNumber).Msg("Failed to create retry page job")
			continue
		}
		if err := m.cache.AddChild(ctx, page.JobID, models.RolePage, newPageJobID); err != nil {
			m.logger.Warn().Err(err).Str("job_id", page.JobID).Msg("Failed to register retry page child")
		}

		msg, err := models.NewTaskMessage(models.TaskRetryPage, 0, models.RetryPagePayload{
			PageJobID:  newPageJobID,
			ParentID:   page.JobID,
			PageNumber: page.PageNumber,
		})
		if err != nil {
			m.logger.Error().Err(err).Str("job_id", page.JobID).Msg("Failed to build retry message")
			continue
		}
		if err := m.queue.Enqueue(ctx, msg); err != nil {
			m.logger.Error().Err(err).Str("job_id", page.JobID).Msg("Failed to enqueue page retry")
			continue
		}
		count++

		m.logger.Info().
			Str("job_id", page.JobID).
			Int("page", page.PageNumber).
			Int("retry_count", page.RetryCount+1).
			Msg("Failed page scheduled for automatic retry")
	}
	return count, nil
}

// pageSourceExists reports whether a retry can still reach the page
// bytes, through the split artifact or the original upload.
func (m *Monitor) pageSourceExists(ctx context.Context, page *models.Page, main *models.Job) bool {
	if page.BlobKey != "" {
		if ok, _ := m.blobs.Exists(ctx, page.BlobKey); ok {
			return true
		}
	}
	if main.UploadObjectKey != "" {
		if ok, _ := m.blobs.Exists(ctx, main.UploadObjectKey); ok {
			return true
		}
	}
	return false
}

// RunCleanup purges cache keys and intermediate page artifacts for
// terminal MAIN jobs completed before cutoff. Metadata rows and stored
// results are preserved.
func (m *Monitor) RunCleanup(ctx context.Context, cutoff time.Time) (int, error) {
	expired, err := m.jobs.FindExpiredJobs(ctx, cutoff, m.config.Monitor.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to find expired jobs: %w", err)
	}

	count := 0
	for _, job := range expired {
		if err := m.cache.DeleteJobKeys(ctx, job.ID); err != nil {
			m.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to purge cache keys")
			continue
		}
		if err := m.blobs.DeletePrefix(ctx, blob.BucketPages+"/"+job.ID); err != nil {
			m.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to delete page artifacts")
		}
		scratch := filepath.Join(m.config.Storage.Blob.ScratchRoot, job.ID)
		if err := os.RemoveAll(scratch); err != nil {
			m.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to remove scratch directory")
		}
		count++
	}

	if count > 0 {
		m.logger.Info().Int("jobs", count).Str("cutoff", cutoff.Format(time.RFC3339)).Msg("Cleanup sweep completed")
	}
	return count, nil
}

// healthBeat logs a one-line system summary every minute.
func (m *Monitor) healthBeat() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	jobCounts, err := m.jobs.CountByStatus(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Health beat failed to count jobs")
		return
	}
	queueLength, err := m.queue.GetQueueLength(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Health beat failed to read queue length")
		return
	}

	m.logger.Info().
		Int("processing", jobCounts[models.StatusProcessing]).
		Int("queued", jobCounts[models.StatusQueued]).
		Int("failed", jobCounts[models.StatusFailed]).
		Int("queue_length", queueLength).
		Msg("Health beat")
}

// mirrorFailure projects a monitor-initiated failure into the cache.
func (m *Monitor) mirrorFailure(ctx context.Context, job *models.Job, errMsg string) {
	rec := &models.StatusRecord{
		JobID:       job.ID,
		Type:        job.Type,
		Status:      models.StatusFailed,
		Progress:    job.ProgressPercent,
		Name:        job.Name,
		PageNumber:  job.PageNumber,
		ParentJobID: job.ParentID,
		StartedAt:   job.StartedAt,
		CompletedAt: time.Now().UTC(),
		Error:       errMsg,
	}
	if err := m.cache.PutStatus(ctx, rec); err != nil {
		m.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to mirror stuck failure to cache")
	}
}
