// -----------------------------------------------------------------------
// Pipeline - Task handlers for the MAIN/SPLIT/PAGE/MERGE hierarchy
// -----------------------------------------------------------------------

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quill/internal/common"
	"github.com/ternarybob/quill/internal/interfaces"
	"github.com/ternarybob/quill/internal/models"
)

// Pipeline owns the conversion task handlers. Every state change goes
// to the metadata store first, then the status cache; a crash between
// the two can only leave the cache stale.
type Pipeline struct {
	jobs        interfaces.JobStorage
	pages       interfaces.PageStorage
	cache       interfaces.StatusCache
	queue       interfaces.QueueManager
	blobs       interfaces.BlobStore
	converter   interfaces.Converter
	transcriber interfaces.Transcriber
	splitter    interfaces.PageSplitter
	resolver    interfaces.SourceResolver
	index       interfaces.ResultIndex
	config      *common.Config
	logger      arbor.ILogger
}

// New wires a pipeline.
func New(
	jobs interfaces.JobStorage,
	pages interfaces.PageStorage,
	cache interfaces.StatusCache,
	queue interfaces.QueueManager,
	blobs interfaces.BlobStore,
	converter interfaces.Converter,
	transcriber interfaces.Transcriber,
	splitter interfaces.PageSplitter,
	resolver interfaces.SourceResolver,
	index interfaces.ResultIndex,
	config *common.Config,
	logger arbor.ILogger,
) *Pipeline {
	return &Pipeline{
		jobs:        jobs,
		pages:       pages,
		cache:       cache,
		queue:       queue,
		blobs:       blobs,
		converter:   converter,
		transcriber: transcriber,
		splitter:    splitter,
		resolver:    resolver,
		index:       index,
		config:      config,
		logger:      logger,
	}
}

// RegisterHandlers binds the task handlers to the worker pool.
func (p *Pipeline) RegisterHandlers(pool interfaces.WorkerPool) {
	pool.RegisterHandler(models.TaskConvertDocument, p.HandleConvertDocument)
	pool.RegisterHandler(models.TaskSplitDocument, p.HandleSplitDocument)
	pool.RegisterHandler(models.TaskConvertPage, p.HandleConvertPage)
	pool.RegisterHandler(models.TaskRetryPage, p.HandleRetryPage)
	pool.RegisterHandler(models.TaskMergePages, p.HandleMergePages)
}

// scratchDir returns the per-MAIN working directory.
func (p *Pipeline) scratchDir(mainID string) string {
	return filepath.Join(p.config.Storage.Blob.ScratchRoot, mainID)
}

// materialize copies a blob to the scratch directory and returns the
// local path. Converters and the splitter need real files.
func (p *Pipeline) materialize(ctx context.Context, mainID, key string) (string, error) {
	data, err := p.blobs.GetBytes(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to fetch blob %s: %w", key, err)
	}

	dir := p.scratchDir(mainID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create scratch directory: %w", err)
	}

	path := filepath.Join(dir, filepath.Base(key))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write scratch file: %w", err)
	}
	return path, nil
}

// cleanupScratch removes the per-MAIN working directory.
func (p *Pipeline) cleanupScratch(mainID string) {
	if err := os.RemoveAll(p.scratchDir(mainID)); err != nil {
		p.logger.Warn().Err(err).Str("job_id", mainID).Msg("Failed to remove scratch directory")
	}
}

// updateJobStatus flips a job's status in the metadata store and
// mirrors the change into the status cache.
func (p *Pipeline) updateJobStatus(ctx context.Context, job *models.Job, status models.JobStatus, errMsg string) error {
	if err := p.jobs.UpdateJobStatus(ctx, job.ID, status, errMsg); err != nil {
		return err
	}
	job.Status = status
	job.ErrorMessage = errMsg
	p.mirrorStatus(ctx, job)
	return nil
}

// mirrorStatus projects a job row into the status cache.
func (p *Pipeline) mirrorStatus(ctx context.Context, job *models.Job) {
	rec := &models.StatusRecord{
		JobID:       job.ID,
		Type:        job.Type,
		Status:      job.Status,
		Progress:    job.ProgressPercent,
		Name:        job.Name,
		PageNumber:  job.PageNumber,
		ParentJobID: job.ParentID,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		Error:       job.ErrorMessage,
	}
	if err := p.cache.PutStatus(ctx, rec); err != nil {
		p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to mirror status to cache")
	}
}

// setProgress advances a job's progress in both stores.
func (p *Pipeline) setProgress(ctx context.Context, jobID string, progress int) {
	if err := p.jobs.UpdateProgress(ctx, jobID, progress); err != nil {
		p.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to persist progress")
	}
	if err := p.cache.UpdateProgress(ctx, jobID, progress); err != nil {
		p.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to cache progress")
	}
}

// parentCancelled reports whether a MAIN has been cancelled. Child
// tasks check this before starting work.
func (p *Pipeline) parentCancelled(ctx context.Context, mainID string) bool {
	if rec, err := p.cache.GetStatus(ctx, mainID); err == nil {
		return rec.Status == models.StatusCancelled
	}
	job, err := p.jobs.GetJob(ctx, mainID)
	if err != nil {
		return false
	}
	return job.Status == models.StatusCancelled
}

// softContext applies the soft conversion deadline.
func (p *Pipeline) softContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.config.SoftTimeout())
}

// wrapConvertErr keeps soft-deadline expiries distinguishable from
// generic converter failures in the recorded error message.
func (p *Pipeline) wrapConvertErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s exceeded soft time limit (%.0fs)", op, p.config.SoftTimeout().Seconds())
	}
	return fmt.Errorf("%s failed: %w", op, err)
}

// retryOrFail re-enqueues a failed task with exponential backoff, or
// returns false once attempts are exhausted.
func (p *Pipeline) retryOrFail(ctx context.Context, msg *models.TaskMessage, cause error) bool {
	if msg.Attempt+1 >= maxAttempts(msg.Task) {
		return false
	}

	delay := retryBackoff(msg.Task, msg.Attempt)
	next := &models.TaskMessage{
		Task:    msg.Task,
		Attempt: msg.Attempt + 1,
		Payload: msg.Payload,
	}
	if err := p.queue.EnqueueWithDelay(ctx, next, delay); err != nil {
		p.logger.Error().Err(err).Str("task", msg.Task).Msg("Failed to re-enqueue for retry")
		return false
	}

	p.logger.Warn().
		Err(cause).
		Str("task", msg.Task).
		Int("next_attempt", next.Attempt).
		Dur("delay", delay).
		Msg("Task failed, retry scheduled")
	return true
}

// maxAttempts returns the delivery ceiling per task family.
func maxAttempts(task string) int {
	switch task {
	case models.TaskConvertDocument:
		return 4 // initial + 3 retries
	case models.TaskSplitDocument, models.TaskMergePages:
		return 3 // initial + 2 retries
	case models.TaskConvertPage, models.TaskRetryPage:
		return 4 // initial + 3 retries
	}
	return 1
}

// retryBackoff returns the delay before re-delivery of a failed task.
func retryBackoff(task string, attempt int) time.Duration {
	base := 30 * time.Second
	if task == models.TaskConvertDocument {
		base = 60 * time.Second
	}
	return base * (1 << attempt)
}
