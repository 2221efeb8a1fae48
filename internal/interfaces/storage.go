// -----------------------------------------------------------------------
// Storage Interfaces - Metadata store gateways for jobs and pages
// -----------------------------------------------------------------------

package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/quill/internal/models"
)

// JobStorage persists Job rows in the metadata store. The metadata
// store is the system of record; the status cache is a projection.
type JobStorage interface {
	// SaveJob creates or updates a job row by id. Re-saving the same
	// job is a no-op, which keeps task retries idempotent.
	SaveJob(ctx context.Context, job *models.Job) error

	// UpdateJobStatus flips a job's status. Transitioning to PROCESSING
	// stamps started_at, terminal transitions stamp completed_at.
	UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, errorMessage string) error

	// UpdateProgress persists progress_percent. Progress never moves
	// backwards at this layer.
	UpdateProgress(ctx context.Context, jobID string, progress int) error

	// SetTotalPages records the page count discovered during splitting.
	SetTotalPages(ctx context.Context, jobID string, total int) error

	// UpdateResultMeta records char_count and has_result_stored once a
	// job's markdown output exists.
	UpdateResultMeta(ctx context.Context, jobID string, charCount int, hasResultStored bool) error

	GetJob(ctx context.Context, jobID string) (*models.Job, error)

	// FindChildren returns the direct children of a parent job,
	// optionally filtered by status ("" means all).
	FindChildren(ctx context.Context, parentID string, statusFilter models.JobStatus) ([]*models.Job, error)

	// FindMainByChecksum looks up an existing MAIN job by
	// (user_id, file_checksum) for the deduplication gate.
	FindMainByChecksum(ctx context.Context, userID, checksum string) (*models.Job, error)

	ListUserJobs(ctx context.Context, userID string, statusFilter models.JobStatus, offset, limit int) ([]*models.Job, error)

	// FindStuckJobs returns jobs PROCESSING since before cutoff.
	FindStuckJobs(ctx context.Context, cutoff time.Time, limit int) ([]*models.Job, error)

	// FindExpiredJobs returns terminal MAIN jobs completed before
	// cutoff, for the retention sweep.
	FindExpiredJobs(ctx context.Context, cutoff time.Time, limit int) ([]*models.Job, error)

	CountByStatus(ctx context.Context) (map[models.JobStatus]int, error)

	// DeleteCascade removes a MAIN job with all descendant jobs and
	// page rows in one transaction.
	DeleteCascade(ctx context.Context, mainID string) error
}

// PageStorage persists Page rows. Completion and failure marks
// recompute the parent's pages_completed / pages_failed counters with
// a COUNT query inside the same transaction that flips the page row,
// which keeps the counters exact under concurrent page workers.
type PageStorage interface {
	// CreatePage inserts a page row. Duplicate inserts from a re-run
	// split task are absorbed by the (job_id, page_number) constraint.
	CreatePage(ctx context.Context, page *models.Page) error

	GetPage(ctx context.Context, jobID string, pageNumber int) (*models.Page, error)
	ListPages(ctx context.Context, jobID string, offset, limit int) ([]*models.Page, error)

	MarkPageProcessing(ctx context.Context, jobID string, pageNumber int) error

	// MarkPageCompleted stores the page markdown and recomputes the
	// parent's completed counter.
	MarkPageCompleted(ctx context.Context, jobID string, pageNumber int, markdown string, hasResultStored bool) error

	// MarkPageFailed records the error and recomputes the parent's
	// failed counter.
	MarkPageFailed(ctx context.Context, jobID string, pageNumber int, errorMessage string) error

	// ResetPageForRetry flips a FAILED page back to PENDING under a new
	// page job id and increments retry_count. Returns
	// models.ErrRetryExhausted once retry_count has reached maxRetries.
	ResetPageForRetry(ctx context.Context, jobID string, pageNumber int, newPageJobID string, maxRetries int) error

	// FindStuckPages returns pages PROCESSING since before cutoff.
	// Page rows carry no started_at, so created_at is the reference.
	FindStuckPages(ctx context.Context, cutoff time.Time, limit int) ([]*models.Page, error)

	FindFailedPagesForRetry(ctx context.Context, maxRetries, limit int) ([]*models.Page, error)

	CountByStatus(ctx context.Context) (map[models.JobStatus]int, error)
}
