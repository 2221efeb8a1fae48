// -----------------------------------------------------------------------
// Job Service Interface - Submission gateway and read operations
// -----------------------------------------------------------------------

package interfaces

import (
	"context"

	"github.com/ternarybob/quill/internal/models"
)

// JobService is the public gateway: submissions, status reads, results,
// listing, search, retry, cancel and delete. Every read verifies the
// caller owns the job.
type JobService interface {
	// Submit validates a submission, applies the dedup gate, stores the
	// upload and enqueues the conversion task. A duplicate in-flight
	// submission returns the existing job with models.ErrDuplicateJob.
	Submit(ctx context.Context, sub *models.Submission) (*models.Job, error)

	// GetJob returns the cached status record, falling back to the
	// metadata store when the cache misses. For MAIN jobs the detail
	// carries a window of per-page sub-statuses selected by pageOffset
	// and pageLimit; pageLimit <= 0 applies a default window.
	GetJob(ctx context.Context, userID, jobID string, pageOffset, pageLimit int) (*models.JobDetail, error)

	// GetPageStatus returns the status of one page of a MAIN job.
	GetPageStatus(ctx context.Context, userID, mainID string, pageNumber int) (*models.StatusRecord, error)

	// GetResult returns the final merged markdown for a completed MAIN.
	GetResult(ctx context.Context, userID, mainID string) (*models.ConversionResult, error)

	// GetPageResult returns the markdown of a single completed page.
	GetPageResult(ctx context.Context, userID, mainID string, pageNumber int) (string, error)

	ListUserJobs(ctx context.Context, userID string, statusFilter models.JobStatus, offset, limit int) ([]*models.Job, error)

	// Search runs a full-text query over the caller's converted output.
	Search(ctx context.Context, userID, query string, limit int) ([]models.SearchHit, error)

	// RetryPage resets a failed page and re-enqueues its conversion.
	RetryPage(ctx context.Context, userID, mainID string, pageNumber int) error

	// Cancel marks a non-terminal MAIN cancelled. In-flight page tasks
	// observe the cancelled parent and stop.
	Cancel(ctx context.Context, userID, mainID string) error

	// Delete removes a terminal MAIN with all children, pages, cache
	// keys, index entries and blobs. Non-terminal jobs return
	// models.ErrNotTerminal.
	Delete(ctx context.Context, userID, mainID string) error
}
