// -----------------------------------------------------------------------
// Status Cache Interface - Fast read path for polling and fan-in state
// -----------------------------------------------------------------------

package interfaces

import (
	"context"

	"github.com/ternarybob/quill/internal/models"
)

// StatusCache is the fast key-value projection of job state. Readers
// poll it instead of the metadata store. Writers update the metadata
// store first, then mirror here; a crash between the two leaves the
// cache stale, never the store.
type StatusCache interface {
	// PutStatus writes the full status record for a job.
	PutStatus(ctx context.Context, rec *models.StatusRecord) error

	// GetStatus returns the cached record or models.ErrNotFound.
	GetStatus(ctx context.Context, jobID string) (*models.StatusRecord, error)

	// UpdateProgress updates progress_percent on the cached record.
	// Missing records are tolerated.
	UpdateProgress(ctx context.Context, jobID string, progress int) error

	// SetOwner records which user submitted a job.
	SetOwner(ctx context.Context, jobID, userID string) error

	// VerifyOwner returns models.ErrOwnershipDenied when jobID does not
	// belong to userID, models.ErrNotFound when no owner is recorded.
	VerifyOwner(ctx context.Context, jobID, userID string) error

	// AddUserJob appends a job id to the user's job listing.
	AddUserJob(ctx context.Context, userID, jobID string) error
	ListUserJobs(ctx context.Context, userID string) ([]string, error)

	// AddChild registers a child job id under its MAIN, keyed by role.
	AddChild(ctx context.Context, mainID string, role models.ChildRole, childID string) error
	GetChildren(ctx context.Context, mainID string, role models.ChildRole) ([]string, error)

	// SetMergeChild registers the merge child id only when no merge
	// child exists yet. Returns won=true for the caller that created
	// the slot. This is the fan-in gate: exactly one aggregator wins.
	SetMergeChild(ctx context.Context, mainID, mergeID string) (won bool, existing string, err error)
	GetMergeChild(ctx context.Context, mainID string) (string, error)

	// SetPagesTotal records the expected page count for a MAIN.
	SetPagesTotal(ctx context.Context, mainID string, total int) error
	GetPagesTotal(ctx context.Context, mainID string) (int, error)

	// SetPageJobByNumber maps (mainID, pageNumber) to the current page
	// job id. Re-mapped on page retry.
	SetPageJobByNumber(ctx context.Context, mainID string, pageNumber int, pageJobID string) error
	GetPageJobByNumber(ctx context.Context, mainID string, pageNumber int) (string, error)

	// SetResult caches the final markdown and metadata for a job.
	SetResult(ctx context.Context, jobID string, result *models.ConversionResult) error
	GetResult(ctx context.Context, jobID string) (*models.ConversionResult, error)

	// DeleteJobKeys removes every cache key belonging to a job and its
	// children. Used by the cleanup sweep; metadata rows are untouched.
	DeleteJobKeys(ctx context.Context, mainID string) error

	// RunGC reclaims value log space after a cleanup sweep.
	RunGC() error

	Close() error
}
