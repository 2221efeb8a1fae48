package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/quill/internal/models"
)

// SystemStats is a point-in-time operational snapshot.
type SystemStats struct {
	JobsByStatus  map[models.JobStatus]int `json:"jobs_by_status"`
	PagesByStatus map[models.JobStatus]int `json:"pages_by_status"`
	QueueLength   int                      `json:"queue_length"`
	StuckJobs     int                      `json:"stuck_jobs"`
}

// AdminService exposes operator hooks over the monitor's sweeps. The
// sweeps themselves run on the monitor's schedule; these entry points
// trigger the same logic on demand.
type AdminService interface {
	// ListStuckJobs returns jobs past the stuck threshold without
	// flipping them. threshold <= 0 uses the configured default.
	ListStuckJobs(ctx context.Context, threshold time.Duration, limit int) ([]*models.Job, error)

	// TriggerStuckRecovery runs one stuck sweep immediately and returns
	// the number of jobs and pages marked failed. threshold <= 0 uses
	// the configured default.
	TriggerStuckRecovery(ctx context.Context, threshold time.Duration) (jobs, pages int, err error)

	// BulkRetryFailedPages re-enqueues retryable failed pages across
	// all jobs, up to limit. Returns the number re-enqueued.
	BulkRetryFailedPages(ctx context.Context, limit int) (int, error)

	// Cleanup runs one retention sweep immediately and returns the
	// number of jobs whose cache keys were purged. days <= 0 uses the
	// configured retention horizon.
	Cleanup(ctx context.Context, days int) (int, error)

	Stats(ctx context.Context) (*SystemStats, error)
}
