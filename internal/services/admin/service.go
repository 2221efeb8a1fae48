// -----------------------------------------------------------------------
// Admin Service - operator hooks over the monitor's sweeps
// -----------------------------------------------------------------------

package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quill/internal/common"
	"github.com/ternarybob/quill/internal/interfaces"
	"github.com/ternarybob/quill/internal/models"
	"github.com/ternarybob/quill/internal/pipeline/monitor"
)

// Service implements interfaces.AdminService by delegating to the
// monitor's sweep logic on demand.
type Service struct {
	jobs    interfaces.JobStorage
	pages   interfaces.PageStorage
	queue   interfaces.QueueManager
	monitor *monitor.Monitor
	config  *common.Config
	logger  arbor.ILogger
}

var _ interfaces.AdminService = (*Service)(nil)

// NewService wires the admin service.
func NewService(
	jobs interfaces.JobStorage,
	pages interfaces.PageStorage,
	queue interfaces.QueueManager,
	mon *monitor.Monitor,
	config *common.Config,
	logger arbor.ILogger,
) *Service {
	return &Service{
		jobs:    jobs,
		pages:   pages,
		queue:   queue,
		monitor: mon,
		config:  config,
		logger:  logger,
	}
}

// ListStuckJobs returns jobs currently past the stuck threshold
// without flipping them. A positive threshold overrides the configured
// default for this call only.
func (s *Service) ListStuckJobs(ctx context.Context, threshold time.Duration, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = s.config.Monitor.BatchSize
	}
	cutoff := time.Now().UTC().Add(-s.stuckThreshold(threshold))
	return s.jobs.FindStuckJobs(ctx, cutoff, limit)
}

// TriggerStuckRecovery runs one stuck sweep immediately. A positive
// threshold overrides the configured default for this call only.
func (s *Service) TriggerStuckRecovery(ctx context.Context, threshold time.Duration) (int, int, error) {
	cutoff := time.Now().UTC().Add(-s.stuckThreshold(threshold))

	jobs, err := s.monitor.SweepStuckJobs(ctx, cutoff)
	if err != nil {
		return 0, 0, err
	}
	pages, err := s.monitor.SweepStuckPages(ctx, cutoff)
	if err != nil {
		return jobs, 0, err
	}

	s.logger.Info().
		Int("jobs", jobs).
		Int("pages", pages).
		Msg("Manual stuck recovery completed")
	return jobs, pages, nil
}

// BulkRetryFailedPages re-enqueues retryable failed pages across all
// jobs. One call handles at most the monitor's batch size; limit is
// advisory and callers repeat until the count drops to zero.
func (s *Service) BulkRetryFailedPages(ctx context.Context, limit int) (int, error) {
	count, err := s.monitor.AutoRetryPages(ctx)
	if err != nil {
		return 0, err
	}
	s.logger.Info().Int("pages", count).Msg("Bulk page retry completed")
	return count, nil
}

// Cleanup runs one retention sweep immediately. A positive days value
// overrides the configured retention horizon for this call only.
func (s *Service) Cleanup(ctx context.Context, days int) (int, error) {
	horizon := s.config.CleanupHorizon()
	if days > 0 {
		horizon = time.Duration(days) * 24 * time.Hour
	}
	cutoff := time.Now().UTC().Add(-horizon)
	return s.monitor.RunCleanup(ctx, cutoff)
}

// stuckThreshold applies a per-call override over the configured stuck
// threshold.
func (s *Service) stuckThreshold(override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	return s.config.StuckThreshold()
}

// Stats returns a point-in-time operational snapshot.
func (s *Service) Stats(ctx context.Context) (*interfaces.SystemStats, error) {
	jobCounts, err := s.jobs.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	pageCounts, err := s.pages.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count pages: %w", err)
	}
	queueLength, err := s.queue.GetQueueLength(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue length: %w", err)
	}

	cutoff := time.Now().UTC().Add(-s.config.StuckThreshold())
	stuck, err := s.jobs.FindStuckJobs(ctx, cutoff, s.config.Monitor.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to find stuck jobs: %w", err)
	}

	return &interfaces.SystemStats{
		JobsByStatus:  jobCounts,
		PagesByStatus: pageCounts,
		QueueLength:   queueLength,
		StuckJobs:     len(stuck),
	}, nil
}
