// -----------------------------------------------------------------------
// Aggregator - fan-in: enqueue the merge exactly once per MAIN
// -----------------------------------------------------------------------

package pipeline

import (
	"context"

	"github.com/ternarybob/quill/internal/common"
	"github.com/ternarybob/quill/internal/models"
)

// CheckFanIn runs after every terminal page event. When every page of
// the MAIN has reached a terminal state it claims the merge slot in the
// status cache; the set-if-absent slot guarantees that concurrent page
// workers enqueue exactly one merge.
func (p *Pipeline) CheckFanIn(ctx context.Context, mainID string) {
	main, err := p.jobs.GetJob(ctx, mainID)
	if err != nil {
		p.logger.Warn().Err(err).Str("job_id", mainID).Msg("Fan-in check failed to read main")
		return
	}
	if main.IsTerminal() {
		return
	}

	total, err := p.cache.GetPagesTotal(ctx, mainID)
	if err != nil || total <= 0 {
		total = main.TotalPages
	}
	if total <= 0 {
		return
	}
	if main.PagesCompleted+main.PagesFailed < total {
		return
	}

	mergeID := common.NewJobID()
	won, existing, err := p.cache.SetMergeChild(ctx, mainID, mergeID)
	if err != nil {
		p.logger.Error().Err(err).Str("job_id", mainID).Msg("Failed to claim merge slot")
		return
	}
	if !won {
		p.logger.Debug().
			Str("job_id", mainID).
			Str("merge_id", existing).
			Msg("Merge already claimed")
		return
	}

	mergeJob := models.NewChildJob(mergeID, models.JobTypeMerge, mainID)
	mergeJob.UserID = main.UserID
	if err := p.jobs.SaveJob(ctx, mergeJob); err != nil {
		p.logger.Error().Err(err).Str("job_id", mainID).Msg("Failed to create merge job")
		return
	}
	p.mirrorStatus(ctx, mergeJob)
	if err := p.cache.AddChild(ctx, mainID, models.RoleMerge, mergeID); err != nil {
		p.logger.Warn().Err(err).Str("job_id", mainID).Msg("Failed to register merge child")
	}

	msg, err := models.NewTaskMessage(models.TaskMergePages, 0, models.MergePagesPayload{
		MergeID:  mergeID,
		ParentID: mainID,
	})
	if err != nil {
		p.logger.Error().Err(err).Str("job_id", mainID).Msg("Failed to build merge message")
		return
	}
	if err := p.queue.Enqueue(ctx, msg); err != nil {
		p.logger.Error().Err(err).Str("job_id", mainID).Msg("Failed to enqueue merge task")
		return
	}

	p.logger.Info().
		Str("job_id", mainID).
		Str("merge_id", mergeID).
		Int("pages_completed", main.PagesCompleted).
		Int("pages_failed", main.PagesFailed).
		Msg("All pages terminal, merge enqueued")
}
