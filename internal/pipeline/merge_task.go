// -----------------------------------------------------------------------
// Merge Task - MERGE job: assemble page results into the final document
// -----------------------------------------------------------------------

package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/quill/internal/models"
)

// pageSeparator joins page markdown blocks in the merged document.
const pageSeparator = "\n\n---\n\n"

// HandleMergePages is the MERGE task handler. Failed pages never block
// the merge; a MAIN whose pages all failed still completes, with empty
// content and pages_failed equal to the page count. FAILED is reserved
// for system-level trouble in the merge itself.
func (p *Pipeline) HandleMergePages(ctx context.Context, msg *models.TaskMessage) error {
	var payload models.MergePagesPayload
	if err := msg.DecodePayload(&payload); err != nil {
		return fmt.Errorf("invalid merge_pages payload: %w", err)
	}

	mergeJob, err := p.jobs.GetJob(ctx, payload.MergeID)
	if err != nil {
		return fmt.Errorf("merge job %s not found: %w", payload.MergeID, err)
	}
	if mergeJob.IsTerminal() {
		return nil
	}

	if p.parentCancelled(ctx, payload.ParentID) {
		p.logger.Info().Str("job_id", payload.ParentID).Msg("Parent cancelled, skipping merge")
		return p.updateJobStatus(ctx, mergeJob, models.StatusCancelled, "")
	}

	if err := p.updateJobStatus(ctx, mergeJob, models.StatusProcessing, ""); err != nil {
		return err
	}

	if err := p.runMerge(ctx, mergeJob, payload.ParentID); err != nil {
		if p.retryOrFail(ctx, msg, err) {
			return nil
		}
		if ferr := p.updateJobStatus(ctx, mergeJob, models.StatusFailed, err.Error()); ferr != nil {
			p.logger.Error().Err(ferr).Str("job_id", mergeJob.ID).Msg("Failed to mark merge job failed")
		}
		if main, gerr := p.jobs.GetJob(ctx, payload.ParentID); gerr == nil {
			p.failMain(ctx, main, fmt.Sprintf("Result merging failed: %s", err.Error()))
		}
		return err
	}
	return nil
}

func (p *Pipeline) runMerge(ctx context.Context, mergeJob *models.Job, mainID string) error {
	main, err := p.jobs.GetJob(ctx, mainID)
	if err != nil {
		return fmt.Errorf("main job %s not found: %w", mainID, err)
	}

	pages, err := p.allPages(ctx, mainID)
	if err != nil {
		return err
	}

	var blocks []string
	completed := 0
	words := 0
	for _, page := range pages {
		if page.Status != models.StatusCompleted {
			continue
		}
		completed++
		blocks = append(blocks, page.MarkdownContent)
		words += len(strings.Fields(page.MarkdownContent))
	}

	if main.PagesFailed > 0 {
		p.logger.Warn().
			Str("job_id", mainID).
			Int("pages_completed", completed).
			Int("pages_failed", main.PagesFailed).
			Msg("Merging with failed pages omitted")
	}

	result := &models.ConversionResult{
		Markdown: strings.Join(blocks, pageSeparator),
		Metadata: models.ResultMetadata{
			Pages:     len(pages),
			Words:     words,
			Format:    "pdf",
			SizeBytes: 0,
		},
	}

	if err := p.completeMain(ctx, main, result); err != nil {
		return err
	}
	return p.updateJobStatus(ctx, mergeJob, models.StatusCompleted, "")
}

// allPages reads every page row of a MAIN in page order.
func (p *Pipeline) allPages(ctx context.Context, mainID string) ([]*models.Page, error) {
	const batch = 200
	var all []*models.Page
	for offset := 0; ; offset += batch {
		pages, err := p.pages.ListPages(ctx, mainID, offset, batch)
		if err != nil {
			return nil, fmt.Errorf("failed to list pages for %s: %w", mainID, err)
		}
		all = append(all, pages...)
		if len(pages) < batch {
			return all, nil
		}
	}
}
