// -----------------------------------------------------------------------
// Page Task - PAGE job: convert one split page to Markdown
// -----------------------------------------------------------------------

package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/quill/internal/blob"
	"github.com/ternarybob/quill/internal/models"
)

// HandleConvertPage is the PAGE task handler.
func (p *Pipeline) HandleConvertPage(ctx context.Context, msg *models.TaskMessage) error {
	var payload models.ConvertPagePayload
	if err := msg.DecodePayload(&payload); err != nil {
		return fmt.Errorf("invalid convert_page payload: %w", err)
	}
	return p.processPage(ctx, msg, payload.PageJobID, payload.ParentID, payload.PageNumber, payload.PageFilePath, &payload.Options)
}

// HandleRetryPage is the page retry entry point. The split artifact may
// be gone by the time a retry runs, so this path re-extracts the page
// from the original upload when needed.
func (p *Pipeline) HandleRetryPage(ctx context.Context, msg *models.TaskMessage) error {
	var payload models.RetryPagePayload
	if err := msg.DecodePayload(&payload); err != nil {
		return fmt.Errorf("invalid retry_page payload: %w", err)
	}
	return p.processPage(ctx, msg, payload.PageJobID, payload.ParentID, payload.PageNumber, "", &payload.Options)
}

func (p *Pipeline) processPage(ctx context.Context, msg *models.TaskMessage, pageJobID, mainID string, pageNumber int, localPath string, opts *models.ConvertOptions) error {
	page, err := p.pages.GetPage(ctx, mainID, pageNumber)
	if err != nil {
		return fmt.Errorf("page %d of %s not found: %w", pageNumber, mainID, err)
	}
	if page.PageJobID != pageJobID {
		// A retry superseded this delivery under a new page job id.
		p.logger.Debug().
			Str("job_id", mainID).
			Int("page", pageNumber).
			Str("page_job_id", pageJobID).
			Msg("Stale page task, skipping")
		return nil
	}
	if page.Status == models.StatusCompleted {
		p.CheckFanIn(ctx, mainID)
		return nil
	}

	if p.parentCancelled(ctx, mainID) {
		p.logger.Info().Str("job_id", mainID).Int("page", pageNumber).Msg("Parent cancelled, skipping page")
		return p.markPageJob(ctx, pageJobID, models.StatusCancelled, "")
	}

	main, err := p.jobs.GetJob(ctx, mainID)
	if err != nil {
		return fmt.Errorf("main job %s not found: %w", mainID, err)
	}

	if err := p.pages.MarkPageProcessing(ctx, mainID, pageNumber); err != nil {
		return err
	}
	if err := p.markPageJob(ctx, pageJobID, models.StatusProcessing, ""); err != nil {
		p.logger.Warn().Err(err).Str("page_job_id", pageJobID).Msg("Failed to mark page job processing")
	}

	if err := p.convertPage(ctx, main, page, localPath, opts); err != nil {
		if p.retryOrFail(ctx, msg, err) {
			return nil
		}
		p.failPage(ctx, page, pageJobID, err.Error())
		return nil
	}

	if err := p.markPageJob(ctx, pageJobID, models.StatusCompleted, ""); err != nil {
		p.logger.Warn().Err(err).Str("page_job_id", pageJobID).Msg("Failed to complete page job record")
	}
	p.advanceMainProgress(ctx, mainID)
	p.CheckFanIn(ctx, mainID)
	return nil
}

// convertPage runs the conversion for one page row and records the
// result.
func (p *Pipeline) convertPage(ctx context.Context, main *models.Job, page *models.Page, localPath string, opts *models.ConvertOptions) error {
	path, err := p.pageFile(ctx, main, page, localPath)
	if err != nil {
		return err
	}

	softCtx, cancel := p.softContext(ctx)
	defer cancel()

	result, err := p.converter.Convert(softCtx, path, opts)
	if err != nil {
		return p.wrapConvertErr(fmt.Sprintf("page %d conversion", page.PageNumber), err)
	}

	resultKey := blob.PageResultKey(page.JobID, page.PageNumber)
	if err := p.blobs.PutBytes(ctx, resultKey, []byte(result.Markdown)); err != nil {
		return fmt.Errorf("failed to store page %d result: %w", page.PageNumber, err)
	}

	if err := p.pages.MarkPageCompleted(ctx, page.JobID, page.PageNumber, result.Markdown, true); err != nil {
		return fmt.Errorf("failed to mark page %d completed: %w", page.PageNumber, err)
	}

	// Stage the page result under its page job id so page-level reads
	// skip the metadata store.
	if err := p.cache.SetResult(ctx, page.PageJobID, result); err != nil {
		p.logger.Warn().Err(err).Str("page_job_id", page.PageJobID).Msg("Failed to cache page result")
	}

	if err := p.index.IndexResult(ctx, page.JobID, main.UserID, main.Filename, page.PageNumber, result.Markdown); err != nil {
		p.logger.Warn().Err(err).Str("job_id", page.JobID).Int("page", page.PageNumber).Msg("Failed to index page result")
	}

	p.logger.Info().
		Str("job_id", page.JobID).
		Int("page", page.PageNumber).
		Int("char_count", len(result.Markdown)).
		Msg("Page completed")
	return nil
}

// pageFile resolves a local file for the page, in order: the scratch
// path from the payload, the split artifact blob, a fresh extraction
// from the original upload.
func (p *Pipeline) pageFile(ctx context.Context, main *models.Job, page *models.Page, localPath string) (string, error) {
	if localPath != "" {
		if _, err := os.Stat(localPath); err == nil {
			return localPath, nil
		}
	}

	if page.BlobKey != "" {
		if ok, _ := p.blobs.Exists(ctx, page.BlobKey); ok {
			return p.materialize(ctx, page.JobID, page.BlobKey)
		}
	}

	if ok, _ := p.blobs.Exists(ctx, main.UploadObjectKey); !ok {
		p.logger.Error().
			Str("job_id", page.JobID).
			Int("page", page.PageNumber).
			Msg("Page artifact and original upload are gone, requires manual retry")
		return "", fmt.Errorf("page %d source unavailable, requires manual retry", page.PageNumber)
	}

	uploadPath, err := p.materialize(ctx, page.JobID, main.UploadObjectKey)
	if err != nil {
		return "", err
	}
	outPath := filepath.Join(p.scratchDir(page.JobID), "pages", fmt.Sprintf("page_%04d.pdf", page.PageNumber))
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return "", err
	}
	if err := p.splitter.ExtractOne(ctx, uploadPath, page.PageNumber, outPath); err != nil {
		return "", fmt.Errorf("failed to re-extract page %d: %w", page.PageNumber, err)
	}
	return outPath, nil
}

// failPage records a terminal page failure. A failed page never blocks
// the merge, so the fan-in check still runs.
func (p *Pipeline) failPage(ctx context.Context, page *models.Page, pageJobID, errMsg string) {
	if err := p.pages.MarkPageFailed(ctx, page.JobID, page.PageNumber, errMsg); err != nil {
		p.logger.Error().Err(err).Str("job_id", page.JobID).Int("page", page.PageNumber).Msg("Failed to mark page failed")
	}
	if err := p.markPageJob(ctx, pageJobID, models.StatusFailed, errMsg); err != nil {
		p.logger.Warn().Err(err).Str("page_job_id", pageJobID).Msg("Failed to fail page job record")
	}
	p.CheckFanIn(ctx, page.JobID)
}

// markPageJob flips the PAGE job record in both stores.
func (p *Pipeline) markPageJob(ctx context.Context, pageJobID string, status models.JobStatus, errMsg string) error {
	pageJob, err := p.jobs.GetJob(ctx, pageJobID)
	if err != nil {
		return err
	}
	return p.updateJobStatus(ctx, pageJob, status, errMsg)
}

// advanceMainProgress maps the parent's completed-page counter onto
// the page progress band.
func (p *Pipeline) advanceMainProgress(ctx context.Context, mainID string) {
	main, err := p.jobs.GetJob(ctx, mainID)
	if err != nil {
		p.logger.Warn().Err(err).Str("job_id", mainID).Msg("Failed to read main for progress update")
		return
	}
	p.setProgress(ctx, mainID, pageBandProgress(main.PagesCompleted, main.TotalPages))
}
