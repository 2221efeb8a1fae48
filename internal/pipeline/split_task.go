// -----------------------------------------------------------------------
// Split Task - SPLIT job: page extraction and PAGE fan-out
// -----------------------------------------------------------------------

package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/quill/internal/blob"
	"github.com/ternarybob/quill/internal/common"
	"github.com/ternarybob/quill/internal/models"
)

// HandleSplitDocument is the SPLIT task handler. It extracts one PDF
// per page, registers the page rows and fans out one PAGE task per
// page.
func (p *Pipeline) HandleSplitDocument(ctx context.Context, msg *models.TaskMessage) error {
	var payload models.SplitDocumentPayload
	if err := msg.DecodePayload(&payload); err != nil {
		return fmt.Errorf("invalid split_document payload: %w", err)
	}

	splitJob, err := p.jobs.GetJob(ctx, payload.SplitID)
	if err != nil {
		return fmt.Errorf("split job %s not found: %w", payload.SplitID, err)
	}
	if splitJob.IsTerminal() {
		return nil
	}

	if p.parentCancelled(ctx, payload.ParentID) {
		p.logger.Info().Str("job_id", payload.ParentID).Msg("Parent cancelled, skipping split")
		return p.updateJobStatus(ctx, splitJob, models.StatusCancelled, "")
	}

	if err := p.updateJobStatus(ctx, splitJob, models.StatusProcessing, ""); err != nil {
		return err
	}

	if err := p.runSplit(ctx, splitJob, &payload); err != nil {
		if p.retryOrFail(ctx, msg, err) {
			return nil
		}
		if ferr := p.updateJobStatus(ctx, splitJob, models.StatusFailed, err.Error()); ferr != nil {
			p.logger.Error().Err(ferr).Str("job_id", splitJob.ID).Msg("Failed to mark split job failed")
		}
		if main, gerr := p.jobs.GetJob(ctx, payload.ParentID); gerr == nil {
			p.failMain(ctx, main, fmt.Sprintf("Document splitting failed: %s", err.Error()))
		}
		return err
	}
	return nil
}

func (p *Pipeline) runSplit(ctx context.Context, splitJob *models.Job, payload *models.SplitDocumentPayload) error {
	mainID := payload.ParentID

	localPath := payload.FilePath
	if _, err := os.Stat(localPath); err != nil {
		// Scratch file may be gone after a re-delivery. Rebuild it from
		// the upload blob.
		main, gerr := p.jobs.GetJob(ctx, mainID)
		if gerr != nil {
			return fmt.Errorf("main job %s not found: %w", mainID, gerr)
		}
		localPath, err = p.materialize(ctx, mainID, main.UploadObjectKey)
		if err != nil {
			return err
		}
	}

	pagesDir := filepath.Join(p.scratchDir(mainID), "pages")
	artifacts, err := p.splitter.Split(ctx, localPath, pagesDir)
	if err != nil {
		return fmt.Errorf("page extraction failed: %w", err)
	}
	total := len(artifacts)

	if err := p.jobs.SetTotalPages(ctx, mainID, total); err != nil {
		return fmt.Errorf("failed to record page count: %w", err)
	}
	if err := p.cache.SetPagesTotal(ctx, mainID, total); err != nil {
		p.logger.Warn().Err(err).Str("job_id", mainID).Msg("Failed to cache page count")
	}

	main, err := p.jobs.GetJob(ctx, mainID)
	if err != nil {
		return fmt.Errorf("main job %s not found: %w", mainID, err)
	}

	for _, artifact := range artifacts {
		if err := p.fanOutPage(ctx, main, artifact, &payload.Options); err != nil {
			return err
		}
	}

	p.setProgress(ctx, mainID, progressSplit)

	if err := p.updateJobStatus(ctx, splitJob, models.StatusCompleted, ""); err != nil {
		return err
	}

	p.logger.Info().
		Str("job_id", mainID).
		Str("split_id", splitJob.ID).
		Int("total_pages", total).
		Msg("Split completed, pages fanned out")
	return nil
}

// fanOutPage stores one page artifact, creates its page row and PAGE
// job record, and enqueues the page task.
func (p *Pipeline) fanOutPage(ctx context.Context, main *models.Job, artifact models.PageArtifact, opts *models.ConvertOptions) error {
	pageKey := blob.PageKey(main.ID, artifact.PageNumber)
	f, err := os.Open(artifact.LocalPath)
	if err != nil {
		return fmt.Errorf("failed to open page %d artifact: %w", artifact.PageNumber, err)
	}
	putErr := p.blobs.Put(ctx, pageKey, f)
	f.Close()
	if putErr != nil {
		return fmt.Errorf("failed to store page %d artifact: %w", artifact.PageNumber, putErr)
	}

	// On a re-delivered split the page row already exists. Reuse its
	// page job id so the cache mapping and the row never diverge.
	var pageJobID string
	if existing, err := p.pages.GetPage(ctx, main.ID, artifact.PageNumber); err == nil {
		pageJobID = existing.PageJobID
	} else {
		pageJob := models.NewChildJob(common.NewJobID(), models.JobTypePage, main.ID)
		pageJob.UserID = main.UserID
		pageJob.PageNumber = artifact.PageNumber
		if err := p.jobs.SaveJob(ctx, pageJob); err != nil {
			return fmt.Errorf("failed to create page job: %w", err)
		}
		p.mirrorStatus(ctx, pageJob)
		pageJobID = pageJob.ID

		page := models.NewPage(common.NewPageID(), main.ID, artifact.PageNumber, pageJob.ID, pageKey)
		if err := p.pages.CreatePage(ctx, page); err != nil {
			return fmt.Errorf("failed to create page row: %w", err)
		}
	}

	if err := p.cache.AddChild(ctx, main.ID, models.RolePage, pageJobID); err != nil {
		p.logger.Warn().Err(err).Str("job_id", main.ID).Msg("Failed to register page child")
	}
	if err := p.cache.SetPageJobByNumber(ctx, main.ID, artifact.PageNumber, pageJobID); err != nil {
		p.logger.Warn().Err(err).Str("job_id", main.ID).Msg("Failed to map page job id")
	}

	taskMsg, err := models.NewTaskMessage(models.TaskConvertPage, 0, models.ConvertPagePayload{
		PageJobID:    pageJobID,
		ParentID:     main.ID,
		PageNumber:   artifact.PageNumber,
		PageFilePath: artifact.LocalPath,
		Options:      *opts,
	})
	if err != nil {
		return err
	}
	if err := p.queue.Enqueue(ctx, taskMsg); err != nil {
		return fmt.Errorf("failed to enqueue page %d: %w", artifact.PageNumber, err)
	}
	return nil
}
