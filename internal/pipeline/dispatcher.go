// -----------------------------------------------------------------------
// Dispatcher - MAIN task: route a submission through the pipeline
// -----------------------------------------------------------------------

package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/ternarybob/quill/internal/blob"
	"github.com/ternarybob/quill/internal/common"
	"github.com/ternarybob/quill/internal/models"
	"github.com/ternarybob/quill/internal/services/transcribe"
)

// HandleConvertDocument is the MAIN task handler. It routes the upload
// to the audio branch, the single-pass branch, or the split fan-out.
func (p *Pipeline) HandleConvertDocument(ctx context.Context, msg *models.TaskMessage) error {
	var payload models.ConvertDocumentPayload
	if err := msg.DecodePayload(&payload); err != nil {
		return fmt.Errorf("invalid convert_document payload: %w", err)
	}

	job, err := p.jobs.GetJob(ctx, payload.MainID)
	if err != nil {
		return fmt.Errorf("main job %s not found: %w", payload.MainID, err)
	}
	if job.IsTerminal() {
		p.logger.Debug().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("Skipping terminal main job")
		return nil
	}

	if err := p.updateJobStatus(ctx, job, models.StatusProcessing, ""); err != nil {
		return err
	}
	job.ProgressPercent = progressReceived
	p.setProgress(ctx, job.ID, progressReceived)

	if err := p.runConvertDocument(ctx, job, &payload); err != nil {
		if p.retryOrFail(ctx, msg, err) {
			return nil
		}
		p.failMain(ctx, job, err.Error())
		return err
	}
	return nil
}

func (p *Pipeline) runConvertDocument(ctx context.Context, job *models.Job, payload *models.ConvertDocumentPayload) error {
	opts := &payload.Options

	if job.UploadObjectKey == "" {
		if err := p.fetchSource(ctx, job, payload, opts); err != nil {
			return err
		}
	}

	localPath, err := p.materialize(ctx, job.ID, job.UploadObjectKey)
	if err != nil {
		return err
	}
	job.ProgressPercent = progressSplit
	p.setProgress(ctx, job.ID, progressSplit)

	if opts.IsAudio || job.SourceType == models.SourceAudio || models.IsAudioFilename(job.Filename) {
		return p.convertAudio(ctx, job, localPath, opts)
	}

	if strings.EqualFold(filepath.Ext(job.Filename), ".pdf") {
		split, pageCount, err := p.splitter.ShouldSplit(ctx, localPath)
		if err != nil {
			return fmt.Errorf("failed to inspect document: %w", err)
		}
		if split {
			return p.fanOut(ctx, job, localPath, pageCount, opts)
		}
	}

	return p.convertSinglePass(ctx, job, localPath, opts)
}

// fetchSource downloads a remote submission and records the upload key
// on the MAIN row. Remote fetch runs here, inside the MAIN task, so
// submission returns without touching the network.
func (p *Pipeline) fetchSource(ctx context.Context, job *models.Job, payload *models.ConvertDocumentPayload, opts *models.ConvertOptions) error {
	if p.resolver == nil || !p.resolver.Supports(job.SourceType) {
		return fmt.Errorf("no source handler for type %s", job.SourceType)
	}

	sub := &models.Submission{
		UserID:     job.UserID,
		SourceType: job.SourceType,
		SourceURL:  job.SourceURL,
		Filename:   job.Filename,
		AuthToken:  payload.AuthToken,
	}
	data, filename, err := p.resolver.Resolve(ctx, sub)
	if err != nil {
		return fmt.Errorf("source fetch failed: %w", err)
	}

	if job.Filename == "" {
		job.Filename = filename
	}
	if job.Name == "" {
		job.Name = job.Filename
	}

	key := blob.UploadKey(job.ID, job.Filename)
	if opts.IsAudio || job.SourceType == models.SourceAudio || models.IsAudioFilename(job.Filename) {
		key = blob.AudioKey(job.ID, job.Filename)
	}
	if err := p.blobs.PutBytes(ctx, key, data); err != nil {
		return fmt.Errorf("failed to store fetched source: %w", err)
	}

	job.UploadObjectKey = key
	job.FileSizeBytes = int64(len(data))
	job.MimeType = mimetype.Detect(data).String()
	if err := p.jobs.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("failed to record fetched source: %w", err)
	}

	p.logger.Info().
		Str("job_id", job.ID).
		Str("source_type", string(job.SourceType)).
		Int("size_bytes", len(data)).
		Msg("Remote source fetched")
	return nil
}

// convertAudio transcribes an audio upload and completes the MAIN in
// a single pass.
func (p *Pipeline) convertAudio(ctx context.Context, job *models.Job, localPath string, opts *models.ConvertOptions) error {
	softCtx, cancel := p.softContext(ctx)
	defer cancel()

	transcript, err := p.transcriber.Transcribe(softCtx, localPath, opts)
	if err != nil {
		return p.wrapConvertErr("transcription", err)
	}

	markdown := transcribe.FormatMarkdown(transcript, job.Filename, opts.IncludeTimestamps)
	result := &models.ConversionResult{
		Markdown: markdown,
		Metadata: models.ResultMetadata{
			Format:    "audio",
			Language:  transcript.Language,
			Duration:  transcript.Duration,
			WordCount: transcript.WordCount,
			CharCount: len(markdown),
			Provider:  transcript.Provider,
			Model:     transcript.Model,
			Words:     transcript.WordCount,
		},
	}
	return p.completeMain(ctx, job, result)
}

// convertSinglePass converts a document without fan-out.
func (p *Pipeline) convertSinglePass(ctx context.Context, job *models.Job, localPath string, opts *models.ConvertOptions) error {
	softCtx, cancel := p.softContext(ctx)
	defer cancel()

	result, err := p.converter.Convert(softCtx, localPath, opts)
	if err != nil {
		return p.wrapConvertErr("conversion", err)
	}
	return p.completeMain(ctx, job, result)
}

// fanOut creates the SPLIT child and hands the document to the split
// task.
func (p *Pipeline) fanOut(ctx context.Context, job *models.Job, localPath string, pageCount int, opts *models.ConvertOptions) error {
	splitJob := models.NewChildJob(common.NewJobID(), models.JobTypeSplit, job.ID)
	splitJob.UserID = job.UserID
	if err := p.jobs.SaveJob(ctx, splitJob); err != nil {
		return fmt.Errorf("failed to create split job: %w", err)
	}
	p.mirrorStatus(ctx, splitJob)
	if err := p.cache.AddChild(ctx, job.ID, models.RoleSplit, splitJob.ID); err != nil {
		p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to register split child")
	}

	msg, err := models.NewTaskMessage(models.TaskSplitDocument, 0, models.SplitDocumentPayload{
		SplitID:  splitJob.ID,
		ParentID: job.ID,
		FilePath: localPath,
		Options:  *opts,
	})
	if err != nil {
		return err
	}
	if err := p.queue.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("failed to enqueue split task: %w", err)
	}

	p.logger.Info().
		Str("job_id", job.ID).
		Str("split_id", splitJob.ID).
		Int("pages", pageCount).
		Msg("Document routed to page fan-out")
	return nil
}

// completeMain stores the final result, completes the MAIN and fires
// the callback.
func (p *Pipeline) completeMain(ctx context.Context, job *models.Job, result *models.ConversionResult) error {
	resultKey := blob.ResultKey(job.ID)
	if err := p.blobs.PutBytes(ctx, resultKey, []byte(result.Markdown)); err != nil {
		return fmt.Errorf("failed to store result: %w", err)
	}

	if err := p.cache.SetResult(ctx, job.ID, result); err != nil {
		p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to cache result")
	}
	if err := p.index.IndexResult(ctx, job.ID, job.UserID, job.Filename, 0, result.Markdown); err != nil {
		p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to index result")
	}

	job.ResultObjectKey = resultKey
	job.CharCount = len(result.Markdown)
	job.HasResultStored = true
	if err := p.jobs.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("failed to record result pointer: %w", err)
	}
	if err := p.jobs.UpdateResultMeta(ctx, job.ID, job.CharCount, true); err != nil {
		return fmt.Errorf("failed to record result metadata: %w", err)
	}
	job.ProgressPercent = progressDone
	if err := p.updateJobStatus(ctx, job, models.StatusCompleted, ""); err != nil {
		return fmt.Errorf("failed to complete main job: %w", err)
	}
	p.setProgress(ctx, job.ID, progressDone)

	p.notifyCallback(ctx, job)
	p.cleanupScratch(job.ID)

	p.logger.Info().
		Str("job_id", job.ID).
		Int("char_count", job.CharCount).
		Msg("Main job completed")
	return nil
}

// failMain marks the MAIN failed after retries are exhausted.
func (p *Pipeline) failMain(ctx context.Context, job *models.Job, errMsg string) {
	if err := p.updateJobStatus(ctx, job, models.StatusFailed, errMsg); err != nil {
		p.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to mark main job failed")
		return
	}
	p.notifyCallback(ctx, job)
	p.cleanupScratch(job.ID)
}
