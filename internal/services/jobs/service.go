// -----------------------------------------------------------------------
// Job Service - Submission gateway, reads, retry, cancel and delete
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quill/internal/blob"
	"github.com/ternarybob/quill/internal/common"
	"github.com/ternarybob/quill/internal/interfaces"
	"github.com/ternarybob/quill/internal/models"
)

// Service implements interfaces.JobService. It owns the submission
// path end to end: validation, dedup, upload storage and the initial
// enqueue. Conversion itself happens in the pipeline workers.
type Service struct {
	jobs     interfaces.JobStorage
	pages    interfaces.PageStorage
	cache    interfaces.StatusCache
	queue    interfaces.QueueManager
	blobs    interfaces.BlobStore
	resolver interfaces.SourceResolver
	index    interfaces.ResultIndex
	config   *common.Config
	logger   arbor.ILogger
	validate *validator.Validate
}

var _ interfaces.JobService = (*Service)(nil)

// defaultPageWindow caps the page sub-status list returned by GetJob
// when the caller gives no explicit limit.
const defaultPageWindow = 100

// NewService wires the job service.
func NewService(
	jobs interfaces.JobStorage,
	pages interfaces.PageStorage,
	cache interfaces.StatusCache,
	queue interfaces.QueueManager,
	blobs interfaces.BlobStore,
	resolver interfaces.SourceResolver,
	index interfaces.ResultIndex,
	config *common.Config,
	logger arbor.ILogger,
) *Service {
	return &Service{
		jobs:     jobs,
		pages:    pages,
		cache:    cache,
		queue:    queue,
		blobs:    blobs,
		resolver: resolver,
		index:    index,
		config:   config,
		logger:   logger,
		validate: validator.New(),
	}
}

// Submit validates the submission, applies the dedup gate to direct
// uploads, stores the upload and enqueues the MAIN task. Remote sources
// are fetched later inside the MAIN task, so submission returns without
// touching the network and the dedup gate does not apply to them.
func (s *Service) Submit(ctx context.Context, sub *models.Submission) (*models.Job, error) {
	if err := s.validate.Struct(sub); err != nil {
		return nil, fmt.Errorf("invalid submission: %w", err)
	}
	if _, err := models.ParseSourceType(string(sub.SourceType)); err != nil {
		return nil, err
	}

	remote := sub.SourceType != models.SourceFile && sub.SourceType != models.SourceAudio
	var checksum string
	if remote {
		if s.resolver == nil || !s.resolver.Supports(sub.SourceType) {
			return nil, models.ErrUnsupportedSource
		}
		if sub.SourceURL == "" {
			return nil, fmt.Errorf("remote submissions require a source url")
		}
	} else {
		if sub.Filename == "" {
			return nil, fmt.Errorf("file submissions require a filename")
		}
		if len(sub.FileBytes) == 0 {
			return nil, fmt.Errorf("submission carries no document bytes")
		}
		if err := s.checkSize(sub); err != nil {
			return nil, err
		}

		checksum = common.FileChecksum(sub.FileBytes)
		if existing, err := s.jobs.FindMainByChecksum(ctx, sub.UserID, checksum); err == nil {
			s.logger.Info().
				Str("job_id", existing.ID).
				Str("user_id", sub.UserID).
				Msg("Duplicate submission, returning existing job")
			return existing, models.ErrDuplicateJob
		} else if !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
	}

	job := models.NewMainJob(common.NewJobID(), sub.UserID, sub)
	if job.Name == "" {
		job.Name = sub.Filename
		if job.Name == "" {
			job.Name = sub.SourceURL
		}
	}

	if !remote {
		job.FileChecksum = checksum
		job.FileSizeBytes = int64(len(sub.FileBytes))
		job.MimeType = mimetype.Detect(sub.FileBytes).String()

		key := blob.UploadKey(job.ID, sub.Filename)
		if s.isAudio(sub) {
			key = blob.AudioKey(job.ID, sub.Filename)
		}
		if err := s.blobs.PutBytes(ctx, key, sub.FileBytes); err != nil {
			return nil, fmt.Errorf("failed to store upload: %w", err)
		}
		job.UploadObjectKey = key
	}

	if err := s.jobs.SaveJob(ctx, job); err != nil {
		// A concurrent duplicate may hit the unique (user, checksum)
		// index between the lookup and this insert.
		if checksum != "" && (strings.Contains(err.Error(), "UNIQUE") || strings.Contains(err.Error(), "constraint")) {
			if existing, ferr := s.jobs.FindMainByChecksum(ctx, sub.UserID, checksum); ferr == nil {
				return existing, models.ErrDuplicateJob
			}
		}
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	if err := s.cache.SetOwner(ctx, job.ID, sub.UserID); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to record owner")
	}
	if err := s.cache.AddUserJob(ctx, sub.UserID, job.ID); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to append user job listing")
	}
	s.mirrorStatus(ctx, job)

	msg, err := models.NewTaskMessage(models.TaskConvertDocument, 0, models.ConvertDocumentPayload{
		MainID:      job.ID,
		SourceType:  sub.SourceType,
		Source:      sub.SourceURL,
		Options:     sub.Options,
		AuthToken:   sub.AuthToken,
		CallbackURL: sub.CallbackURL,
	})
	if err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to enqueue conversion: %w", err)
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("user_id", sub.UserID).
		Str("filename", sub.Filename).
		Int64("size_bytes", job.FileSizeBytes).
		Msg("Submission accepted")
	return job, nil
}

// GetJob returns the cached status record with a metadata-store
// fallback when the cache misses. MAIN jobs carry a window of per-page
// sub-statuses selected by pageOffset and pageLimit.
func (s *Service) GetJob(ctx context.Context, userID, jobID string, pageOffset, pageLimit int) (*models.JobDetail, error) {
	if err := s.verifyOwner(ctx, jobID, userID); err != nil {
		return nil, err
	}

	var rec *models.StatusRecord
	if cached, err := s.cache.GetStatus(ctx, jobID); err == nil {
		rec = cached
	} else {
		job, err := s.jobs.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		rec = statusRecord(job)
	}

	detail := &models.JobDetail{StatusRecord: *rec}
	if rec.Type != models.JobTypeMain {
		return detail, nil
	}

	if pageLimit <= 0 {
		pageLimit = defaultPageWindow
	}
	pages, err := s.pages.ListPages(ctx, jobID, pageOffset, pageLimit)
	if err != nil {
		return nil, err
	}
	for _, page := range pages {
		detail.Pages = append(detail.Pages, &models.StatusRecord{
			JobID:       page.PageJobID,
			Type:        models.JobTypePage,
			Status:      page.Status,
			PageNumber:  page.PageNumber,
			ParentJobID: page.JobID,
			CompletedAt: page.CompletedAt,
			Error:       page.ErrorMessage,
		})
	}
	return detail, nil
}

// GetPageStatus returns the status of one page of a MAIN job.
func (s *Service) GetPageStatus(ctx context.Context, userID, mainID string, pageNumber int) (*models.StatusRecord, error) {
	if err := s.verifyOwner(ctx, mainID, userID); err != nil {
		return nil, err
	}

	if pageJobID, err := s.cache.GetPageJobByNumber(ctx, mainID, pageNumber); err == nil {
		if rec, err := s.cache.GetStatus(ctx, pageJobID); err == nil {
			return rec, nil
		}
	}

	page, err := s.pages.GetPage(ctx, mainID, pageNumber)
	if err != nil {
		return nil, err
	}
	return &models.StatusRecord{
		JobID:       page.PageJobID,
		Type:        models.JobTypePage,
		Status:      page.Status,
		PageNumber:  page.PageNumber,
		ParentJobID: page.JobID,
		CompletedAt: page.CompletedAt,
		Error:       page.ErrorMessage,
	}, nil
}

// GetResult returns the merged markdown for a completed MAIN.
func (s *Service) GetResult(ctx context.Context, userID, mainID string) (*models.ConversionResult, error) {
	if err := s.verifyOwner(ctx, mainID, userID); err != nil {
		return nil, err
	}

	if result, err := s.cache.GetResult(ctx, mainID); err == nil {
		return result, nil
	}

	job, err := s.jobs.GetJob(ctx, mainID)
	if err != nil {
		return nil, err
	}
	if !job.HasResultStored || job.ResultObjectKey == "" {
		return nil, models.ErrNotFound
	}
	data, err := s.blobs.GetBytes(ctx, job.ResultObjectKey)
	if err != nil {
		return nil, err
	}
	return &models.ConversionResult{
		Markdown: string(data),
		Metadata: models.ResultMetadata{
			Pages:     job.TotalPages,
			CharCount: job.CharCount,
		},
	}, nil
}

// GetPageResult returns the markdown of one completed page.
func (s *Service) GetPageResult(ctx context.Context, userID, mainID string, pageNumber int) (string, error) {
	if err := s.verifyOwner(ctx, mainID, userID); err != nil {
		return "", err
	}

	page, err := s.pages.GetPage(ctx, mainID, pageNumber)
	if err != nil {
		return "", err
	}
	if page.Status != models.StatusCompleted {
		return "", models.ErrNotFound
	}
	if page.MarkdownContent != "" {
		return page.MarkdownContent, nil
	}
	data, err := s.blobs.GetBytes(ctx, blob.PageResultKey(mainID, pageNumber))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ListUserJobs lists the caller's jobs newest first.
func (s *Service) ListUserJobs(ctx context.Context, userID string, statusFilter models.JobStatus, offset, limit int) ([]*models.Job, error) {
	return s.jobs.ListUserJobs(ctx, userID, statusFilter, offset, limit)
}

// Search runs a full-text query over the caller's converted output.
func (s *Service) Search(ctx context.Context, userID, query string, limit int) ([]models.SearchHit, error) {
	return s.index.Search(ctx, userID, query, limit)
}

// RetryPage resets a failed page on user request and re-enqueues it.
func (s *Service) RetryPage(ctx context.Context, userID, mainID string, pageNumber int) error {
	if err := s.verifyOwner(ctx, mainID, userID); err != nil {
		return err
	}

	newPageJobID := common.NewJobID()
	if err := s.pages.ResetPageForRetry(ctx, mainID, pageNumber, newPageJobID, s.config.Monitor.MaxRetryCount); err != nil {
		return err
	}

	pageJob := models.NewChildJob(newPageJobID, models.JobTypePage, mainID)
	pageJob.UserID = userID
	pageJob.PageNumber = pageNumber
	if err := s.jobs.SaveJob(ctx, pageJob); err != nil {
		return fmt.Errorf("failed to create retry page job: %w", err)
	}
	if err := s.cache.SetPageJobByNumber(ctx, mainID, pageNumber, newPageJobID); err != nil {
		s.logger.Warn().Err(err).Str("job_id", mainID).Msg("Failed to re-map page job id")
	}
	if err := s.cache.AddChild(ctx, mainID, models.RolePage, newPageJobID); err != nil {
		s.logger.Warn().Err(err).Str("job_id", mainID).Msg("Failed to register retry page child")
	}

	msg, err := models.NewTaskMessage(models.TaskRetryPage, 0, models.RetryPagePayload{
		PageJobID:  newPageJobID,
		ParentID:   mainID,
		PageNumber: pageNumber,
	})
	if err != nil {
		return err
	}
	if err := s.queue.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("failed to enqueue page retry: %w", err)
	}

	s.logger.Info().
		Str("job_id", mainID).
		Int("page", pageNumber).
		Msg("Page retry requested")
	return nil
}

// Cancel marks a non-terminal MAIN cancelled. Running page tasks see
// the cancelled parent on their next check and stop.
func (s *Service) Cancel(ctx context.Context, userID, mainID string) error {
	if err := s.verifyOwner(ctx, mainID, userID); err != nil {
		return err
	}

	job, err := s.jobs.GetJob(ctx, mainID)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return models.ErrNotTerminal
	}

	if err := s.jobs.UpdateJobStatus(ctx, mainID, models.StatusCancelled, ""); err != nil {
		return err
	}
	job.Status = models.StatusCancelled
	s.mirrorStatus(ctx, job)

	s.logger.Info().Str("job_id", mainID).Msg("Job cancelled")
	return nil
}

// Delete removes a terminal MAIN with everything attached to it.
func (s *Service) Delete(ctx context.Context, userID, mainID string) error {
	if err := s.verifyOwner(ctx, mainID, userID); err != nil {
		return err
	}

	job, err := s.jobs.GetJob(ctx, mainID)
	if err != nil {
		return err
	}
	if !job.IsTerminal() {
		return models.ErrNotTerminal
	}

	if err := s.jobs.DeleteCascade(ctx, mainID); err != nil {
		return err
	}
	if err := s.index.DeleteJob(ctx, mainID); err != nil {
		s.logger.Warn().Err(err).Str("job_id", mainID).Msg("Failed to remove index entries")
	}
	if err := s.cache.DeleteJobKeys(ctx, mainID); err != nil {
		s.logger.Warn().Err(err).Str("job_id", mainID).Msg("Failed to purge cache keys")
	}
	for _, bucket := range []string{blob.BucketUploads, blob.BucketAudio, blob.BucketPages, blob.BucketResults} {
		if err := s.blobs.DeletePrefix(ctx, bucket+"/"+mainID); err != nil {
			s.logger.Warn().Err(err).Str("job_id", mainID).Str("bucket", bucket).Msg("Failed to delete blobs")
		}
	}

	s.logger.Info().Str("job_id", mainID).Msg("Job deleted")
	return nil
}

func (s *Service) isAudio(sub *models.Submission) bool {
	return sub.SourceType == models.SourceAudio || sub.Options.IsAudio || models.IsAudioFilename(sub.Filename)
}

// checkSize enforces the per-family upload caps.
func (s *Service) checkSize(sub *models.Submission) error {
	limitMB := s.config.Convert.MaxFileSizeMB
	if s.isAudio(sub) {
		limitMB = s.config.Convert.MaxAudioFileSizeMB
	}
	if int64(len(sub.FileBytes)) > int64(limitMB)*1024*1024 {
		return models.ErrFileTooLarge
	}
	return nil
}

// verifyOwner prefers the cache's owner key and falls back to the job
// row when the cache has been cleaned up.
func (s *Service) verifyOwner(ctx context.Context, jobID, userID string) error {
	err := s.cache.VerifyOwner(ctx, jobID, userID)
	if err == nil {
		return nil
	}
	if errors.Is(err, models.ErrOwnershipDenied) {
		return err
	}

	job, gerr := s.jobs.GetJob(ctx, jobID)
	if gerr != nil {
		return gerr
	}
	if job.UserID != userID {
		return models.ErrOwnershipDenied
	}
	return nil
}

func (s *Service) mirrorStatus(ctx context.Context, job *models.Job) {
	if err := s.cache.PutStatus(ctx, statusRecord(job)); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to mirror status to cache")
	}
}

func statusRecord(job *models.Job) *models.StatusRecord {
	return &models.StatusRecord{
		JobID:       job.ID,
		Type:        job.Type,
		Status:      job.Status,
		Progress:    job.ProgressPercent,
		Name:        job.Name,
		PageNumber:  job.PageNumber,
		ParentJobID: job.ParentID,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		Error:       job.ErrorMessage,
	}
}
