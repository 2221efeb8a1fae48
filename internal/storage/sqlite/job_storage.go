// -----------------------------------------------------------------------
// Job Storage - Metadata store operations for job rows
// -----------------------------------------------------------------------

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quill/internal/interfaces"
	"github.com/ternarybob/quill/internal/models"
)

// JobStorage implements interfaces.JobStorage over SQLite.
type JobStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

var _ interfaces.JobStorage = (*JobStorage)(nil)

// NewJobStorage creates a job storage instance.
func NewJobStorage(db *SQLiteDB, logger arbor.ILogger) *JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

const jobColumns = `id, user_id, job_type, parent_id, name, source_type, source_url,
	filename, mime_type, file_size_bytes, file_checksum, upload_object_key,
	result_object_key, callback_url, status, progress_percent, error_message, total_pages,
	pages_completed, pages_failed, char_count, has_result_stored, page_number,
	created_at, started_at, completed_at, updated_at`

// SaveJob creates or updates a job row by id.
func (s *JobStorage) SaveJob(ctx context.Context, job *models.Job) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			source_type = excluded.source_type,
			source_url = excluded.source_url,
			filename = excluded.filename,
			mime_type = excluded.mime_type,
			file_size_bytes = excluded.file_size_bytes,
			file_checksum = excluded.file_checksum,
			upload_object_key = excluded.upload_object_key,
			result_object_key = excluded.result_object_key,
			callback_url = excluded.callback_url,
			status = excluded.status,
			progress_percent = excluded.progress_percent,
			error_message = excluded.error_message,
			total_pages = excluded.total_pages,
			pages_completed = excluded.pages_completed,
			pages_failed = excluded.pages_failed,
			char_count = excluded.char_count,
			has_result_stored = excluded.has_result_stored,
			page_number = excluded.page_number,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			updated_at = excluded.updated_at`

	_, err := s.db.db.ExecContext(ctx, query,
		job.ID, job.UserID, string(job.Type), nullString(job.ParentID), nullString(job.Name),
		nullString(string(job.SourceType)), nullString(job.SourceURL), nullString(job.Filename),
		nullString(job.MimeType), job.FileSizeBytes, nullString(job.FileChecksum),
		nullString(job.UploadObjectKey), nullString(job.ResultObjectKey),
		nullString(job.CallbackURL),
		string(job.Status), job.ProgressPercent, nullString(job.ErrorMessage),
		job.TotalPages, job.PagesCompleted, job.PagesFailed,
		job.CharCount, boolToInt(job.HasResultStored), job.PageNumber,
		job.CreatedAt.Unix(), nullTime(job.StartedAt), nullTime(job.CompletedAt), job.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

// UpdateJobStatus flips the status and stamps the lifecycle timestamps.
func (s *JobStorage) UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, errorMessage string) error {
	now := time.Now().UTC().Unix()

	query := `UPDATE jobs SET status = ?, error_message = ?, updated_at = ?`
	args := []interface{}{string(status), nullString(errorMessage), now}

	switch {
	case status == models.StatusProcessing:
		query += `, started_at = COALESCE(started_at, ?)`
		args = append(args, now)
	case status.IsTerminal():
		query += `, completed_at = ?`
		args = append(args, now)
	}

	query += ` WHERE id = ?`
	args = append(args, jobID)

	result, err := s.db.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job %s status: %w", jobID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// UpdateProgress persists progress_percent without moving it backwards.
func (s *JobStorage) UpdateProgress(ctx context.Context, jobID string, progress int) error {
	_, err := s.db.db.ExecContext(ctx,
		`UPDATE jobs SET progress_percent = MAX(progress_percent, ?), updated_at = ? WHERE id = ?`,
		progress, time.Now().UTC().Unix(), jobID)
	if err != nil {
		return fmt.Errorf("failed to update job %s progress: %w", jobID, err)
	}
	return nil
}

// SetTotalPages records the discovered page count.
func (s *JobStorage) SetTotalPages(ctx context.Context, jobID string, total int) error {
	_, err := s.db.db.ExecContext(ctx,
		`UPDATE jobs SET total_pages = ?, updated_at = ? WHERE id = ?`,
		total, time.Now().UTC().Unix(), jobID)
	if err != nil {
		return fmt.Errorf("failed to set job %s total pages: %w", jobID, err)
	}
	return nil
}

// UpdateResultMeta records result size bookkeeping.
func (s *JobStorage) UpdateResultMeta(ctx context.Context, jobID string, charCount int, hasResultStored bool) error {
	_, err := s.db.db.ExecContext(ctx,
		`UPDATE jobs SET char_count = ?, has_result_stored = ?, updated_at = ? WHERE id = ?`,
		charCount, boolToInt(hasResultStored), time.Now().UTC().Unix(), jobID)
	if err != nil {
		return fmt.Errorf("failed to update job %s result meta: %w", jobID, err)
	}
	return nil
}

// GetJob returns a job by id or models.ErrNotFound.
func (s *JobStorage) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	row := s.db.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}
	return job, nil
}

// FindChildren returns direct children of a parent, newest last.
func (s *JobStorage) FindChildren(ctx context.Context, parentID string, statusFilter models.JobStatus) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE parent_id = ?`
	args := []interface{}{parentID}
	if statusFilter != "" {
		query += ` AND status = ?`
		args = append(args, string(statusFilter))
	}
	query += ` ORDER BY created_at ASC, page_number ASC`

	return s.queryJobs(ctx, query, args...)
}

// FindMainByChecksum implements the dedup gate lookup.
func (s *JobStorage) FindMainByChecksum(ctx context.Context, userID, checksum string) (*models.Job, error) {
	row := s.db.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE user_id = ? AND file_checksum = ? AND job_type = 'MAIN'
		 ORDER BY created_at DESC LIMIT 1`,
		userID, checksum)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find job by checksum: %w", err)
	}
	return job, nil
}

// ListUserJobs returns a user's MAIN jobs, newest first.
func (s *JobStorage) ListUserJobs(ctx context.Context, userID string, statusFilter models.JobStatus, offset, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE user_id = ? AND job_type = 'MAIN'`
	args := []interface{}{userID}
	if statusFilter != "" {
		query += ` AND status = ?`
		args = append(args, string(statusFilter))
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	return s.queryJobs(ctx, query, args...)
}

// FindStuckJobs returns jobs PROCESSING since before cutoff. Jobs with
// no started_at fall back to created_at.
func (s *JobStorage) FindStuckJobs(ctx context.Context, cutoff time.Time, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status = 'processing' AND COALESCE(started_at, created_at) < ?
		 ORDER BY started_at ASC LIMIT ?`,
		cutoff.Unix(), limit)
}

// FindExpiredJobs returns terminal MAIN jobs completed before cutoff.
func (s *JobStorage) FindExpiredJobs(ctx context.Context, cutoff time.Time, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE job_type = 'MAIN'
		   AND status IN ('completed', 'failed', 'cancelled')
		   AND completed_at IS NOT NULL AND completed_at < ?
		 ORDER BY completed_at ASC LIMIT ?`,
		cutoff.Unix(), limit)
}

// CountByStatus returns job counts grouped by status.
func (s *JobStorage) CountByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.JobStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[models.JobStatus(status)] = n
	}
	return counts, rows.Err()
}

// DeleteCascade removes a MAIN with all descendants in one transaction.
// Page rows and child job rows follow via ON DELETE CASCADE.
func (s *JobStorage) DeleteCascade(ctx context.Context, mainID string) error {
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, mainID)
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", mainID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}

	return tx.Commit()
}

func (s *JobStorage) queryJobs(ctx context.Context, query string, args ...interface{}) ([]*models.Job, error) {
	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var parentID, name, sourceType, sourceURL, filename, mimeType sql.NullString
	var checksum, uploadKey, resultKey, callbackURL, errorMessage sql.NullString
	var hasResult int
	var createdAt, updatedAt int64
	var startedAt, completedAt sql.NullInt64

	err := row.Scan(
		&job.ID, &job.UserID, (*string)(&job.Type), &parentID, &name, &sourceType, &sourceURL,
		&filename, &mimeType, &job.FileSizeBytes, &checksum, &uploadKey,
		&resultKey, &callbackURL, (*string)(&job.Status), &job.ProgressPercent, &errorMessage, &job.TotalPages,
		&job.PagesCompleted, &job.PagesFailed, &job.CharCount, &hasResult, &job.PageNumber,
		&createdAt, &startedAt, &completedAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	job.ParentID = parentID.String
	job.Name = name.String
	job.SourceType = models.SourceType(sourceType.String)
	job.SourceURL = sourceURL.String
	job.Filename = filename.String
	job.MimeType = mimeType.String
	job.FileChecksum = checksum.String
	job.UploadObjectKey = uploadKey.String
	job.ResultObjectKey = resultKey.String
	job.CallbackURL = callbackURL.String
	job.ErrorMessage = errorMessage.String
	job.HasResultStored = hasResult != 0
	job.CreatedAt = time.Unix(createdAt, 0).UTC()
	job.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if startedAt.Valid {
		job.StartedAt = time.Unix(startedAt.Int64, 0).UTC()
	}
	if completedAt.Valid {
		job.CompletedAt = time.Unix(completedAt.Int64, 0).UTC()
	}
	return &job, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
