// -----------------------------------------------------------------------
// Page Storage - Metadata store operations for page rows
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

// PageStorage implements interfaces.PageStorage over SQLite. The
// parent job's pages_completed and pages_failed counters are always
// recomputed from the page rows inside the transaction that flips a
// page, so concurrent workers can never double-count.
type PageStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

var _ interfaces.PageStorage = (*PageStorage)(nil)

// NewPageStorage creates a page storage instance.
func NewPageStorage(db *SQLiteDB, logger arbor.ILogger) *PageStorage {
	return &PageStorage{
		db:     db,
		logger: logger,
	}
}

const pageColumns = `id, job_id, page_number, page_job_id, blob_key, status,
	error_message, retry_count, markdown_content, char_count, has_result_stored,
	created_at, completed_at, updated_at`

// CreatePage inserts a page row. A re-run split task hitting the
// (job_id, page_number) constraint is a no-op.
func (s *PageStorage) CreatePage(ctx context.Context, page *models.Page) error {
	now := time.Now().UTC()
	if page.CreatedAt.IsZero() {
		page.CreatedAt = now
	}
	page.UpdatedAt = now

	_, err := s.db.db.ExecContext(ctx,
		`INSERT INTO pages (`+pageColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(job_id, page_number) DO NOTHING`,
		page.ID, page.JobID, page.PageNumber, nullString(page.PageJobID),
		nullString(page.BlobKey), string(page.Status), nullString(page.ErrorMessage),
		page.RetryCount, nullString(page.MarkdownContent), page.CharCount,
		boolToInt(page.HasResultStored), page.CreatedAt.Unix(),
		nullTime(page.CompletedAt), page.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to create page %d of job %s: %w", page.PageNumber, page.JobID, err)
	}
	return nil
}

// GetPage returns one page row or models.ErrNotFound.
func (s *PageStorage) GetPage(ctx context.Context, jobID string, pageNumber int) (*models.Page, error) {
	row := s.db.db.QueryRowContext(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE job_id = ? AND page_number = ?`,
		jobID, pageNumber)
	page, err := scanPage(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get page %d of job %s: %w", pageNumber, jobID, err)
	}
	return page, nil
}

// ListPages returns a job's pages in page order.
func (s *PageStorage) ListPages(ctx context.Context, jobID string, offset, limit int) ([]*models.Page, error) {
	if limit <= 0 {
		limit = 200
	}
	return s.queryPages(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE job_id = ?
		 ORDER BY page_number ASC LIMIT ? OFFSET ?`,
		jobID, limit, offset)
}

// MarkPageProcessing flips a page to PROCESSING.
func (s *PageStorage) MarkPageProcessing(ctx context.Context, jobID string, pageNumber int) error {
	result, err := s.db.db.ExecContext(ctx,
		`UPDATE pages SET status = 'processing', updated_at = ?
		 WHERE job_id = ? AND page_number = ?`,
		time.Now().UTC().Unix(), jobID, pageNumber)
	if err != nil {
		return fmt.Errorf("failed to mark page %d processing: %w", pageNumber, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// MarkPageCompleted stores the markdown, flips the row to COMPLETED
// and recomputes the parent's completed counter in the same
// transaction. Already-completed rows are left untouched so a
// re-delivered page task cannot overwrite a result.
func (s *PageStorage) MarkPageCompleted(ctx context.Context, jobID string, pageNumber int, markdown string, hasResultStored bool) error {
	now := time.Now().UTC().Unix()

	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin page completion: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE pages SET status = 'completed', markdown_content = ?, char_count = ?,
			has_result_stored = ?, error_message = NULL, completed_at = ?, updated_at = ?
		 WHERE job_id = ? AND page_number = ? AND status != 'completed'`,
		markdown, len(markdown), boolToInt(hasResultStored), now, now, jobID, pageNumber)
	if err != nil {
		return fmt.Errorf("failed to complete page %d: %w", pageNumber, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		// Row missing or already completed. Distinguish for the caller.
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM pages WHERE job_id = ? AND page_number = ?`,
			jobID, pageNumber).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return models.ErrNotFound
		}
		return tx.Commit()
	}

	if err := recomputeCounters(ctx, tx, jobID, now); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkPageFailed records the error and recomputes the parent's failed
// counter in the same transaction.
func (s *PageStorage) MarkPageFailed(ctx context.Context, jobID string, pageNumber int, errorMessage string) error {
	now := time.Now().UTC().Unix()

	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin page failure: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE pages SET status = 'failed', error_message = ?, completed_at = ?, updated_at = ?
		 WHERE job_id = ? AND page_number = ? AND status != 'completed'`,
		errorMessage, now, now, jobID, pageNumber)
	if err != nil {
		return fmt.Errorf("failed to fail page %d: %w", pageNumber, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM pages WHERE job_id = ? AND page_number = ?`,
			jobID, pageNumber).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return models.ErrNotFound
		}
		return tx.Commit()
	}

	if err := recomputeCounters(ctx, tx, jobID, now); err != nil {
		return err
	}
	return tx.Commit()
}

// ResetPageForRetry flips a FAILED page back to PENDING with a fresh
// page job id. The failed counter is recomputed so the parent stops
// counting the page as failed while the retry runs.
func (s *PageStorage) ResetPageForRetry(ctx context.Context, jobID string, pageNumber int, newPageJobID string, maxRetries int) error {
	now := time.Now().UTC().Unix()

	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin page retry: %w", err)
	}
	defer tx.Rollback()

	var status string
	var retryCount int
	err = tx.QueryRowContext(ctx,
		`SELECT status, retry_count FROM pages WHERE job_id = ? AND page_number = ?`,
		jobID, pageNumber).Scan(&status, &retryCount)
	if err == sql.ErrNoRows {
		return models.ErrNotFound
	}
	if err != nil {
		return err
	}
	if status != string(models.StatusFailed) {
		return fmt.Errorf("page %d of job %s is %s, only failed pages can be retried", pageNumber, jobID, status)
	}
	if retryCount >= maxRetries {
		return models.ErrRetryExhausted
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE pages SET status = 'pending', page_job_id = ?, retry_count = retry_count + 1,
			error_message = NULL, completed_at = NULL, updated_at = ?
		 WHERE job_id = ? AND page_number = ?`,
		newPageJobID, now, jobID, pageNumber)
	if err != nil {
		return fmt.Errorf("failed to reset page %d: %w", pageNumber, err)
	}

	if err := recomputeCounters(ctx, tx, jobID, now); err != nil {
		return err
	}
	return tx.Commit()
}

// FindStuckPages returns pages PROCESSING since before cutoff.
func (s *PageStorage) FindStuckPages(ctx context.Context, cutoff time.Time, limit int) ([]*models.Page, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryPages(ctx,
		`SELECT `+pageColumns+` FROM pages
		 WHERE status = 'processing' AND created_at < ?
		 ORDER BY created_at ASC LIMIT ?`,
		cutoff.Unix(), limit)
}

// FindFailedPagesForRetry returns failed pages with retries remaining.
func (s *PageStorage) FindFailedPagesForRetry(ctx context.Context, maxRetries, limit int) ([]*models.Page, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryPages(ctx,
		`SELECT `+pageColumns+` FROM pages
		 WHERE status = 'failed' AND retry_count < ?
		 ORDER BY updated_at ASC LIMIT ?`,
		maxRetries, limit)
}

// CountByStatus returns page counts grouped by status.
func (s *PageStorage) CountByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM pages GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count pages: %w", err)
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

// recomputeCounters rewrites the parent's page counters from the page
// rows visible to this transaction.
func recomputeCounters(ctx context.Context, tx *sql.Tx, jobID string, now int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE jobs SET
			pages_completed = (SELECT COUNT(*) FROM pages WHERE job_id = ? AND status = 'completed'),
			pages_failed = (SELECT COUNT(*) FROM pages WHERE job_id = ? AND status = 'failed'),
			updated_at = ?
		 WHERE id = ?`,
		jobID, jobID, now, jobID)
	if err != nil {
		return fmt.Errorf("failed to recompute counters for job %s: %w", jobID, err)
	}
	return nil
}

func (s *PageStorage) queryPages(ctx context.Context, query string, args ...interface{}) ([]*models.Page, error) {
	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pages: %w", err)
	}
	defer rows.Close()

	var pages []*models.Page
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
	}
	return pages, rows.Err()
}

func scanPage(row rowScanner) (*models.Page, error) {
	var page models.Page
	var pageJobID, blobKey, errorMessage, markdown sql.NullString
	var hasResult int
	var createdAt, updatedAt int64
	var completedAt sql.NullInt64

	err := row.Scan(
		&page.ID, &page.JobID, &page.PageNumber, &pageJobID, &blobKey,
		(*string)(&page.Status), &errorMessage, &page.RetryCount, &markdown,
		&page.CharCount, &hasResult, &createdAt, &completedAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	page.PageJobID = pageJobID.String
	page.BlobKey = blobKey.String
	page.ErrorMessage = errorMessage.String
	page.MarkdownContent = markdown.String
	page.HasResultStored = hasResult != 0
	page.CreatedAt = time.Unix(createdAt, 0).UTC()
	page.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if completedAt.Valid {
		page.CompletedAt = time.Unix(completedAt.Int64, 0).UTC()
	}
	return &page, nil
}
