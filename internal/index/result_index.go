// -----------------------------------------------------------------------
// Result Index - FTS5 full-text search over produced markdown
// -----------------------------------------------------------------------

package index

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quill/internal/interfaces"
	"github.com/ternarybob/quill/internal/models"
)

const indexSchemaSQL = `
-- One row per indexed result. page_number 0 is the merged job result,
-- positive page numbers index individual pages.
CREATE TABLE IF NOT EXISTS results (
	job_id TEXT NOT NULL,
	page_number INTEGER NOT NULL DEFAULT 0,
	user_id TEXT NOT NULL,
	filename TEXT,
	markdown TEXT NOT NULL,
	PRIMARY KEY (job_id, page_number)
);

CREATE INDEX IF NOT EXISTS idx_results_user ON results(user_id);

-- FTS5 index for full-text search
CREATE VIRTUAL TABLE IF NOT EXISTS results_fts USING fts5(
	filename,
	markdown,
	content=results,
	content_rowid=rowid
);

-- Triggers to keep FTS index in sync
CREATE TRIGGER IF NOT EXISTS results_fts_insert AFTER INSERT ON results BEGIN
	INSERT INTO results_fts(rowid, filename, markdown)
	VALUES (new.rowid, new.filename, new.markdown);
END;

CREATE TRIGGER IF NOT EXISTS results_fts_update AFTER UPDATE ON results BEGIN
	UPDATE results_fts
	SET filename = new.filename, markdown = new.markdown
	WHERE rowid = new.rowid;
END;

CREATE TRIGGER IF NOT EXISTS results_fts_delete AFTER DELETE ON results BEGIN
	DELETE FROM results_fts WHERE rowid = old.rowid;
END;
`

// ResultIndex implements interfaces.ResultIndex over SQLite FTS5.
type ResultIndex struct {
	db     *sql.DB
	logger arbor.ILogger
}

var _ interfaces.ResultIndex = (*ResultIndex)(nil)

// NewResultIndex initializes the index schema on the given connection.
// The index shares the metadata database file.
func NewResultIndex(db *sql.DB, logger arbor.ILogger) (*ResultIndex, error) {
	if _, err := db.Exec(indexSchemaSQL); err != nil {
		return nil, fmt.Errorf("failed to initialize result index: %w", err)
	}
	logger.Info().Msg("Result index initialized")
	return &ResultIndex{db: db, logger: logger}, nil
}

// IndexResult stores and indexes one markdown result. Re-indexing the
// same (job_id, page_number) replaces the previous text.
func (i *ResultIndex) IndexResult(ctx context.Context, jobID, userID, filename string, pageNumber int, markdown string) error {
	_, err := i.db.ExecContext(ctx,
		`INSERT INTO results (job_id, page_number, user_id, filename, markdown)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(job_id, page_number) DO UPDATE SET
			filename = excluded.filename,
			markdown = excluded.markdown`,
		jobID, pageNumber, userID, filename, markdown)
	if err != nil {
		return fmt.Errorf("failed to index result for %s: %w", jobID, err)
	}
	return nil
}

// Search runs a full-text query scoped to the caller's results,
// ranked by relevance with a short snippet per hit.
func (i *ResultIndex) Search(ctx context.Context, userID, query string, limit int) ([]models.SearchHit, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := i.db.QueryContext(ctx,
		`SELECT r.job_id, r.page_number, r.filename,
			snippet(results_fts, 1, '<b>', '</b>', '...', 12)
		 FROM results_fts f
		 JOIN results r ON r.rowid = f.rowid
		 WHERE results_fts MATCH ? AND r.user_id = ?
		 ORDER BY rank LIMIT ?`,
		query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search results: %w", err)
	}
	defer rows.Close()

	var hits []models.SearchHit
	for rows.Next() {
		var hit models.SearchHit
		var filename sql.NullString
		if err := rows.Scan(&hit.JobID, &hit.PageNumber, &filename, &hit.Snippet); err != nil {
			return nil, err
		}
		hit.Filename = filename.String
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// DeleteJob removes every indexed row for a job.
func (i *ResultIndex) DeleteJob(ctx context.Context, jobID string) error {
	_, err := i.db.ExecContext(ctx, `DELETE FROM results WHERE job_id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete indexed results for %s: %w", jobID, err)
	}
	return nil
}

// Close is a no-op; the connection is owned by the metadata store.
func (i *ResultIndex) Close() error {
	return nil
}
