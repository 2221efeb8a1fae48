package models

import "time"

// Page is one row per logical page inside a multi-page MAIN. The
// (JobID, PageNumber) pair is unique; PageJobID changes across retries.
type Page struct {
	ID         string `json:"id"`
	JobID      string `json:"job_id"`      // FK to the MAIN job
	PageNumber int    `json:"page_number"` // 1-indexed
	PageJobID  string `json:"page_job_id"`

	BlobKey string `json:"blob_key,omitempty"` // split page artifact in the pages bucket

	Status       JobStatus `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	RetryCount   int       `json:"retry_count"`

	MarkdownContent string `json:"markdown_content,omitempty"`
	CharCount       int    `json:"char_count,omitempty"`
	HasResultStored bool   `json:"has_result_stored"`

	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewPage creates a PENDING page row for a freshly split artifact.
func NewPage(id, jobID string, pageNumber int, pageJobID, blobKey string) *Page {
	now := time.Now().UTC()
	return &Page{
		ID:         id,
		JobID:      jobID,
		PageNumber: pageNumber,
		PageJobID:  pageJobID,
		BlobKey:    blobKey,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
