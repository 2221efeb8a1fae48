package models

import (
	"time"
)

// Job is one row per unit of orchestrated work. A submission creates a
// MAIN job; the pipeline may attach one SPLIT, N PAGE jobs, and one
// MERGE job underneath it.
type Job struct {
	ID       string  `json:"id"`
	UserID   string  `json:"user_id,omitempty"`
	Type     JobType `json:"job_type"`
	ParentID string  `json:"parent_job_id,omitempty"` // empty only for MAIN

	// Input descriptor, set only on MAIN.
	Name          string     `json:"name,omitempty"`
	SourceType    SourceType `json:"source_type,omitempty"`
	SourceURL     string     `json:"source_url,omitempty"`
	Filename      string     `json:"filename,omitempty"`
	MimeType      string     `json:"mime_type,omitempty"`
	FileSizeBytes int64      `json:"file_size_bytes,omitempty"`
	FileChecksum  string     `json:"file_checksum,omitempty"` // SHA-256 hex

	// Blob pointers.
	UploadObjectKey string `json:"upload_object_key,omitempty"`
	ResultObjectKey string `json:"result_object_key,omitempty"`

	// CallbackURL receives a best-effort webhook when the job finishes.
	CallbackURL string `json:"callback_url,omitempty"`

	// Progress.
	Status          JobStatus `json:"status"`
	ProgressPercent int       `json:"progress_percent"`
	ErrorMessage    string    `json:"error_message,omitempty"`

	// Pagination, MAIN only, populated by SPLIT.
	TotalPages     int `json:"total_pages,omitempty"`
	PagesCompleted int `json:"pages_completed"`
	PagesFailed    int `json:"pages_failed"`

	// Result metadata.
	CharCount       int  `json:"char_count,omitempty"`
	HasResultStored bool `json:"has_result_stored"`

	// PAGE jobs only.
	PageNumber int `json:"page_number,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewMainJob creates a MAIN job for a submission.
func NewMainJob(id, userID string, sub *Submission) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:          id,
		UserID:      userID,
		Type:        JobTypeMain,
		Name:        sub.Name,
		SourceType:  sub.SourceType,
		SourceURL:   sub.SourceURL,
		Filename:    sub.Filename,
		CallbackURL: sub.CallbackURL,
		Status:      StatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// NewChildJob creates a SPLIT, PAGE, or MERGE job under a MAIN.
func NewChildJob(id string, jobType JobType, parentID string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        id,
		Type:      jobType,
		ParentID:  parentID,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// MarkStarted transitions the job to PROCESSING and records started_at.
func (j *Job) MarkStarted() {
	now := time.Now().UTC()
	j.Status = StatusProcessing
	j.StartedAt = now
	j.UpdatedAt = now
}

// MarkCompleted transitions the job to COMPLETED with progress 100.
func (j *Job) MarkCompleted() {
	now := time.Now().UTC()
	j.Status = StatusCompleted
	j.ProgressPercent = 100
	j.CompletedAt = now
	j.UpdatedAt = now
}

// MarkFailed transitions the job to FAILED with an error message.
func (j *Job) MarkFailed(errMsg string) {
	now := time.Now().UTC()
	j.Status = StatusFailed
	j.ErrorMessage = errMsg
	j.CompletedAt = now
	j.UpdatedAt = now
}

// MarkCancelled transitions the job to CANCELLED.
func (j *Job) MarkCancelled() {
	now := time.Now().UTC()
	j.Status = StatusCancelled
	j.CompletedAt = now
	j.UpdatedAt = now
}

// IsTerminal returns true when the job has reached a final state.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}
