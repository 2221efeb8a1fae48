package models

import "time"

// ResultMetadata describes a conversion output.
type ResultMetadata struct {
	Pages     int    `json:"pages,omitempty"`
	Words     int    `json:"words,omitempty"`
	Format    string `json:"format,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
	Title     string `json:"title,omitempty"`
	Author    string `json:"author,omitempty"`

	// Transcription-only fields.
	Language  string  `json:"language,omitempty"`
	Duration  float64 `json:"duration,omitempty"`
	WordCount int     `json:"word_count,omitempty"`
	CharCount int     `json:"char_count,omitempty"`
	Provider  string  `json:"provider,omitempty"`
	Model     string  `json:"model,omitempty"`
}

// ConversionResult is the converter collaborator's output.
type ConversionResult struct {
	Markdown string         `json:"markdown"`
	Metadata ResultMetadata `json:"metadata"`
}

// TranscriptSegment is one timed span of transcribed speech.
type TranscriptSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TranscriptionResult is the audio transcriber collaborator's output.
type TranscriptionResult struct {
	Segments  []TranscriptSegment `json:"segments"`
	Language  string              `json:"language"`
	Duration  float64             `json:"duration"`
	WordCount int                 `json:"word_count"`
	CharCount int                 `json:"char_count"`
	Provider  string              `json:"provider"`
	Model     string              `json:"model"`
}

// StatusRecord is the status cache projection of a job, used for
// progress polling and the aggregator's fan-in checks.
type StatusRecord struct {
	JobID       string    `json:"job_id"`
	Type        JobType   `json:"type"`
	Status      JobStatus `json:"status"`
	Progress    int       `json:"progress"`
	Name        string    `json:"name,omitempty"`
	PageNumber  int       `json:"page_number,omitempty"`
	ParentJobID string    `json:"parent_job_id,omitempty"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// JobDetail is a job status record together with a window of per-page
// sub-statuses. Pages is empty for non-MAIN jobs and for MAINs that
// never fanned out.
type JobDetail struct {
	StatusRecord
	Pages []*StatusRecord `json:"pages,omitempty"`
}

// PageArtifact is one split page produced by the page extractor.
type PageArtifact struct {
	PageNumber int    `json:"page_number"`
	LocalPath  string `json:"local_path"`
	BlobKey    string `json:"blob_key"`
}

// SearchHit is one match from the result index.
type SearchHit struct {
	JobID      string `json:"job_id"`
	PageNumber int    `json:"page_number,omitempty"` // 0 for job-level entries
	Filename   string `json:"filename,omitempty"`
	Snippet    string `json:"snippet,omitempty"`
}
