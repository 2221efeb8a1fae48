package models

import "encoding/json"

// Task names understood by the worker pool's handler registry.
const (
	TaskConvertDocument = "convert_document" // MAIN
	TaskSplitDocument   = "split_document"   // SPLIT
	TaskConvertPage     = "convert_page"     // PAGE
	TaskRetryPage       = "retry_page"       // PAGE retry entry point
	TaskMergePages      = "merge_pages"      // MERGE
)

// TaskMessage is the queue envelope. Attempt counts deliveries of the
// same logical task so that re-enqueued retries carry their history.
type TaskMessage struct {
	Task    string          `json:"task"`
	Attempt int             `json:"attempt"`
	Payload json.RawMessage `json:"payload"`
}

// NewTaskMessage builds an envelope with a marshalled payload.
func NewTaskMessage(task string, attempt int, payload interface{}) (*TaskMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &TaskMessage{Task: task, Attempt: attempt, Payload: data}, nil
}

// DecodePayload unmarshals the payload into the given struct.
func (m *TaskMessage) DecodePayload(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}

// ConvertDocumentPayload drives the MAIN task.
type ConvertDocumentPayload struct {
	MainID      string         `json:"main_id"`
	SourceType  SourceType     `json:"source_type"`
	Source      string         `json:"source"`
	Options     ConvertOptions `json:"options"`
	AuthToken   string         `json:"auth_token,omitempty"`
	CallbackURL string         `json:"callback_url,omitempty"`
}

// SplitDocumentPayload drives the SPLIT task.
type SplitDocumentPayload struct {
	SplitID  string         `json:"split_id"`
	ParentID string         `json:"parent_id"`
	FilePath string         `json:"file_path"`
	Options  ConvertOptions `json:"options"`
}

// ConvertPagePayload drives the PAGE task.
type ConvertPagePayload struct {
	PageJobID    string         `json:"page_job_id"`
	ParentID     string         `json:"parent_id"`
	PageNumber   int            `json:"page_number"`
	PageFilePath string         `json:"page_file_path"`
	Options      ConvertOptions `json:"options"`
}

// RetryPagePayload drives the page retry entry point, which re-extracts
// the page from the original upload blob.
type RetryPagePayload struct {
	PageJobID  string         `json:"page_job_id"`
	ParentID   string         `json:"parent_id"`
	PageNumber int            `json:"page_number"`
	Options    ConvertOptions `json:"options"`
}

// MergePagesPayload drives the MERGE task.
type MergePagesPayload struct {
	MergeID  string `json:"merge_id"`
	ParentID string `json:"parent_id"`
}
