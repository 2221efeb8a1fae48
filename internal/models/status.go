package models

import "fmt"

// JobStatus represents the lifecycle state of a job or page.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// ParseJobStatus validates a status token. Any token outside the state
// machine is a bug, not a soft default.
func ParseJobStatus(s string) (JobStatus, error) {
	switch JobStatus(s) {
	case StatusPending, StatusQueued, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return JobStatus(s), nil
	}
	return "", fmt.Errorf("unknown job status: %q", s)
}

// IsTerminal returns true for statuses that end a job's lifecycle.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// JobType identifies a job's role in the MAIN/SPLIT/PAGE/MERGE hierarchy.
type JobType string

const (
	JobTypeMain  JobType = "MAIN"
	JobTypeSplit JobType = "SPLIT"
	JobTypePage  JobType = "PAGE"
	JobTypeMerge JobType = "MERGE"
)

// ChildRole names the child slots a MAIN registers in the status cache.
type ChildRole string

const (
	RoleSplit ChildRole = "split"
	RolePage  ChildRole = "page"
	RoleMerge ChildRole = "merge"
)
