package models

import "errors"

var (
	// ErrNotFound is returned when a job, page, or result does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNoMessage is returned when the queue is empty.
	ErrNoMessage = errors.New("no messages in queue")

	// ErrDuplicateJob is returned by the dedup gate when a MAIN already
	// exists for (user_id, file_checksum).
	ErrDuplicateJob = errors.New("duplicate job for checksum")

	// ErrRetryExhausted is returned when a page retry would exceed the
	// configured retry ceiling.
	ErrRetryExhausted = errors.New("retry count exhausted")

	// ErrOwnershipDenied is returned when a job is accessed by a user
	// that does not own it.
	ErrOwnershipDenied = errors.New("job not owned by user")

	// ErrFileTooLarge is returned at submission when the payload exceeds
	// the configured size cap.
	ErrFileTooLarge = errors.New("file exceeds maximum size")

	// ErrUnsupportedSource is returned for a source type outside the
	// supported set.
	ErrUnsupportedSource = errors.New("unsupported source type")

	// ErrNotTerminal is returned when a result is requested for a job
	// that has not completed.
	ErrNotTerminal = errors.New("job has not completed")
)
