package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/quill/internal/models"
)

// TaskHandler processes one dequeued task message. Returning an error
// marks the attempt failed; re-delivery is driven by the handler
// re-enqueueing with a backoff delay, not by the queue.
type TaskHandler func(ctx context.Context, msg *models.TaskMessage) error

// QueueManager wraps the persistent task queue.
type QueueManager interface {
	Enqueue(ctx context.Context, msg *models.TaskMessage) error

	// EnqueueWithDelay makes the message invisible until the delay
	// elapses. Retry backoff rides on this.
	EnqueueWithDelay(ctx context.Context, msg *models.TaskMessage, delay time.Duration) error

	// Receive pulls the next message. Returns models.ErrNoMessage when
	// the queue is empty, otherwise the decoded message and a delete
	// function to call once processing finishes.
	Receive(ctx context.Context) (*models.TaskMessage, func() error, error)

	GetQueueLength(ctx context.Context) (int, error)
}

// WorkerPool runs concurrent task consumers against the queue.
type WorkerPool interface {
	RegisterHandler(task string, handler TaskHandler)
	Start() error
	Stop() error
}
