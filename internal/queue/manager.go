// -----------------------------------------------------------------------
// Queue Manager - Persistent task queue over goqite
// -----------------------------------------------------------------------

package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"maragu.dev/goqite"

	"github.com/ternarybob/quill/internal/common"
	"github.com/ternarybob/quill/internal/interfaces"
	"github.com/ternarybob/quill/internal/models"
)

// Manager is a thin wrapper around goqite. It provides ONLY queue
// operations, no pipeline logic.
type Manager struct {
	q      *goqite.Queue
	db     *sql.DB
	config *common.QueueConfig
}

var _ interfaces.QueueManager = (*Manager)(nil)

// NewManager creates the goqite tables if needed and opens the queue.
// The queue shares the metadata database file.
func NewManager(db *sql.DB, config *common.QueueConfig) (*Manager, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := goqite.Setup(ctx, db); err != nil {
		// Ignore "already exists" errors - expected on subsequent startups
		if !strings.Contains(err.Error(), "already exists") {
			return nil, fmt.Errorf("failed to set up queue tables: %w", err)
		}
	}

	q := goqite.New(goqite.NewOpts{
		DB:         db,
		Name:       config.QueueName,
		Timeout:    config.VisibilityTimeout,
		MaxReceive: config.MaxReceive,
	})

	return &Manager{q: q, db: db, config: config}, nil
}

// Enqueue adds a task message to the queue.
func (m *Manager) Enqueue(ctx context.Context, msg *models.TaskMessage) error {
	return m.EnqueueWithDelay(ctx, msg, 0)
}

// EnqueueWithDelay adds a task message that stays invisible until the
// delay elapses. Retry backoff is implemented with this.
func (m *Manager) EnqueueWithDelay(ctx context.Context, msg *models.TaskMessage, delay time.Duration) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode task message: %w", err)
	}

	return m.q.Send(ctx, goqite.Message{
		Body:  data,
		Delay: delay,
	})
}

// Receive pulls the next message from the queue. Returns the decoded
// message and a delete function to call after processing.
func (m *Manager) Receive(ctx context.Context) (*models.TaskMessage, func() error, error) {
	gMsg, err := m.q.Receive(ctx)
	if err != nil {
		return nil, nil, err
	}
	if gMsg == nil {
		return nil, nil, models.ErrNoMessage
	}

	var msg models.TaskMessage
	if err := json.Unmarshal(gMsg.Body, &msg); err != nil {
		// Drop the malformed message so it cannot poison the queue
		deleteCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.q.Delete(deleteCtx, gMsg.ID)
		return nil, nil, fmt.Errorf("invalid message body: %w", err)
	}

	// Use a fresh context with timeout so deletion still works after
	// the original Receive context has expired
	deleteFn := func() error {
		deleteCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return m.q.Delete(deleteCtx, gMsg.ID)
	}

	return &msg, deleteFn, nil
}

// GetQueueLength returns the number of pending messages.
func (m *Manager) GetQueueLength(ctx context.Context) (int, error) {
	var count int
	err := m.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM goqite WHERE queue = ?`, m.config.QueueName).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count queue messages: %w", err)
	}
	return count, nil
}
