package queue

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quill/internal/common"
	"github.com/ternarybob/quill/internal/interfaces"
	"github.com/ternarybob/quill/internal/models"
)

// WorkerPool manages a pool of workers that process queue messages
type WorkerPool struct {
	queueMgr *Manager
	config   *common.QueueConfig
	handlers map[string]interfaces.TaskHandler
	logger   arbor.ILogger
	ctx      context.Context
	cancel   context.CancelFunc
}

var _ interfaces.WorkerPool = (*WorkerPool)(nil)

// NewWorkerPool creates a new worker pool
func NewWorkerPool(queueMgr *Manager, config *common.QueueConfig, logger arbor.ILogger) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		queueMgr: queueMgr,
		config:   config,
		handlers: make(map[string]interfaces.TaskHandler),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// RegisterHandler registers a task handler. Handlers must be
// registered before Start.
func (wp *WorkerPool) RegisterHandler(task string, handler interfaces.TaskHandler) {
	wp.handlers[task] = handler
	wp.logger.Debug().
		Str("task", task).
		Msg("Task handler registered")
}

// Start starts the worker pool
func (wp *WorkerPool) Start() error {
	wp.logger.Info().
		Int("concurrency", wp.config.Concurrency).
		Msg("Starting worker pool")

	for i := 0; i < wp.config.Concurrency; i++ {
		workerID := i
		common.SafeGo(wp.logger, fmt.Sprintf("worker-%d", workerID), func() {
			wp.worker(workerID)
		})
	}

	return nil
}

// Stop gracefully stops the worker pool
func (wp *WorkerPool) Stop() error {
	wp.logger.Info().Msg("Stopping worker pool")
	wp.cancel()
	return nil
}

// worker is the main worker loop that processes messages
func (wp *WorkerPool) worker(workerID int) {
	// Stagger worker starts to reduce database lock contention
	staggerDelay := (wp.config.PollInterval / time.Duration(wp.config.Concurrency)) * time.Duration(workerID)
	if staggerDelay > 0 {
		time.Sleep(staggerDelay)
	}

	wp.logger.Debug().
		Int("worker_id", workerID).
		Dur("stagger_delay", staggerDelay).
		Msg("Worker started")

	ticker := time.NewTicker(wp.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.Debug().
				Int("worker_id", workerID).
				Msg("Worker stopped")
			return

		case <-ticker.C:
			if err := wp.processMessage(workerID); err != nil {
				// SQLITE_BUSY is expected under concurrency and clears
				// on the next poll
				errMsg := err.Error()
				if err != models.ErrNoMessage && !strings.Contains(errMsg, "database is locked") && !strings.Contains(errMsg, "SQLITE_BUSY") {
					wp.logger.Warn().
						Err(err).
						Int("worker_id", workerID).
						Msg("Error processing message")
				}
			}
		}
	}
}

// processMessage receives and processes a single message. The message
// is deleted whether the handler succeeds or fails; failed tasks
// re-enqueue themselves with a backoff delay.
func (wp *WorkerPool) processMessage(workerID int) error {
	msg, deleteFn, err := wp.queueMgr.Receive(wp.ctx)
	if err != nil {
		return err
	}

	wp.logger.Debug().
		Str("task", msg.Task).
		Int("attempt", msg.Attempt).
		Int("worker_id", workerID).
		Msg("Processing message")

	handler, exists := wp.handlers[msg.Task]
	if !exists {
		wp.logger.Error().
			Str("task", msg.Task).
			Msg("No handler registered for task")
		if delErr := deleteFn(); delErr != nil {
			wp.logger.Warn().Err(delErr).Msg("Failed to delete unhandled message")
		}
		return nil
	}

	startTime := time.Now()
	handlerErr := wp.runHandler(handler, msg)
	duration := time.Since(startTime)

	if handlerErr != nil {
		wp.logger.Error().
			Err(handlerErr).
			Str("task", msg.Task).
			Int("attempt", msg.Attempt).
			Dur("duration", duration).
			Int("worker_id", workerID).
			Msg("Task handler failed")
	} else {
		wp.logger.Info().
			Str("task", msg.Task).
			Dur("duration", duration).
			Int("worker_id", workerID).
			Msg("Task completed")
	}

	if err := deleteFn(); err != nil {
		wp.logger.Warn().
			Err(err).
			Str("task", msg.Task).
			Msg("Failed to delete processed message")
		return err
	}

	return handlerErr
}

// runHandler invokes a task handler and converts a panic into an error
// so one bad payload cannot take a worker down.
func (wp *WorkerPool) runHandler(handler interfaces.TaskHandler, msg *models.TaskMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			wp.logger.Error().
				Str("task", msg.Task).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(buf[:n])).
				Msg("Task handler panicked")
			err = fmt.Errorf("task %s panicked: %v", msg.Task, r)
		}
	}()
	return handler(wp.ctx, msg)
}
