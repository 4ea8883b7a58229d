package task

import (
	"context"
	"log/slog"
	"sync"
)

// TaskRunnerConfig holds configuration for the task runner
type TaskRunnerConfig struct {
	// WorkerCount determines how many concurrent workers process tasks
	WorkerCount int

	// QueueSize determines the buffer size for the in-memory task queue
	QueueSize int
}

// DefaultTaskRunnerConfig returns a TaskRunnerConfig with reasonable defaults
func DefaultTaskRunnerConfig() TaskRunnerConfig {
	return TaskRunnerConfig{
		WorkerCount: 2,
		QueueSize:   100,
	}
}

// Submitter accepts tasks for asynchronous execution.
type Submitter interface {
	Submit(ctx context.Context, task Task) error
}

// TaskRunner manages background task processing: a bounded queue drained
// by a worker pool.
type TaskRunner struct {
	queue  *TaskQueue
	pool   *WorkerPool
	logger *slog.Logger

	stopOnce sync.Once
}

var _ Submitter = (*TaskRunner)(nil)

// NewTaskRunner creates a new TaskRunner
func NewTaskRunner(config TaskRunnerConfig, logger *slog.Logger) *TaskRunner {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultTaskRunnerConfig().QueueSize
	}
	logger = logger.With("component", "task_runner")
	queue := NewTaskQueue(config.QueueSize, logger)
	pool := NewWorkerPool(queue, WorkerPoolConfig{WorkerCount: config.WorkerCount}, logger)
	pool.SetErrorHandler(func(task Task, err error) {
		// Task failures are already recorded by the task itself.
		logger.Warn("task finished with error",
			"task_id", task.ID(),
			"task_type", task.Type(),
			"error", err)
	})

	return &TaskRunner{
		queue:  queue,
		pool:   pool,
		logger: logger,
	}
}

// SetErrorHandler allows setting a custom error handler function
func (r *TaskRunner) SetErrorHandler(handler func(task Task, err error)) {
	r.pool.SetErrorHandler(handler)
}

// Submit adds a new task to the queue. It never blocks: a full queue
// yields ErrQueueFull and a stopped runner ErrQueueClosed.
func (r *TaskRunner) Submit(ctx context.Context, task Task) error {
	return r.queue.Enqueue(task)
}

// Start begins processing tasks
func (r *TaskRunner) Start() {
	r.pool.Start()
}

// Stop refuses new tasks and waits for queued ones to finish. If ctx ends
// first, in-flight tasks are cancelled and Stop returns ctx.Err().
func (r *TaskRunner) Stop(ctx context.Context) error {
	var err error
	r.stopOnce.Do(func() {
		r.queue.Close()

		done := make(chan struct{})
		go func() {
			r.pool.Wait()
			close(done)
		}()

		select {
		case <-done:
			r.logger.Info("task runner drained", "rejected", r.queue.Rejected())
		case <-ctx.Done():
			r.logger.Warn("task runner stop timed out, cancelling in-flight tasks",
				"queued", r.queue.Len())
			r.pool.Abort()
			<-done
			err = ctx.Err()
		}
	})
	return err
}
