package task

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	// ErrQueueClosed is returned when submitting after shutdown began.
	ErrQueueClosed = errors.New("task queue is closed")

	// ErrQueueFull is returned when the buffer has no free slot. Callers
	// treat it as "try later": imports left IMPORTING are resumed by the
	// sweeper.
	ErrQueueFull = errors.New("task queue is full")
)

// TaskQueue is a bounded, non-blocking FIFO of tasks. Submissions that do
// not fit are rejected and counted per task type.
type TaskQueue struct {
	mu       sync.RWMutex
	ch       chan Task
	closed   bool
	rejected map[string]int
	logger   *slog.Logger
}

// NewTaskQueue creates a queue buffering up to size tasks.
func NewTaskQueue(size int, logger *slog.Logger) *TaskQueue {
	return &TaskQueue{
		ch:       make(chan Task, size),
		rejected: make(map[string]int),
		logger:   logger,
	}
}

// Enqueue adds t without blocking.
func (q *TaskQueue) Enqueue(t Task) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return ErrQueueClosed
	}
	select {
	case q.ch <- t:
		q.mu.RUnlock()
		q.logger.Debug("task enqueued",
			"task_id", t.ID(),
			"task_type", t.Type(),
			"depth", len(q.ch))
		return nil
	default:
		q.mu.RUnlock()
	}

	q.mu.Lock()
	q.rejected[t.Type()]++
	q.mu.Unlock()
	q.logger.Warn("task rejected, queue full",
		"task_id", t.ID(),
		"task_type", t.Type(),
		"capacity", cap(q.ch))
	return fmt.Errorf("%w: capacity %d", ErrQueueFull, cap(q.ch))
}

// Close stops accepting tasks. Already queued tasks are still delivered.
// Closing twice is a no-op.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Len returns the number of tasks waiting for a worker.
func (q *TaskQueue) Len() int {
	return len(q.ch)
}

// Rejected returns how many submissions of each task type were turned away
// because the queue was full.
func (q *TaskQueue) Rejected() map[string]int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make(map[string]int, len(q.rejected))
	for k, v := range q.rejected {
		out[k] = v
	}
	return out
}

// GetChannel returns the channel workers consume from.
func (q *TaskQueue) GetChannel() <-chan Task {
	return q.ch
}
