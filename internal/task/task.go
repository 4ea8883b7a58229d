package task

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// TaskStatus represents the current state of a task
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Task represents a unit of background work to be processed.
// Tasks are not persisted: durable state lives on the staged record or job
// execution a task works on, and the sweeper re-submits abandoned work.
type Task interface {
	// ID returns the task's unique identifier
	ID() uuid.UUID

	// Type returns the task type identifier
	Type() string

	// Payload returns the task data as a byte slice
	Payload() []byte

	// Status returns the current task status
	Status() TaskStatus

	// Execute runs the task logic
	Execute(ctx context.Context) error
}

// TaskQueueReader provides read-only access to the task channel
// allowing workers to consume tasks without the ability to enqueue
type TaskQueueReader interface {
	// GetChannel returns a read-only channel for consuming tasks
	GetChannel() <-chan Task
}

// TaskQueueWriter provides write access to the task queue
// allowing services to enqueue tasks for processing
type TaskQueueWriter interface {
	// Enqueue adds a task to the queue for processing
	// Returns an error if the queue is full or closed
	Enqueue(task Task) error

	// Close closes the task queue, preventing further task submission
	Close()
}

// FuncTask adapts a function to the Task interface.
type FuncTask struct {
	id      uuid.UUID
	kind    string
	payload []byte
	fn      func(ctx context.Context) error

	mu     sync.Mutex
	status TaskStatus
}

// NewFuncTask creates a pending task of the given type that runs fn.
func NewFuncTask(kind string, payload []byte, fn func(ctx context.Context) error) *FuncTask {
	return &FuncTask{
		id:      uuid.New(),
		kind:    kind,
		payload: payload,
		fn:      fn,
		status:  TaskStatusPending,
	}
}

// ID returns the task's unique identifier
func (t *FuncTask) ID() uuid.UUID { return t.id }

// Type returns the task type identifier
func (t *FuncTask) Type() string { return t.kind }

// Payload returns the task data as a byte slice
func (t *FuncTask) Payload() []byte { return t.payload }

// Status returns the current task status
func (t *FuncTask) Status() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Execute runs the wrapped function, tracking status.
func (t *FuncTask) Execute(ctx context.Context) error {
	t.setStatus(TaskStatusProcessing)
	if err := t.fn(ctx); err != nil {
		t.setStatus(TaskStatusFailed)
		return err
	}
	t.setStatus(TaskStatusCompleted)
	return nil
}

func (t *FuncTask) setStatus(s TaskStatus) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
}
