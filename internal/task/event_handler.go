package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/phrazzld/fintrack-api/internal/events"
)

// Factory builds a task from a task request event.
type Factory func(event *events.TaskRequestEvent) (Task, error)

// TaskFactoryEventHandler implements the events.EventHandler interface
// to handle task request events and delegate them to the factory registered
// for the event type.
type TaskFactoryEventHandler struct {
	mu        sync.RWMutex
	factories map[string]Factory
	runner    Submitter
	logger    *slog.Logger
}

// NewTaskFactoryEventHandler creates a new event handler that creates tasks
// with registered factories and submits them to the provided runner.
func NewTaskFactoryEventHandler(runner Submitter, logger *slog.Logger) *TaskFactoryEventHandler {
	return &TaskFactoryEventHandler{
		factories: make(map[string]Factory),
		runner:    runner,
		logger:    logger.With("component", "task_factory_event_handler"),
	}
}

// Register binds a factory to an event type, replacing any previous one.
func (h *TaskFactoryEventHandler) Register(eventType string, factory Factory) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.factories[eventType] = factory
}

// HandleEvent processes events by creating and submitting tasks.
// Events without a registered factory are ignored.
func (h *TaskFactoryEventHandler) HandleEvent(ctx context.Context, event *events.TaskRequestEvent) error {
	h.mu.RLock()
	factory, ok := h.factories[event.Type]
	h.mu.RUnlock()
	if !ok {
		h.logger.Debug("ignoring event with unsupported type",
			"event_type", event.Type,
			"event_id", event.ID)
		return nil
	}

	task, err := factory(event)
	if err != nil {
		h.logger.Error("failed to create task",
			"error", err,
			"event_type", event.Type,
			"event_id", event.ID)
		return fmt.Errorf("failed to create task: %w", err)
	}

	if err := h.runner.Submit(ctx, task); err != nil {
		h.logger.Error("failed to submit task",
			"error", err,
			"task_id", task.ID(),
			"event_type", event.Type,
			"event_id", event.ID)
		return fmt.Errorf("failed to submit task: %w", err)
	}

	h.logger.Debug("task created and submitted",
		"task_id", task.ID(),
		"event_type", event.Type,
		"event_id", event.ID)
	return nil
}

// Ensure TaskFactoryEventHandler implements events.EventHandler
var _ events.EventHandler = (*TaskFactoryEventHandler)(nil)
