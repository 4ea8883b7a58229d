package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/phrazzld/fintrack-api/internal/platform/logger"
	"github.com/phrazzld/fintrack-api/internal/store"
)

type subscription struct {
	handler EventHandler
	types   []string
}

func (s subscription) wants(eventType string) bool {
	return len(s.types) == 0 || slices.Contains(s.types, eventType)
}

// InMemoryEventEmitter dispatches events synchronously to the handlers
// registered in this process.
type InMemoryEventEmitter struct {
	mu     sync.RWMutex
	subs   []subscription
	logger *slog.Logger
}

// NewInMemoryEventEmitter creates an emitter with no handlers.
func NewInMemoryEventEmitter(logger *slog.Logger) *InMemoryEventEmitter {
	return &InMemoryEventEmitter{logger: logger.With("component", "event_emitter")}
}

// RegisterHandler subscribes handler to the given event types, or to every
// type when none are given.
func (e *InMemoryEventEmitter) RegisterHandler(handler EventHandler, types ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs = append(e.subs, subscription{handler: handler, types: types})
}

// EmitEvent delivers event to every interested handler, in registration
// order. A failing handler does not stop delivery; all failures are joined
// into the returned error.
func (e *InMemoryEventEmitter) EmitEvent(ctx context.Context, event *TaskRequestEvent) error {
	e.mu.RLock()
	subs := slices.Clone(e.subs)
	e.mu.RUnlock()

	var errs []error
	delivered := 0
	for _, sub := range subs {
		if !sub.wants(event.Type) {
			continue
		}
		delivered++
		if err := sub.handler.HandleEvent(ctx, event); err != nil {
			e.logger.Error("event handler failed",
				"event_id", event.ID,
				"event_type", event.Type,
				"error", err)
			errs = append(errs, err)
		}
	}

	if delivered == 0 {
		e.logger.Warn("event dropped, no handler subscribed",
			"event_id", event.ID,
			"event_type", event.Type)
	}
	return errors.Join(errs...)
}

// EmitAfterCommit builds a task request event now and emits it once the
// surrounding transaction commits. Outside a transaction it emits at once.
// Emission failures are only logged: the record the event refers to stays
// in a state the sweeper recovers.
func EmitAfterCommit(ctx context.Context, emitter EventEmitter, eventType string, payload any) error {
	event, err := NewTaskRequestEvent(eventType, payload)
	if err != nil {
		return fmt.Errorf("failed to build %s event: %w", eventType, err)
	}

	store.AfterCommit(ctx, func(hookCtx context.Context) {
		if err := emitter.EmitEvent(hookCtx, event); err != nil {
			logger.FromContext(hookCtx).Warn("failed to emit event after commit",
				"event_id", event.ID,
				"event_type", event.Type,
				"error", err)
		}
	})
	return nil
}
