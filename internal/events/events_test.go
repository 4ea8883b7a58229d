package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/fintrack-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockEventHandler implements the EventHandler interface for testing
type MockEventHandler struct {
	// The last event received by this handler
	LastEvent *TaskRequestEvent
	// Error to return from HandleEvent
	HandlerError error
	// Count of events handled
	HandledCount int
}

// HandleEvent implements the EventHandler interface
func (h *MockEventHandler) HandleEvent(ctx context.Context, event *TaskRequestEvent) error {
	h.LastEvent = event
	h.HandledCount++
	return h.HandlerError
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewTaskRequestEvent(t *testing.T) {
	payload := ImportRequested{BatchID: uuid.New(), ExecutionID: uuid.New()}

	event, err := NewTaskRequestEvent(TypeCSVImport, payload)

	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.Equal(t, TypeCSVImport, event.Type)
	assert.WithinDuration(t, time.Now(), event.CreatedAt, 2*time.Second)

	var decoded ImportRequested
	require.NoError(t, event.UnmarshalPayload(&decoded))
	assert.Equal(t, payload, decoded)

	_, err = NewTaskRequestEvent(TypeCSVImport, func() {})
	assert.Error(t, err, "unencodable payloads are rejected")

	_, err = NewTaskRequestEvent("", payload)
	assert.ErrorIs(t, err, ErrMissingType)
}

func TestInMemoryEventEmitter(t *testing.T) {
	t.Run("no handlers", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(discardLogger())
		event, err := NewTaskRequestEvent(TypeStatementParse, StatementRequested{})
		require.NoError(t, err)
		assert.NoError(t, emitter.EmitEvent(context.Background(), event))
	})

	t.Run("every handler sees the event and failures are joined", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(discardLogger())
		errFirst := errors.New("first")
		errSecond := errors.New("second")
		first := &MockEventHandler{HandlerError: errFirst}
		second := &MockEventHandler{HandlerError: errSecond}
		third := &MockEventHandler{}
		emitter.RegisterHandler(first)
		emitter.RegisterHandler(second)
		emitter.RegisterHandler(third)

		event, err := NewTaskRequestEvent(TypeStatementConfirm, StatementRequested{StatementID: uuid.New()})
		require.NoError(t, err)

		err = emitter.EmitEvent(context.Background(), event)
		assert.ErrorIs(t, err, errFirst)
		assert.ErrorIs(t, err, errSecond)
		for _, h := range []*MockEventHandler{first, second, third} {
			assert.Equal(t, 1, h.HandledCount)
			assert.Equal(t, event, h.LastEvent)
		}
	})

	t.Run("typed subscriptions", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(discardLogger())
		imports := &MockEventHandler{}
		statements := &MockEventHandler{}
		emitter.RegisterHandler(imports, TypeCSVImport)
		emitter.RegisterHandler(statements, TypeStatementParse, TypeStatementConfirm)

		for _, typ := range []string{TypeCSVImport, TypeStatementParse, TypeStatementConfirm, "unknown"} {
			event, err := NewTaskRequestEvent(typ, struct{}{})
			require.NoError(t, err)
			require.NoError(t, emitter.EmitEvent(context.Background(), event))
		}
		assert.Equal(t, 1, imports.HandledCount)
		assert.Equal(t, 2, statements.HandledCount)
	})
}

func TestEmitAfterCommit(t *testing.T) {
	t.Run("deferred until hooks run", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(discardLogger())
		handler := &MockEventHandler{}
		emitter.RegisterHandler(handler)

		ctx, hooks := store.WithCommitHooks(context.Background())
		require.NoError(t, EmitAfterCommit(ctx, emitter, TypeCSVImport, ImportRequested{BatchID: uuid.New()}))
		assert.Equal(t, 0, handler.HandledCount, "nothing is emitted before commit")

		hooks.Run(context.Background())
		assert.Equal(t, 1, handler.HandledCount)
		assert.Equal(t, TypeCSVImport, handler.LastEvent.Type)
	})

	t.Run("immediate outside a transaction", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(discardLogger())
		handler := &MockEventHandler{HandlerError: errors.New("queue full")}
		emitter.RegisterHandler(handler)

		require.NoError(t, EmitAfterCommit(context.Background(), emitter, TypeCSVImport, ImportRequested{}))
		assert.Equal(t, 1, handler.HandledCount, "handler errors are logged, not returned")
	})

	t.Run("bad payload fails synchronously", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(discardLogger())
		err := EmitAfterCommit(context.Background(), emitter, TypeCSVImport, make(chan int))
		assert.ErrorContains(t, err, "failed to build csv_import event")
	})
}
