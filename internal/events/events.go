package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Task request event types.
const (
	// TypeCSVImport asks for a confirmed CSV batch to be imported.
	TypeCSVImport = "csv_import"
	// TypeStatementParse asks for an uploaded statement to be parsed.
	TypeStatementParse = "statement_parse"
	// TypeStatementConfirm asks for parsed statement rows to be inserted.
	TypeStatementConfirm = "statement_confirm"
)

// ImportRequested is the payload of TypeCSVImport events.
type ImportRequested struct {
	BatchID     uuid.UUID `json:"batch_id"`
	ExecutionID uuid.UUID `json:"execution_id"`
}

// StatementRequested is the payload of the statement event types.
type StatementRequested struct {
	StatementID uuid.UUID `json:"statement_id"`
	ExecutionID uuid.UUID `json:"execution_id"`
	UserID      uuid.UUID `json:"user_id"`
}

// ErrMissingType is returned for an event without a type.
var ErrMissingType = errors.New("event type is required")

// TaskRequestEvent asks for background work without the emitter knowing
// which task implements it. Payload is the JSON encoding of one of the
// payload structs above.
type TaskRequestEvent struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// UnmarshalPayload decodes the payload into v.
func (e *TaskRequestEvent) UnmarshalPayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// NewTaskRequestEvent encodes payload into a new event of eventType.
func NewTaskRequestEvent(eventType string, payload any) (*TaskRequestEvent, error) {
	if eventType == "" {
		return nil, ErrMissingType
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return &TaskRequestEvent{
		ID:        uuid.New(),
		Type:      eventType,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// EventHandler consumes task request events.
type EventHandler interface {
	HandleEvent(ctx context.Context, event *TaskRequestEvent) error
}

// EventEmitter publishes task request events to its handlers.
type EventEmitter interface {
	EmitEvent(ctx context.Context, event *TaskRequestEvent) error
}
