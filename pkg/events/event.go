package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Topics published by the engine
const (
	TopicSessionTurn       = "session.turn"
	TopicWorkflowCompleted = "workflow.completed"
	TopicSessionReset      = "session.reset"
)

// Topics lists every topic the engine publishes, for consumers that audit all of them
func Topics() []string {
	return []string{TopicSessionTurn, TopicWorkflowCompleted, TopicSessionReset}
}

// Event defines the contract for all system events.
type Event interface {
	// EventType returns the topic of this event (e.g., "session.turn").
	EventType() string

	// Payload returns the data associated with the event.
	Payload() map[string]interface{}

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Publisher delivers events to a bus. Publishing is best effort: the engine logs a
// failed publish and never fails a turn because of it.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// BaseEvent is the only Event implementation the engine emits
type BaseEvent struct {
	Type       string                 `json:"type"`
	Data       map[string]interface{} `json:"data"`
	OccurredAt time.Time              `json:"occurred_at"`
}

func New(topic string, data map[string]interface{}) BaseEvent {
	return BaseEvent{Type: topic, Data: data, OccurredAt: time.Now().UTC()}
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}

// Marshal encodes an event with its type and time so a consumer on another bus can
// restore it without relying on the subject name.
func Marshal(event Event) ([]byte, error) {
	return json.Marshal(BaseEvent{
		Type:       event.EventType(),
		Data:       event.Payload(),
		OccurredAt: event.Timestamp(),
	})
}

// Unmarshal restores an event written by Marshal
func Unmarshal(raw []byte) (BaseEvent, error) {
	var e BaseEvent
	if err := json.Unmarshal(raw, &e); err != nil {
		return BaseEvent{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if e.Type == "" {
		return BaseEvent{}, fmt.Errorf("failed to unmarshal event: missing type")
	}
	return e, nil
}
