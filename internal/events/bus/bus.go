// Package bus provides event bus abstractions used to fan commentary output
// and loop status updates across the process (and, with the NATS driver,
// across cooperating processes watching the same workspace).
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is a lightweight envelope independent of the NormalizedEvent wire
// schema — it carries internal fan-out traffic (commentary, loop status),
// not the client-facing agent stream.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent creates an Event with a fresh ID and current timestamp.
func NewEvent(eventType, source string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Handler processes one event.
type Handler func(ctx context.Context, event *Event) error

// Subscription represents an active subscription.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus is the fan-out transport the commentary bridge and loop
// orchestrator publish onto and subscribe from.
type EventBus interface {
	Publish(ctx context.Context, subject string, event *Event) error
	Subscribe(subject string, handler Handler) (Subscription, error)
	QueueSubscribe(subject, queue string, handler Handler) (Subscription, error)
	Close()
	IsConnected() bool
}
