package loop

import (
	"context"

	"github.com/agentgate/agentgate/internal/events/bus"
)

// BusSink adapts a bus.EventBus to the Sink interface the Runner publishes
// loop_event/story_update traffic onto, namespacing subjects under the
// configured prefix so multiple workspaces can share one bus.
type BusSink struct {
	Bus    bus.EventBus
	Prefix string
}

// Publish implements Sink.
func (s BusSink) Publish(subject string, payload map[string]any) {
	full := subject
	if s.Prefix != "" {
		full = s.Prefix + "." + subject
	}
	_ = s.Bus.Publish(context.Background(), full, bus.NewEvent(subject, "loop", payload))
}
