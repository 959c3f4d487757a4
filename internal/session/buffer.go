package session

import (
	"sync"

	"github.com/agentgate/agentgate/pkg/api"
)

// replayBuffer is the append-only, strictly ordered event log backing a
// session's reconnection story (spec §4.2, invariant I3). Entries are
// immutable once appended; only the tail ever grows, so concurrent
// append-and-read via a monotonic cursor is safe without locking reads
// against writes beyond the length check.
type replayBuffer struct {
	mu       sync.RWMutex
	events   []api.NormalizedEvent
	complete bool
}

func newReplayBuffer() *replayBuffer {
	return &replayBuffer{}
}

// append adds an event to the tail, assigning it the next sequence number.
func (b *replayBuffer) append(evt api.NormalizedEvent) api.NormalizedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	evt.Seq = uint64(len(b.events)) + 1
	b.events = append(b.events, evt)
	return evt
}

// markComplete records that no further events will be appended.
func (b *replayBuffer) markComplete() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.complete = true
}

// isComplete reports whether the stream has ended.
func (b *replayBuffer) isComplete() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.complete
}

// since returns every event with seq > cursor, plus the new cursor value
// and whether the stream is complete.
func (b *replayBuffer) since(cursor uint64) ([]api.NormalizedEvent, uint64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if cursor >= uint64(len(b.events)) {
		return nil, cursor, b.complete
	}
	out := make([]api.NormalizedEvent, len(b.events)-int(cursor))
	copy(out, b.events[cursor:])
	return out, uint64(len(b.events)), b.complete
}

// all returns every buffered event, for a fresh reconnect's initial replay.
func (b *replayBuffer) all() []api.NormalizedEvent {
	return b.sinceAll(0)
}

func (b *replayBuffer) sinceAll(cursor uint64) []api.NormalizedEvent {
	events, _, _ := b.since(cursor)
	return events
}
