package commentary

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgate/agentgate/internal/common/logger"
	"github.com/agentgate/agentgate/pkg/api"
)

type fakeGenerator struct {
	mu    sync.Mutex
	calls int
	text  string
	err   error
}

func (f *fakeGenerator) Generate(_ context.Context, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.text, f.err
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeHistoryStore struct {
	mu      sync.Mutex
	records []api.CommentaryRecord
}

func (f *fakeHistoryStore) SaveCommentary(_ context.Context, rec api.CommentaryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func TestBridge_RefCountedLifecycle(t *testing.T) {
	b := NewBridge(nil, nil, nil, 60, false, logger.Default())

	unsub1 := b.Subscribe("ws-1", "narrator", VerbosityStrategic)
	unsub2 := b.Subscribe("ws-1", "narrator", VerbosityStrategic)

	b.mu.Lock()
	require.Contains(t, b.commentators, "ws-1")
	require.Equal(t, 2, b.commentators["ws-1"].refCount)
	b.mu.Unlock()

	unsub1()
	b.mu.Lock()
	require.Contains(t, b.commentators, "ws-1", "one subscriber remains")
	b.mu.Unlock()

	unsub2()
	b.mu.Lock()
	assert.NotContains(t, b.commentators, "ws-1", "last subscriber leaving tears down the commentator")
	b.mu.Unlock()
}

func TestBridge_IngestDiscardsUnresolvedWorkspace(t *testing.T) {
	b := NewBridge(nil, nil, nil, 60, false, logger.Default())
	// Should not panic even though conversationID was never resolved.
	b.Ingest("unknown-conv", api.NormalizedEvent{Type: api.EventMessageStop})
}

func TestBridge_IngestRoutesToResolvedCommentator(t *testing.T) {
	b := NewBridge(nil, nil, nil, 60, false, logger.Default())
	b.ResolveWorkspace("/ws", "conv-1", "ws-1")
	unsub := b.Subscribe("ws-1", "narrator", VerbosityMinimal)
	defer unsub()

	b.Ingest("conv-1", api.NormalizedEvent{Type: api.EventStoryUpdate})

	b.mu.Lock()
	c := b.commentators["ws-1"]
	b.mu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Len(t, c.buffer, 1, "a minimal-relevant event type should be buffered")
}

func TestBridge_ForceStopInvalidatesCaches(t *testing.T) {
	b := NewBridge(nil, nil, nil, 60, false, logger.Default())
	b.ResolveWorkspace("/ws", "conv-1", "ws-1")
	b.Subscribe("ws-1", "narrator", VerbosityStrategic)

	b.ForceStop("ws-1")

	_, ok := b.workspaceIDFor("conv-1")
	assert.False(t, ok, "ForceStop must invalidate the conversation->workspace cache")
}

func TestBridge_EmitAndPersistOnFlush(t *testing.T) {
	gen := &fakeGenerator{text: "the agent made progress"}
	hist := &fakeHistoryStore{}

	var emitted []api.NormalizedEvent
	var emitMu sync.Mutex
	emit := func(workspaceID string, evt api.NormalizedEvent) {
		emitMu.Lock()
		defer emitMu.Unlock()
		emitted = append(emitted, evt)
	}

	b := NewBridge(gen, hist, emit, 6000, true, logger.Default())
	unsub := b.Subscribe("ws-1", "narrator", VerbosityFrequent)
	defer unsub()

	b.mu.Lock()
	c := b.commentators["ws-1"]
	b.mu.Unlock()

	c.flush([]api.NormalizedEvent{{Type: api.EventMessageStop}})

	require.Eventually(t, func() bool {
		emitMu.Lock()
		defer emitMu.Unlock()
		return len(emitted) == 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, gen.callCount())

	hist.mu.Lock()
	defer hist.mu.Unlock()
	require.Len(t, hist.records, 1)
	assert.Equal(t, "the agent made progress", hist.records[0].Text)
}

func TestBridge_NilGeneratorSkipsFlush(t *testing.T) {
	b := NewBridge(nil, nil, nil, 6000, false, logger.Default())
	unsub := b.Subscribe("ws-1", "narrator", VerbosityFrequent)
	defer unsub()

	b.mu.Lock()
	c := b.commentators["ws-1"]
	b.mu.Unlock()

	// Should return without panicking when generator is nil.
	c.flush([]api.NormalizedEvent{{Type: api.EventMessageStop}})
}

func TestVerbosity_Includes(t *testing.T) {
	assert.True(t, VerbosityFrequent.includes(api.NormalizedEvent{Type: api.EventContentBlockDelta}))
	assert.False(t, VerbosityFrequent.includes(api.NormalizedEvent{Type: api.EventPing}))

	assert.True(t, VerbosityMinimal.includes(api.NormalizedEvent{Type: api.EventError}))
	assert.False(t, VerbosityMinimal.includes(api.NormalizedEvent{Type: api.EventToolResult}))

	assert.True(t, VerbosityStrategic.includes(api.NormalizedEvent{Type: api.EventToolResult}))
	assert.False(t, VerbosityStrategic.includes(api.NormalizedEvent{Type: api.EventContentBlockDelta}))
}

func TestPersonalityFor_FallsBackToNarrator(t *testing.T) {
	assert.Equal(t, "narrator", personalityFor("does-not-exist").Name)
	assert.Equal(t, "coach", personalityFor("coach").Name)
}
