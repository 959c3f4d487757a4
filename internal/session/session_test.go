package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgate/agentgate/pkg/api"
)

func TestSession_StatusRoundTrip(t *testing.T) {
	s := newSession("id-1", "conv-1", api.SessionOptions{})
	assert.Equal(t, api.SessionIdle, s.getStatus())
	s.setStatus(api.SessionRunning)
	assert.Equal(t, api.SessionRunning, s.getStatus())
}

func TestSession_NudgesDrainClearsQueue(t *testing.T) {
	s := newSession("id-1", "conv-1", api.SessionOptions{})
	assert.Nil(t, s.drainNudges())

	s.enqueueNudge("be careful with the db migration")
	s.enqueueNudge("also run lint")

	got := s.drainNudges()
	assert.Equal(t, []string{"be careful with the db migration", "also run lint"}, got)
	assert.Nil(t, s.drainNudges(), "drain must clear the queue")
}

func TestSession_SignalCancel_NoopWithoutCancelFunc(t *testing.T) {
	s := newSession("id-1", "conv-1", api.SessionOptions{})
	assert.False(t, s.signalCancel())
}

func TestSession_SignalCancel_InvokesInstalledFunc(t *testing.T) {
	s := newSession("id-1", "conv-1", api.SessionOptions{})
	_, cancel := context.WithCancel(context.Background())
	called := false
	s.setCancel(func() { called = true; cancel() })

	assert.True(t, s.signalCancel())
	assert.True(t, called)
}

func TestSession_EmitFansOutToSubscribers(t *testing.T) {
	s := newSession("id-1", "conv-1", api.SessionOptions{})
	ch, unsub := s.subscribe()
	defer unsub()

	s.emit(api.NormalizedEvent{Type: api.EventMessageStart})

	select {
	case evt := <-ch:
		assert.Equal(t, api.EventMessageStart, evt.Type)
		assert.Equal(t, uint64(1), evt.Seq)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive emitted event")
	}
}

func TestSession_CloseSubscribersClosesChannelsAndMarksComplete(t *testing.T) {
	s := newSession("id-1", "conv-1", api.SessionOptions{})
	ch, _ := s.subscribe()

	s.closeSubscribers()

	_, ok := <-ch
	assert.False(t, ok, "subscriber channel should be closed")
	assert.True(t, s.buffer.isComplete())
}

func TestSession_ToAPI_ReflectsCurrentState(t *testing.T) {
	s := newSession("id-1", "conv-1", api.SessionOptions{Model: "claude", WorkspacePath: "/ws"})
	s.setStatus(api.SessionRunning)
	s.setResumeToken("tok")

	got := s.toAPI()
	require.Equal(t, "id-1", got.ID)
	assert.Equal(t, "conv-1", got.ConversationID)
	assert.Equal(t, "tok", got.ResumeToken)
	assert.Equal(t, api.SessionRunning, got.Status)
	assert.Equal(t, "/ws", got.WorkspacePath)
	assert.False(t, got.StreamComplete)
}

func TestSession_SnapshotAndSubscribe_IncludesPriorEventsAndSubscribesForLater(t *testing.T) {
	s := newSession("id-1", "conv-1", api.SessionOptions{})
	s.emit(api.NormalizedEvent{Type: api.EventMessageStart})

	snapshot, live, cancel, complete := s.snapshotAndSubscribe()
	defer cancel()
	require.Len(t, snapshot, 1)
	assert.Equal(t, api.EventMessageStart, snapshot[0].Type)
	assert.False(t, complete)

	s.emit(api.NormalizedEvent{Type: api.EventMessageStop})
	select {
	case evt := <-live:
		assert.Equal(t, api.EventMessageStop, evt.Type)
	case <-time.After(time.Second):
		t.Fatal("live subscription did not receive event emitted after snapshot")
	}
}

func TestSession_Subscribe_UnsubscribeRemovesFromFanout(t *testing.T) {
	s := newSession("id-1", "conv-1", api.SessionOptions{})
	ch, unsub := s.subscribe()
	unsub()

	s.emit(api.NormalizedEvent{Type: api.EventMessageStart})

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "unsubscribed channel should be closed, not receive events")
	case <-time.After(100 * time.Millisecond):
		t.Fatal("unsubscribed channel should already be closed")
	}
}
