package contextmon

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgate/agentgate/internal/common/logger"
	"github.com/agentgate/agentgate/pkg/api"
)

type fakeConvStore struct {
	mu               sync.Mutex
	messages         []api.Message
	rewritten        []api.Message
	rewrittenSummary string
	resumeCleared    bool
}

func (f *fakeConvStore) LoadMessages(_ context.Context, _ string) ([]api.Message, error) {
	return f.messages, nil
}

func (f *fakeConvStore) RewriteMessages(_ context.Context, _ string, messages []api.Message, summary string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rewritten = messages
	f.rewrittenSummary = summary
	return nil
}

func (f *fakeConvStore) ClearResumeToken(_ context.Context, _ string) error {
	f.resumeCleared = true
	return nil
}

func TestMonitor_Observe_NoWarningBelowThreshold(t *testing.T) {
	store := &fakeConvStore{}
	m := NewMonitor(store, nil, true, 8_000, 0, logger.Default())

	warn, boundary := m.Observe("conv-1", api.Usage{InputTokens: 1000}, 200_000)
	assert.Nil(t, warn)
	assert.Nil(t, boundary)
}

func TestMonitor_Observe_WarningAboveThresholdWithoutCompaction(t *testing.T) {
	store := &fakeConvStore{}
	m := NewMonitor(store, nil, false, 8_000, 0, logger.Default())

	th := Thresholds{ContextWindow: 200_000, MaxOutputTokens: 8_000}
	warn, boundary := m.Observe("conv-1", api.Usage{InputTokens: th.WarningThreshold() + 1}, 200_000)
	require.NotNil(t, warn)
	assert.Equal(t, api.EventContextWarning, warn.Type)
	assert.False(t, warn.Autocompacted)
	assert.Nil(t, boundary)
}

func TestMonitor_Observe_AutoCompactionRewritesAndClearsResumeToken(t *testing.T) {
	store := &fakeConvStore{
		messages: []api.Message{
			{Role: api.RoleUser, TokenCount: 100_000, Content: []api.ContentBlock{{Text: "old turn"}}},
		},
	}
	m := NewMonitor(store, nil, true, 8_000, 0, logger.Default())

	th := Thresholds{ContextWindow: 200_000, MaxOutputTokens: 8_000}
	warn, boundary := m.Observe("conv-1", api.Usage{InputTokens: th.AutoCompactThreshold() + 1}, 200_000)

	require.NotNil(t, boundary)
	assert.Equal(t, api.EventCompactBoundary, boundary.Type)
	if warn != nil {
		assert.True(t, warn.Autocompacted)
	}
	assert.True(t, store.resumeCleared)
	require.NotEmpty(t, store.rewritten)
	assert.NotEmpty(t, store.rewrittenSummary)
}
