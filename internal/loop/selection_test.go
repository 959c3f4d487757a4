package loop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgate/agentgate/pkg/api"
)

func story(id string, priority api.StoryPriority, status api.StoryStatus, sortOrder int, deps ...string) api.UserStory {
	return api.UserStory{
		ID: id, Priority: priority, Status: status, SortOrder: sortOrder,
		DependsOn: deps, MaxAttempts: 3,
	}
}

func TestSelectNext_PriorityOrdering(t *testing.T) {
	stories := []api.UserStory{
		story("low", api.PriorityLow, api.StoryPending, 0),
		story("critical", api.PriorityCritical, api.StoryPending, 1),
		story("high", api.PriorityHigh, api.StoryPending, 2),
	}
	next, ok, stalled := SelectNext(stories)
	require.True(t, ok)
	require.False(t, stalled)
	assert.Equal(t, "critical", next.ID)
}

func TestSelectNext_DependenciesGateEligibility(t *testing.T) {
	stories := []api.UserStory{
		story("a", api.PriorityCritical, api.StoryPending, 0, "b"),
		story("b", api.PriorityLow, api.StoryPending, 1),
	}
	next, ok, stalled := SelectNext(stories)
	require.True(t, ok)
	require.False(t, stalled)
	assert.Equal(t, "b", next.ID, "a depends on b, which isn't completed yet")
}

func TestSelectNext_ExhaustedReturnsSuccess(t *testing.T) {
	stories := []api.UserStory{
		story("a", api.PriorityCritical, api.StoryCompleted, 0),
		story("b", api.PriorityLow, api.StorySkipped, 1),
	}
	_, ok, stalled := SelectNext(stories)
	assert.False(t, ok)
	assert.False(t, stalled, "every story resolved, not stalled")
}

func TestSelectNext_StalledWhenBlockedForever(t *testing.T) {
	stories := []api.UserStory{
		story("a", api.PriorityCritical, api.StoryPending, 0, "missing-dep-that-is-failed"),
		story("missing-dep-that-is-failed", api.PriorityLow, api.StoryFailed, 1),
	}
	_, ok, stalled := SelectNext(stories)
	assert.False(t, ok)
	assert.True(t, stalled, "a can never become eligible since its dependency failed")
}

func TestSelectNext_MaxAttemptsExcludesStory(t *testing.T) {
	s := story("a", api.PriorityCritical, api.StoryPending, 0)
	s.Attempts = 3
	_, ok, stalled := SelectNext([]api.UserStory{s})
	assert.False(t, ok)
	assert.True(t, stalled)
}

func TestValidateDependencies_DetectsCycle(t *testing.T) {
	stories := []api.UserStory{
		story("a", api.PriorityMedium, api.StoryPending, 0, "b"),
		story("b", api.PriorityMedium, api.StoryPending, 1, "a"),
	}
	err := ValidateDependencies(stories)
	require.Error(t, err)
	var cycleErr *ErrCycle
	require.ErrorAs(t, err, &cycleErr)
}

func TestValidateDependencies_AcyclicPasses(t *testing.T) {
	stories := []api.UserStory{
		story("a", api.PriorityMedium, api.StoryPending, 0, "b"),
		story("b", api.PriorityMedium, api.StoryPending, 1),
	}
	assert.NoError(t, ValidateDependencies(stories))
}
