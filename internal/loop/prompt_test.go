package loop

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentgate/agentgate/pkg/api"
)

func TestSystemPrompt_MergesInstructionsAndMemoryInFixedOrder(t *testing.T) {
	memory := map[string][]string{
		"pattern":    {"prefer table-driven tests"},
		"convention": {"tabs, not spaces"},
	}
	got := SystemPrompt("Build the thing.", memory)

	assert.Contains(t, got, "Build the thing.")
	convIdx := indexOf(got, "Convention notes:")
	patIdx := indexOf(got, "Pattern notes:")
	assert.True(t, convIdx >= 0 && patIdx >= 0 && convIdx < patIdx, "convention section must render before pattern per memoryCategoryOrder")
}

func TestSystemPrompt_EmptyMemoryOmitsSections(t *testing.T) {
	got := SystemPrompt("only instructions", nil)
	assert.Equal(t, "only instructions", got)
}

func TestUserPrompt_IncludesAttemptCountAndProgress(t *testing.T) {
	story := api.UserStory{
		Title: "Add login", Description: "Implement login flow",
		AcceptanceCriteria: []string{"user can log in", "errors are shown"},
		Attempts:           1, MaxAttempts: 3,
		Learnings: []string{"watch out for session races"},
	}
	progress := ProgressSummary{Completed: 2, Failed: 1, Remaining: 4}

	got := UserPrompt(story, progress)
	assert.Contains(t, got, "Story: Add login")
	assert.Contains(t, got, "Attempt 2 of 3.")
	assert.Contains(t, got, "user can log in")
	assert.Contains(t, got, "watch out for session races")
	assert.Contains(t, got, "2 completed, 1 failed, 4 remaining.")
}

func TestSummarize(t *testing.T) {
	stories := []api.UserStory{
		{Status: api.StoryCompleted},
		{Status: api.StoryCompleted},
		{Status: api.StoryFailed},
		{Status: api.StorySkipped},
		{Status: api.StoryPending},
		{Status: api.StoryInProgress},
	}
	got := Summarize(stories)
	assert.Equal(t, ProgressSummary{Completed: 2, Failed: 2, Remaining: 2}, got)
}

func TestCommitMessage(t *testing.T) {
	withPRD := api.UserStory{ID: "s1", PRDID: "p1", Title: "Add login"}
	assert.Equal(t, "Add login (story s1, prd p1)", CommitMessage(withPRD))

	withoutPRD := api.UserStory{ID: "s2", Title: "Fix bug"}
	assert.Equal(t, "Fix bug (story s2)", CommitMessage(withoutPRD))
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
