package contextmon

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentgate/agentgate/pkg/api"
)

func TestSystemPrompt_CoversEveryDimension(t *testing.T) {
	prompt := SystemPrompt()
	for _, d := range summaryDimensions {
		assert.Contains(t, prompt, d)
	}
}

func TestRuleBasedSummary_EmptyDropped(t *testing.T) {
	assert.Equal(t, "No prior context was dropped.", ruleBasedSummary(nil))
}

func TestRuleBasedSummary_CountsToolOpsAndTruncatesLongText(t *testing.T) {
	dropped := []api.Message{
		{Role: api.RoleUser, Content: []api.ContentBlock{{Type: api.BlockText, Text: strings.Repeat("x", 400)}}},
		{Role: api.RoleAssistant, Content: []api.ContentBlock{{Type: api.BlockToolUse}, {Type: api.BlockToolResult}}},
	}
	summary := ruleBasedSummary(dropped)
	assert.Contains(t, summary, "…")
	assert.Contains(t, summary, "2 tool operations occurred in the dropped range.")
}

func TestWrapSummary_FramesContinuation(t *testing.T) {
	blk := wrapSummary("did the thing")
	assert.Equal(t, api.BlockText, blk.Type)
	assert.Contains(t, blk.Text, "did the thing")
	assert.Contains(t, blk.Text, "continued from a previous conversation")
	assert.Contains(t, blk.Text, "without asking the user any further questions")
}
