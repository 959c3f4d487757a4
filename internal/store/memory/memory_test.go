package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgate/agentgate/pkg/api"
)

func TestStore_ConversationAndMessages(t *testing.T) {
	s := New()
	ctx := context.Background()

	convID, err := s.CreateConversation(ctx, "/ws")
	require.NoError(t, err)
	require.NotEmpty(t, convID)

	require.NoError(t, s.InsertMessage(ctx, api.Message{ConversationID: convID, Role: "user", Text: "hello"}))
	require.NoError(t, s.InsertMessage(ctx, api.Message{ConversationID: convID, Role: "assistant", Text: "hi"}))

	msgs, err := s.LoadMessages(ctx, convID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Text)
	assert.NotEmpty(t, msgs[0].ID, "InsertMessage assigns an ID when none given")
}

func TestStore_RewriteMessages(t *testing.T) {
	s := New()
	ctx := context.Background()
	convID, _ := s.CreateConversation(ctx, "/ws")

	require.NoError(t, s.RewriteMessages(ctx, convID, []api.Message{{ConversationID: convID, Text: "compacted"}}, "summary text"))

	msgs, err := s.LoadMessages(ctx, convID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "compacted", msgs[0].Text)

	err = s.RewriteMessages(ctx, "does-not-exist", nil, "x")
	assert.Error(t, err)
}

func TestStore_Stories(t *testing.T) {
	s := New()
	ctx := context.Background()

	s.PutStory(api.UserStory{ID: "a", Workspace: "/ws", Status: api.StoryPending})
	s.PutStory(api.UserStory{ID: "b", Workspace: "/other", Status: api.StoryPending})

	stories, err := s.ListStories(ctx, "/ws")
	require.NoError(t, err)
	require.Len(t, stories, 1)
	assert.Equal(t, "a", stories[0].ID)

	stories[0].Status = api.StoryCompleted
	require.NoError(t, s.UpdateStory(ctx, stories[0]))

	updated, _ := s.ListStories(ctx, "/ws")
	assert.Equal(t, api.StoryCompleted, updated[0].Status)
}

func TestStore_Loops(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.SaveLoop(ctx, api.Loop{ID: "l1", Status: api.LoopRunning}))
	require.NoError(t, s.SaveLoop(ctx, api.Loop{ID: "l2", Status: api.LoopCompleted}))

	running, err := s.ListLoops(ctx, api.LoopRunning)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "l1", running[0].ID)

	all, err := s.ListLoops(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStore_Memory(t *testing.T) {
	s := New()
	ctx := context.Background()

	s.PutStory(api.UserStory{ID: "story-1", Workspace: "/ws"})
	require.NoError(t, s.AppendLearning(ctx, "story-1", "avoid mutating shared state"))

	cats, err := s.Categories(ctx, "/ws")
	require.NoError(t, err)
	require.Contains(t, cats, "pattern")
	assert.Equal(t, []string{"avoid mutating shared state"}, cats["pattern"])

	err = s.AppendLearning(ctx, "missing", "note")
	assert.Error(t, err)
}

func TestStore_PermissionRuleScopes(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.SavePermissionRule(ctx, api.PermissionRule{Scope: api.ScopeGlobal, ToolSelector: "Bash"}))
	require.NoError(t, s.SavePermissionRule(ctx, api.PermissionRule{Scope: api.ScopeWorkspace, Workspace: "/ws", ToolSelector: "Write"}))
	require.NoError(t, s.SavePermissionRule(ctx, api.PermissionRule{Scope: api.ScopeSession, SessionID: "sess-1", ToolSelector: "Edit"}))

	global, err := s.ListPermissionRules(ctx, api.ScopeGlobal, "")
	require.NoError(t, err)
	require.Len(t, global, 1)

	ws, err := s.ListPermissionRules(ctx, api.ScopeWorkspace, "/ws")
	require.NoError(t, err)
	require.Len(t, ws, 1)

	sess, err := s.ListPermissionRules(ctx, api.ScopeSession, "sess-1")
	require.NoError(t, err)
	require.Len(t, sess, 1)

	_, err = s.ListPermissionRules(ctx, api.RuleScope("bogus"), "")
	assert.Error(t, err)
}

func TestStore_CommentaryAndArtifacts(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.SaveCommentary(ctx, api.CommentaryRecord{WorkspaceID: "/ws"}))
	require.NoError(t, s.SaveArtifact(ctx, api.Artifact{ConversationID: "c1", Type: "file", Title: "main.go"}))
}

func TestStore_ClearResumeToken(t *testing.T) {
	s := New()
	ctx := context.Background()
	convID, _ := s.CreateConversation(ctx, "/ws")
	s.conversations[convID].ResumeToken = "tok-123"

	require.NoError(t, s.ClearResumeToken(ctx, convID))
	assert.Empty(t, s.conversations[convID].ResumeToken)

	assert.Error(t, s.ClearResumeToken(ctx, "missing"))
}
