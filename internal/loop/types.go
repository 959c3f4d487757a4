// Package loop implements the Autonomous Loop Orchestrator (spec §4.5): it
// drives an unattended sequence of iterations over a workspace's user
// stories, each spawning an agent session, running quality checks, and
// recording a pass/fail verdict before selecting the next story.
package loop

import (
	"context"

	"github.com/agentgate/agentgate/pkg/api"
)

// StoryStore is the persistence surface for user stories.
type StoryStore interface {
	ListStories(ctx context.Context, workspace string) ([]api.UserStory, error)
	UpdateStory(ctx context.Context, story api.UserStory) error
}

// LoopStore persists Loop run state.
type LoopStore interface {
	SaveLoop(ctx context.Context, l api.Loop) error
	ListLoops(ctx context.Context, statuses ...api.LoopStatus) ([]api.Loop, error)
}

// ConversationFactory creates the conversation + seed message for one iteration.
type ConversationFactory interface {
	CreateConversation(ctx context.Context, workspace string) (conversationID string, err error)
	InsertMessage(ctx context.Context, msg api.Message) error
}

// SessionDriver is the narrow slice of session.Manager the loop needs to
// drive one iteration's agent turn to completion.
type SessionDriver interface {
	CreateSession(conversationID string, opts api.SessionOptions) string
	SendMessage(ctx context.Context, sessionID, content string) (<-chan api.NormalizedEvent, error)
	TerminateSession(sessionID string) error
}

// QualityRunner executes one configured quality check and reports its verdict.
type QualityRunner interface {
	Run(ctx context.Context, workspace string, check api.QualityCheck) (passed bool, detail string, err error)
}

// GitOps performs best-effort snapshot/commit around an iteration. Failures
// are logged but never change the iteration's verdict.
type GitOps interface {
	Snapshot(ctx context.Context, workspace string) error
	Commit(ctx context.Context, workspace, message string) error
}

// MemoryStore holds per-workspace categorized memory and per-story learnings.
type MemoryStore interface {
	Categories(ctx context.Context, workspace string) (map[string][]string, error)
	AppendLearning(ctx context.Context, storyID, note string) error
}

// Sink receives orchestration events (loop_event, story_update) for fan-out
// to clients and the commentary bridge. BusSink adapts an
// internal/events/bus EventBus to it.
type Sink interface {
	Publish(subject string, payload map[string]any)
}
