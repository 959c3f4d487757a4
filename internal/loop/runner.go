package loop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/agentgate/agentgate/internal/common/logger"
	"github.com/agentgate/agentgate/pkg/api"
)

// Runner drives one Loop's iterations to completion, failure, or
// cancellation, grounded on the task scheduler's run-loop/gate shape.
type Runner struct {
	loop      api.Loop
	workspace string

	stories  StoryStore
	loops    LoopStore
	conv     ConversationFactory
	sessions SessionDriver
	quality  QualityRunner
	git      GitOps
	memory   MemoryStore
	sink     Sink
	logger   *logger.Logger

	gate      *pauseGate
	cancelled atomic.Bool

	turnMu     sync.Mutex
	turnCancel context.CancelFunc
}

// NewRunner constructs a Runner for an already-persisted Loop.
func NewRunner(l api.Loop, workspace string, stories StoryStore, loops LoopStore, conv ConversationFactory,
	sessions SessionDriver, quality QualityRunner, git GitOps, memory MemoryStore, sink Sink, log *logger.Logger) *Runner {
	return &Runner{
		loop: l, workspace: workspace,
		stories: stories, loops: loops, conv: conv, sessions: sessions,
		quality: quality, git: git, memory: memory, sink: sink,
		logger: log.WithFields(zap.String("component", "loop-runner"), zap.String("loop_id", l.ID)),
		gate:   newPauseGate(),
	}
}

// Pause installs a fresh pause gate; the runner blocks before its next iteration.
func (r *Runner) Pause() {
	r.gate.Pause()
	r.loop.Status = api.LoopPaused
}

// Resume releases the pause gate.
func (r *Runner) Resume() {
	r.gate.Resume()
	r.loop.Status = api.LoopRunning
}

// Cancel releases the gate, sets the cancellation flag, and cancels any
// in-flight agent turn; the runner stops between iterations.
func (r *Runner) Cancel() {
	r.cancelled.Store(true)
	r.gate.Resume()
	r.turnMu.Lock()
	if r.turnCancel != nil {
		r.turnCancel()
	}
	r.turnMu.Unlock()
}

// Run executes iterations until the story set is exhausted, a stall is
// detected, the iteration cap is hit, or the loop is cancelled.
func (r *Runner) Run(ctx context.Context, userInstructions string) error {
	r.loop.Status = api.LoopRunning
	r.publish("loop_event", map[string]any{"loop_id": r.loop.ID, "event": "started"})

	for {
		if r.cancelled.Load() {
			r.loop.Status = api.LoopCancelled
			break
		}
		if err := r.gate.Wait(ctx); err != nil {
			r.loop.Status = api.LoopCancelled
			break
		}
		if r.cancelled.Load() {
			r.loop.Status = api.LoopCancelled
			break
		}
		if r.loop.Config.MaxIterations > 0 && r.loop.CurrentIteration >= r.loop.Config.MaxIterations {
			r.loop.Status = api.LoopFailed
			r.publish("loop_event", map[string]any{"loop_id": r.loop.ID, "event": "iteration_cap_reached"})
			break
		}

		stories, err := r.stories.ListStories(ctx, r.workspace)
		if err != nil {
			r.logger.Error("failed to list stories", zap.Error(err))
			r.loop.Status = api.LoopFailed
			break
		}

		next, ok, stalled := SelectNext(stories)
		if !ok {
			if stalled {
				r.loop.Status = api.LoopFailed
			} else {
				r.loop.Status = api.LoopCompleted
			}
			break
		}

		r.runIteration(ctx, *next, stories, userInstructions)
		r.loop.CurrentIteration++
		r.loop.UpdatedAt = time.Now()
		if err := r.loops.SaveLoop(ctx, r.loop); err != nil {
			r.logger.Error("failed to persist loop state", zap.Error(err))
		}
	}

	r.loop.UpdatedAt = time.Now()
	if err := r.loops.SaveLoop(ctx, r.loop); err != nil {
		r.logger.Error("failed to persist final loop state", zap.Error(err))
	}
	r.publish("loop_event", map[string]any{"loop_id": r.loop.ID, "event": "finished", "status": string(r.loop.Status)})
	return nil
}

func (r *Runner) runIteration(ctx context.Context, story api.UserStory, allStories []api.UserStory, userInstructions string) {
	started := time.Now()
	story.Status = api.StoryInProgress
	story.Attempts++
	_ = r.stories.UpdateStory(ctx, story)

	if r.loop.Config.AutoSnapshot && r.git != nil {
		if err := r.git.Snapshot(ctx, r.workspace); err != nil {
			r.logger.Warn("git snapshot failed, continuing", zap.Error(err))
		}
	}

	conversationID, err := r.conv.CreateConversation(ctx, r.workspace)
	if err != nil {
		r.logger.Error("failed to create conversation", zap.Error(err))
		r.failIteration(ctx, story, started, "failed to create conversation: "+err.Error())
		return
	}

	memory, err := r.memory.Categories(ctx, r.workspace)
	if err != nil {
		memory = nil
	}
	sysPrompt := SystemPrompt(userInstructions, memory)
	// story.Attempts already counts this attempt; UserPrompt takes the
	// number of earlier attempts.
	promptStory := story
	promptStory.Attempts--
	userPrompt := UserPrompt(promptStory, Summarize(allStories))

	_ = r.conv.InsertMessage(ctx, api.Message{
		ConversationID: conversationID, Role: api.RoleUser,
		Content: []api.ContentBlock{{Type: api.BlockText, Text: userPrompt}}, Timestamp: time.Now(),
	})
	r.publish("story_update", map[string]any{"story_id": story.ID, "status": "started", "conversation_id": conversationID})

	sessionID := r.sessions.CreateSession(conversationID, api.SessionOptions{
		Model: r.loop.Config.Model, Effort: r.loop.Config.Effort, WorkspacePath: r.workspace,
	})

	turnCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	r.turnMu.Lock()
	r.turnCancel = cancel
	r.turnMu.Unlock()

	agentOK := true
	stopReason := ""
	events, err := r.sessions.SendMessage(turnCtx, sessionID, sysPrompt+"\n\n"+userPrompt)
	if err != nil {
		agentOK = false
	} else {
		for evt := range events {
			if evt.Type == api.EventError {
				agentOK = false
			}
			if evt.Type == api.EventMessageStop {
				stopReason = evt.Reason
			}
		}
	}
	timedOut := turnCtx.Err() == context.DeadlineExceeded
	cancel()
	r.turnMu.Lock()
	r.turnCancel = nil
	r.turnMu.Unlock()

	if timedOut {
		agentOK = false
		_ = r.sessions.TerminateSession(sessionID)
	}

	results := runQualityChecks(ctx, r.workspace, r.loop.Config.QualityChecks, r.quality)
	passed := agentOK
	for _, res := range results {
		if res.Required && !res.Passed {
			passed = false
		}
	}

	if passed {
		r.completeIteration(ctx, story, started, results)
		return
	}

	reason := stopReason
	if timedOut {
		reason = "timed out"
	}
	r.failIteration(ctx, story, started, buildLearningNote(reason, results))
}

func (r *Runner) completeIteration(ctx context.Context, story api.UserStory, started time.Time, results []QualityResult) {
	story.Status = api.StoryCompleted
	_ = r.stories.UpdateStory(ctx, story)
	r.loop.TotalStoriesCompleted++
	r.loop.IterationLog = append(r.loop.IterationLog, api.IterationLogEntry{
		Iteration: r.loop.CurrentIteration + 1, StoryID: story.ID, Verdict: "passed",
		StartedAt: started, FinishedAt: time.Now(),
	})

	if r.loop.Config.AutoCommit && r.git != nil {
		if err := r.git.Commit(ctx, r.workspace, CommitMessage(story)); err != nil {
			r.logger.Warn("git commit failed, continuing", zap.Error(err))
		}
	}

	r.publish("story_update", map[string]any{"story_id": story.ID, "status": "completed"})
}

func (r *Runner) failIteration(ctx context.Context, story api.UserStory, started time.Time, note string) {
	story.Learnings = append(story.Learnings, note)
	if r.memory != nil {
		_ = r.memory.AppendLearning(ctx, story.ID, note)
	}

	if story.Attempts >= story.MaxAttempts && story.MaxAttempts > 0 {
		story.Status = api.StoryFailed
		r.loop.TotalStoriesFailed++
	} else {
		story.Status = api.StoryPending
	}
	_ = r.stories.UpdateStory(ctx, story)

	r.loop.IterationLog = append(r.loop.IterationLog, api.IterationLogEntry{
		Iteration: r.loop.CurrentIteration + 1, StoryID: story.ID, Verdict: "failed",
		StartedAt: started, FinishedAt: time.Now(), Detail: note,
	})
	r.publish("story_update", map[string]any{"story_id": story.ID, "status": "failed", "detail": note})

	if r.loop.Config.PauseOnFailure {
		r.Pause()
	}
}

func (r *Runner) publish(event string, payload map[string]any) {
	if r.sink == nil {
		return
	}
	r.sink.Publish("loop."+event, payload)
}

// Loop returns the runner's current in-memory loop state.
func (r *Runner) Loop() api.Loop { return r.loop }
