package loop

import (
	"context"

	"go.uber.org/zap"

	"github.com/agentgate/agentgate/internal/common/logger"
	"github.com/agentgate/agentgate/pkg/api"
)

// Recover implements spec §4.5's startup recovery: any Loop persisted as
// running or paused whose runner is absent (the process restarted) is
// marked failed, and any story still in_progress in an affected loop's
// workspace is reset to pending so a future loop can retry it. active
// reports which loop ids currently have a live Runner in this process.
func Recover(ctx context.Context, loops LoopStore, stories StoryStore, active map[string]bool, log *logger.Logger) error {
	log = log.WithFields(zap.String("component", "loop-recovery"))

	stale, err := loops.ListLoops(ctx, api.LoopRunning, api.LoopPaused)
	if err != nil {
		return err
	}

	for _, l := range stale {
		if active[l.ID] {
			continue
		}
		log.Warn("marking orphaned loop failed on startup", zap.String("loop_id", l.ID), zap.String("workspace", l.Workspace))
		l.Status = api.LoopFailed
		if err := loops.SaveLoop(ctx, l); err != nil {
			log.Error("failed to persist orphaned loop", zap.String("loop_id", l.ID), zap.Error(err))
			continue
		}

		storyList, err := stories.ListStories(ctx, l.Workspace)
		if err != nil {
			log.Error("failed to list stories for recovery", zap.String("workspace", l.Workspace), zap.Error(err))
			continue
		}
		for _, s := range storyList {
			if s.Status != api.StoryInProgress {
				continue
			}
			s.Status = api.StoryPending
			if err := stories.UpdateStory(ctx, s); err != nil {
				log.Error("failed to reset in-progress story", zap.String("story_id", s.ID), zap.Error(err))
			}
		}
	}
	return nil
}
