package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agentgate/agentgate/internal/loop"
	"github.com/agentgate/agentgate/pkg/api"
)

func loopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loop",
		Short: "manage the autonomous loop orchestrator",
	}
	cmd.AddCommand(loopRunCmd())
	return cmd
}

func loopRunCmd() *cobra.Command {
	var (
		model          string
		effort         string
		maxIterations  int
		pauseOnFailure bool
		autoSnapshot   bool
		autoCommit     bool
		schedule       string
		instructions   string
	)

	cmd := &cobra.Command{
		Use:   "run <workspace>",
		Short: "drive the autonomous loop over a workspace's pending stories",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := args[0]
			st, cleanup, err := buildStack(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			if schedule != "" && !gronx.IsValid(schedule) {
				return fmt.Errorf("invalid cron schedule %q", schedule)
			}

			cfg := api.LoopConfig{
				Model: model, Effort: effort, MaxIterations: maxIterations,
				QualityChecks:  []api.QualityCheck{},
				PauseOnFailure: pauseOnFailure, AutoSnapshot: autoSnapshot, AutoCommit: autoCommit,
			}

			run := func(ctx context.Context) error {
				return runOneLoop(ctx, st, workspace, cfg, instructions)
			}

			if schedule == "" {
				return run(cmd.Context())
			}
			return runScheduled(cmd.Context(), st.log, schedule, run)
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "agent model to use for each iteration")
	cmd.Flags().StringVar(&effort, "effort", "", "agent reasoning effort for each iteration")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 50, "maximum iterations before the loop stops")
	cmd.Flags().BoolVar(&pauseOnFailure, "pause-on-failure", false, "pause the loop instead of retrying after a failed iteration")
	cmd.Flags().BoolVar(&autoSnapshot, "auto-snapshot", true, "snapshot the workspace's git tree before each iteration")
	cmd.Flags().BoolVar(&autoCommit, "auto-commit", true, "commit the workspace after each successful iteration")
	cmd.Flags().StringVar(&schedule, "schedule", "", "optional cron expression to re-run the loop on a schedule instead of once")
	cmd.Flags().StringVar(&instructions, "instructions", "", "user instructions injected into every iteration's system prompt")

	return cmd
}

func runOneLoop(ctx context.Context, st *stack, workspace string, cfg api.LoopConfig, instructions string) error {
	if err := loop.Recover(ctx, st.store, st.store, nil, st.log); err != nil {
		st.log.Warn("startup recovery failed", zap.Error(err))
	}

	l := api.Loop{
		ID:        uuid.NewString(),
		Workspace: workspace,
		Status:    api.LoopRunning,
		Config:    cfg,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := st.store.SaveLoop(ctx, l); err != nil {
		return fmt.Errorf("persist new loop: %w", err)
	}

	sink := loop.BusSink{Bus: st.bus, Prefix: "loop." + workspace}
	runner := loop.NewRunner(l, workspace, st.store, st.store, st.store, st.sess,
		loop.ShellQualityRunner{}, loop.ShellGitOps{}, st.store, sink, st.log)

	return runner.Run(ctx, instructions)
}

// runScheduled re-invokes run at each firing of the cron schedule until ctx
// is cancelled, grounded on the corpus's gronx-backed cron scheduler.
func runScheduled(ctx context.Context, log interface {
	Info(string, ...zap.Field)
	Error(string, ...zap.Field)
}, schedule string, run func(context.Context) error) error {
	for {
		next, err := gronx.NextTick(schedule, false)
		if err != nil {
			return fmt.Errorf("compute next schedule tick: %w", err)
		}
		wait := time.Until(next)
		log.Info("loop scheduled", zap.Duration("wait", wait))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}

		if err := run(ctx); err != nil {
			log.Error("scheduled loop run failed", zap.Error(err))
		}
	}
}
