package loop

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/agentgate/agentgate/pkg/api"
)

// ShellQualityRunner runs a configured quality check's command as a shell
// command in the story's workspace, the way exec.Command-backed quality
// gates in the corpus do. A non-zero exit is a failed result, not an error.
type ShellQualityRunner struct {
	Timeout time.Duration
}

// Run implements QualityRunner.
func (r ShellQualityRunner) Run(ctx context.Context, workspace string, check api.QualityCheck) (bool, string, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", check.Command)
	cmd.Dir = workspace
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()

	detail := strings.TrimSpace(out.String())
	if len(detail) > 2000 {
		detail = detail[len(detail)-2000:]
	}
	if err != nil {
		if runCtx.Err() != nil {
			return false, fmt.Sprintf("timed out after %s", timeout), nil
		}
		return false, detail, nil
	}
	return true, detail, nil
}

// GitOps implementations below are grounded on the corpus's exec.Command
// "git" wrapper style (batalabs-muxd/internal/checkpoint/checkpoint.go):
// trimmed stdout, stderr folded into the error on failure.

// ShellGitOps snapshots and commits a workspace via the git binary.
type ShellGitOps struct{}

func gitRun(ctx context.Context, workspace string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = workspace
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	out := strings.TrimSpace(stdout.String())
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = out
		}
		return out, fmt.Errorf("git %s: %s: %w", args[0], msg, err)
	}
	return out, nil
}

// Snapshot captures the working tree's tracked changes with `git stash
// create`, which leaves the tree, index and stash list untouched (mirroring
// GitStashCreate's non-destructive capture), and pins the resulting commit
// under refs/agentgate/snapshots/ via update-ref — the autonomous loop's
// "auto_snapshot" is a checkpoint, not a cleanup. `git stash create` reads
// its arguments as the stash message, so untracked files are not captured.
func (ShellGitOps) Snapshot(ctx context.Context, workspace string) error {
	sha, err := gitRun(ctx, workspace, "stash", "create", "--include-untracked")
	if err != nil {
		return err
	}
	if sha == "" {
		return nil // clean tree, nothing to checkpoint
	}
	_, err = gitRun(ctx, workspace, "update-ref", "refs/agentgate/snapshots/"+sha[:12], sha)
	return err
}

// Commit stages everything and commits with message, skipping (without
// error) if the tree has nothing to commit.
func (ShellGitOps) Commit(ctx context.Context, workspace, message string) error {
	if _, err := gitRun(ctx, workspace, "add", "-A"); err != nil {
		return err
	}
	status, err := gitRun(ctx, workspace, "status", "--porcelain")
	if err != nil {
		return err
	}
	if status == "" {
		return nil
	}
	_, err = gitRun(ctx, workspace, "commit", "-m", message)
	return err
}
