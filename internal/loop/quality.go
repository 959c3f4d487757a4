package loop

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/agentgate/agentgate/pkg/api"
)

// QualityResult is one configured check's outcome.
type QualityResult struct {
	Name     string
	Required bool
	Passed   bool
	Detail   string
}

// runQualityChecks runs every configured check concurrently via errgroup
// and returns each outcome independently; a check's own error becomes a
// failed, non-zero-detail result rather than aborting the others.
func runQualityChecks(ctx context.Context, workspace string, checks []api.QualityCheck, runner QualityRunner) []QualityResult {
	results := make([]QualityResult, len(checks))

	g, gctx := errgroup.WithContext(ctx)
	for i, check := range checks {
		i, check := i, check
		g.Go(func() error {
			passed, detail, err := runner.Run(gctx, workspace, check)
			if err != nil {
				results[i] = QualityResult{Name: check.Name, Required: check.Required, Passed: false, Detail: err.Error()}
				return nil
			}
			results[i] = QualityResult{Name: check.Name, Required: check.Required, Passed: passed, Detail: detail}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// buildLearningNote renders a single-line record of why an iteration
// failed, folding in the agent's own terminal reason and every failed
// quality check's detail.
func buildLearningNote(agentReason string, results []QualityResult) string {
	note := "iteration failed"
	if agentReason != "" {
		note += fmt.Sprintf(" (agent: %s)", agentReason)
	}
	for _, r := range results {
		if !r.Passed {
			note += fmt.Sprintf("; %s failed: %s", r.Name, r.Detail)
		}
	}
	return note
}
