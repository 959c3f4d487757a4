package loop

import (
	"fmt"
	"strings"

	"github.com/agentgate/agentgate/pkg/api"
)

// memoryCategoryOrder fixes the rendering order of the workspace memory
// sections in the synthesized system prompt.
var memoryCategoryOrder = []string{"convention", "decision", "preference", "pattern", "context"}

// SystemPrompt merges user instructions with per-workspace memory,
// categorized as convention / decision / preference / pattern / context.
func SystemPrompt(userInstructions string, memory map[string][]string) string {
	var b strings.Builder
	if userInstructions != "" {
		b.WriteString(userInstructions)
		b.WriteString("\n\n")
	}
	for _, cat := range memoryCategoryOrder {
		entries := memory[cat]
		if len(entries) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s notes:\n", strings.Title(cat))
		for _, e := range entries {
			fmt.Fprintf(&b, "- %s\n", e)
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// UserPrompt builds the per-iteration user turn: the story title,
// description, enumerated acceptance criteria, attempt counter, all
// accumulated learnings, and a compact progress summary.
func UserPrompt(story api.UserStory, progress ProgressSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Story: %s\n\n%s\n\n", story.Title, story.Description)

	if len(story.AcceptanceCriteria) > 0 {
		b.WriteString("Acceptance criteria:\n")
		for _, c := range story.AcceptanceCriteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Attempt %d of %d.\n", story.Attempts+1, story.MaxAttempts)

	if len(story.Learnings) > 0 {
		b.WriteString("\nLearnings from prior attempts:\n")
		for _, l := range story.Learnings {
			fmt.Fprintf(&b, "- %s\n", l)
		}
	}

	fmt.Fprintf(&b, "\nProgress so far: %d completed, %d failed, %d remaining.\n",
		progress.Completed, progress.Failed, progress.Remaining)

	return b.String()
}

// ProgressSummary is the compact tally folded into the iteration's user prompt.
type ProgressSummary struct {
	Completed int
	Failed    int
	Remaining int
}

// Summarize computes a ProgressSummary from the current story set.
func Summarize(stories []api.UserStory) ProgressSummary {
	var p ProgressSummary
	for _, s := range stories {
		switch s.Status {
		case api.StoryCompleted:
			p.Completed++
		case api.StoryFailed, api.StorySkipped:
			p.Failed++
		default:
			p.Remaining++
		}
	}
	return p
}

// CommitMessage renders the fixed template for an auto-commit on story success.
func CommitMessage(story api.UserStory) string {
	if story.PRDID != "" {
		return fmt.Sprintf("%s (story %s, prd %s)", story.Title, story.ID, story.PRDID)
	}
	return fmt.Sprintf("%s (story %s)", story.Title, story.ID)
}
