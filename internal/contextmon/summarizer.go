package contextmon

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentgate/agentgate/pkg/api"
)

// summaryDimensions are the nine content dimensions the summarizer's system
// prompt requires it to cover.
var summaryDimensions = []string{
	"primary request and intent",
	"key technical concepts",
	"files and code sections touched",
	"errors encountered and their fixes",
	"problem solving performed",
	"all user messages, verbatim",
	"pending tasks",
	"current work in progress",
	"the next step to take",
}

// Summarizer produces a prose summary of the messages being dropped during
// compaction. The one-shot LLM call is expected to cover every dimension in
// summaryDimensions; Monitor falls back to ruleBasedSummary if it fails.
type Summarizer interface {
	Summarize(ctx context.Context, dropped []api.Message) (string, error)
}

// SystemPrompt returns the fixed instruction given to the one-shot summarizer.
func SystemPrompt() string {
	var b strings.Builder
	b.WriteString("Summarize the conversation below so work can continue seamlessly. Cover each of the following:\n")
	for i, d := range summaryDimensions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, d)
	}
	return b.String()
}

// ruleBasedSummary is the deterministic fallback used when the one-shot
// summarizer call fails or returns empty text: it slices the first ~300
// characters of each dropped message and notes how many tool operations
// were dropped alongside them.
func ruleBasedSummary(dropped []api.Message) string {
	if len(dropped) == 0 {
		return "No prior context was dropped."
	}

	var b strings.Builder
	toolOps := 0
	for _, msg := range dropped {
		for _, blk := range msg.Content {
			if blk.Type == api.BlockToolUse || blk.Type == api.BlockToolResult {
				toolOps++
			}
		}
		text := plainText(msg)
		if len(text) > 300 {
			text = text[:300] + "…"
		}
		fmt.Fprintf(&b, "[%s] %s\n", msg.Role, text)
	}
	fmt.Fprintf(&b, "\n(%d tool operations occurred in the dropped range.)", toolOps)
	return b.String()
}

func plainText(msg api.Message) string {
	var b strings.Builder
	for _, blk := range msg.Content {
		cb := blk.AsExternalText()
		if cb.Type == api.BlockText {
			if b.Len() > 0 {
				b.WriteString(" ")
			}
			b.WriteString(cb.Text)
		}
	}
	return b.String()
}

// wrapSummary builds the synthetic user message that replaces the dropped
// history, per spec step 4: a framing opener and a continue-without-asking close.
func wrapSummary(summary string) api.ContentBlock {
	text := "This session is being continued from a previous conversation that ran out of context. " +
		"The summary below covers the earlier portion of the conversation.\n\n" + summary +
		"\n\nPlease continue the conversation from where it left off without asking the user any further questions. " +
		"Continue with the last task that was being worked on."
	return api.ContentBlock{Type: api.BlockText, Text: text}
}
