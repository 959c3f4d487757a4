package commentary

import (
	"fmt"
	"strings"

	"github.com/agentgate/agentgate/pkg/api"
)

const maxSnippet = 120

// distill renders a batch of events into a plain-text activity log: one
// line per event, consecutive duplicate lines collapsed, long snippets
// truncated to ~120 chars.
func distill(events []api.NormalizedEvent) string {
	var lines []string
	for _, evt := range events {
		line := eventLine(evt)
		if line == "" {
			continue
		}
		if len(lines) > 0 && lines[len(lines)-1] == line {
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func eventLine(evt api.NormalizedEvent) string {
	switch evt.Type {
	case api.EventToolResult:
		return fmt.Sprintf("tool_result for %s", evt.ToolUseID)
	case api.EventToolApprovalRequest:
		return truncate(fmt.Sprintf("tool approval requested: %s", evt.Description))
	case api.EventMessageStop:
		if evt.Reason == "cancelled" {
			return "message cancelled"
		}
		return "message finished"
	case api.EventVerificationResult:
		status := "failed"
		if evt.VerificationPassed {
			status = "passed"
		}
		return truncate(fmt.Sprintf("verification %s: %s", status, evt.VerificationDetail))
	case api.EventContextWarning:
		return fmt.Sprintf("context usage at %.0f%%", evt.UsagePercent)
	case api.EventCompactBoundary:
		return "conversation compacted"
	case api.EventError:
		return truncate(fmt.Sprintf("error (%s): %s", evt.ErrorKind, evt.ErrorMessage))
	case api.EventStoryUpdate:
		return truncate(fmt.Sprintf("story update: %v", evt.Payload))
	case api.EventArtifactCreated:
		return truncate(fmt.Sprintf("artifact created: %v", evt.Payload))
	case api.EventAgentNoteCreated:
		return truncate(fmt.Sprintf("note: %v", evt.Payload))
	case api.EventContentBlockDelta:
		if evt.DeltaText != "" {
			return truncate("said: " + evt.DeltaText)
		}
		return ""
	default:
		return ""
	}
}

func truncate(s string) string {
	if len(s) <= maxSnippet {
		return s
	}
	return s[:maxSnippet] + "…"
}
