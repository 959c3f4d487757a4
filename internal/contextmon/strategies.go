package contextmon

import "github.com/agentgate/agentgate/pkg/api"

// Strategy names the compaction policies exposed for manual use; Monitor's
// automatic pipeline always uses Smart.
type Strategy string

const (
	StrategySlidingWindow Strategy = "sliding-window"
	StrategyTokenBased    Strategy = "token-based"
	StrategySmart         Strategy = "smart"
)

// split partitions messages into (kept, dropped) per the given strategy and
// budget, preserving chronological order within kept.
func split(strategy Strategy, messages []api.Message, keepLastN int, budget int) (kept, dropped []api.Message) {
	switch strategy {
	case StrategySlidingWindow:
		return slidingWindow(messages, keepLastN)
	case StrategyTokenBased:
		return tokenBased(messages, budget)
	default:
		return smartRetention(messages, budget)
	}
}

func slidingWindow(messages []api.Message, keepLastN int) (kept, dropped []api.Message) {
	if keepLastN >= len(messages) {
		return messages, nil
	}
	cut := len(messages) - keepLastN
	return messages[cut:], messages[:cut]
}

func tokenBased(messages []api.Message, budget int) (kept, dropped []api.Message) {
	total := 0
	cut := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		total += messageTokens(messages[i])
		if total > budget {
			cut = i + 1
			break
		}
		cut = i
	}
	return messages[cut:], messages[:cut]
}

// smartRetention marks system messages and any message containing a
// tool_use/tool_result block "important" (always kept) and drops "regular"
// messages oldest-first until the retained set fits budget, then reunions
// kept-important and kept-regular in original chronological order.
func smartRetention(messages []api.Message, budget int) (kept, dropped []api.Message) {
	important := make([]bool, len(messages))
	total := 0
	for i, msg := range messages {
		important[i] = msg.Role == api.RoleSystem || hasToolBlock(msg)
		total += messageTokens(msg)
	}

	keepRegular := make([]bool, len(messages))
	for i := range keepRegular {
		keepRegular[i] = true
	}

	for i := 0; i < len(messages) && total > budget; i++ {
		if important[i] || !keepRegular[i] {
			continue
		}
		keepRegular[i] = false
		total -= messageTokens(messages[i])
	}

	for i, msg := range messages {
		if important[i] || keepRegular[i] {
			kept = append(kept, msg)
		} else {
			dropped = append(dropped, msg)
		}
	}
	return kept, dropped
}

func hasToolBlock(msg api.Message) bool {
	for _, blk := range msg.Content {
		if blk.Type == api.BlockToolUse || blk.Type == api.BlockToolResult {
			return true
		}
	}
	return false
}

func messageTokens(msg api.Message) int {
	if msg.TokenCount > 0 {
		return msg.TokenCount
	}
	total := 0
	for _, blk := range msg.Content {
		total += tokenEstimate(blk.Text)
	}
	return total
}
