// Package contextmon implements the Context Window Monitor & History
// Compactor (spec §4.3): threshold math against a model's context window,
// a context_warning emission on approach, and a smart-retention compaction
// protocol that summarizes and rewrites a conversation's message history
// when the window is nearly exhausted.
package contextmon

import "math"

const (
	outputReserveCap = 20_000
	safetyMargin     = 13_000
	warningFraction  = 0.85
	compactionBudgetFraction = 0.75
)

// Thresholds derives the window math for one model/conversation pair.
type Thresholds struct {
	ContextWindow   int
	MaxOutputTokens int
	// OverridePercent, if non-zero, expresses autoCompactThreshold as a
	// percentage of EffectiveWindow instead of the fixed safety margin,
	// clamped to never exceed EffectiveWindow-safetyMargin.
	OverridePercent float64
}

// OutputReserve is the per-turn output token budget reserved out of the window.
func (t Thresholds) OutputReserve() int {
	if t.MaxOutputTokens <= 0 || t.MaxOutputTokens > outputReserveCap {
		return outputReserveCap
	}
	return t.MaxOutputTokens
}

// EffectiveWindow is the input budget left after reserving for output.
func (t Thresholds) EffectiveWindow() int {
	return t.ContextWindow - t.OutputReserve()
}

// AutoCompactThreshold is the input_tokens level at which compaction engages.
func (t Thresholds) AutoCompactThreshold() int {
	floor := t.EffectiveWindow() - safetyMargin
	if t.OverridePercent <= 0 {
		return floor
	}
	override := int(float64(t.EffectiveWindow()) * t.OverridePercent)
	if override > floor {
		return floor
	}
	return override
}

// WarningThreshold is the input_tokens level at which a context_warning fires.
func (t Thresholds) WarningThreshold() int {
	return int(math.Floor(warningFraction * float64(t.ContextWindow)))
}

// CompactionBudget is the retained-token target for smart-retention compaction.
func (t Thresholds) CompactionBudget() int {
	return int(compactionBudgetFraction * float64(t.ContextWindow))
}

// tokenEstimate approximates a message's token cost from its text length,
// the same rough heuristic used when deciding what to drop.
func tokenEstimate(s string) int {
	if len(s) == 0 {
		return 0
	}
	return len(s)/4 + 1
}
