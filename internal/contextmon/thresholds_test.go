package contextmon

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThresholds_OutputReserve(t *testing.T) {
	assert.Equal(t, 8_000, Thresholds{MaxOutputTokens: 8_000}.OutputReserve())
	assert.Equal(t, outputReserveCap, Thresholds{MaxOutputTokens: 0}.OutputReserve(), "zero falls back to the cap")
	assert.Equal(t, outputReserveCap, Thresholds{MaxOutputTokens: 50_000}.OutputReserve(), "over-cap clamps to the cap")
}

func TestThresholds_EffectiveWindow(t *testing.T) {
	th := Thresholds{ContextWindow: 200_000, MaxOutputTokens: 8_000}
	assert.Equal(t, 192_000, th.EffectiveWindow())
}

func TestThresholds_AutoCompactThreshold_DefaultsToSafetyMargin(t *testing.T) {
	th := Thresholds{ContextWindow: 200_000, MaxOutputTokens: 8_000}
	assert.Equal(t, th.EffectiveWindow()-safetyMargin, th.AutoCompactThreshold())
}

func TestThresholds_AutoCompactThreshold_OverridePercentClampedToFloor(t *testing.T) {
	th := Thresholds{ContextWindow: 200_000, MaxOutputTokens: 8_000, OverridePercent: 0.99}
	floor := th.EffectiveWindow() - safetyMargin
	assert.Equal(t, floor, th.AutoCompactThreshold(), "an override above the safety-margin floor must clamp down to it")
}

func TestThresholds_AutoCompactThreshold_OverridePercentBelowFloorIsHonored(t *testing.T) {
	th := Thresholds{ContextWindow: 200_000, MaxOutputTokens: 8_000, OverridePercent: 0.5}
	want := int(0.5 * float64(th.EffectiveWindow()))
	assert.Equal(t, want, th.AutoCompactThreshold())
}

func TestThresholds_WarningThreshold(t *testing.T) {
	th := Thresholds{ContextWindow: 200_000}
	assert.Equal(t, 170_000, th.WarningThreshold())
}

func TestThresholds_CompactionBudget(t *testing.T) {
	th := Thresholds{ContextWindow: 200_000}
	assert.Equal(t, 150_000, th.CompactionBudget())
}

func TestTokenEstimate(t *testing.T) {
	assert.Equal(t, 0, tokenEstimate(""))
	assert.Equal(t, 1, tokenEstimate("abc"))
	assert.Equal(t, 4, tokenEstimate("twelvecharsx"))
}
