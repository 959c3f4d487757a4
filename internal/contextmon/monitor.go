package contextmon

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/agentgate/agentgate/internal/common/errkind"
	"github.com/agentgate/agentgate/internal/common/logger"
	"github.com/agentgate/agentgate/pkg/api"
)

// ConversationStore is the narrow persistence surface the compactor needs.
// Satisfied structurally by internal/store's conversation store.
type ConversationStore interface {
	LoadMessages(ctx context.Context, conversationID string) ([]api.Message, error)
	RewriteMessages(ctx context.Context, conversationID string, messages []api.Message, summary string) error
	ClearResumeToken(ctx context.Context, conversationID string) error
}

// Monitor watches result-event usage and drives the compaction protocol.
type Monitor struct {
	store      ConversationStore
	summarizer Summarizer
	logger     *logger.Logger

	autoCompact        bool
	defaultMaxOutput   int
	overridePercent    float64
}

// NewMonitor constructs a Monitor. summarizer may be nil, in which case
// compaction always falls back to the rule-based summary.
func NewMonitor(store ConversationStore, summarizer Summarizer, autoCompact bool, defaultMaxOutput int, overridePercent float64, log *logger.Logger) *Monitor {
	return &Monitor{
		store:            store,
		summarizer:       summarizer,
		logger:           log.WithFields(zap.String("component", "contextmon")),
		autoCompact:      autoCompact,
		defaultMaxOutput: defaultMaxOutput,
		overridePercent:  overridePercent,
	}
}

// Observe implements session.ContextObserver: given the usage reported on a
// result event, it returns a context_warning when above the warning
// threshold and, when auto-compaction engages, runs the compaction
// synchronously (the conversation rewrite is cheap relative to the next
// user turn, which can't start until the client submits new input anyway)
// and returns a compact_boundary alongside it.
func (m *Monitor) Observe(conversationID string, usage api.Usage, modelWindow int) (*api.NormalizedEvent, *api.NormalizedEvent) {
	th := Thresholds{ContextWindow: modelWindow, MaxOutputTokens: m.defaultMaxOutput, OverridePercent: m.overridePercent}
	inputTokens := usage.InputTokens

	var warn *api.NormalizedEvent
	willCompact := m.autoCompact && inputTokens >= th.AutoCompactThreshold()

	if inputTokens > th.WarningThreshold() {
		pct := math.Round(float64(inputTokens) / float64(modelWindow) * 100)
		warn = &api.NormalizedEvent{
			Type: api.EventContextWarning, Timestamp: time.Now(),
			UsagePercent: pct, Autocompacted: willCompact,
		}
	}

	if !willCompact {
		return warn, nil
	}

	boundary, err := m.compact(context.Background(), conversationID, th, inputTokens)
	if err != nil {
		m.logger.Error("compaction failed", zap.String("conversation_id", conversationID), zap.Error(errkind.Wrap(errkind.CompactionFail, err)))
		return warn, nil
	}
	return warn, boundary
}

func (m *Monitor) compact(ctx context.Context, conversationID string, th Thresholds, preTokens int) (*api.NormalizedEvent, error) {
	messages, err := m.store.LoadMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	kept, dropped := smartRetention(messages, th.CompactionBudget())

	var summary string
	if m.summarizer != nil {
		sctx, cancel := context.WithTimeout(ctx, 60*time.Second)
		summary, err = m.summarizer.Summarize(sctx, dropped)
		cancel()
		if err != nil || summary == "" {
			summary = ruleBasedSummary(dropped)
		}
	} else {
		summary = ruleBasedSummary(dropped)
	}

	summaryMsg := api.Message{
		ConversationID: conversationID,
		Role:           api.RoleUser,
		Content:        []api.ContentBlock{wrapSummary(summary)},
		Timestamp:      time.Now(),
	}

	rewritten := append([]api.Message{summaryMsg}, kept...)
	if err := m.store.RewriteMessages(ctx, conversationID, rewritten, summary); err != nil {
		return nil, err
	}
	if err := m.store.ClearResumeToken(ctx, conversationID); err != nil {
		return nil, err
	}

	return &api.NormalizedEvent{
		Type: api.EventCompactBoundary, Timestamp: time.Now(), PreTokens: preTokens,
	}, nil
}
