// Package commentary implements the Commentary Event Bridge (spec §4.6): a
// best-effort side channel that batches a live agent event stream and
// narrates it via a cheap one-shot LLM call, without ever perturbing the
// primary session pipeline.
package commentary

import (
	"context"
	"time"

	"github.com/agentgate/agentgate/pkg/api"
)

// Verbosity controls which events a commentator reacts to and how long it
// batches them before flushing.
type Verbosity string

const (
	VerbosityFrequent  Verbosity = "frequent"
	VerbosityStrategic Verbosity = "strategic"
	VerbosityMinimal   Verbosity = "minimal"
)

// window is the (min, max) batch flush delay for a verbosity level.
type window struct{ min, max time.Duration }

var windows = map[Verbosity]window{
	VerbosityFrequent:  {3 * time.Second, 5 * time.Second},
	VerbosityStrategic: {8 * time.Second, 12 * time.Second},
	VerbosityMinimal:   {15 * time.Second, 20 * time.Second},
}

func (v Verbosity) window() window {
	if w, ok := windows[v]; ok {
		return w
	}
	return windows[VerbosityStrategic]
}

// includes reports whether an event passes this verbosity's filter.
func (v Verbosity) includes(evt api.NormalizedEvent) bool {
	switch v {
	case VerbosityFrequent:
		return evt.Type != api.EventPing
	case VerbosityMinimal:
		return evt.Type == api.EventStoryUpdate || evt.Type == api.EventError ||
			evt.Type == api.EventVerificationResult || evt.Type == api.EventAgentNoteCreated
	default: // strategic
		switch evt.Type {
		case api.EventToolResult, api.EventMessageStop, api.EventVerificationResult,
			api.EventStoryUpdate, api.EventError, api.EventToolApprovalRequest:
			return true
		}
		return false
	}
}

// Personality is one of a small fixed set of prompt templates.
type Personality struct {
	Name           string
	PromptTemplate string
}

var personalities = map[string]Personality{
	"narrator": {Name: "narrator", PromptTemplate: "You are a terse narrator describing an AI coding agent's progress in one or two sentences. Be factual, present tense, no hedging."},
	"coach":    {Name: "coach", PromptTemplate: "You are an encouraging coding coach. Summarize the agent's recent activity in one or two upbeat sentences, calling out real progress or real problems."},
	"deadpan":  {Name: "deadpan", PromptTemplate: "You are a deadpan, dry observer. Summarize the agent's recent activity in one or two flat, factual sentences."},
}

// Personalities lists the available personality names.
func Personalities() []string {
	names := make([]string, 0, len(personalities))
	for n := range personalities {
		names = append(names, n)
	}
	return names
}

func personalityFor(name string) Personality {
	if p, ok := personalities[name]; ok {
		return p
	}
	return personalities["narrator"]
}

func verbosityModifier(v Verbosity) string {
	switch v {
	case VerbosityFrequent:
		return "Narrate every beat as it happens."
	case VerbosityMinimal:
		return "Only the headline: one sentence, high-level only."
	default:
		return "Summarize at a strategic level, skipping minor detail."
	}
}

// Generator drives the one-shot LLM call that turns a distilled activity
// log into narrated commentary text.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, activityLog string) (string, error)
}
