// Package api holds the wire-level types the gateway's core exposes to
// clients and persists to the store: the data model of spec §3, expressed
// as a discriminated NormalizedEvent union plus the persistent Session,
// Conversation, Message, UserStory, Loop and PermissionRule records.
package api

import "time"

// EventType discriminates the NormalizedEvent union. The set is closed:
// implementers model it as a tagged sum type and handle every case
// exhaustively, dropping only shapes the agent subprocess itself never sends.
type EventType string

const (
	EventMessageStart        EventType = "message_start"
	EventContentBlockStart   EventType = "content_block_start"
	EventContentBlockDelta   EventType = "content_block_delta"
	EventContentBlockStop    EventType = "content_block_stop"
	EventMessageDelta        EventType = "message_delta"
	EventMessageStop         EventType = "message_stop"
	EventToolResult          EventType = "tool_result"
	EventToolApprovalRequest EventType = "tool_approval_request"
	EventVerificationResult  EventType = "verification_result"
	EventContextWarning      EventType = "context_warning"
	EventCompactBoundary     EventType = "compact_boundary"
	EventError               EventType = "error"
	EventPing                EventType = "ping"

	// Orchestration events, emitted alongside the primary agent stream.
	EventLoopEvent        EventType = "loop_event"
	EventStoryUpdate      EventType = "story_update"
	EventArtifactCreated  EventType = "artifact_created"
	EventAgentNoteCreated EventType = "agent_note_created"
	EventCommentary       EventType = "commentary"
)

// BlockType discriminates content blocks within a message.
type BlockType string

const (
	BlockText     BlockType = "text"
	BlockThinking BlockType = "thinking"
	BlockToolUse  BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
	BlockImage    BlockType = "image"
	// BlockNudge is private: persisted on disk, normalized to BlockText
	// before being sent to any external model (summarizer, commentary
	// one-shot call, or the agent subprocess itself).
	BlockNudge BlockType = "nudge"
)

// ContentBlock is one typed element of a Message's content sequence.
type ContentBlock struct {
	Type BlockType `json:"type"`
	// Text holds BlockText / BlockThinking / BlockNudge payloads.
	Text string `json:"text,omitempty"`
	// ToolUseID / ToolName / ToolInput describe a BlockToolUse block.
	ToolUseID string         `json:"tool_use_id,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	ToolInput map[string]any `json:"tool_input,omitempty"`
	// ToolResultFor links a BlockToolResult block back to its tool_use.
	ToolResultFor string `json:"tool_result_for,omitempty"`
	ToolResult    any    `json:"tool_result,omitempty"`
	ToolIsError   bool   `json:"tool_is_error,omitempty"`
	// MediaType / ImageData describe a BlockImage block.
	MediaType string `json:"media_type,omitempty"`
	ImageData string `json:"image_data,omitempty"`
}

// AsExternalText returns the block normalized for transmission to an
// external model: a private BlockNudge becomes plain BlockText, everything
// else passes through unchanged.
func (b ContentBlock) AsExternalText() ContentBlock {
	if b.Type == BlockNudge {
		return ContentBlock{Type: BlockText, Text: b.Text}
	}
	return b
}

// Usage mirrors the agent subprocess's result.usage payload.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

// NormalizedEvent is the wire type exposed to clients over the resumable stream.
type NormalizedEvent struct {
	Type      EventType `json:"type"`
	Index     int       `json:"index,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`

	// content_block_start / content_block_delta / content_block_stop
	Block      *ContentBlock `json:"block,omitempty"`
	DeltaText  string        `json:"delta_text,omitempty"`
	DeltaInput string        `json:"delta_input,omitempty"` // partial JSON for tool_use input streaming

	// message_delta / message_stop
	StopReason string `json:"stop_reason,omitempty"`
	Usage      *Usage `json:"usage,omitempty"`
	// Reason carries "cancelled" on a message_stop produced by cancellation.
	Reason string `json:"reason,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	ToolName  string `json:"tool_name,omitempty"`

	// tool_approval_request
	ToolCallID  string `json:"tool_call_id,omitempty"`
	Description string `json:"description,omitempty"`
	RawInput    any    `json:"raw_input,omitempty"`

	// verification_result
	VerificationPassed bool   `json:"verification_passed,omitempty"`
	VerificationDetail string `json:"verification_detail,omitempty"`

	// context_warning
	UsagePercent  float64 `json:"usage_percent,omitempty"`
	Autocompacted bool    `json:"autocompacted,omitempty"`

	// compact_boundary
	PreTokens int `json:"pre_tokens,omitempty"`

	// error
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	// orchestration events carry a free-form payload
	Payload map[string]any `json:"payload,omitempty"`
}
