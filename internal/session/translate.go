package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/agentgate/agentgate/internal/agentcli"
	"github.com/agentgate/agentgate/pkg/api"
)

// translate converts one parsed agent subprocess message into zero or more
// NormalizedEvents, per spec §6's wire shapes. Assistant/user messages
// arrive as complete blocks (the agent CLI doesn't sub-delta within a
// block), so each block becomes a start/delta/stop triple with the delta
// carrying the whole payload in one chunk.
func translate(s *session, msg *agentcli.RawMessage) []api.NormalizedEvent {
	now := time.Now()

	switch msg.Type {
	case agentcli.TypeSystem:
		if msg.SessionID != "" {
			s.setResumeToken(msg.SessionID)
		}
		// Emit a synthetic message_start on the handshake so a client sees a
		// "streaming" indicator immediately, even if the first real content
		// is slow to arrive (spec §4.1). The placeholder id is reused by the
		// first real assistant message instead of starting a second message.
		placeholderID := uuid.NewString()
		s.setPendingMessageID(placeholderID)
		return []api.NormalizedEvent{{
			Type: api.EventMessageStart, SessionID: s.id, MessageID: placeholderID, Timestamp: now,
		}}

	case agentcli.TypeAssistant:
		payload, err := msg.AsAssistant()
		if err != nil {
			return []api.NormalizedEvent{{
				Type: api.EventError, SessionID: s.id, Timestamp: now,
				ErrorKind: "stream_error", ErrorMessage: "malformed assistant message: " + err.Error(),
			}}
		}

		messageID := payload.ID
		var events []api.NormalizedEvent
		if pending := s.takePendingMessageID(); pending != "" {
			// The handshake already sent a message_start for this message;
			// splice the real content onto the placeholder id instead of
			// starting a second message.
			messageID = pending
		} else {
			events = append(events, api.NormalizedEvent{
				Type: api.EventMessageStart, SessionID: s.id, MessageID: messageID, Timestamp: now,
			})
		}
		for i, blk := range payload.Content {
			events = append(events, blockEvents(s.id, messageID, i, blk, now)...)
		}
		return events

	case agentcli.TypeUser:
		payload, err := msg.AsUser()
		if err != nil {
			return []api.NormalizedEvent{{
				Type: api.EventError, SessionID: s.id, Timestamp: now,
				ErrorKind: "stream_error", ErrorMessage: "malformed user message: " + err.Error(),
			}}
		}
		var events []api.NormalizedEvent
		for _, blk := range payload.Content {
			if blk.Type != "tool_result" {
				continue
			}
			events = append(events, api.NormalizedEvent{
				Type: api.EventToolResult, SessionID: s.id, Timestamp: now,
				ToolUseID: blk.ToolUseID,
			})
		}
		return events

	case agentcli.TypeResult:
		events := []api.NormalizedEvent{{
			Type: api.EventMessageDelta, SessionID: s.id, Timestamp: now,
			StopReason: msg.StopReason,
		}}
		if msg.Usage != nil {
			events[0].Usage = &api.Usage{
				InputTokens:              msg.Usage.InputTokens,
				OutputTokens:             msg.Usage.OutputTokens,
				CacheCreationInputTokens: msg.Usage.CacheCreationInputTokens,
				CacheReadInputTokens:     msg.Usage.CacheReadInputTokens,
			}
		}
		events = append(events, api.NormalizedEvent{
			Type: api.EventMessageStop, SessionID: s.id, Timestamp: now, StopReason: msg.StopReason,
		})
		return events

	default:
		return nil
	}
}

func blockEvents(sessionID, messageID string, index int, blk agentcli.Block, now time.Time) []api.NormalizedEvent {
	cb := toContentBlock(blk)

	start := api.NormalizedEvent{
		Type: api.EventContentBlockStart, SessionID: sessionID, MessageID: messageID,
		Index: index, Timestamp: now, Block: &cb,
	}

	var delta api.NormalizedEvent
	switch cb.Type {
	case api.BlockText, api.BlockThinking:
		delta = api.NormalizedEvent{
			Type: api.EventContentBlockDelta, SessionID: sessionID, MessageID: messageID,
			Index: index, Timestamp: now, DeltaText: cb.Text,
		}
	case api.BlockToolUse:
		delta = api.NormalizedEvent{
			Type: api.EventContentBlockDelta, SessionID: sessionID, MessageID: messageID,
			Index: index, Timestamp: now,
		}
	}

	stop := api.NormalizedEvent{
		Type: api.EventContentBlockStop, SessionID: sessionID, MessageID: messageID,
		Index: index, Timestamp: now,
	}

	if delta.Type == "" {
		return []api.NormalizedEvent{start, stop}
	}
	return []api.NormalizedEvent{start, delta, stop}
}

func toContentBlock(blk agentcli.Block) api.ContentBlock {
	switch blk.Type {
	case "text":
		return api.ContentBlock{Type: api.BlockText, Text: blk.Text}
	case "thinking":
		return api.ContentBlock{Type: api.BlockThinking, Text: blk.Thinking}
	case "tool_use":
		return api.ContentBlock{
			Type: api.BlockToolUse, ToolUseID: blk.ID, ToolName: blk.Name, ToolInput: blk.Input,
		}
	case "tool_result":
		return api.ContentBlock{
			Type: api.BlockToolResult, ToolResultFor: blk.ToolUseID, ToolResult: blk.Content, ToolIsError: blk.IsError,
		}
	case "image":
		return api.ContentBlock{Type: api.BlockImage, MediaType: blk.MediaType, ImageData: blk.Data}
	default:
		return api.ContentBlock{Type: api.BlockText, Text: blk.Text}
	}
}
