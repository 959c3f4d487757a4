package agentcli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRaw_SystemHandshake(t *testing.T) {
	line := []byte(`{"type":"system","session_id":"sess-123"}`)
	msg, err := ParseRaw(line)
	require.NoError(t, err)
	assert.Equal(t, TypeSystem, msg.Type)
	assert.Equal(t, "sess-123", msg.SessionID)
}

func TestParseRaw_AssistantMessageWithContentBlocks(t *testing.T) {
	line := []byte(`{"type":"assistant","message":{"id":"msg-1","model":"claude","content":[
		{"type":"text","text":"hello"},
		{"type":"tool_use","id":"tu-1","name":"Write","input":{"file_path":"a.go"}}
	]}}`)
	msg, err := ParseRaw(line)
	require.NoError(t, err)
	require.Equal(t, TypeAssistant, msg.Type)

	payload, err := msg.AsAssistant()
	require.NoError(t, err)
	assert.Equal(t, "msg-1", payload.ID)
	require.Len(t, payload.Content, 2)
	assert.Equal(t, "hello", payload.Content[0].Text)
	assert.Equal(t, "Write", payload.Content[1].Name)
	assert.Equal(t, "a.go", payload.Content[1].Input["file_path"])
}

func TestParseRaw_UserMessageWithToolResult(t *testing.T) {
	line := []byte(`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"tu-1","content":"ok","is_error":false}]}}`)
	msg, err := ParseRaw(line)
	require.NoError(t, err)

	payload, err := msg.AsUser()
	require.NoError(t, err)
	require.Len(t, payload.Content, 1)
	assert.Equal(t, "tu-1", payload.Content[0].ToolUseID)
	assert.False(t, payload.Content[0].IsError)
}

func TestParseRaw_ResultMessage(t *testing.T) {
	line := []byte(`{"type":"result","usage":{"input_tokens":100,"output_tokens":20},"stop_reason":"end_turn"}`)
	msg, err := ParseRaw(line)
	require.NoError(t, err)
	assert.Equal(t, TypeResult, msg.Type)
	require.NotNil(t, msg.Usage)
	assert.Equal(t, 100, msg.Usage.InputTokens)
	assert.Equal(t, "end_turn", msg.StopReason)
}

func TestParseRaw_ControlRequest(t *testing.T) {
	line := []byte(`{"type":"control_request","request_id":"req-1","request":{"subtype":"can_use_tool","tool_name":"Bash","input":{"command":"ls"},"tool_use_id":"tu-9"}}`)
	msg, err := ParseRaw(line)
	require.NoError(t, err)
	assert.Equal(t, TypeControlRequest, msg.Type)
	require.NotNil(t, msg.Request)
	assert.Equal(t, SubtypeCanUseTool, msg.Request.Subtype)
	assert.Equal(t, "Bash", msg.Request.ToolName)
	assert.Equal(t, "tu-9", msg.Request.ToolUseID)
}

func TestParseRaw_InvalidJSON(t *testing.T) {
	_, err := ParseRaw([]byte(`not json`))
	assert.Error(t, err)
}

func TestRawMessage_AsAssistant_WrongTypeStillParsesWhatItCan(t *testing.T) {
	msg := &RawMessage{Type: TypeSystem, Message: []byte(`{"id":"x","model":"m","content":[]}`)}
	payload, err := msg.AsAssistant()
	require.NoError(t, err)
	assert.Equal(t, "x", payload.ID)
}
