package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgate/agentgate/pkg/api"
)

func TestEngine_ModeFallback(t *testing.T) {
	tests := []struct {
		name string
		mode Mode
		tool string
		want api.Verdict
	}{
		{"safe allows reads", ModeSafe, "Read", api.VerdictAllow},
		{"safe asks on writes", ModeSafe, "Write", api.VerdictAsk},
		{"plan denies writes", ModePlan, "Edit", api.VerdictDeny},
		{"plan allows reads", ModePlan, "Read", api.VerdictAllow},
		{"fast allows known-safe reads", ModeFast, "Grep", api.VerdictAllow},
		{"fast asks on unknown tools", ModeFast, "Write", api.VerdictAsk},
		{"unrestricted allows everything", ModeUnrestricted, "Bash", api.VerdictAllow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(tt.mode, TerminalAuto)
			got := e.Evaluate("/ws", "sess-1", tt.tool, nil)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEngine_TerminalPolicyOverridesMode(t *testing.T) {
	e := NewEngine(ModeUnrestricted, TerminalOff)
	assert.Equal(t, api.VerdictDeny, e.Evaluate("/ws", "sess-1", "Bash", nil))

	e.SetTerminalPolicy(TerminalTurbo)
	assert.Equal(t, api.VerdictAllow, e.Evaluate("/ws", "sess-1", "Bash", nil))
}

func TestEngine_RulePriorityOverMode(t *testing.T) {
	e := NewEngine(ModeUnrestricted, TerminalAuto)
	e.LoadRules(api.ScopeGlobal, "", []api.PermissionRule{
		{ID: "r1", Scope: api.ScopeGlobal, ToolSelector: "Bash", Verdict: api.VerdictDeny},
	})
	assert.Equal(t, api.VerdictDeny, e.Evaluate("/ws", "sess-1", "Bash", nil))
}

func TestEngine_DenyOutranksAllowAcrossScopes(t *testing.T) {
	e := NewEngine(ModeSafe, TerminalAuto)
	e.LoadRules(api.ScopeGlobal, "", []api.PermissionRule{
		{ID: "g", Scope: api.ScopeGlobal, ToolSelector: "Write", Verdict: api.VerdictDeny},
	})
	e.LoadRules(api.ScopeWorkspace, "/ws", []api.PermissionRule{
		{ID: "w", Scope: api.ScopeWorkspace, ToolSelector: "Write", Verdict: api.VerdictAllow},
	})

	// Deny outranks allow regardless of scope, so the more specific
	// workspace rule only wins once it's the higher-priority verdict.
	got := e.Evaluate("/ws", "sess-1", "Write", nil)
	assert.Equal(t, api.VerdictDeny, got, "deny always outranks allow within the matched rule set")
}

func TestEngine_InputPatternMatch(t *testing.T) {
	e := NewEngine(ModeSafe, TerminalAuto)
	e.LoadRules(api.ScopeGlobal, "", []api.PermissionRule{
		{ID: "r1", Scope: api.ScopeGlobal, ToolSelector: "Bash", InputPattern: "rm *", Verdict: api.VerdictDeny},
		{ID: "r2", Scope: api.ScopeGlobal, ToolSelector: "Bash", Verdict: api.VerdictAllow},
	})

	assert.Equal(t, api.VerdictDeny, e.Evaluate("/ws", "s", "Bash", map[string]any{"command": "rm -rf /tmp"}))
	assert.Equal(t, api.VerdictAllow, e.Evaluate("/ws", "s", "Bash", map[string]any{"command": "ls -la"}))
}

func TestIsFileWriteTool(t *testing.T) {
	assert.True(t, IsFileWriteTool("Write"))
	assert.True(t, IsFileWriteTool("Edit"))
	assert.True(t, IsFileWriteTool("NotebookEdit"))
	assert.False(t, IsFileWriteTool("Bash"), "terminal commands aren't file writes even though they mutate state")
	assert.False(t, IsFileWriteTool("Read"))
}

func TestExtractInput(t *testing.T) {
	assert.Equal(t, "ls -la", ExtractInput("Bash", map[string]any{"command": "ls -la"}))
	assert.Equal(t, "/a/b.go", ExtractInput("Write", map[string]any{"file_path": "/a/b.go"}))
	assert.Equal(t, "", ExtractInput("Bash", nil))
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "Run: ls -la", Describe("Bash", map[string]any{"command": "ls -la"}))
	assert.Equal(t, "Write to /a/b.go", Describe("Write", map[string]any{"file_path": "/a/b.go"}))
	assert.Equal(t, "Read /a/b.go", Describe("Read", map[string]any{"file_path": "/a/b.go"}))
}

func TestGlobMatch(t *testing.T) {
	require.True(t, globMatch("*", "anything"))
	require.True(t, globMatch("Write", "Write"))
	require.False(t, globMatch("Write", "Edit"))
	require.True(t, globMatch("rm *", "rm -rf /tmp"))
	require.False(t, globMatch("rm *", "ls -la"))
	require.False(t, globMatch("", "Write"))
}
