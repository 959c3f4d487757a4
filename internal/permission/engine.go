// Package permission implements the Permission & Policy Engine (spec §4.4):
// rule evaluation in three concatenated scopes, a terminal-command policy,
// and a coarse permission-mode fallback, producing an allow/deny/ask
// verdict for every tool invocation.
package permission

import (
	"sort"
	"strings"
	"sync"

	"github.com/agentgate/agentgate/pkg/api"
)

// Mode is the coarse permission mode fallback.
type Mode string

const (
	ModeSafe         Mode = "safe"
	ModeFast         Mode = "fast"
	ModePlan         Mode = "plan"
	ModeUnrestricted Mode = "unrestricted"
)

// TerminalPolicy specifically governs shell-like tools.
type TerminalPolicy string

const (
	TerminalOff    TerminalPolicy = "off"
	TerminalAuto   TerminalPolicy = "auto"
	TerminalTurbo  TerminalPolicy = "turbo"
	TerminalCustom TerminalPolicy = "custom"
)

// terminalTools names the shell-like tools the terminal policy governs.
var terminalTools = map[string]bool{
	"Bash":       true,
	"Shell":      true,
	"Terminal":   true,
	"RunCommand": true,
}

// writeTools names tools that mutate state, used by the plan/safe mode fallback.
var writeTools = map[string]bool{
	"Write":        true,
	"Edit":         true,
	"NotebookEdit": true,
	"Bash":         true,
	"Shell":        true,
	"Terminal":     true,
	"RunCommand":   true,
}

// safeReadTools names the known-safe set the fast mode allows outright.
var safeReadTools = map[string]bool{
	"Read":       true,
	"Glob":       true,
	"Grep":       true,
	"WebFetch":   true,
	"WebSearch":  true,
	"ListDir":    true,
}

// fileWriteTools names tools that mutate file contents specifically,
// as opposed to terminal commands, used to trigger file verification.
var fileWriteTools = map[string]bool{
	"Write":        true,
	"Edit":         true,
	"NotebookEdit": true,
}

// IsFileWriteTool reports whether name is a tool that writes file contents,
// used by internal/session to schedule the file-verification side-effect.
func IsFileWriteTool(name string) bool { return fileWriteTools[name] }

// Engine evaluates tool invocations against rules, the terminal policy, and
// the permission mode, in that priority order.
type Engine struct {
	mu             sync.RWMutex
	globalRules    []api.PermissionRule
	workspaceRules map[string][]api.PermissionRule
	sessionRules   map[string][]api.PermissionRule

	mode           Mode
	terminalPolicy TerminalPolicy
}

// NewEngine constructs an engine with the given mode/terminal policy defaults.
func NewEngine(mode Mode, terminalPolicy TerminalPolicy) *Engine {
	return &Engine{
		workspaceRules: make(map[string][]api.PermissionRule),
		sessionRules:   make(map[string][]api.PermissionRule),
		mode:           mode,
		terminalPolicy: terminalPolicy,
	}
}

// LoadRules replaces the rule set for a given scope. Workspace/session are
// keyed by their respective id; global ignores key.
func (e *Engine) LoadRules(scope api.RuleScope, key string, rules []api.PermissionRule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch scope {
	case api.ScopeGlobal:
		e.globalRules = rules
	case api.ScopeWorkspace:
		e.workspaceRules[key] = rules
	case api.ScopeSession:
		e.sessionRules[key] = rules
	}
}

// SetMode updates the coarse permission mode fallback.
func (e *Engine) SetMode(mode Mode) {
	e.mu.Lock()
	e.mode = mode
	e.mu.Unlock()
}

// SetTerminalPolicy updates the terminal-command policy.
func (e *Engine) SetTerminalPolicy(p TerminalPolicy) {
	e.mu.Lock()
	e.terminalPolicy = p
	e.mu.Unlock()
}

// Evaluate decides allow/deny/ask for one tool invocation, satisfying
// session.PermissionChecker.
func (e *Engine) Evaluate(workspacePath, sessionID string, toolName string, input map[string]any) api.Verdict {
	e.mu.RLock()
	rules := make([]api.PermissionRule, 0, len(e.globalRules))
	rules = append(rules, e.globalRules...)
	rules = append(rules, e.workspaceRules[workspacePath]...)
	rules = append(rules, e.sessionRules[sessionID]...)
	mode := e.mode
	terminalPolicy := e.terminalPolicy
	e.mu.RUnlock()

	inputStr := ExtractInput(toolName, input)

	if v, ok := evaluateRules(rules, toolName, inputStr); ok {
		return v
	}

	if terminalTools[toolName] {
		switch terminalPolicy {
		case TerminalOff:
			return api.VerdictDeny
		case TerminalTurbo:
			return api.VerdictAllow
		// auto/custom fall through to the permission mode below.
		}
	}

	return evaluateMode(mode, toolName)
}

// evaluateRules finds the matching rule with highest priority: deny > ask >
// allow, and within a tier, a concrete pattern outranks a wildcard one.
func evaluateRules(rules []api.PermissionRule, toolName, inputStr string) (api.Verdict, bool) {
	var matched []api.PermissionRule
	for _, r := range rules {
		if !globMatch(r.ToolSelector, toolName) {
			continue
		}
		if r.InputPattern != "" && !globMatch(r.InputPattern, inputStr) {
			continue
		}
		matched = append(matched, r)
	}
	if len(matched) == 0 {
		return "", false
	}

	sort.SliceStable(matched, func(i, j int) bool {
		pi, pj := verdictRank(matched[i].Verdict), verdictRank(matched[j].Verdict)
		if pi != pj {
			return pi < pj
		}
		return specificity(matched[i].ToolSelector) > specificity(matched[j].ToolSelector)
	})
	return matched[0].Verdict, true
}

func verdictRank(v api.Verdict) int {
	switch v {
	case api.VerdictDeny:
		return 0
	case api.VerdictAsk:
		return 1
	default:
		return 2
	}
}

func evaluateMode(mode Mode, toolName string) api.Verdict {
	switch mode {
	case ModeUnrestricted:
		return api.VerdictAllow
	case ModePlan:
		if writeTools[toolName] {
			return api.VerdictDeny
		}
		return api.VerdictAllow
	case ModeFast:
		if safeReadTools[toolName] {
			return api.VerdictAllow
		}
		return api.VerdictAsk
	default: // ModeSafe
		if writeTools[toolName] {
			return api.VerdictAsk
		}
		return api.VerdictAllow
	}
}

// ExtractInput pulls a single representative string out of a tool's input
// map for pattern matching: the shell command for a terminal tool, the
// target path for a file writer/reader, the URL for a fetcher, else the
// first string-valued field found.
func ExtractInput(toolName string, input map[string]any) string {
	if input == nil {
		return ""
	}
	for _, key := range []string{"command", "file_path", "path", "url", "notebook_path"} {
		if v, ok := input[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	for _, v := range input {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Describe renders a human-readable description for a tool_approval_request
// event, e.g. "Write to /w/a.txt" or "Run: rm -rf tmp".
func Describe(toolName string, input map[string]any) string {
	target := ExtractInput(toolName, input)
	if target == "" {
		return toolName
	}
	if terminalTools[toolName] {
		return "Run: " + target
	}
	if strings.HasPrefix(toolName, "Write") || strings.HasPrefix(toolName, "Edit") {
		return "Write to " + target
	}
	return toolName + " " + target
}
