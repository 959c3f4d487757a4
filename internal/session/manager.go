// Package session implements the Agent Session Manager and Stream
// Multiplexer / Replay Buffer (spec §4.1, §4.2): it owns the lifecycle of
// agent subprocesses, translates their wire protocol into NormalizedEvent
// sequences, and lets a browser client reconnect to an in-flight or
// recently finished stream without losing events (invariant I3).
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentgate/agentgate/internal/agentcli"
	"github.com/agentgate/agentgate/internal/common/config"
	"github.com/agentgate/agentgate/internal/common/errkind"
	"github.com/agentgate/agentgate/internal/common/logger"
	"github.com/agentgate/agentgate/internal/permission"
	"github.com/agentgate/agentgate/internal/store"
	"github.com/agentgate/agentgate/internal/subprocess"
	"github.com/agentgate/agentgate/internal/verify"
	"github.com/agentgate/agentgate/pkg/api"
)

// ArtifactStore persists <artifact> blocks extracted from assistant text.
// Satisfied structurally by internal/store's conversation store. A nil
// ArtifactStore disables extraction entirely.
type ArtifactStore interface {
	SaveArtifact(ctx context.Context, a api.Artifact) error
}

// PermissionChecker evaluates a tool invocation against policy. It is
// satisfied structurally by internal/permission.Engine; the manager only
// depends on this narrow interface so the two packages don't import each
// other.
type PermissionChecker interface {
	Evaluate(workspacePath, sessionID, toolName string, input map[string]any) api.Verdict
}

// ContextObserver is given the running token usage after each turn and
// returns an optional warning/compaction event to splice into the stream.
// Satisfied structurally by internal/contextmon.Monitor.
type ContextObserver interface {
	Observe(conversationID string, usage api.Usage, modelWindow int) (warning *api.NormalizedEvent, boundary *api.NormalizedEvent)
}

// Manager is the Agent Session Manager: it creates sessions, drives
// messages through their agent subprocess, and multiplexes the resulting
// event stream to one or more readers (live and reconnecting).
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session

	cfg    config.AgentConfig
	logger *logger.Logger

	permission PermissionChecker
	context    ContextObserver
	verifier   *verify.Verifier
	artifacts  ArtifactStore

	modelWindow int
}

// NewManager constructs a session manager. permission/context/artifacts may
// be nil; a nil PermissionChecker allows every tool, a nil ContextObserver
// disables context-window monitoring, and a nil ArtifactStore disables
// <artifact> block extraction.
func NewManager(cfg config.AgentConfig, modelWindow int, log *logger.Logger, permission PermissionChecker, ctxObs ContextObserver, artifacts ArtifactStore) *Manager {
	return &Manager{
		sessions:    make(map[string]*session),
		cfg:         cfg,
		logger:      log.WithFields(zap.String("component", "session-manager")),
		permission:  permission,
		context:     ctxObs,
		verifier:    verify.NewVerifier(verify.OSFileReader{}, nil, cfg.VerifyDelay, log),
		artifacts:   artifacts,
		modelWindow: modelWindow,
	}
}

// CreateSession registers bookkeeping for a new session. Pure bookkeeping;
// no subprocess is spawned until the first sendMessage call.
func (m *Manager) CreateSession(conversationID string, opts api.SessionOptions) string {
	id := uuid.NewString()
	s := newSession(id, conversationID, opts)

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.logger.Info("session created", zap.String("session_id", id), zap.String("conversation_id", conversationID))
	return id
}

func (m *Manager) get(sessionID string) (*session, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil, errNotFound(sessionID)
	}
	return s, nil
}

// SendMessage prepends any pending nudges to content, spawns the agent
// subprocess on first use (or reuses the live one), and returns a channel
// streaming NormalizedEvents for this turn. The channel closes when the
// turn ends: on message_stop (a result message is translated into one), on
// cancellation, or when the content timeout fires. A subprocess exit alone
// does not close it; the content timeout then ends the turn.
func (m *Manager) SendMessage(ctx context.Context, sessionID, content string) (<-chan api.NormalizedEvent, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return nil, err
	}

	if s.getStatus() == api.SessionTerminated {
		return nil, errTerminated(sessionID)
	}

	if nudges := s.drainNudges(); len(nudges) > 0 {
		var b []byte
		for _, n := range nudges {
			b = append(b, []byte(n+"\n")...)
		}
		content = string(b) + content
	}

	if s.client == nil {
		if err := m.spawn(ctx, s); err != nil {
			return nil, errSpawn(sessionID, err)
		}
	}

	out, cancel := s.subscribe()

	turnCtx, turnCancel := context.WithCancel(ctx)
	s.setCancel(turnCancel)

	go m.runTurn(turnCtx, s, cancel, turnCancel)

	if err := s.client.SendUserMessage(content); err != nil {
		turnCancel()
		cancel()
		return nil, errkind.Wrap(errkind.StreamError, fmt.Errorf("session %s: failed to write user message: %w", sessionID, err))
	}

	return out, nil
}

// spawn starts the agent subprocess and wires up the agentcli.Client,
// installing handlers that translate wire messages into NormalizedEvents
// and answer can_use_tool control requests via the permission engine.
func (m *Manager) spawn(ctx context.Context, s *session) error {
	handle, err := subprocess.Spawn(ctx, subprocess.Spec{
		Binary:        m.cfg.Binary,
		WorkspacePath: s.workspacePath,
		PreferPTY:     m.cfg.PreferPTY,
	}, m.logger)
	if err != nil {
		return err
	}

	client := agentcli.NewClient(handle.Stdin(), handle.Stdout, m.logger)
	client.SetRequestHandler(func(requestID string, req *agentcli.ControlRequest) {
		m.handleControlRequest(s, client, requestID, req)
	})
	client.SetMessageHandler(func(msg *agentcli.RawMessage) {
		m.handleMessage(s, msg)
	})
	client.SetWarnHandler(func(line []byte, err error) {
		m.logger.Warn("unparseable agent stdout line",
			zap.String("session_id", s.id), zap.ByteString("line", line), zap.Error(err))
	})

	s.cli = handle
	s.client = client
	s.setStatus(api.SessionRunning)
	client.Start(ctx)
	return nil
}

// runTurn owns the per-turn watchdog: a content timeout that fires when no
// event has been produced for cfg.ContentTimeout, and a ping ticker that
// keeps the client stream alive during long tool calls. Either the turn's
// own cancellation (cancelGeneration) or the content timeout ends the turn
// early; message_stop/result from handleMessage ends it normally.
func (m *Manager) runTurn(ctx context.Context, s *session, unsubscribe func(), turnDone context.CancelFunc) {
	defer unsubscribe()
	defer turnDone()

	idle := time.NewTimer(m.cfg.ContentTimeout)
	defer idle.Stop()
	ping := time.NewTicker(m.cfg.PingInterval)
	defer ping.Stop()

	activity, cancelWatch := s.subscribe()
	defer cancelWatch()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-activity:
			if !ok {
				return
			}
			if evt.Type == api.EventMessageStop {
				return
			}
			// Pings are self-delivered (emit fans out to every subscriber,
			// including this watchdog's own); they carry no evidence the
			// agent is still producing content, so they must not reset the
			// idle timer or the 15s PingInterval << 120s ContentTimeout
			// would keep it from ever firing.
			if evt.Type == api.EventPing {
				continue
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(m.cfg.ContentTimeout)
		case <-idle.C:
			now := time.Now()
			s.emit(api.NormalizedEvent{
				Type:         api.EventError,
				SessionID:    s.id,
				Timestamp:    now,
				ErrorKind:    string(errkind.Timeout),
				ErrorMessage: fmt.Sprintf("no content received for %s", m.cfg.ContentTimeout),
			})
			s.emit(api.NormalizedEvent{
				Type:       api.EventMessageStop,
				SessionID:  s.id,
				Timestamp:  now,
				StopReason: "timeout",
			})
			if s.client != nil {
				s.client.Stop()
			}
			if s.cli != nil {
				_ = s.cli.Signal()
			}
			return
		case <-ping.C:
			s.emit(api.NormalizedEvent{Type: api.EventPing, SessionID: s.id, Timestamp: time.Now()})
		}
	}
}

func (m *Manager) handleControlRequest(s *session, client *agentcli.Client, requestID string, req *agentcli.ControlRequest) {
	if req.Subtype != agentcli.SubtypeCanUseTool {
		_ = client.SendControlResponse(&agentcli.ControlResponse{
			Type: "control_response", RequestID: requestID,
			Response: agentcli.ControlResponseBody{Behavior: agentcli.BehaviorDeny, Message: "unsupported control request"},
		})
		return
	}

	verdict := api.VerdictAllow
	if m.permission != nil {
		verdict = m.permission.Evaluate(s.workspacePath, s.id, req.ToolName, req.Input)
	}

	if verdict == api.VerdictAsk {
		s.emit(api.NormalizedEvent{
			Type:        api.EventToolApprovalRequest,
			SessionID:   s.id,
			Timestamp:   time.Now(),
			ToolCallID:  req.ToolUseID,
			Description: permission.Describe(req.ToolName, req.Input),
			RawInput:    req.Input,
		})
		// The control response below answers an ask verdict with deny right
		// away; no reply to the approval request event is awaited, so an ask
		// ends like a deny for this tool call.
	}

	behavior := agentcli.BehaviorDeny
	if verdict == api.VerdictAllow {
		behavior = agentcli.BehaviorAllow
	}
	_ = client.SendControlResponse(&agentcli.ControlResponse{
		Type: "control_response", RequestID: requestID,
		Response: agentcli.ControlResponseBody{Behavior: behavior},
	})
}

func (m *Manager) handleMessage(s *session, msg *agentcli.RawMessage) {
	events := translate(s, msg)
	for _, evt := range events {
		s.emit(evt)
	}

	if msg.Type == agentcli.TypeAssistant {
		m.scheduleVerifications(s, msg)
		m.extractArtifacts(s, msg)
	}

	if msg.Type == agentcli.TypeResult && msg.Usage != nil && m.context != nil {
		usage := api.Usage{
			InputTokens:              msg.Usage.InputTokens,
			OutputTokens:             msg.Usage.OutputTokens,
			CacheCreationInputTokens: msg.Usage.CacheCreationInputTokens,
			CacheReadInputTokens:     msg.Usage.CacheReadInputTokens,
		}
		if warn, boundary := m.context.Observe(s.conversationID, usage, m.modelWindow); warn != nil || boundary != nil {
			if warn != nil {
				s.emit(*warn)
			}
			if boundary != nil {
				s.emit(*boundary)
			}
		}
	}
}

// scheduleVerifications inspects an assistant message's tool_use blocks
// for file-writing tools and schedules a file-verification call for each,
// per spec §4.1: "schedule a file-verification call after a short delay
// and later emit a verification_result event."
func (m *Manager) scheduleVerifications(s *session, msg *agentcli.RawMessage) {
	payload, err := msg.AsAssistant()
	if err != nil {
		return
	}

	for _, blk := range payload.Content {
		if blk.Type != "tool_use" || !permission.IsFileWriteTool(blk.Name) {
			continue
		}
		path := filePathFromInput(blk.Input)
		if path == "" {
			continue
		}

		ctx := context.Background()
		before, _ := verify.OSFileReader{}.ReadFile(ctx, path)
		toolUseID := blk.ID
		m.verifier.Schedule(ctx, toolUseID, path, before, func(result verify.Result) {
			s.emit(api.NormalizedEvent{
				Type:               api.EventVerificationResult,
				SessionID:          s.id,
				Timestamp:          time.Now(),
				ToolUseID:          result.ToolUseID,
				VerificationPassed: result.Passed,
				VerificationDetail: result.Detail,
			})
		})
	}
}

// extractArtifacts scans an assistant message's text blocks for <artifact>
// blocks per spec §6, persists each, and emits an artifact_created event.
func (m *Manager) extractArtifacts(s *session, msg *agentcli.RawMessage) {
	if m.artifacts == nil {
		return
	}
	payload, err := msg.AsAssistant()
	if err != nil {
		return
	}

	var text string
	for _, blk := range payload.Content {
		if blk.Type == "text" {
			text += blk.Text
		}
	}
	if text == "" {
		return
	}

	for _, art := range store.ExtractArtifacts(s.conversationID, payload.ID, text) {
		art.CreatedAt = time.Now()
		if err := m.artifacts.SaveArtifact(context.Background(), art); err != nil {
			m.logger.Warn("failed to persist artifact", zap.Error(err))
			continue
		}
		s.emit(api.NormalizedEvent{
			Type: api.EventArtifactCreated, SessionID: s.id, Timestamp: time.Now(),
			Payload: map[string]any{"id": art.ID, "type": art.Type, "title": art.Title},
		})
	}
}

func filePathFromInput(input map[string]any) string {
	for _, key := range []string{"file_path", "path", "filePath"} {
		if v, ok := input[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// WriteStdin forwards raw bytes to the subprocess, used for interactive
// prompts the agent issues outside the control_request protocol.
func (m *Manager) WriteStdin(sessionID string, data []byte) (bool, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return false, err
	}
	if s.client == nil {
		return false, nil
	}
	if err := s.client.WriteRaw(data); err != nil {
		return false, errkind.Wrap(errkind.StreamError, err)
	}
	return true, nil
}

// QueueNudge appends text to the session's pending nudges without blocking
// on the streaming task; it is prepended to the next accepted sendMessage.
func (m *Manager) QueueNudge(sessionID, text string) (bool, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return false, err
	}
	s.enqueueNudge(text)
	return true, nil
}

// CancelGeneration signals the in-flight turn (if any) to stop.
func (m *Manager) CancelGeneration(sessionID string) (bool, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return false, err
	}
	cancelled := s.signalCancel()
	if cancelled {
		s.emit(api.NormalizedEvent{
			Type: api.EventMessageStop, SessionID: sessionID, Timestamp: time.Now(), Reason: "cancelled",
		})
		if s.cli != nil {
			_ = s.cli.Signal()
		}
	}
	return cancelled, nil
}

// TerminateSession kills the subprocess (if any), marks the session
// terminated, and closes every live subscriber. The replay buffer remains
// readable via reconnectStream after termination.
func (m *Manager) TerminateSession(sessionID string) error {
	s, err := m.get(sessionID)
	if err != nil {
		return err
	}

	s.signalCancel()
	if s.client != nil {
		s.client.Stop()
	}
	if s.cli != nil {
		_ = s.cli.Signal()
		go func() {
			_ = s.cli.Wait()
			s.cli.Release()
		}()
	}
	s.setStatus(api.SessionTerminated)
	s.closeSubscribers()

	m.scheduleReap(s)
	return nil
}

// scheduleReap removes a terminated session from the manager's live map
// after the configured session grace period, bounding memory use while
// still giving a disconnected client time to reconnect and replay.
func (m *Manager) scheduleReap(s *session) {
	s.graceTimer = time.AfterFunc(m.cfg.SessionGrace, func() {
		m.mu.Lock()
		delete(m.sessions, s.id)
		m.mu.Unlock()
	})
}

// ReconnectStream returns the full buffered replay followed by a live
// subscription for events appended after the snapshot point, or nil if the
// session is unknown. Per invariant I3, concatenating the replay with the
// live channel reproduces the original stream exactly once each event is
// accounted for: snapshotAndSubscribe takes the buffer snapshot and
// registers the subscription atomically, so an event racing the reconnect
// lands on exactly one side of the cutover, never both.
func (m *Manager) ReconnectStream(sessionID string) (replay []api.NormalizedEvent, live <-chan api.NormalizedEvent, cancel func(), complete bool, err error) {
	s, err := m.get(sessionID)
	if err != nil {
		return nil, nil, nil, false, err
	}

	snapshot, ch, cancelFn, isComplete := s.snapshotAndSubscribe()
	return snapshot, ch, cancelFn, isComplete, nil
}

// Session returns the current API-facing snapshot of a session's state.
func (m *Manager) Session(sessionID string) (api.Session, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return api.Session{}, err
	}
	return s.toAPI(), nil
}
