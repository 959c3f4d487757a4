package commentary

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/agentgate/agentgate/internal/common/logger"
	"github.com/agentgate/agentgate/pkg/api"
)

// HistoryStore persists generated commentary when a workspace opts in.
type HistoryStore interface {
	SaveCommentary(ctx context.Context, rec api.CommentaryRecord) error
}

// EmitFunc delivers a generated commentary event back into a workspace's
// client-facing stream.
type EmitFunc func(workspaceID string, evt api.NormalizedEvent)

// Bridge owns the ref-counted lifecycle of per-workspace commentators: at
// most one live commentator per workspace, torn down only when its last
// subscriber leaves (or on forced administrative cleanup).
type Bridge struct {
	mu           sync.Mutex
	commentators map[string]*commentator

	pathCacheMu sync.RWMutex
	pathCache   map[string]string // workspace path -> workspace id
	convCache   map[string]string // conversation id -> workspace id

	generator      Generator
	history        HistoryStore
	emit           EmitFunc
	maxCallsPerMin float64
	persistHistory bool
	logger         *logger.Logger
}

// NewBridge constructs a Bridge. generator/history may be nil to disable
// generation or persistence respectively (commentary becomes a no-op).
func NewBridge(generator Generator, history HistoryStore, emit EmitFunc, maxCallsPerMin float64, persistHistory bool, log *logger.Logger) *Bridge {
	return &Bridge{
		commentators:   make(map[string]*commentator),
		pathCache:      make(map[string]string),
		convCache:      make(map[string]string),
		generator:      generator,
		history:        history,
		emit:           emit,
		maxCallsPerMin: maxCallsPerMin,
		persistHistory: persistHistory,
		logger:         log.WithFields(zap.String("component", "commentary-bridge")),
	}
}

// ResolveWorkspace caches a workspace-path/conversation-id to workspace-id
// mapping, invalidated when the workspace's last subscriber leaves.
func (b *Bridge) ResolveWorkspace(workspacePath, conversationID, workspaceID string) {
	b.pathCacheMu.Lock()
	defer b.pathCacheMu.Unlock()
	if workspacePath != "" {
		b.pathCache[workspacePath] = workspaceID
	}
	if conversationID != "" {
		b.convCache[conversationID] = workspaceID
	}
}

func (b *Bridge) workspaceIDFor(conversationID string) (string, bool) {
	b.pathCacheMu.RLock()
	defer b.pathCacheMu.RUnlock()
	id, ok := b.convCache[conversationID]
	return id, ok
}

// Subscribe attaches a client to workspaceID's commentator, creating one
// (with the given personality/verbosity) if none is live yet, and bumping
// its ref count. Returns a function to call when the client detaches.
func (b *Bridge) Subscribe(workspaceID, personalityName string, verbosity Verbosity) func() {
	b.mu.Lock()
	c, ok := b.commentators[workspaceID]
	if !ok {
		c = newCommentator(workspaceID, personalityFor(personalityName), verbosity, b)
		b.commentators[workspaceID] = c
	}
	c.refCount++
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.release(workspaceID) })
	}
}

func (b *Bridge) release(workspaceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.commentators[workspaceID]
	if !ok {
		return
	}
	c.refCount--
	if c.refCount <= 0 {
		delete(b.commentators, workspaceID)
		b.invalidate(workspaceID)
	}
}

// ForceStop tears down workspaceID's commentator regardless of ref count.
func (b *Bridge) ForceStop(workspaceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.commentators, workspaceID)
	b.invalidate(workspaceID)
}

func (b *Bridge) invalidate(workspaceID string) {
	b.pathCacheMu.Lock()
	defer b.pathCacheMu.Unlock()
	for p, id := range b.pathCache {
		if id == workspaceID {
			delete(b.pathCache, p)
		}
	}
	for c, id := range b.convCache {
		if id == workspaceID {
			delete(b.convCache, c)
		}
	}
}

// Ingest routes one event from conversationID's session into its
// workspace's commentator, if any; events whose workspace is unresolved or
// unsubscribed are silently discarded. Per spec, this never perturbs the
// caller: any panic here is recovered and logged.
func (b *Bridge) Ingest(conversationID string, evt api.NormalizedEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("recovered panic in commentary ingest", zap.Any("panic", r))
		}
	}()

	workspaceID, ok := b.workspaceIDFor(conversationID)
	if !ok {
		return
	}

	b.mu.Lock()
	c, ok := b.commentators[workspaceID]
	b.mu.Unlock()
	if !ok {
		return
	}
	c.ingest(evt)
}

// commentator batches one workspace's filtered events and periodically
// narrates them via the bridge's Generator.
type commentator struct {
	workspaceID string
	personality Personality
	verbosity   Verbosity
	bridge      *Bridge

	mu         sync.Mutex
	buffer     []api.NormalizedEvent
	flushTimer *time.Timer
	generating bool

	limiter *rate.Limiter
}

func newCommentator(workspaceID string, p Personality, v Verbosity, b *Bridge) *commentator {
	rps := b.maxCallsPerMin / 60.0
	if rps <= 0 {
		rps = 0.2
	}
	return &commentator{
		workspaceID: workspaceID,
		personality: p,
		verbosity:   v,
		bridge:      b,
		limiter:     rate.NewLimiter(rate.Limit(rps), 1),
	}
}

func (c *commentator) ingest(evt api.NormalizedEvent) {
	if !c.verbosity.includes(evt) {
		return
	}

	c.mu.Lock()
	c.buffer = append(c.buffer, evt)
	firstInBatch := len(c.buffer) == 1
	c.mu.Unlock()

	w := c.verbosity.window()
	if firstInBatch {
		c.scheduleFlush(w.min, w.max)
	}
}

// scheduleFlush starts the batch's min-delay timer; on fire it checks
// whether a newer event arrived since, and if so reschedules up to the
// window's max, matching "flush at min-quiet or max-hit, whichever first".
func (c *commentator) scheduleFlush(min, max time.Duration) {
	deadline := time.Now().Add(max)
	var arm func(time.Duration, int)
	arm = func(delay time.Duration, seen int) {
		time.AfterFunc(delay, func() {
			c.mu.Lock()
			remaining := time.Until(deadline)
			if n := len(c.buffer); n > seen && remaining > 0 {
				c.mu.Unlock()
				if remaining > min {
					remaining = min
				}
				arm(remaining, n)
				return
			}
			batch := c.buffer
			c.buffer = nil
			c.mu.Unlock()
			if len(batch) > 0 {
				c.flush(batch)
			}
		})
	}
	arm(min, 1)
}

func (c *commentator) flush(batch []api.NormalizedEvent) {
	c.mu.Lock()
	if c.generating {
		c.mu.Unlock()
		return // backpressure: commentary is best-effort, drop the batch
	}
	c.generating = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.generating = false
		c.mu.Unlock()
		if r := recover(); r != nil {
			c.bridge.logger.Error("recovered panic generating commentary", zap.Any("panic", r))
		}
	}()

	if c.bridge.generator == nil || !c.limiter.Allow() {
		return
	}

	activityLog := distill(batch)
	if activityLog == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	prompt := c.personality.PromptTemplate + " " + verbosityModifier(c.verbosity)
	text, err := c.bridge.generator.Generate(ctx, prompt, activityLog)
	if err != nil || text == "" {
		c.bridge.logger.Warn("commentary generation failed", zap.String("workspace_id", c.workspaceID), zap.Error(err))
		return
	}

	evt := api.NormalizedEvent{
		Type: api.EventCommentary, Timestamp: time.Now(),
		Payload: map[string]any{"text": text, "personality": c.personality.Name},
	}
	if c.bridge.emit != nil {
		c.bridge.emit(c.workspaceID, evt)
	}

	if c.bridge.persistHistory && c.bridge.history != nil {
		_ = c.bridge.history.SaveCommentary(ctx, api.CommentaryRecord{
			WorkspaceID: c.workspaceID, Text: text, Personality: c.personality.Name, Timestamp: time.Now(),
		})
	}
}
