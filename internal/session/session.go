package session

import (
	"context"
	"sync"
	"time"

	"github.com/agentgate/agentgate/internal/agentcli"
	"github.com/agentgate/agentgate/internal/subprocess"
	"github.com/agentgate/agentgate/pkg/api"
)

// session is the internal, mutable counterpart to api.Session. Per spec §5,
// eventBuffer/streamComplete/pendingNudges/cliProcess are touched only by
// the streaming task that owns the subprocess, plus the narrow critical
// sections below for nudge enqueue, cancellation signaling, and reconnect
// cursor reads (the replay buffer itself is safe for concurrent
// append-and-read without locking against readers).
type session struct {
	id             string
	conversationID string
	workspacePath  string
	opts           api.SessionOptions

	mu               sync.Mutex
	status           api.SessionStatus
	resumeToken      string
	pendingMessageID string

	buffer *replayBuffer

	pendingMu sync.Mutex
	nudges    []string

	// cancel, when non-nil, is the cancellation function for the live
	// streaming task's context; calling it triggers the single signal
	// described in §5's "Cancellation" paragraph.
	cancelMu sync.Mutex
	cancel   context.CancelFunc

	cli *subprocess.Handle

	client *agentcli.Client

	createdAt time.Time

	graceTimer *time.Timer

	subMu sync.Mutex
	subs  map[int]chan api.NormalizedEvent
	nextSub int
}

func newSession(id, conversationID string, opts api.SessionOptions) *session {
	return &session{
		id:             id,
		conversationID: conversationID,
		workspacePath:  opts.WorkspacePath,
		opts:           opts,
		status:         api.SessionIdle,
		buffer:         newReplayBuffer(),
		createdAt:      time.Now(),
	}
}

func (s *session) setStatus(st api.SessionStatus) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

func (s *session) getStatus() api.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *session) setResumeToken(tok string) {
	s.mu.Lock()
	s.resumeToken = tok
	s.mu.Unlock()
}

func (s *session) getResumeToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumeToken
}

// setPendingMessageID records the placeholder message id carried by a
// synthetic message_start (emitted on the handshake's system event, before
// any real content exists) so the first real assistant message can be
// spliced onto it instead of starting a second message.
func (s *session) setPendingMessageID(id string) {
	s.mu.Lock()
	s.pendingMessageID = id
	s.mu.Unlock()
}

// takePendingMessageID returns and clears the placeholder message id, if
// one is outstanding.
func (s *session) takePendingMessageID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.pendingMessageID
	s.pendingMessageID = ""
	return id
}

// enqueueNudge appends text to pendingNudges; never blocks on the streaming task.
func (s *session) enqueueNudge(text string) {
	s.pendingMu.Lock()
	s.nudges = append(s.nudges, text)
	s.pendingMu.Unlock()
}

// drainNudges returns and clears pendingNudges atomically, for prepending to
// the next accepted message per §4.1's sendMessage contract.
func (s *session) drainNudges() []string {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if len(s.nudges) == 0 {
		return nil
	}
	out := s.nudges
	s.nudges = nil
	return out
}

func (s *session) setCancel(fn context.CancelFunc) {
	s.cancelMu.Lock()
	s.cancel = fn
	s.cancelMu.Unlock()
}

// signalCancel invokes the live stream's cancellation, if one is attached.
func (s *session) signalCancel() bool {
	s.cancelMu.Lock()
	fn := s.cancel
	s.cancelMu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}

// subscribe registers a live fan-out channel for the streaming task to push
// newly produced events into, in addition to the replay buffer append.
// Per §4.2, a slow reader never blocks the subprocess's read loop: the
// channel is modestly buffered and a full channel drops the event for that
// one subscriber, who will pick it up again on reconnect via the buffer.
func (s *session) subscribe() (<-chan api.NormalizedEvent, func()) {
	ch := make(chan api.NormalizedEvent, 64)
	s.subMu.Lock()
	if s.subs == nil {
		s.subs = make(map[int]chan api.NormalizedEvent)
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		if ch, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
		s.subMu.Unlock()
	}
	return ch, cancel
}

// emit appends evt to the replay buffer and fans it out to live subscribers,
// both under subMu, so the append-then-fanout pair is atomic with respect to
// snapshotAndSubscribe's read-then-register pair (see there for why that
// matters).
func (s *session) emit(evt api.NormalizedEvent) api.NormalizedEvent {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	evt = s.buffer.append(evt)
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
		}
	}
	return evt
}

// snapshotAndSubscribe atomically takes a full replay snapshot and
// registers a live subscription under the same subMu critical section emit
// uses for its append-then-fanout. Doing the snapshot read and the
// subscription registration as two separate steps (as plain subscribe()
// plus buffer.since(0) would) leaves a window where an event emitted in
// between is both already present in the snapshot (the buffer append
// already happened) and delivered again on the live channel (the
// subscriber was already registered) — a duplicate that breaks invariant
// I3 for a reconnecting client. Holding subMu across both steps here, and
// across emit's append-then-fanout, makes the cutover point well-defined:
// any event is on exactly one side of it.
func (s *session) snapshotAndSubscribe() (snapshot []api.NormalizedEvent, live <-chan api.NormalizedEvent, cancel func(), complete bool) {
	ch := make(chan api.NormalizedEvent, 64)

	s.subMu.Lock()
	snapshot, _, complete = s.buffer.since(0)
	if s.subs == nil {
		s.subs = make(map[int]chan api.NormalizedEvent)
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	cancel = func() {
		s.subMu.Lock()
		if ch, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
		s.subMu.Unlock()
	}
	return snapshot, ch, cancel, complete
}

// closeSubscribers marks the stream complete and closes every live
// subscriber channel, signaling end-of-stream to active readers.
func (s *session) closeSubscribers() {
	s.buffer.markComplete()
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

func (s *session) toAPI() api.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return api.Session{
		ID:             s.id,
		ConversationID: s.conversationID,
		ResumeToken:    s.resumeToken,
		WorkspacePath:  s.workspacePath,
		Model:          s.opts.Model,
		Effort:         s.opts.Effort,
		ToolAllowlist:  s.opts.ToolAllowlist,
		ToolDenylist:   s.opts.ToolDenylist,
		Status:         s.status,
		StreamComplete: s.buffer.isComplete(),
		CreatedAt:      s.createdAt,
	}
}
