// Package memory implements the gateway's store interfaces entirely
// in-process, for single-user/local deployments and tests (config.database.driver = "memory").
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentgate/agentgate/pkg/api"
)

// Store is the in-memory, mutex-guarded implementation of the gateway's
// conversation/story/loop/permission/commentary/artifact persistence.
type Store struct {
	mu sync.Mutex

	conversations map[string]*api.Conversation
	messages      map[string][]api.Message // conversation id -> ordered messages

	stories map[string]api.UserStory // story id -> story
	loops   map[string]api.Loop

	rulesGlobal    []api.PermissionRule
	rulesWorkspace map[string][]api.PermissionRule
	rulesSession   map[string][]api.PermissionRule

	memory    map[string]map[string][]string // workspace -> category -> entries
	artifacts []api.Artifact
	history   []api.CommentaryRecord
}

// New constructs an empty in-memory store.
func New() *Store {
	return &Store{
		conversations:  make(map[string]*api.Conversation),
		messages:       make(map[string][]api.Message),
		stories:        make(map[string]api.UserStory),
		loops:          make(map[string]api.Loop),
		rulesWorkspace: make(map[string][]api.PermissionRule),
		rulesSession:   make(map[string][]api.PermissionRule),
		memory:         make(map[string]map[string][]string),
	}
}

// --- contextmon.ConversationStore ---

func (s *Store) LoadMessages(_ context.Context, conversationID string) ([]api.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]api.Message, len(s.messages[conversationID]))
	copy(out, s.messages[conversationID])
	return out, nil
}

func (s *Store) RewriteMessages(_ context.Context, conversationID string, messages []api.Message, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[conversationID] = messages

	conv, ok := s.conversations[conversationID]
	if !ok {
		return fmt.Errorf("conversation %s not found", conversationID)
	}
	conv.CompactSummary = summary
	conv.UpdatedAt = time.Now()
	return nil
}

func (s *Store) ClearResumeToken(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return fmt.Errorf("conversation %s not found", conversationID)
	}
	conv.ResumeToken = ""
	return nil
}

// --- loop.ConversationFactory ---

func (s *Store) CreateConversation(_ context.Context, workspace string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.conversations[id] = &api.Conversation{ID: id, WorkspacePath: workspace, UpdatedAt: time.Now()}
	return id, nil
}

func (s *Store) InsertMessage(_ context.Context, msg api.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)

	if conv, ok := s.conversations[msg.ConversationID]; ok {
		conv.UpdatedAt = time.Now()
	}
	return nil
}

// --- loop.StoryStore ---

func (s *Store) ListStories(_ context.Context, workspace string) ([]api.UserStory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []api.UserStory
	for _, st := range s.stories {
		if st.Workspace == workspace {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *Store) UpdateStory(_ context.Context, story api.UserStory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stories[story.ID] = story
	return nil
}

// PutStory seeds or overwrites a story directly, used by the loop API to create stories.
func (s *Store) PutStory(story api.UserStory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if story.ID == "" {
		story.ID = uuid.NewString()
	}
	s.stories[story.ID] = story
}

// --- loop.LoopStore ---

func (s *Store) SaveLoop(_ context.Context, l api.Loop) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loops[l.ID] = l
	return nil
}

func (s *Store) ListLoops(_ context.Context, statuses ...api.LoopStatus) ([]api.Loop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[api.LoopStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var out []api.Loop
	for _, l := range s.loops {
		if len(want) == 0 || want[l.Status] {
			out = append(out, l)
		}
	}
	return out, nil
}

// --- loop.MemoryStore ---

func (s *Store) Categories(_ context.Context, workspace string) (map[string][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cats := s.memory[workspace]
	out := make(map[string][]string, len(cats))
	for k, v := range cats {
		cp := make([]string, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out, nil
}

// AppendLearning mirrors a failed iteration's learning note into the
// workspace's "pattern" memory category, per §4.5's "mirrored into a
// project-memory table so subsequent iterations and loops can reuse it."
func (s *Store) AppendLearning(_ context.Context, storyID, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	story, ok := s.stories[storyID]
	if !ok {
		return fmt.Errorf("story %s not found", storyID)
	}
	if s.memory[story.Workspace] == nil {
		s.memory[story.Workspace] = make(map[string][]string)
	}
	s.memory[story.Workspace]["pattern"] = append(s.memory[story.Workspace]["pattern"], note)
	return nil
}

// PutMemory seeds a workspace's memory category directly (convention,
// decision, preference, pattern, context), for settings-driven configuration.
func (s *Store) PutMemory(workspace, category string, entries []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.memory[workspace] == nil {
		s.memory[workspace] = make(map[string][]string)
	}
	s.memory[workspace][category] = entries
}

// --- permission rules ---

func (s *Store) ListPermissionRules(_ context.Context, scope api.RuleScope, key string) ([]api.PermissionRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch scope {
	case api.ScopeGlobal:
		return append([]api.PermissionRule{}, s.rulesGlobal...), nil
	case api.ScopeWorkspace:
		return append([]api.PermissionRule{}, s.rulesWorkspace[key]...), nil
	case api.ScopeSession:
		return append([]api.PermissionRule{}, s.rulesSession[key]...), nil
	default:
		return nil, fmt.Errorf("unknown rule scope %q", scope)
	}
}

func (s *Store) SavePermissionRule(_ context.Context, rule api.PermissionRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	switch rule.Scope {
	case api.ScopeGlobal:
		s.rulesGlobal = append(s.rulesGlobal, rule)
	case api.ScopeWorkspace:
		s.rulesWorkspace[rule.Workspace] = append(s.rulesWorkspace[rule.Workspace], rule)
	case api.ScopeSession:
		s.rulesSession[rule.SessionID] = append(s.rulesSession[rule.SessionID], rule)
	}
	return nil
}

// --- commentary.HistoryStore ---

func (s *Store) SaveCommentary(_ context.Context, rec api.CommentaryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	s.history = append(s.history, rec)
	return nil
}

// --- artifacts ---

func (s *Store) SaveArtifact(_ context.Context, a api.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = time.Now()
	s.artifacts = append(s.artifacts, a)
	return nil
}
