// Package pgstore is the PostgreSQL-backed implementation of the gateway's
// store interfaces (config.database.driver = "postgres"), built on
// internal/common/database and pgx/v5. It implements the same interfaces as
// internal/store/memory: contextmon.ConversationStore, loop.StoryStore,
// loop.LoopStore, loop.ConversationFactory, loop.MemoryStore,
// commentary.HistoryStore, plus permission rule and artifact persistence.
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/agentgate/agentgate/internal/common/database"
	"github.com/agentgate/agentgate/pkg/api"
)

// Store is the Postgres-backed store, matching spec §6's abstract schema:
// conversations, messages, prd_stories, loops, permission_rules,
// commentary_history, artifacts, plus a workspace_memory table for the
// loop orchestrator's categorized learnings.
type Store struct {
	db *database.DB
}

// New wraps an already-connected DB and ensures the schema exists.
func New(ctx context.Context, db *database.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("pgstore: init schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			workspace_path TEXT NOT NULL,
			resume_token TEXT,
			token_total INTEGER NOT NULL DEFAULT 0,
			compact_summary TEXT,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content JSONB NOT NULL,
			model TEXT,
			token_count INTEGER NOT NULL DEFAULT 0,
			timestamp TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, timestamp)`,
		`CREATE TABLE IF NOT EXISTS prd_stories (
			id TEXT PRIMARY KEY,
			prd_id TEXT,
			workspace TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			acceptance_criteria JSONB NOT NULL DEFAULT '[]',
			priority TEXT NOT NULL,
			depends_on JSONB NOT NULL DEFAULT '[]',
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL DEFAULT 0,
			learnings JSONB NOT NULL DEFAULT '[]',
			sort_order INTEGER NOT NULL DEFAULT 0,
			external_ref TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_prd_stories_workspace ON prd_stories(workspace)`,
		`CREATE TABLE IF NOT EXISTS loops (
			id TEXT PRIMARY KEY,
			workspace TEXT NOT NULL,
			status TEXT NOT NULL,
			config JSONB NOT NULL,
			current_iteration INTEGER NOT NULL DEFAULT 0,
			total_stories_completed INTEGER NOT NULL DEFAULT 0,
			total_stories_failed INTEGER NOT NULL DEFAULT 0,
			iteration_log JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS permission_rules (
			id TEXT PRIMARY KEY,
			scope TEXT NOT NULL,
			workspace TEXT,
			session_id TEXT,
			tool_selector TEXT NOT NULL,
			input_pattern TEXT,
			verdict TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_permission_rules_scope ON permission_rules(scope, workspace, session_id)`,
		`CREATE TABLE IF NOT EXISTS commentary_history (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			conversation_id TEXT,
			text TEXT NOT NULL,
			personality TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS artifacts (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			message_id TEXT NOT NULL,
			type TEXT NOT NULL,
			title TEXT,
			content TEXT,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS workspace_memory (
			workspace TEXT NOT NULL,
			category TEXT NOT NULL,
			entry TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (workspace, category, entry)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// --- contextmon.ConversationStore ---

func (s *Store) LoadMessages(ctx context.Context, conversationID string) ([]api.Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, conversation_id, role, content, model, token_count, timestamp
		FROM messages WHERE conversation_id = $1 ORDER BY timestamp ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var out []api.Message
	for rows.Next() {
		var m api.Message
		var content []byte
		var model *string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &content, &model, &m.TokenCount, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if model != nil {
			m.Model = *model
		}
		if err := json.Unmarshal(content, &m.Content); err != nil {
			return nil, fmt.Errorf("unmarshal message content: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) RewriteMessages(ctx context.Context, conversationID string, messages []api.Message, summary string) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE conversation_id = $1`, conversationID); err != nil {
			return err
		}
		for _, m := range messages {
			content, err := json.Marshal(m.Content)
			if err != nil {
				return err
			}
			if m.ID == "" {
				m.ID = uuid.NewString()
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO messages (id, conversation_id, role, content, model, token_count, timestamp)
				VALUES ($1,$2,$3,$4,$5,$6,$7)`,
				m.ID, conversationID, m.Role, content, nullIfEmpty(m.Model), m.TokenCount, m.Timestamp); err != nil {
				return err
			}
		}
		tag, err := tx.Exec(ctx, `
			UPDATE conversations SET compact_summary = $2, updated_at = $3 WHERE id = $1`,
			conversationID, summary, time.Now())
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("conversation %s not found", conversationID)
		}
		return nil
	})
}

func (s *Store) ClearResumeToken(ctx context.Context, conversationID string) error {
	tag, err := s.db.Exec(ctx, `UPDATE conversations SET resume_token = NULL WHERE id = $1`, conversationID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("conversation %s not found", conversationID)
	}
	return nil
}

// --- loop.ConversationFactory ---

func (s *Store) CreateConversation(ctx context.Context, workspace string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(ctx, `
		INSERT INTO conversations (id, workspace_path, token_total, updated_at)
		VALUES ($1, $2, 0, $3)`, id, workspace, time.Now())
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	return id, nil
}

func (s *Store) InsertMessage(ctx context.Context, msg api.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	content, err := json.Marshal(msg.Content)
	if err != nil {
		return err
	}
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO messages (id, conversation_id, role, content, model, token_count, timestamp)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			msg.ID, msg.ConversationID, msg.Role, content, nullIfEmpty(msg.Model), msg.TokenCount, msg.Timestamp); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `UPDATE conversations SET updated_at = $2 WHERE id = $1`, msg.ConversationID, time.Now())
		return err
	})
}

// --- loop.StoryStore ---

func (s *Store) ListStories(ctx context.Context, workspace string) ([]api.UserStory, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, prd_id, workspace, title, description, acceptance_criteria, priority,
			depends_on, status, attempts, max_attempts, learnings, sort_order, external_ref
		FROM prd_stories WHERE workspace = $1 ORDER BY sort_order ASC`, workspace)
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	defer rows.Close()

	var out []api.UserStory
	for rows.Next() {
		var st api.UserStory
		var prdID, externalRef *string
		var acceptance, dependsOn, learnings []byte
		if err := rows.Scan(&st.ID, &prdID, &st.Workspace, &st.Title, &st.Description, &acceptance,
			&st.Priority, &dependsOn, &st.Status, &st.Attempts, &st.MaxAttempts, &learnings,
			&st.SortOrder, &externalRef); err != nil {
			return nil, fmt.Errorf("scan story: %w", err)
		}
		if prdID != nil {
			st.PRDID = *prdID
		}
		if externalRef != nil {
			st.ExternalRef = *externalRef
		}
		if err := json.Unmarshal(acceptance, &st.AcceptanceCriteria); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(dependsOn, &st.DependsOn); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(learnings, &st.Learnings); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) UpdateStory(ctx context.Context, story api.UserStory) error {
	acceptance, err := json.Marshal(story.AcceptanceCriteria)
	if err != nil {
		return err
	}
	dependsOn, err := json.Marshal(story.DependsOn)
	if err != nil {
		return err
	}
	learnings, err := json.Marshal(story.Learnings)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO prd_stories (id, prd_id, workspace, title, description, acceptance_criteria,
			priority, depends_on, status, attempts, max_attempts, learnings, sort_order, external_ref)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO UPDATE SET
			prd_id = EXCLUDED.prd_id, workspace = EXCLUDED.workspace, title = EXCLUDED.title,
			description = EXCLUDED.description, acceptance_criteria = EXCLUDED.acceptance_criteria,
			priority = EXCLUDED.priority, depends_on = EXCLUDED.depends_on, status = EXCLUDED.status,
			attempts = EXCLUDED.attempts, max_attempts = EXCLUDED.max_attempts,
			learnings = EXCLUDED.learnings, sort_order = EXCLUDED.sort_order,
			external_ref = EXCLUDED.external_ref`,
		story.ID, nullIfEmpty(story.PRDID), story.Workspace, story.Title, story.Description, acceptance,
		story.Priority, dependsOn, story.Status, story.Attempts, story.MaxAttempts, learnings,
		story.SortOrder, nullIfEmpty(story.ExternalRef))
	return err
}

// --- loop.LoopStore ---

func (s *Store) SaveLoop(ctx context.Context, l api.Loop) error {
	config, err := json.Marshal(l.Config)
	if err != nil {
		return err
	}
	log, err := json.Marshal(l.IterationLog)
	if err != nil {
		return err
	}
	now := time.Now()
	_, err = s.db.Exec(ctx, `
		INSERT INTO loops (id, workspace, status, config, current_iteration,
			total_stories_completed, total_stories_failed, iteration_log, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status, config = EXCLUDED.config, current_iteration = EXCLUDED.current_iteration,
			total_stories_completed = EXCLUDED.total_stories_completed,
			total_stories_failed = EXCLUDED.total_stories_failed,
			iteration_log = EXCLUDED.iteration_log, updated_at = EXCLUDED.updated_at`,
		l.ID, l.Workspace, l.Status, config, l.CurrentIteration, l.TotalStoriesCompleted,
		l.TotalStoriesFailed, log, firstNonZero(l.CreatedAt, now), now)
	return err
}

func (s *Store) ListLoops(ctx context.Context, statuses ...api.LoopStatus) ([]api.Loop, error) {
	var rows pgx.Rows
	var err error
	if len(statuses) == 0 {
		rows, err = s.db.Query(ctx, `SELECT id, workspace, status, config, current_iteration,
			total_stories_completed, total_stories_failed, iteration_log, created_at, updated_at
			FROM loops ORDER BY created_at DESC`)
	} else {
		filter := make([]string, len(statuses))
		for i, st := range statuses {
			filter[i] = string(st)
		}
		rows, err = s.db.Query(ctx, `SELECT id, workspace, status, config, current_iteration,
			total_stories_completed, total_stories_failed, iteration_log, created_at, updated_at
			FROM loops WHERE status = ANY($1) ORDER BY created_at DESC`, filter)
	}
	if err != nil {
		return nil, fmt.Errorf("list loops: %w", err)
	}
	defer rows.Close()

	var out []api.Loop
	for rows.Next() {
		var l api.Loop
		var config, log []byte
		if err := rows.Scan(&l.ID, &l.Workspace, &l.Status, &config, &l.CurrentIteration,
			&l.TotalStoriesCompleted, &l.TotalStoriesFailed, &log, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan loop: %w", err)
		}
		if err := json.Unmarshal(config, &l.Config); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(log, &l.IterationLog); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// --- loop.MemoryStore ---

func (s *Store) Categories(ctx context.Context, workspace string) (map[string][]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT category, entry FROM workspace_memory WHERE workspace = $1 ORDER BY created_at ASC`, workspace)
	if err != nil {
		return nil, fmt.Errorf("load memory categories: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var category, entry string
		if err := rows.Scan(&category, &entry); err != nil {
			return nil, err
		}
		out[category] = append(out[category], entry)
	}
	return out, rows.Err()
}

func (s *Store) AppendLearning(ctx context.Context, storyID, note string) error {
	var workspace string
	if err := s.db.QueryRow(ctx, `SELECT workspace FROM prd_stories WHERE id = $1`, storyID).Scan(&workspace); err != nil {
		return fmt.Errorf("resolve story workspace: %w", err)
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO workspace_memory (workspace, category, entry, created_at)
		VALUES ($1, 'pattern', $2, $3)
		ON CONFLICT DO NOTHING`, workspace, note, time.Now())
	return err
}

// --- permission rules ---

func (s *Store) ListPermissionRules(ctx context.Context, scope api.RuleScope, key string) ([]api.PermissionRule, error) {
	var rows pgx.Rows
	var err error
	switch scope {
	case api.ScopeGlobal:
		rows, err = s.db.Query(ctx, `SELECT id, scope, workspace, session_id, tool_selector, input_pattern, verdict
			FROM permission_rules WHERE scope = 'global'`)
	case api.ScopeWorkspace:
		rows, err = s.db.Query(ctx, `SELECT id, scope, workspace, session_id, tool_selector, input_pattern, verdict
			FROM permission_rules WHERE scope = 'workspace' AND workspace = $1`, key)
	case api.ScopeSession:
		rows, err = s.db.Query(ctx, `SELECT id, scope, workspace, session_id, tool_selector, input_pattern, verdict
			FROM permission_rules WHERE scope = 'session' AND session_id = $1`, key)
	default:
		return nil, fmt.Errorf("unknown rule scope %q", scope)
	}
	if err != nil {
		return nil, fmt.Errorf("list permission rules: %w", err)
	}
	defer rows.Close()

	var out []api.PermissionRule
	for rows.Next() {
		var r api.PermissionRule
		var workspace, sessionID, inputPattern *string
		if err := rows.Scan(&r.ID, &r.Scope, &workspace, &sessionID, &r.ToolSelector, &inputPattern, &r.Verdict); err != nil {
			return nil, err
		}
		if workspace != nil {
			r.Workspace = *workspace
		}
		if sessionID != nil {
			r.SessionID = *sessionID
		}
		if inputPattern != nil {
			r.InputPattern = *inputPattern
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) SavePermissionRule(ctx context.Context, rule api.PermissionRule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO permission_rules (id, scope, workspace, session_id, tool_selector, input_pattern, verdict)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET
			scope = EXCLUDED.scope, workspace = EXCLUDED.workspace, session_id = EXCLUDED.session_id,
			tool_selector = EXCLUDED.tool_selector, input_pattern = EXCLUDED.input_pattern,
			verdict = EXCLUDED.verdict`,
		rule.ID, rule.Scope, nullIfEmpty(rule.Workspace), nullIfEmpty(rule.SessionID),
		rule.ToolSelector, nullIfEmpty(rule.InputPattern), rule.Verdict)
	return err
}

// --- commentary.HistoryStore ---

func (s *Store) SaveCommentary(ctx context.Context, rec api.CommentaryRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO commentary_history (id, workspace_id, conversation_id, text, personality, timestamp)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		rec.ID, rec.WorkspaceID, nullIfEmpty(rec.ConversationID), rec.Text, rec.Personality, ts)
	return err
}

// --- artifacts ---

func (s *Store) SaveArtifact(ctx context.Context, a api.Artifact) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO artifacts (id, conversation_id, message_id, type, title, content, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		a.ID, a.ConversationID, a.MessageID, a.Type, a.Title, a.Content, time.Now())
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func firstNonZero(t, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t
}
