// Package sqlite is the local, single-process store implementation
// (config.database.driver = "sqlite"), built on jmoiron/sqlx and
// mattn/go-sqlite3 in WAL mode. It targets the deployment spec §1 actually
// describes — "not a multi-tenant service; a single process supervises a
// single user's sessions" — without requiring a standalone Postgres server.
// It implements the same interfaces as internal/store/memory and
// internal/store/pgstore: contextmon.ConversationStore, loop.StoryStore,
// loop.LoopStore, loop.ConversationFactory, loop.MemoryStore,
// commentary.HistoryStore, plus permission rule and artifact persistence.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/agentgate/agentgate/pkg/api"
)

const (
	defaultBusyTimeoutMS = 5000

	// defaultReaderConns mirrors the teacher's reader pool sizing: WAL mode
	// allows many readers alongside the single writer, and 4 is a reasonable
	// default for a desktop/server single-user workload.
	defaultReaderConns = 4
)

// Store is the SQLite-backed store, matching spec §6's abstract schema:
// conversations, messages, prd_stories, loops, permission_rules,
// commentary_history, artifacts, plus a workspace_memory table for the
// loop orchestrator's categorized learnings.
type Store struct {
	db *sqlx.DB // writer: single connection, serializes all writes
	ro *sqlx.DB // reader: read-only pool sharing the WAL cache
}

// Open opens (creating if necessary) a WAL-mode SQLite database at path and
// ensures the schema exists. The writer pool is pinned to a single
// connection so concurrent writers serialize instead of racing into
// SQLITE_BUSY; the reader pool is read-only and sized for concurrent reads.
func Open(path string) (*Store, error) {
	abs := normalizePath(path)
	if err := ensureDir(abs); err != nil {
		return nil, fmt.Errorf("sqlite: prepare database path: %w", err)
	}
	if err := ensureFile(abs); err != nil {
		return nil, fmt.Errorf("sqlite: create database file: %w", err)
	}

	writerDSN := fmt.Sprintf(
		"file:%s?_foreign_keys=on&_mode=rwc&_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL&_cache=shared",
		abs, defaultBusyTimeoutMS)
	writer, err := sqlx.Open("sqlite3", writerDSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open writer: %w", err)
	}
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)

	readerDSN := fmt.Sprintf(
		"file:%s?_foreign_keys=on&_mode=ro&_busy_timeout=%d&_cache=shared",
		abs, defaultBusyTimeoutMS)
	reader, err := sqlx.Open("sqlite3", readerDSN)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("sqlite: open reader: %w", err)
	}
	reader.SetMaxOpenConns(defaultReaderConns)
	reader.SetMaxIdleConns(defaultReaderConns)

	s := &Store{db: writer, ro: reader}
	if err := s.initSchema(); err != nil {
		writer.Close()
		reader.Close()
		return nil, fmt.Errorf("sqlite: init schema: %w", err)
	}
	return s, nil
}

// Close releases both the writer and reader pools.
func (s *Store) Close() error {
	roErr := s.ro.Close()
	if err := s.db.Close(); err != nil {
		return err
	}
	return roErr
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			workspace_path TEXT NOT NULL,
			resume_token TEXT,
			token_total INTEGER NOT NULL DEFAULT 0,
			compact_summary TEXT,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			model TEXT,
			token_count INTEGER NOT NULL DEFAULT 0,
			timestamp TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, timestamp)`,
		`CREATE TABLE IF NOT EXISTS prd_stories (
			id TEXT PRIMARY KEY,
			prd_id TEXT,
			workspace TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			acceptance_criteria TEXT NOT NULL DEFAULT '[]',
			priority TEXT NOT NULL,
			depends_on TEXT NOT NULL DEFAULT '[]',
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL DEFAULT 0,
			learnings TEXT NOT NULL DEFAULT '[]',
			sort_order INTEGER NOT NULL DEFAULT 0,
			external_ref TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_prd_stories_workspace ON prd_stories(workspace)`,
		`CREATE TABLE IF NOT EXISTS loops (
			id TEXT PRIMARY KEY,
			workspace TEXT NOT NULL,
			status TEXT NOT NULL,
			config TEXT NOT NULL,
			current_iteration INTEGER NOT NULL DEFAULT 0,
			total_stories_completed INTEGER NOT NULL DEFAULT 0,
			total_stories_failed INTEGER NOT NULL DEFAULT 0,
			iteration_log TEXT NOT NULL DEFAULT '[]',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
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
			timestamp TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS artifacts (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			message_id TEXT NOT NULL,
			type TEXT NOT NULL,
			title TEXT,
			content TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS workspace_memory (
			workspace TEXT NOT NULL,
			category TEXT NOT NULL,
			entry TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (workspace, category, entry)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// --- contextmon.ConversationStore ---

func (s *Store) LoadMessages(ctx context.Context, conversationID string) ([]api.Message, error) {
	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(`
		SELECT id, conversation_id, role, content, model, token_count, timestamp
		FROM messages WHERE conversation_id = ? ORDER BY timestamp ASC`), conversationID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var out []api.Message
	for rows.Next() {
		var m api.Message
		var content string
		var model sql.NullString
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &content, &model, &m.TokenCount, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if model.Valid {
			m.Model = model.String
		}
		if err := json.Unmarshal([]byte(content), &m.Content); err != nil {
			return nil, fmt.Errorf("unmarshal message content: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) RewriteMessages(ctx context.Context, conversationID string, messages []api.Message, summary string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, s.db.Rebind(`DELETE FROM messages WHERE conversation_id = ?`), conversationID); err != nil {
		_ = tx.Rollback()
		return err
	}
	for _, m := range messages {
		content, err := json.Marshal(m.Content)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if _, err := tx.ExecContext(ctx, s.db.Rebind(`
			INSERT INTO messages (id, conversation_id, role, content, model, token_count, timestamp)
			VALUES (?,?,?,?,?,?,?)`),
			m.ID, conversationID, m.Role, string(content), nullIfEmpty(m.Model), m.TokenCount, m.Timestamp); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	res, err := tx.ExecContext(ctx, s.db.Rebind(`
		UPDATE conversations SET compact_summary = ?, updated_at = ? WHERE id = ?`),
		summary, time.Now(), conversationID)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_ = tx.Rollback()
		return fmt.Errorf("conversation %s not found", conversationID)
	}
	return tx.Commit()
}

func (s *Store) ClearResumeToken(ctx context.Context, conversationID string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE conversations SET resume_token = NULL WHERE id = ?`), conversationID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s not found", conversationID)
	}
	return nil
}

// --- loop.ConversationFactory ---

func (s *Store) CreateConversation(ctx context.Context, workspace string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO conversations (id, workspace_path, token_total, updated_at)
		VALUES (?, ?, 0, ?)`), id, workspace, time.Now())
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO messages (id, conversation_id, role, content, model, token_count, timestamp)
		VALUES (?,?,?,?,?,?,?)`),
		msg.ID, msg.ConversationID, msg.Role, string(content), nullIfEmpty(msg.Model), msg.TokenCount, msg.Timestamp); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, s.db.Rebind(`UPDATE conversations SET updated_at = ? WHERE id = ?`), time.Now(), msg.ConversationID); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// --- loop.StoryStore ---

func (s *Store) ListStories(ctx context.Context, workspace string) ([]api.UserStory, error) {
	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(`
		SELECT id, prd_id, workspace, title, description, acceptance_criteria, priority,
			depends_on, status, attempts, max_attempts, learnings, sort_order, external_ref
		FROM prd_stories WHERE workspace = ? ORDER BY sort_order ASC`), workspace)
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	defer rows.Close()

	var out []api.UserStory
	for rows.Next() {
		var st api.UserStory
		var prdID, externalRef sql.NullString
		var acceptance, dependsOn, learnings string
		if err := rows.Scan(&st.ID, &prdID, &st.Workspace, &st.Title, &st.Description, &acceptance,
			&st.Priority, &dependsOn, &st.Status, &st.Attempts, &st.MaxAttempts, &learnings,
			&st.SortOrder, &externalRef); err != nil {
			return nil, fmt.Errorf("scan story: %w", err)
		}
		if prdID.Valid {
			st.PRDID = prdID.String
		}
		if externalRef.Valid {
			st.ExternalRef = externalRef.String
		}
		if err := json.Unmarshal([]byte(acceptance), &st.AcceptanceCriteria); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(dependsOn), &st.DependsOn); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(learnings), &st.Learnings); err != nil {
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
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO prd_stories (id, prd_id, workspace, title, description, acceptance_criteria,
			priority, depends_on, status, attempts, max_attempts, learnings, sort_order, external_ref)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			prd_id = excluded.prd_id, workspace = excluded.workspace, title = excluded.title,
			description = excluded.description, acceptance_criteria = excluded.acceptance_criteria,
			priority = excluded.priority, depends_on = excluded.depends_on, status = excluded.status,
			attempts = excluded.attempts, max_attempts = excluded.max_attempts,
			learnings = excluded.learnings, sort_order = excluded.sort_order,
			external_ref = excluded.external_ref`),
		story.ID, nullIfEmpty(story.PRDID), story.Workspace, story.Title, story.Description, string(acceptance),
		story.Priority, string(dependsOn), story.Status, story.Attempts, story.MaxAttempts, string(learnings),
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
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO loops (id, workspace, status, config, current_iteration,
			total_stories_completed, total_stories_failed, iteration_log, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status, config = excluded.config, current_iteration = excluded.current_iteration,
			total_stories_completed = excluded.total_stories_completed,
			total_stories_failed = excluded.total_stories_failed,
			iteration_log = excluded.iteration_log, updated_at = excluded.updated_at`),
		l.ID, l.Workspace, l.Status, string(config), l.CurrentIteration, l.TotalStoriesCompleted,
		l.TotalStoriesFailed, string(log), firstNonZero(l.CreatedAt, now), now)
	return err
}

func (s *Store) ListLoops(ctx context.Context, statuses ...api.LoopStatus) ([]api.Loop, error) {
	query := `SELECT id, workspace, status, config, current_iteration,
		total_stories_completed, total_stories_failed, iteration_log, created_at, updated_at
		FROM loops`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ",") + `)`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list loops: %w", err)
	}
	defer rows.Close()

	var out []api.Loop
	for rows.Next() {
		var l api.Loop
		var config, log string
		if err := rows.Scan(&l.ID, &l.Workspace, &l.Status, &config, &l.CurrentIteration,
			&l.TotalStoriesCompleted, &l.TotalStoriesFailed, &log, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan loop: %w", err)
		}
		if err := json.Unmarshal([]byte(config), &l.Config); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(log), &l.IterationLog); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// --- loop.MemoryStore ---

func (s *Store) Categories(ctx context.Context, workspace string) (map[string][]string, error) {
	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(`
		SELECT category, entry FROM workspace_memory WHERE workspace = ? ORDER BY created_at ASC`), workspace)
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
	if err := s.ro.QueryRowContext(ctx, s.ro.Rebind(`SELECT workspace FROM prd_stories WHERE id = ?`), storyID).Scan(&workspace); err != nil {
		return fmt.Errorf("resolve story workspace: %w", err)
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO workspace_memory (workspace, category, entry, created_at)
		VALUES (?, 'pattern', ?, ?)
		ON CONFLICT DO NOTHING`), workspace, note, time.Now())
	return err
}

// --- permission rules ---

func (s *Store) ListPermissionRules(ctx context.Context, scope api.RuleScope, key string) ([]api.PermissionRule, error) {
	var query string
	var args []any
	switch scope {
	case api.ScopeGlobal:
		query = `SELECT id, scope, workspace, session_id, tool_selector, input_pattern, verdict
			FROM permission_rules WHERE scope = 'global'`
	case api.ScopeWorkspace:
		query = `SELECT id, scope, workspace, session_id, tool_selector, input_pattern, verdict
			FROM permission_rules WHERE scope = 'workspace' AND workspace = ?`
		args = []any{key}
	case api.ScopeSession:
		query = `SELECT id, scope, workspace, session_id, tool_selector, input_pattern, verdict
			FROM permission_rules WHERE scope = 'session' AND session_id = ?`
		args = []any{key}
	default:
		return nil, fmt.Errorf("unknown rule scope %q", scope)
	}
	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list permission rules: %w", err)
	}
	defer rows.Close()

	var out []api.PermissionRule
	for rows.Next() {
		var r api.PermissionRule
		var workspace, sessionID, inputPattern sql.NullString
		if err := rows.Scan(&r.ID, &r.Scope, &workspace, &sessionID, &r.ToolSelector, &inputPattern, &r.Verdict); err != nil {
			return nil, err
		}
		if workspace.Valid {
			r.Workspace = workspace.String
		}
		if sessionID.Valid {
			r.SessionID = sessionID.String
		}
		if inputPattern.Valid {
			r.InputPattern = inputPattern.String
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) SavePermissionRule(ctx context.Context, rule api.PermissionRule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO permission_rules (id, scope, workspace, session_id, tool_selector, input_pattern, verdict)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			scope = excluded.scope, workspace = excluded.workspace, session_id = excluded.session_id,
			tool_selector = excluded.tool_selector, input_pattern = excluded.input_pattern,
			verdict = excluded.verdict`),
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
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO commentary_history (id, workspace_id, conversation_id, text, personality, timestamp)
		VALUES (?,?,?,?,?,?)`),
		rec.ID, rec.WorkspaceID, nullIfEmpty(rec.ConversationID), rec.Text, rec.Personality, ts)
	return err
}

// --- artifacts ---

func (s *Store) SaveArtifact(ctx context.Context, a api.Artifact) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO artifacts (id, conversation_id, message_id, type, title, content, created_at)
		VALUES (?,?,?,?,?,?,?)`),
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

func normalizePath(path string) string {
	if path == "" {
		return path
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func ensureFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}
