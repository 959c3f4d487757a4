package cmd

import (
	"context"
	"fmt"

	"github.com/agentgate/agentgate/internal/commentary"
	"github.com/agentgate/agentgate/internal/common/config"
	"github.com/agentgate/agentgate/internal/common/database"
	"github.com/agentgate/agentgate/internal/common/logger"
	"github.com/agentgate/agentgate/internal/contextmon"
	"github.com/agentgate/agentgate/internal/events/bus"
	"github.com/agentgate/agentgate/internal/permission"
	"github.com/agentgate/agentgate/internal/session"
	"github.com/agentgate/agentgate/internal/store/memory"
	"github.com/agentgate/agentgate/internal/store/pgstore"
	"github.com/agentgate/agentgate/internal/store/sqlite"
	"github.com/agentgate/agentgate/pkg/api"
	"go.uber.org/zap"
)

// dataStore is the union of every narrow persistence interface the gateway's
// components need. internal/store/memory.Store and internal/store/pgstore.Store
// both satisfy it structurally.
type dataStore interface {
	contextmon.ConversationStore

	CreateConversation(ctx context.Context, workspace string) (string, error)
	InsertMessage(ctx context.Context, msg api.Message) error

	ListStories(ctx context.Context, workspace string) ([]api.UserStory, error)
	UpdateStory(ctx context.Context, story api.UserStory) error

	SaveLoop(ctx context.Context, l api.Loop) error
	ListLoops(ctx context.Context, statuses ...api.LoopStatus) ([]api.Loop, error)

	Categories(ctx context.Context, workspace string) (map[string][]string, error)
	AppendLearning(ctx context.Context, storyID, note string) error

	ListPermissionRules(ctx context.Context, scope api.RuleScope, key string) ([]api.PermissionRule, error)
	SavePermissionRule(ctx context.Context, rule api.PermissionRule) error

	SaveCommentary(ctx context.Context, rec api.CommentaryRecord) error
	SaveArtifact(ctx context.Context, a api.Artifact) error
}

// stack bundles every long-lived component wired from configuration, shared
// by the serve, loop, and permission commands so each builds the same
// dependency graph rather than hand-rolling its own subset.
type stack struct {
	cfg    *config.Config
	log    *logger.Logger
	store  dataStore
	bus    bus.EventBus
	perm   *permission.Engine
	ctxmon *contextmon.Monitor
	sess   *session.Manager
	comm   *commentary.Bridge
}

func buildStack(ctx context.Context) (*stack, func(), error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	logLevel := cfg.Logging.Level
	if verbose {
		logLevel = "debug"
	}
	log, err := logger.New(logger.Config{Level: logLevel, Format: cfg.Logging.Format, OutputPath: cfg.Logging.OutputPath})
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	logger.SetDefault(log)

	var st dataStore
	var closeStore func()
	switch cfg.Database.Driver {
	case "postgres":
		db, err := database.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		pg, err := pgstore.New(ctx, db)
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("init schema: %w", err)
		}
		st = pg
		closeStore = func() { db.Close() }
	case "sqlite":
		sq, err := sqlite.Open(cfg.Database.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite database: %w", err)
		}
		st = sq
		closeStore = func() { sq.Close() }
	default:
		st = memory.New()
		closeStore = func() {}
	}

	var eventBus bus.EventBus
	var closeBus func()
	switch cfg.Events.Driver {
	case "nats":
		nb, err := bus.NewNATSEventBus(cfg.Events, log)
		if err != nil {
			closeStore()
			return nil, nil, fmt.Errorf("connect event bus: %w", err)
		}
		eventBus = nb
		closeBus = nb.Close
	default:
		mb := bus.NewMemoryEventBus(log)
		eventBus = mb
		closeBus = mb.Close
	}

	permEngine := permission.NewEngine(permission.Mode(cfg.Permission.Mode), permission.TerminalPolicy(cfg.Permission.TerminalPolicy))
	if rules, err := st.ListPermissionRules(ctx, api.ScopeGlobal, ""); err == nil && len(rules) > 0 {
		permEngine.LoadRules(api.ScopeGlobal, "", rules)
	} else if err != nil {
		log.Warn("failed to preload global permission rules", zap.Error(err))
	}

	monitor := contextmon.NewMonitor(st, nil, cfg.Context.AutoCompact, cfg.Context.DefaultMaxOutput, cfg.Context.AutoCompactPercent, log)

	sessMgr := session.NewManager(cfg.Agent, cfg.Context.DefaultModelWindow, log, permEngine, monitor, st)

	var bridge *commentary.Bridge
	if cfg.Commentary.Enabled {
		emit := func(workspaceID string, evt api.NormalizedEvent) {
			_ = eventBus.Publish(ctx, "commentary."+workspaceID, bus.NewEvent(string(api.EventCommentary), "commentary", map[string]any{
				"workspace_id": workspaceID, "event": evt,
			}))
		}
		var history commentary.HistoryStore
		if cfg.Commentary.PersistHistory {
			history = st
		}
		bridge = commentary.NewBridge(nil, history, emit, cfg.Commentary.MaxCallsPerMin, cfg.Commentary.PersistHistory, log)
	}

	cleanup := func() {
		closeBus()
		closeStore()
	}

	return &stack{
		cfg: cfg, log: log, store: st, bus: eventBus,
		perm: permEngine, ctxmon: monitor, sess: sessMgr, comm: bridge,
	}, cleanup, nil
}
