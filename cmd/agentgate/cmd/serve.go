package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agentgate/agentgate/internal/commentary"
	"github.com/agentgate/agentgate/internal/transport/wsframe"
	"github.com/agentgate/agentgate/pkg/api"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "start the gateway HTTP/websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	st, cleanup, err := buildStack(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", st.handleWebsocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	addr := st.cfg.Server.Host + ":" + strconv.Itoa(st.cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  time.Duration(st.cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(st.cfg.Server.WriteTimeout) * time.Second,
	}

	serveCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		st.log.Info("gateway listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-serveCtx.Done():
		st.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

// handleWebsocket upgrades an incoming request to a websocket connection and
// hands it to a wsframe.Client wired against a new or existing session. A
// request supplying session_id reconnects to an in-flight or recently
// finished stream (invariant I3); otherwise a fresh conversation and session
// are created for the given workspace.
func (st *stack) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := q.Get("session_id")

	workspace := q.Get("workspace")
	var conversationID string

	if sessionID == "" {
		if workspace == "" {
			http.Error(w, "workspace query parameter required", http.StatusBadRequest)
			return
		}

		var err error
		conversationID, err = st.store.CreateConversation(r.Context(), workspace)
		if err != nil {
			st.log.Error("failed to create conversation", zap.Error(err))
			http.Error(w, "failed to create conversation", http.StatusInternalServerError)
			return
		}

		sessionID = st.sess.CreateSession(conversationID, api.SessionOptions{
			Model:         q.Get("model"),
			Effort:        q.Get("effort"),
			WorkspacePath: workspace,
		})
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		st.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := wsframe.NewClient(uuid.NewString(), sessionID, conn, st.sess, st.log)

	if st.comm != nil && workspace != "" {
		st.comm.ResolveWorkspace(workspace, conversationID, workspace)
		unsubscribe := st.comm.Subscribe(workspace, "narrator", commentary.Verbosity(st.cfg.Commentary.DefaultVerbosity))
		defer unsubscribe()
		client.OnEvent = func(evt api.NormalizedEvent) {
			st.comm.Ingest(conversationID, evt)
		}
	}

	if err := client.Serve(r.Context()); err != nil {
		st.log.Debug("client stream ended", zap.Error(err), zap.String("session_id", sessionID))
	}
}
