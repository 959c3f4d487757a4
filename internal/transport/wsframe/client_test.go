package wsframe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgate/agentgate/internal/common/logger"
	"github.com/agentgate/agentgate/pkg/api"
)

type fakeDriver struct {
	mu sync.Mutex

	replay []api.NormalizedEvent
	live   chan api.NormalizedEvent

	nudges    []string
	cancelled bool
	sent      []string
}

func (f *fakeDriver) SendMessage(ctx context.Context, sessionID, content string) (<-chan api.NormalizedEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, content)
	return nil, nil
}

func (f *fakeDriver) QueueNudge(sessionID, text string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nudges = append(f.nudges, text)
	return true, nil
}

func (f *fakeDriver) CancelGeneration(sessionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = true
	return true, nil
}

func (f *fakeDriver) ReconnectStream(sessionID string) (replay []api.NormalizedEvent, live <-chan api.NormalizedEvent, cancel func(), complete bool, err error) {
	return f.replay, f.live, func() {}, false, nil
}

func testLogger(t *testing.T) *logger.Logger {
	l, err := logger.New(logger.Config{Level: "debug", Format: "json", OutputPath: "stdout"})
	require.NoError(t, err)
	return l
}

func newTestServer(t *testing.T, driver *fakeDriver) (*httptest.Server, *Client) {
	var client *Client
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		client = NewClient("client-1", "sess-1", conn, driver, testLogger(t))
		_ = client.Serve(r.Context())
	}))
	return srv, client
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

func TestClient_Serve_ReplaysBufferedHistoryFirst(t *testing.T) {
	live := make(chan api.NormalizedEvent)
	driver := &fakeDriver{
		replay: []api.NormalizedEvent{{Type: api.EventMessageStart}},
		live:   live,
	}
	srv, _ := newTestServer(t, driver)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(msg), "data: "))
	assert.Contains(t, string(msg), string(api.EventMessageStart))

	close(live)
}

func TestClient_Serve_StopsWritingAfterMessageStop(t *testing.T) {
	live := make(chan api.NormalizedEvent, 1)
	live <- api.NormalizedEvent{Type: api.EventMessageStop}
	driver := &fakeDriver{live: live}
	srv, _ := newTestServer(t, driver)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), string(api.EventMessageStop))

	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "connection should close once the stream completes")
}

func TestClient_ReadPump_RoutesNudgeToDriver(t *testing.T) {
	driver := &fakeDriver{live: make(chan api.NormalizedEvent)}
	srv, _ := newTestServer(t, driver)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(ControlMessage{Action: "nudge", Content: "keep going"}))

	require.Eventually(t, func() bool {
		driver.mu.Lock()
		defer driver.mu.Unlock()
		return len(driver.nudges) == 1 && driver.nudges[0] == "keep going"
	}, time.Second, 5*time.Millisecond)
}

func TestClient_ReadPump_RoutesCancelToDriver(t *testing.T) {
	driver := &fakeDriver{live: make(chan api.NormalizedEvent)}
	srv, _ := newTestServer(t, driver)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(ControlMessage{Action: "cancel"}))

	require.Eventually(t, func() bool {
		driver.mu.Lock()
		defer driver.mu.Unlock()
		return driver.cancelled
	}, time.Second, 5*time.Millisecond)
}

func TestClient_ReadPump_RoutesMessageToDriver(t *testing.T) {
	driver := &fakeDriver{live: make(chan api.NormalizedEvent)}
	srv, _ := newTestServer(t, driver)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(ControlMessage{Action: "message", Content: "hello"}))

	require.Eventually(t, func() bool {
		driver.mu.Lock()
		defer driver.mu.Unlock()
		return len(driver.sent) == 1 && driver.sent[0] == "hello"
	}, time.Second, 5*time.Millisecond)
}

func TestClient_ReadPump_MalformedFrameIsDroppedNotFatal(t *testing.T) {
	driver := &fakeDriver{live: make(chan api.NormalizedEvent)}
	srv, _ := newTestServer(t, driver)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteJSON(ControlMessage{Action: "cancel"}))

	require.Eventually(t, func() bool {
		driver.mu.Lock()
		defer driver.mu.Unlock()
		return driver.cancelled
	}, time.Second, 5*time.Millisecond, "a malformed frame must not stop the read pump from processing later valid ones")
}
