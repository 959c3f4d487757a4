// Package wsframe is the concrete realization of spec §6's "SSE-style
// framing" client stream contract over a gorilla/websocket connection: one
// NormalizedEvent per text frame, each payload the literal
// `data: <json>\n\n`, with a ping frame every 15s and inbound control
// messages (nudge, cancel) decoded from the same socket.
package wsframe

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agentgate/agentgate/internal/common/logger"
	"github.com/agentgate/agentgate/pkg/api"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 70 * time.Second
	pingPeriod     = 15 * time.Second // spec §6: "a ping frame is sent every 15s"
	maxMessageSize = 64 * 1024
)

// ControlMessage is an inbound client frame: a nudge or a cancel request.
type ControlMessage struct {
	Action  string `json:"action"` // "nudge" | "cancel" | "message"
	Content string `json:"content,omitempty"`
}

// SessionDriver is the narrow slice of session.Manager a client connection
// needs to drive its turn and react to inbound control frames.
type SessionDriver interface {
	SendMessage(ctx context.Context, sessionID, content string) (<-chan api.NormalizedEvent, error)
	QueueNudge(sessionID, text string) (bool, error)
	CancelGeneration(sessionID string) (bool, error)
	ReconnectStream(sessionID string) (replay []api.NormalizedEvent, live <-chan api.NormalizedEvent, cancel func(), complete bool, err error)
}

// Client frames one session's NormalizedEvent stream onto a websocket
// connection and decodes inbound control frames back into driver calls.
type Client struct {
	id        string
	sessionID string
	conn      *websocket.Conn
	driver    SessionDriver
	send      chan []byte

	mu     sync.Mutex
	closed bool

	// OnEvent, when set, is called with every event before it is framed —
	// lets a caller tee the stream to the commentary bridge without owning
	// the websocket loop itself.
	OnEvent func(api.NormalizedEvent)

	logger *logger.Logger
}

// NewClient wraps an already-upgraded websocket connection for sessionID.
func NewClient(id, sessionID string, conn *websocket.Conn, driver SessionDriver, log *logger.Logger) *Client {
	return &Client{
		id:        id,
		sessionID: sessionID,
		conn:      conn,
		driver:    driver,
		send:      make(chan []byte, 256),
		logger:    log.WithFields(zap.String("client_id", id), zap.String("session_id", sessionID)),
	}
}

// Serve replays the session's buffered history followed by its live
// stream, and runs the read/write pumps until the connection closes.
// Blocks until both pumps exit.
func (c *Client) Serve(ctx context.Context) error {
	replay, live, cancelSub, _, err := c.driver.ReconnectStream(c.sessionID)
	if err != nil {
		return fmt.Errorf("reconnect stream: %w", err)
	}
	defer cancelSub()

	for _, evt := range replay {
		c.enqueueEvent(evt)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.writePump(live)
	}()
	go func() {
		defer wg.Done()
		c.readPump(ctx)
	}()
	wg.Wait()
	return nil
}

func (c *Client) enqueueEvent(evt api.NormalizedEvent) {
	if c.OnEvent != nil {
		c.OnEvent(evt)
	}
	data, err := json.Marshal(evt)
	if err != nil {
		c.logger.Error("failed to marshal event", zap.Error(err))
		return
	}
	c.enqueueFrame(data)
}

// enqueueFrame wraps payload in the spec's `data: <json>\n\n` framing and
// queues it for the write pump.
func (c *Client) enqueueFrame(payload []byte) {
	frame := append([]byte("data: "), payload...)
	frame = append(frame, '\n', '\n')

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- frame:
	default:
		c.logger.Warn("client send buffer full, dropping frame")
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// writePump drains live events into framed writes and emits a ping frame
// every 15s, until live closes (stream complete) or the socket errors.
func (c *Client) writePump(live <-chan api.NormalizedEvent) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeSend()
		_ = c.conn.Close()
	}()

	go func() {
		for evt := range live {
			c.enqueueEvent(evt)
			if evt.Type == api.EventMessageStop {
				break
			}
		}
		c.closeSend()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, []byte("data: {\"type\":\"ping\"}\n\n")); err != nil {
				return
			}
		}
	}
}

// readPump decodes inbound control frames (nudge/cancel/message) and
// routes them to the session driver.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		var msg ControlMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Warn("dropping malformed control frame", zap.Error(err))
			continue
		}

		switch msg.Action {
		case "nudge":
			if _, err := c.driver.QueueNudge(c.sessionID, msg.Content); err != nil {
				c.logger.Warn("nudge failed", zap.Error(err))
			}
		case "cancel":
			if _, err := c.driver.CancelGeneration(c.sessionID); err != nil {
				c.logger.Warn("cancel failed", zap.Error(err))
			}
		case "message":
			if _, err := c.driver.SendMessage(ctx, c.sessionID, msg.Content); err != nil {
				c.logger.Warn("send message failed", zap.Error(err))
			}
		default:
			c.logger.Warn("unknown control action", zap.String("action", msg.Action))
		}
	}
}
