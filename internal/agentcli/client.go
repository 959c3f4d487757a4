package agentcli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/agentgate/agentgate/internal/common/logger"
)

// RequestHandler handles an incoming control request (e.g. can_use_tool)
// from the agent subprocess. It must eventually call SendControlResponse.
type RequestHandler func(requestID string, req *ControlRequest)

// MessageHandler handles one parsed stdout line.
type MessageHandler func(msg *RawMessage)

// WarnHandler receives a raw line that failed to parse as JSON, for §4.1's
// "non-JSON stdout lines are recorded as diagnostic warnings" behavior.
type WarnHandler func(line []byte, err error)

// Client drives the agent subprocess's stdin/stdout line-delimited JSON protocol.
type Client struct {
	stdin  io.Writer
	stdout io.Reader
	logger *logger.Logger

	mu             sync.RWMutex
	requestHandler RequestHandler
	messageHandler MessageHandler
	warnHandler    WarnHandler

	writeMu sync.Mutex
	done    chan struct{}
	doneOnce sync.Once
}

// NewClient wraps a subprocess's stdin writer and stdout reader.
func NewClient(stdin io.Writer, stdout io.Reader, log *logger.Logger) *Client {
	return &Client{
		stdin:  stdin,
		stdout: stdout,
		logger: log.WithFields(zap.String("component", "agentcli-client")),
		done:   make(chan struct{}),
	}
}

// SetRequestHandler installs the handler for incoming control requests.
func (c *Client) SetRequestHandler(h RequestHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestHandler = h
}

// SetMessageHandler installs the handler for parsed stdout lines.
func (c *Client) SetMessageHandler(h MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messageHandler = h
}

// SetWarnHandler installs the handler for unparseable stdout lines.
func (c *Client) SetWarnHandler(h WarnHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warnHandler = h
}

// Start begins reading stdout in a background goroutine.
func (c *Client) Start(ctx context.Context) {
	go c.readLoop(ctx)
}

// Stop halts the read loop. Idempotent.
func (c *Client) Stop() {
	c.doneOnce.Do(func() { close(c.done) })
}

// SendUserMessage writes a user prompt to stdin.
func (c *Client) SendUserMessage(content string) error {
	return c.send(&UserMessage{Type: "user", Message: UserMessageBody{Role: "user", Content: content}})
}

// SendControlResponse answers a control_request with an allow/deny verdict.
func (c *Client) SendControlResponse(resp *ControlResponse) error {
	return c.send(resp)
}

// WriteRaw forwards raw bytes to stdin, used to answer interactive prompts
// that aren't modeled as control requests.
func (c *Client) WriteRaw(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.stdin.Write(data)
	return err
}

func (c *Client) send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.stdin.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context) {
	scanner := bufio.NewScanner(c.stdout)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		c.handleLine(append([]byte(nil), line...))
	}

	if err := scanner.Err(); err != nil {
		c.logger.Warn("agent stdout read loop ended with error", zap.Error(err))
	}
}

func (c *Client) handleLine(line []byte) {
	msg, err := ParseRaw(line)
	if err != nil {
		c.mu.RLock()
		warn := c.warnHandler
		c.mu.RUnlock()
		if warn != nil {
			warn(line, err)
		} else {
			c.logger.Warn("failed to parse agent stdout line", zap.Error(err))
		}
		return
	}

	if msg.Type == TypeControlRequest && msg.Request != nil {
		c.mu.RLock()
		handler := c.requestHandler
		c.mu.RUnlock()
		if handler != nil {
			handler(msg.RequestID, msg.Request)
		} else {
			c.logger.Warn("received control request with no handler; auto-denying", zap.String("request_id", msg.RequestID))
			_ = c.SendControlResponse(&ControlResponse{
				Type: "control_response", RequestID: msg.RequestID,
				Response: ControlResponseBody{Behavior: BehaviorDeny, Message: "no handler registered"},
			})
		}
		return
	}

	// Every other message, including types this package does not model, is
	// handed to the message handler, which decides what to ignore.
	c.mu.RLock()
	handler := c.messageHandler
	c.mu.RUnlock()
	if handler != nil {
		handler(msg)
	}
}
