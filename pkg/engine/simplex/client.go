package simplex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/net/websocket"

	"simplexbridge/pkg/logger"
)

var ErrClosed = errors.New("simplex connection closed")

// ResponseError is a chat API response that reports a failure.
type ResponseError struct {
	Type   string
	Detail json.RawMessage
}

func (e *ResponseError) Error() string {
	if len(e.Detail) == 0 {
		return "simplex: " + e.Type
	}
	return fmt.Sprintf("simplex: %s: %s", e.Type, e.Detail)
}

type commandFrame struct {
	CorrID string `json:"corrId"`
	Cmd    string `json:"cmd"`
}

type responseFrame struct {
	CorrID string          `json:"corrId,omitempty"`
	Resp   json.RawMessage `json:"resp"`
}

type reply struct {
	resp json.RawMessage
	err  error
}

// client multiplexes commands and asynchronous events over one websocket.
type client struct {
	ws         *websocket.Conn
	log        *slog.Logger
	logNetwork bool
	onEvent    func(json.RawMessage)

	seq     atomic.Uint64
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan reply
	err     error
}

func newClient(ws *websocket.Conn, log *slog.Logger, logNetwork bool, onEvent func(json.RawMessage)) *client {
	return &client{
		ws:         ws,
		log:        log,
		logNetwork: logNetwork,
		onEvent:    onEvent,
		pending:    make(map[string]chan reply),
	}
}

// call sends one command and waits for the response carrying its corrId.
func (c *client) call(ctx context.Context, cmd string) (json.RawMessage, error) {
	corrID := strconv.FormatUint(c.seq.Add(1), 10)
	ch := make(chan reply, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.pending[corrID] = ch
	c.mu.Unlock()

	payload, err := json.Marshal(commandFrame{CorrID: corrID, Cmd: cmd})
	if err != nil {
		c.forget(corrID)
		return nil, fmt.Errorf("encode command: %w", err)
	}

	if c.logNetwork {
		c.log.Debug("Sending chat command", "corr_id", corrID, "cmd", logger.Preview(cmd))
	}

	c.writeMu.Lock()
	err = websocket.Message.Send(c.ws, string(payload))
	c.writeMu.Unlock()
	if err != nil {
		c.forget(corrID)
		return nil, fmt.Errorf("send command: %w", err)
	}

	select {
	case <-ctx.Done():
		c.forget(corrID)
		return nil, ctx.Err()
	case r := <-ch:
		return r.resp, r.err
	}
}

func (c *client) forget(corrID string) {
	c.mu.Lock()
	delete(c.pending, corrID)
	c.mu.Unlock()
}

// run reads frames until the connection fails, routing correlated responses
// to their callers and everything else to onEvent.
func (c *client) run() {
	for {
		var raw []byte
		if err := websocket.Message.Receive(c.ws, &raw); err != nil {
			if errors.Is(err, io.EOF) {
				err = ErrClosed
			}
			c.fail(err)
			return
		}

		if c.logNetwork {
			c.log.Debug("Received chat frame", "bytes", len(raw))
		}

		var frame responseFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.log.Warn("Dropping malformed chat frame", "error", err)
			continue
		}

		resp, err := unwrap(frame.Resp)
		if frame.CorrID != "" {
			c.deliver(frame.CorrID, reply{resp: resp, err: err})
			continue
		}
		if err != nil {
			c.log.Warn("Chat engine reported error", "error", err)
			continue
		}
		if c.onEvent != nil {
			c.onEvent(resp)
		}
	}
}

func (c *client) deliver(corrID string, r reply) {
	c.mu.Lock()
	ch, ok := c.pending[corrID]
	delete(c.pending, corrID)
	c.mu.Unlock()

	if !ok {
		c.log.Debug("Dropping response for unknown command", "corr_id", corrID)
		return
	}
	ch <- r
}

// fail records the terminal error and releases every waiting caller.
func (c *client) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	pending := c.pending
	c.pending = make(map[string]chan reply)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- reply{err: err}
	}
}

func (c *client) close() error {
	c.fail(ErrClosed)
	return c.ws.Close()
}

// unwrap strips the Left/Right envelope newer chat cores use and converts
// error responses into *ResponseError.
func unwrap(resp json.RawMessage) (json.RawMessage, error) {
	var either struct {
		Left  json.RawMessage `json:"Left"`
		Right json.RawMessage `json:"Right"`
	}
	if err := json.Unmarshal(resp, &either); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(either.Left) > 0 {
		return nil, responseError(either.Left)
	}
	if len(either.Right) > 0 {
		resp = either.Right
	}

	var head struct {
		Type      string          `json:"type"`
		ChatError json.RawMessage `json:"chatError"`
	}
	if err := json.Unmarshal(resp, &head); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	switch head.Type {
	case "chatCmdError", "chatError":
		return nil, &ResponseError{Type: head.Type, Detail: head.ChatError}
	}
	return resp, nil
}

func responseError(raw json.RawMessage) error {
	var head struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(raw, &head)
	if head.Type == "" {
		head.Type = "chatError"
	}
	return &ResponseError{Type: head.Type, Detail: raw}
}

func responseType(resp json.RawMessage) string {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(resp, &head); err != nil {
		return ""
	}
	return head.Type
}
