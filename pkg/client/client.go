// Package client talks to a running bridge over HTTP and its event stream.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	"simplexbridge/pkg/event"
)

const (
	defaultTimeout       = 30 * time.Second
	defaultPollInterval  = 2 * time.Second
	initialReconnectWait = time.Second
	maxReconnectWait     = 60 * time.Second
)

// APIError is a non-2xx response from the bridge.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
	Code       string `json:"code"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("bridge returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("bridge returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// Health mirrors GET /health.
type Health struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
}

type Client struct {
	baseURL *url.URL
	http    *http.Client
	log     *slog.Logger

	pollInterval time.Duration
	minBackoff   time.Duration
	maxBackoff   time.Duration

	onDrop func(err error, wait time.Duration)
}

func New(baseURL string, log *slog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse bridge url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("bridge url %q must be http or https", baseURL)
	}
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		baseURL:      u,
		http:         &http.Client{Timeout: defaultTimeout},
		log:          log.With("component", "client"),
		pollInterval: defaultPollInterval,
		minBackoff:   initialReconnectWait,
		maxBackoff:   maxReconnectWait,
	}, nil
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var health Health
	err := c.do(ctx, http.MethodGet, "/health", nil, &health)
	return health, err
}

// Send asks the bridge to deliver text to a contact.
func (c *Client) Send(ctx context.Context, contactID int64, text string) error {
	body := map[string]any{"contactId": contactID, "text": text}
	return c.do(ctx, http.MethodPost, "/send", body, nil)
}

// Simulate injects an inbound message. Only available on non-production
// bridges.
func (c *Client) Simulate(ctx context.Context, contactID int64, displayName, text string) error {
	body := map[string]any{"contactId": contactID, "text": text}
	if displayName != "" {
		body["displayName"] = displayName
	}
	return c.do(ctx, http.MethodPost, "/test/simulate_message", body, nil)
}

// Address returns the raw engine address response.
func (c *Client) Address(ctx context.Context) (json.RawMessage, error) {
	var body struct {
		Address json.RawMessage `json:"address"`
	}
	if err := c.do(ctx, http.MethodGet, "/address", nil, &body); err != nil {
		return nil, err
	}
	return body.Address, nil
}

// Contacts returns the raw engine contact list response.
func (c *Client) Contacts(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	err := c.do(ctx, http.MethodGet, "/contacts", nil, &raw)
	return raw, err
}

// WaitReady polls /health until the bridge reports a connected engine.
func (c *Client) WaitReady(ctx context.Context) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		health, err := c.Health(ctx)
		switch {
		case err == nil && health.Status == "connected":
			c.log.Info("Bridge is ready and connected")
			return nil
		case err == nil:
			c.log.Info("Bridge not connected yet", "status", health.Status)
		default:
			c.log.Debug("Bridge not reachable yet", "error", err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for bridge: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// OnStreamDrop registers fn to run each time Subscribe loses the stream,
// before it waits to reconnect. Call it before Subscribe.
func (c *Client) OnStreamDrop(fn func(err error, wait time.Duration)) {
	c.onDrop = fn
}

// Subscribe streams events to handle until ctx is done, reconnecting with
// exponential backoff when the stream drops. Undecodable frames are logged
// and skipped.
func (c *Client) Subscribe(ctx context.Context, handle func(event.Event)) error {
	wait := c.minBackoff
	for {
		ws, err := c.dialStream(ctx)
		if err == nil {
			wait = c.minBackoff
			c.log.Info("Connected to bridge stream", "url", c.streamURL())
			err = c.readStream(ctx, ws, handle)
		}
		if ctx.Err() != nil {
			return nil
		}

		c.log.Warn("Bridge stream unavailable, reconnecting", "error", err, "wait", wait)
		if c.onDrop != nil {
			c.onDrop(err, wait)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
		wait = nextBackoff(wait, c.maxBackoff)
	}
}

func nextBackoff(current, limit time.Duration) time.Duration {
	return min(current*2, limit)
}

func (c *Client) streamURL() string {
	u := *c.baseURL
	u.Scheme = "ws"
	if c.baseURL.Scheme == "https" {
		u.Scheme = "wss"
	}
	u.Path = "/"
	return u.String()
}

func (c *Client) dialStream(ctx context.Context) (*websocket.Conn, error) {
	cfg, err := websocket.NewConfig(c.streamURL(), c.baseURL.String())
	if err != nil {
		return nil, err
	}
	return cfg.DialContext(ctx)
}

func (c *Client) readStream(ctx context.Context, ws *websocket.Conn, handle func(event.Event)) error {
	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()
	defer ws.Close()

	for {
		var raw []byte
		if err := websocket.Message.Receive(ws, &raw); err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("stream closed by bridge")
			}
			return err
		}

		e, err := event.Decode(raw)
		if err != nil {
			c.log.Error("Failed to parse bridge event", "error", err)
			continue
		}
		handle(e)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
