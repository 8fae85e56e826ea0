// Package stream accepts websocket subscribers and attaches them to the
// broadcast registry.
package stream

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"simplexbridge/pkg/bus"
)

var ErrClosed = errors.New("subscriber connection closed")

type state int32

const (
	stateOpen state = iota
	stateClosing
	stateClosed
)

// Conn is a websocket connection registered as a bus.Subscriber.
type Conn struct {
	id    string
	ws    *websocket.Conn
	state atomic.Int32

	writeMu sync.Mutex
}

func newConn(ws *websocket.Conn) *Conn {
	return &Conn{id: uuid.NewString(), ws: ws}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Open() bool {
	return state(c.state.Load()) == stateOpen
}

// Send writes payload as a single text frame.
func (c *Conn) Send(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if !c.Open() {
		return ErrClosed
	}

	return websocket.Message.Send(c.ws, string(payload))
}

// Close is safe to call more than once and from any goroutine.
func (c *Conn) Close() error {
	if !c.state.CompareAndSwap(int32(stateOpen), int32(stateClosing)) {
		return nil
	}

	err := c.ws.Close()
	c.state.Store(int32(stateClosed))
	return err
}

// Handler upgrades requests to websocket subscribers. Plain HTTP requests get
// 404 so the stream never shadows other routes mounted beside it.
func Handler(registry *bus.Registry, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "stream.acceptor")

	server := websocket.Server{
		// Subscribers are not authenticated and may omit Origin.
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler: func(ws *websocket.Conn) {
			serve(ws, registry, log)
		},
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isUpgrade(r) {
			http.NotFound(w, r)
			return
		}
		server.ServeHTTP(w, r)
	})
}

// serve keeps the subscriber registered until the peer closes or the
// connection fails. Inbound frames carry no meaning and are discarded.
func serve(ws *websocket.Conn, registry *bus.Registry, log *slog.Logger) {
	conn := newConn(ws)
	registry.Add(conn)
	defer func() {
		registry.Remove(conn)
		_ = conn.Close()
	}()

	for {
		var frame []byte
		if err := websocket.Message.Receive(ws, &frame); err != nil {
			if !errors.Is(err, io.EOF) && conn.Open() {
				log.Warn("Subscriber connection error", "subscriber_id", conn.ID(), "remote", remoteAddr(ws), "error", err)
			}
			return
		}
		log.Debug("Ignoring inbound subscriber frame", "subscriber_id", conn.ID(), "bytes", len(frame))
	}
}

func isUpgrade(r *http.Request) bool {
	return r.Method == http.MethodGet && strings.EqualFold(strings.TrimSpace(r.Header.Get("Upgrade")), "websocket")
}

func remoteAddr(ws *websocket.Conn) string {
	if req := ws.Request(); req != nil {
		return req.RemoteAddr
	}
	return ""
}
