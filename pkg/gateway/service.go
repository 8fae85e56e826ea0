// Package gateway is the bridge core: it owns the engine session slot and the
// subscriber registry, validates boundary commands and turns engine traffic
// into broadcast events.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"simplexbridge/pkg/bus"
	"simplexbridge/pkg/config"
	"simplexbridge/pkg/engine"
	"simplexbridge/pkg/event"
	"simplexbridge/pkg/logger"
)

const (
	// SyntheticContactMin is the first contact ID reserved for test traffic.
	// Sends to synthetic contacts never reach the engine.
	SyntheticContactMin = 90000

	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"

	shutdownTimeout = 5 * time.Second
)

// DefaultCommands is the command menu advertised by the bot.
var DefaultCommands = []engine.CommandSpec{
	{Keyword: "help", Label: "Show available commands"},
	{Keyword: "subscribe", Label: "Subscribe to fee alerts"},
	{Keyword: "mysubscriptions", Label: "View your subscriptions"},
	{Keyword: "unsubscribe", Label: "Unsubscribe from alerts"},
}

type Service struct {
	cfg      *config.Config
	log      *slog.Logger
	registry *bus.Registry
	now      func() time.Time

	mu      sync.RWMutex
	session engine.Session
}

func NewService(cfg *config.Config, registry *bus.Registry, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		log = slog.Default()
	}
	if registry == nil {
		registry = bus.NewRegistry(log)
	}

	return &Service{
		cfg:      cfg,
		log:      log.With("component", "gateway.service"),
		registry: registry,
		now:      time.Now,
	}, nil
}

// EngineOptions builds the engine startup options for cfg. avatar is a data
// URI or empty.
func EngineOptions(cfg *config.Config, avatar string) engine.Options {
	return engine.Options{
		Profile:       engine.Profile{DisplayName: cfg.Bot.Name, Image: avatar},
		DBFilePrefix:  cfg.Engine.DBFilePrefix,
		DBKey:         cfg.Engine.DBKey,
		CreateAddress: true,
		Address: engine.AddressSettings{
			AutoAccept:     true,
			WelcomeMessage: cfg.Bot.WelcomeMessage,
		},
		Commands:    DefaultCommands,
		LogContacts: true,
	}
}

// Run binds the configured address and serves until ctx is done.
func (s *Service) Run(ctx context.Context, starter engine.Starter, opts engine.Options) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return &Error{Category: ErrorStartupFailure, Message: "failed to bind " + s.cfg.Addr(), Err: err}
	}
	return s.Serve(ctx, ln, starter, opts)
}

// Serve starts the HTTP and stream surface on ln first, then the engine
// session. Requests that need the engine fail with not_connected until the
// session is up. An engine startup failure is returned as startup_failure.
func (s *Service) Serve(ctx context.Context, ln net.Listener, starter engine.Starter, opts engine.Options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if starter == nil {
		return errors.New("engine starter is required")
	}

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("serve http: %w", err)
		}
	}()
	s.log.Info("HTTP server listening", "address", ln.Addr().String(), "production", s.cfg.Production())

	defer s.shutdown(server)

	s.log.Info("Starting chat engine", "engine", s.cfg.Engine.Kind, "bot_name", opts.Profile.DisplayName, "db_prefix", opts.DBFilePrefix)
	session, err := starter.Start(ctx, opts, s.Callbacks())
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return &Error{Category: ErrorStartupFailure, Message: "failed to start chat engine", Err: err}
	}
	s.setSession(session)
	s.log.Info("Bot is ready", "engine", s.cfg.Engine.Kind)

	select {
	case <-ctx.Done():
		return nil
	case err := <-serverErrors:
		return err
	}
}

func (s *Service) shutdown(server *http.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("HTTP server shutdown failed", "error", err)
	}
	s.registry.Close()

	if session := s.setSession(nil); session != nil {
		if err := session.Close(); err != nil {
			s.log.Warn("Failed to close engine session", "error", err)
		}
	}
	s.log.Info("Bridge stopped")
}

// setSession swaps the session slot and returns the previous value.
func (s *Service) setSession(session engine.Session) engine.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.session
	s.session = session
	return prev
}

func (s *Service) currentSession() engine.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// Health reports engine connectivity and the live subscriber count.
func (s *Service) Health() Health {
	status := StatusDisconnected
	if s.currentSession() != nil {
		status = StatusConnected
	}
	return Health{Status: status, Clients: s.registry.Len()}
}

// SendMessage delivers text to a contact and broadcasts the bot response.
// Synthetic contacts skip the engine. Nothing is broadcast when the engine
// rejects the message.
func (s *Service) SendMessage(ctx context.Context, req SendRequest) error {
	if !req.ContactID.Present() || req.Text == "" {
		return NewError(ErrorInvalidInput, msgRequired)
	}

	session := s.currentSession()
	if session == nil {
		return NewError(ErrorNotConnected, msgNotConnected)
	}

	contactID, ok := req.ContactID.Int()
	if !ok {
		return NewError(ErrorInvalidInput, msgInvalidContact)
	}

	if contactID >= SyntheticContactMin {
		s.log.Info("Sending to synthetic contact", "contact_id", contactID, "content", logger.Preview(req.Text))
		s.publish(event.BotResponse{ContactID: contactID, Text: req.Text, MessageID: s.messageID()})
		return nil
	}

	if err := session.SendDirect(ctx, contactID, req.Text); err != nil {
		s.log.Error("Failed to send message", "contact_id", contactID, "error", err)
		return WrapError(ErrorEngine, err)
	}

	s.log.Info("Sent message", "contact_id", contactID, "content", logger.Preview(req.Text))
	s.publish(event.BotResponse{ContactID: contactID, Text: req.Text, MessageID: s.messageID()})
	return nil
}

// Address returns the engine's contact address response untouched.
func (s *Service) Address(ctx context.Context) (json.RawMessage, error) {
	return s.query(ctx, engine.QueryShowAddress)
}

// Contacts returns the engine's contact list response untouched.
func (s *Service) Contacts(ctx context.Context) (json.RawMessage, error) {
	return s.query(ctx, engine.QueryContacts)
}

func (s *Service) query(ctx context.Context, command string) (json.RawMessage, error) {
	session := s.currentSession()
	if session == nil {
		return nil, NewError(ErrorNotConnected, msgNotConnected)
	}

	raw, err := session.Query(ctx, command)
	if err != nil {
		s.log.Error("Engine query failed", "query", command, "error", err)
		return nil, WrapError(ErrorEngine, err)
	}
	return raw, nil
}

// SimulateIncoming broadcasts a NewMessage as if a contact had written it.
// It never touches the engine session.
func (s *Service) SimulateIncoming(_ context.Context, req SimulateRequest) error {
	if !req.ContactID.Present() || req.Text == "" {
		return NewError(ErrorInvalidInput, msgRequired)
	}

	contactID, ok := req.ContactID.Int()
	if !ok {
		return NewError(ErrorInvalidInput, msgInvalidContact)
	}

	name := req.DisplayName
	if name == "" {
		name = simulatedDisplayName
	}

	s.log.Info("Simulating incoming message", "contact_id", contactID, "display_name", name, "content", logger.Preview(req.Text))
	s.publish(event.NewMessage{ContactID: contactID, DisplayName: name, Text: req.Text, MessageID: s.messageID()})
	return nil
}

func (s *Service) messageID() int64 {
	return event.NewMessageID(s.now())
}

// publish broadcasts e. Delivery problems are handled by the registry.
func (s *Service) publish(e event.Event) {
	result, err := s.registry.Broadcast(e)
	if err != nil {
		s.log.Error("Failed to broadcast event", "type", e.Type(), "error", err)
		return
	}
	s.log.Debug("Broadcast event", "type", e.Type(), "delivered", result.Delivered, "removed", result.Removed())
}
