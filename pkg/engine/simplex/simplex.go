// Package simplex drives a simplex-chat CLI through its websocket API.
package simplex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/samber/lo"
	"golang.org/x/net/websocket"

	"simplexbridge/pkg/engine"
	"simplexbridge/pkg/logger"
)

const (
	defaultDialAttempts = 30
	defaultDialInterval = 500 * time.Millisecond
	dialOrigin          = "http://localhost/"
)

// Starter connects to (and optionally launches) a simplex-chat CLI.
type Starter struct {
	// URL is the CLI websocket endpoint, for example ws://127.0.0.1:5225.
	URL string
	// CLIPath, when set, is launched as a child process before dialing.
	CLIPath string
	Log     *slog.Logger

	DialAttempts int
	DialInterval time.Duration
}

// Session is a live simplex-chat connection.
type Session struct {
	client  *client
	process *process
	userID  int64
	log     *slog.Logger
}

var _ engine.Starter = Starter{}
var _ engine.Session = (*Session)(nil)

// Start dials the CLI, attaches callbacks and applies the bot profile and
// address settings from opts.
func (s Starter) Start(ctx context.Context, opts engine.Options, callbacks engine.Callbacks) (engine.Session, error) {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "engine.simplex")

	var proc *process
	if s.CLIPath != "" {
		var err error
		proc, err = startProcess(s.CLIPath, s.URL, opts.DBFilePrefix, opts.DBKey, log)
		if err != nil {
			return nil, err
		}
	}

	ws, err := s.dial(ctx, log)
	if err != nil {
		proc.stop()
		return nil, err
	}

	d := dispatcher{callbacks: callbacks, log: log}
	c := newClient(ws, log, opts.LogNetwork, d.handle)
	go c.run()

	session := &Session{client: c, process: proc, log: log}
	if err := session.configure(ctx, opts); err != nil {
		_ = session.Close()
		return nil, err
	}

	log.Info("SimpleX session ready", "url", s.URL, "display_name", opts.Profile.DisplayName, "user_id", session.userID)
	return session, nil
}

func (s Starter) dial(ctx context.Context, log *slog.Logger) (*websocket.Conn, error) {
	cfg, err := websocket.NewConfig(s.URL, dialOrigin)
	if err != nil {
		return nil, fmt.Errorf("simplex url %q: %w", s.URL, err)
	}

	attempts := lo.Ternary(s.DialAttempts > 0, s.DialAttempts, defaultDialAttempts)
	interval := lo.Ternary(s.DialInterval > 0, s.DialInterval, defaultDialInterval)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		ws, err := cfg.DialContext(ctx)
		if err == nil {
			return ws, nil
		}
		lastErr = err
		log.Debug("SimpleX CLI not reachable yet", "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
	return nil, fmt.Errorf("dial simplex cli %s: %w", s.URL, lastErr)
}

type wireProfile struct {
	DisplayName string           `json:"displayName"`
	FullName    string           `json:"fullName"`
	Image       string           `json:"image,omitempty"`
	PeerType    string           `json:"peerType,omitempty"`
	Preferences *wirePreferences `json:"preferences,omitempty"`
}

type wirePreferences struct {
	Commands []wireCommand `json:"commands,omitempty"`
}

type wireCommand struct {
	Type    string `json:"type"`
	Keyword string `json:"keyword"`
	Label   string `json:"label"`
}

func profileFor(p engine.Profile, commands []engine.CommandSpec) wireProfile {
	profile := wireProfile{
		DisplayName: p.DisplayName,
		FullName:    p.FullName,
		Image:       p.Image,
		PeerType:    "bot",
	}
	if len(commands) > 0 {
		profile.Preferences = &wirePreferences{Commands: lo.Map(commands, func(c engine.CommandSpec, _ int) wireCommand {
			return wireCommand{Type: "command", Keyword: c.Keyword, Label: c.Label}
		})}
	}
	return profile
}

// configure ensures an active user with the bot profile and a contact
// address that auto-accepts new contacts.
func (s *Session) configure(ctx context.Context, opts engine.Options) error {
	profile, err := json.Marshal(profileFor(opts.Profile, opts.Commands))
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}

	userID, err := s.activeUser(ctx)
	if err != nil {
		var respErr *ResponseError
		if !errors.As(err, &respErr) {
			return fmt.Errorf("get active user: %w", err)
		}
		resp, err := s.client.call(ctx, `/_create user {"profile":`+string(profile)+`,"pastTimestamp":false}`)
		if err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		if userID, err = decodeUserID(resp); err != nil {
			return err
		}
		s.log.Info("Created SimpleX user", "user_id", userID)
	}
	s.userID = userID

	if _, err := s.client.call(ctx, "/_profile "+strconv.FormatInt(userID, 10)+" "+string(profile)); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}

	if opts.CreateAddress {
		if _, err := s.client.call(ctx, engine.QueryShowAddress); err != nil {
			if _, err := s.client.call(ctx, "/address"); err != nil {
				return fmt.Errorf("create address: %w", err)
			}
			s.log.Info("Created SimpleX contact address")
		}
	}

	if opts.Address.AutoAccept {
		cmd, err := autoAcceptCommand(opts.Address.WelcomeMessage)
		if err != nil {
			return err
		}
		if _, err := s.client.call(ctx, cmd); err != nil {
			return fmt.Errorf("enable auto-accept: %w", err)
		}
	}

	if opts.LogContacts {
		if raw, err := s.client.call(ctx, engine.QueryContacts); err == nil {
			s.log.Info("SimpleX contacts loaded", "contacts", len(contactList(raw)))
		} else {
			s.log.Warn("Failed to list contacts", "error", err)
		}
	}
	return nil
}

// autoAcceptCommand enables auto-accept with welcome as the reply. The reply
// goes in json form so multi-line text stays one command line.
func autoAcceptCommand(welcome string) (string, error) {
	cmd := "/auto_accept on incognito=off"
	if welcome == "" {
		return cmd, nil
	}
	body, err := json.Marshal(msgContent{Type: "text", Text: welcome})
	if err != nil {
		return "", fmt.Errorf("encode welcome message: %w", err)
	}
	return cmd + " json " + string(body), nil
}

func (s *Session) activeUser(ctx context.Context) (int64, error) {
	resp, err := s.client.call(ctx, "/user")
	if err != nil {
		return 0, err
	}
	return decodeUserID(resp)
}

func decodeUserID(resp json.RawMessage) (int64, error) {
	var body struct {
		User struct {
			UserID int64 `json:"userId"`
		} `json:"user"`
	}
	if err := json.Unmarshal(resp, &body); err != nil {
		return 0, fmt.Errorf("decode user: %w", err)
	}
	if body.User.UserID == 0 {
		return 0, fmt.Errorf("response %q carries no user", responseType(resp))
	}
	return body.User.UserID, nil
}

func contactList(resp json.RawMessage) []wireContact {
	var body struct {
		Contacts []wireContact `json:"contacts"`
	}
	_ = json.Unmarshal(resp, &body)
	return body.Contacts
}

type composedMessage struct {
	MsgContent msgContent `json:"msgContent"`
}

type msgContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SendDirect sends a text message to a direct chat.
func (s *Session) SendDirect(ctx context.Context, contactID int64, text string) error {
	body, err := json.Marshal([]composedMessage{{MsgContent: msgContent{Type: "text", Text: text}}})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	if _, err := s.client.call(ctx, "/_send @"+strconv.FormatInt(contactID, 10)+" json "+string(body)); err != nil {
		return err
	}
	s.log.Debug("Sent direct message", "contact_id", contactID, "content", logger.Preview(text))
	return nil
}

// Query runs a raw chat command and returns the unwrapped response.
func (s *Session) Query(ctx context.Context, command string) (json.RawMessage, error) {
	return s.client.call(ctx, command)
}

func (s *Session) Close() error {
	err := s.client.close()
	s.process.stop()
	return err
}
