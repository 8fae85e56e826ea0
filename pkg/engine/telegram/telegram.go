// Package telegram runs the bridge against a Telegram bot.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/samber/lo"

	"simplexbridge/pkg/engine"
	"simplexbridge/pkg/logger"
)

const memberStatusMember = "member"

var ErrUnknownContact = errors.New("unknown telegram contact")

// Starter connects a Telegram bot with long polling.
type Starter struct {
	Token     string
	AllowFrom []string
	Log       *slog.Logger
}

// Session is a running Telegram bot.
//
// Telegram chat IDs exceed the synthetic contact range, so each private chat
// is given a small contact ID for the lifetime of the process.
type Session struct {
	bot       *telego.Bot
	username  string
	welcome   string
	allowFrom map[string]struct{}
	callbacks engine.Callbacks
	log       *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.RWMutex
	nextID   int64
	byChat   map[int64]int64
	contacts map[int64]contact
}

type contact struct {
	chatID      int64
	displayName string
}

var _ engine.Starter = Starter{}
var _ engine.Session = (*Session)(nil)

func newSession(allowFrom []string, callbacks engine.Callbacks, log *slog.Logger) *Session {
	return &Session{
		allowFrom: allowFromSet(allowFrom),
		callbacks: callbacks,
		log:       log,
		done:      make(chan struct{}),
		byChat:    make(map[int64]int64),
		contacts:  make(map[int64]contact),
	}
}

// Start validates the token, publishes the bot name and command menu, then
// starts long polling.
func (s Starter) Start(ctx context.Context, opts engine.Options, callbacks engine.Callbacks) (engine.Session, error) {
	token := strings.TrimSpace(s.Token)
	if token == "" {
		return nil, errors.New("telegram bot token is required")
	}

	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "engine.telegram")

	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("initialize telegram bot: %w", err)
	}

	me, err := bot.GetMe(ctx)
	if err != nil {
		return nil, fmt.Errorf("get telegram bot identity: %w", err)
	}

	if name := strings.TrimSpace(opts.Profile.DisplayName); name != "" && name != me.FirstName {
		if err := bot.SetMyName(ctx, &telego.SetMyNameParams{Name: name}); err != nil {
			log.Warn("Failed to set bot name", "error", err)
		}
	}
	if len(opts.Commands) > 0 {
		if err := bot.SetMyCommands(ctx, &telego.SetMyCommandsParams{Commands: botCommands(opts.Commands)}); err != nil {
			log.Warn("Failed to set bot commands", "error", err)
		}
	}

	pollCtx, cancel := context.WithCancel(ctx)
	updates, err := bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		AllowedUpdates: []string{"message", "my_chat_member"},
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("start long polling: %w", err)
	}

	session := newSession(s.AllowFrom, callbacks, log)
	session.bot = bot
	session.username = me.Username
	session.cancel = cancel
	if opts.Address.AutoAccept {
		session.welcome = strings.TrimSpace(opts.Address.WelcomeMessage)
	}

	go session.poll(pollCtx, updates)

	log.Info("Telegram session ready", "username", me.Username)
	return session, nil
}

func (s *Session) poll(ctx context.Context, updates <-chan telego.Update) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				if ctx.Err() == nil {
					s.log.Error("Telegram updates channel closed")
				}
				return
			}
			s.handleUpdate(ctx, update)
		}
	}
}

func (s *Session) handleUpdate(ctx context.Context, update telego.Update) {
	switch {
	case update.Message != nil:
		s.handleMessage(update.Message)
	case update.MyChatMember != nil:
		s.handleMembership(ctx, update.MyChatMember)
	}
}

func (s *Session) handleMessage(message *telego.Message) {
	if message.Chat.Type != telego.ChatTypePrivate {
		return
	}

	text := strings.TrimSpace(message.Text)
	if text == "" {
		// Only text reaches the bridge.
		return
	}
	if message.From == nil {
		s.log.Debug("Ignoring message without sender")
		return
	}

	senderID := strconv.FormatInt(message.From.ID, 10)
	if !s.senderAllowed(senderID) {
		s.log.Debug("Ignoring message from unauthorized sender", "sender_id", senderID)
		return
	}

	c := s.remember(message.Chat.ID, displayName(message.From))
	s.log.Info("Received message", "chat_id", message.Chat.ID, "contact_id", c.ContactID, "content", logger.Preview(text))

	item := engine.ChatItem{ChatType: engine.ChatTypeDirect, Contact: &c, ItemID: int64(message.MessageID)}
	s.callbacks.Dispatch(item, engine.Content{Text: text})
}

// handleMembership reports a user starting (or unblocking) the bot as a new
// contact.
func (s *Session) handleMembership(ctx context.Context, update *telego.ChatMemberUpdated) {
	if update.Chat.Type != telego.ChatTypePrivate || update.NewChatMember == nil {
		return
	}
	if update.NewChatMember.MemberStatus() != memberStatusMember {
		return
	}
	if !s.senderAllowed(strconv.FormatInt(update.From.ID, 10)) {
		return
	}

	c := s.remember(update.Chat.ID, displayName(&update.From))
	s.log.Info("Contact connected", "chat_id", update.Chat.ID, "contact_id", c.ContactID)
	s.callbacks.Event(engine.Notification{Type: engine.EventContactConnected, Contact: &c})

	if s.welcome != "" && s.bot != nil {
		if _, err := s.bot.SendMessage(ctx, tu.Message(tu.ID(update.Chat.ID), s.welcome)); err != nil {
			s.log.Warn("Failed to send welcome message", "chat_id", update.Chat.ID, "error", err)
		}
	}
}

// remember returns the contact for chatID, assigning the next contact ID on
// first sight.
func (s *Session) remember(chatID int64, name string) engine.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byChat[chatID]
	if !ok {
		s.nextID++
		id = s.nextID
		s.byChat[chatID] = id
	}
	if name != "" || !ok {
		s.contacts[id] = contact{chatID: chatID, displayName: name}
	}
	return engine.Contact{ContactID: id, DisplayName: s.contacts[id].displayName}
}

func (s *Session) chatFor(contactID int64) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contacts[contactID]
	return c.chatID, ok
}

// SendDirect sends text to the private chat behind contactID.
func (s *Session) SendDirect(ctx context.Context, contactID int64, text string) error {
	chatID, ok := s.chatFor(contactID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownContact, contactID)
	}

	s.log.Info("Sending message", "chat_id", chatID, "contact_id", contactID, "content", logger.Preview(text))
	if _, err := s.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text)); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

type wireContact struct {
	ContactID        int64  `json:"contactId"`
	LocalDisplayName string `json:"localDisplayName"`
	Profile          struct {
		DisplayName string `json:"displayName"`
	} `json:"profile"`
}

// Query answers the address and contact queries in the same shape the
// SimpleX engine returns them.
func (s *Session) Query(_ context.Context, command string) (json.RawMessage, error) {
	switch strings.TrimSpace(command) {
	case engine.QueryShowAddress:
		return json.Marshal(map[string]string{
			"type":        "userContactLink",
			"contactLink": "https://t.me/" + s.username,
		})
	case engine.QueryContacts:
		return json.Marshal(map[string]any{
			"type":     "contactsList",
			"contacts": s.contactList(),
		})
	default:
		return nil, fmt.Errorf("%w: %s", engine.ErrUnsupportedQuery, command)
	}
}

func (s *Session) contactList() []wireContact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := lo.MapToSlice(s.contacts, func(id int64, c contact) wireContact {
		w := wireContact{ContactID: id, LocalDisplayName: c.displayName}
		w.Profile.DisplayName = c.displayName
		return w
	})
	sort.Slice(list, func(i, j int) bool { return list[i].ContactID < list[j].ContactID })
	return list
}

// Close stops long polling and waits for the update loop to exit.
func (s *Session) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return nil
}

// senderAllowed checks whether a sender is permitted by the allow list.
//
// When no allow list is configured, all senders are accepted.
func (s *Session) senderAllowed(senderID string) bool {
	if len(s.allowFrom) == 0 {
		return true
	}

	_, ok := s.allowFrom[strings.TrimSpace(senderID)]
	return ok
}

// allowFromSet normalizes allow list values into a lookup set.
func allowFromSet(allowFrom []string) map[string]struct{} {
	allowed := lo.SliceToMap(lo.Compact(lo.Map(allowFrom, func(v string, _ int) string {
		return strings.TrimSpace(v)
	})), func(v string) (string, struct{}) {
		return v, struct{}{}
	})
	if len(allowed) == 0 {
		return nil
	}
	return allowed
}

func botCommands(specs []engine.CommandSpec) []telego.BotCommand {
	return lo.Map(specs, func(c engine.CommandSpec, _ int) telego.BotCommand {
		return telego.BotCommand{Command: c.Keyword, Description: c.Label}
	})
}

func displayName(user *telego.User) string {
	if user == nil {
		return ""
	}
	name := strings.TrimSpace(strings.TrimSpace(user.FirstName) + " " + strings.TrimSpace(user.LastName))
	if name == "" {
		name = user.Username
	}
	return name
}
