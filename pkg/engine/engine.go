//go:generate go run go.uber.org/mock/mockgen -source=engine.go -destination=mocks/mock_engine.go -package=mocks

// Package engine describes the chat engine the bridge drives: a live session
// for outbound calls, plus the callbacks it delivers inbound traffic through.
package engine

import (
	"context"
	"encoding/json"
	"errors"
)

const (
	// ChatTypeDirect identifies one-to-one conversations.
	ChatTypeDirect = "direct"

	EventContactConnected = "contactConnected"

	QueryShowAddress = "/show_address"
	QueryContacts    = "/contacts"

	CommandPrefix = "/"
)

var ErrUnsupportedQuery = errors.New("query not supported by engine")

// Session is the live connection to the chat engine.
type Session interface {
	// SendDirect sends text to a direct conversation.
	SendDirect(ctx context.Context, contactID int64, text string) error
	// Query runs a raw engine command and returns its result untouched.
	Query(ctx context.Context, command string) (json.RawMessage, error)
	Close() error
}

// Starter brings up an engine session with callbacks attached.
type Starter interface {
	Start(ctx context.Context, opts Options, callbacks Callbacks) (Session, error)
}

// Profile is the identity the bot presents to contacts.
type Profile struct {
	DisplayName string
	FullName    string
	// Image is a data URI; empty means no avatar.
	Image string
}

type AddressSettings struct {
	AutoAccept      bool
	WelcomeMessage  string
	BusinessAddress bool
}

type CommandSpec struct {
	Keyword string
	Label   string
}

// Options configure engine startup.
type Options struct {
	Profile       Profile
	DBFilePrefix  string
	DBKey         string
	CreateAddress bool
	Address       AddressSettings
	Commands      []CommandSpec
	LogContacts   bool
	LogNetwork    bool
}

// Contact is a conversation partner as reported by the engine.
type Contact struct {
	ContactID   int64
	DisplayName string
}

// ChatItem is the context an inbound message or command arrived in.
// Contact is nil when the engine did not attach one.
type ChatItem struct {
	ChatType string
	Contact  *Contact
	ItemID   int64
}

// Content is the message body of a chat item.
type Content struct {
	Text string
}

// Command is a parsed "/keyword params" invocation.
type Command struct {
	Keyword string
	Params  string
}

// Notification is a named engine event.
type Notification struct {
	Type    string
	Contact *Contact
}

// Callbacks receive engine traffic. Nil callbacks are skipped.
type Callbacks struct {
	OnMessage func(ChatItem, Content)
	OnCommand func(ChatItem, Command)
	OnEvent   map[string]func(Notification)
}

func (c Callbacks) Message(item ChatItem, content Content) {
	if c.OnMessage != nil {
		c.OnMessage(item, content)
	}
}

func (c Callbacks) Command(item ChatItem, cmd Command) {
	if c.OnCommand != nil {
		c.OnCommand(item, cmd)
	}
}

func (c Callbacks) Event(n Notification) {
	if handler, ok := c.OnEvent[n.Type]; ok && handler != nil {
		handler(n)
	}
}

// Dispatch routes one inbound text: the message callback always sees it and
// the command callback additionally sees well-formed commands.
func (c Callbacks) Dispatch(item ChatItem, content Content) {
	c.Message(item, content)
	if cmd, ok := ParseCommand(content.Text); ok {
		c.Command(item, cmd)
	}
}
