// Package event defines the engine-independent events pushed to stream
// subscribers and their JSON wire form.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

type Type string

const (
	TypeNewMessage       Type = "newMessage"
	TypeBotResponse      Type = "botResponse"
	TypeContactConnected Type = "contactConnected"
)

// Event is one of NewMessage, BotResponse or ContactConnected.
type Event interface {
	Type() Type
	sealed()
}

// NewMessage is text a contact sent to the bot.
type NewMessage struct {
	ContactID   int64
	DisplayName string
	Text        string
	MessageID   int64
}

// BotResponse is text the bot sent to a contact.
type BotResponse struct {
	ContactID int64
	Text      string
	MessageID int64
}

// ContactConnected announces a contact that just connected to the bot.
type ContactConnected struct {
	ContactID   int64
	DisplayName string
}

func (NewMessage) Type() Type       { return TypeNewMessage }
func (BotResponse) Type() Type      { return TypeBotResponse }
func (ContactConnected) Type() Type { return TypeContactConnected }

func (NewMessage) sealed()       {}
func (BotResponse) sealed()      {}
func (ContactConnected) sealed() {}

// Wire is the JSON object written to subscribers.
type Wire struct {
	Type        Type   `json:"type"`
	ContactID   int64  `json:"contactId"`
	DisplayName string `json:"displayName,omitempty"`
	Text        string `json:"text,omitempty"`
	MessageID   int64  `json:"messageId,omitempty"`
}

// ToWire flattens an event into its wire shape.
func ToWire(e Event) (Wire, error) {
	switch v := e.(type) {
	case NewMessage:
		return Wire{Type: TypeNewMessage, ContactID: v.ContactID, DisplayName: v.DisplayName, Text: v.Text, MessageID: v.MessageID}, nil
	case BotResponse:
		return Wire{Type: TypeBotResponse, ContactID: v.ContactID, Text: v.Text, MessageID: v.MessageID}, nil
	case ContactConnected:
		return Wire{Type: TypeContactConnected, ContactID: v.ContactID, DisplayName: v.DisplayName}, nil
	case nil:
		return Wire{}, fmt.Errorf("nil event")
	default:
		return Wire{}, fmt.Errorf("unsupported event %T", e)
	}
}

// Encode serializes an event once for every subscriber.
func Encode(e Event) ([]byte, error) {
	w, err := ToWire(e)
	if err != nil {
		return nil, err
	}

	return json.Marshal(w)
}

// Decode parses a wire message back into a typed event.
func Decode(data []byte) (Event, error) {
	var w Wire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	switch w.Type {
	case TypeNewMessage:
		return NewMessage{ContactID: w.ContactID, DisplayName: w.DisplayName, Text: w.Text, MessageID: w.MessageID}, nil
	case TypeBotResponse:
		return BotResponse{ContactID: w.ContactID, Text: w.Text, MessageID: w.MessageID}, nil
	case TypeContactConnected:
		return ContactConnected{ContactID: w.ContactID, DisplayName: w.DisplayName}, nil
	default:
		return nil, fmt.Errorf("decode event: unknown type %q", w.Type)
	}
}

// NewMessageID derives a message id from a clock reading, in milliseconds.
// Ids are ordering hints only and may repeat under rapid sends.
func NewMessageID(now time.Time) int64 {
	return now.UnixMilli()
}
