package simplex

import (
	"encoding/json"
	"log/slog"

	"simplexbridge/pkg/engine"
)

type wireContact struct {
	ContactID        int64  `json:"contactId"`
	LocalDisplayName string `json:"localDisplayName"`
	Profile          struct {
		DisplayName string `json:"displayName"`
	} `json:"profile"`
}

func (c *wireContact) toContact() *engine.Contact {
	if c == nil {
		return nil
	}
	name := c.Profile.DisplayName
	if name == "" {
		name = c.LocalDisplayName
	}
	return &engine.Contact{ContactID: c.ContactID, DisplayName: name}
}

type wireChatItem struct {
	ChatInfo struct {
		Type    string       `json:"type"`
		Contact *wireContact `json:"contact"`
	} `json:"chatInfo"`
	ChatItem struct {
		Meta struct {
			ItemID int64 `json:"itemId"`
		} `json:"meta"`
		ChatDir struct {
			Type string `json:"type"`
		} `json:"chatDir"`
		Content struct {
			Type       string `json:"type"`
			MsgContent struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"msgContent"`
		} `json:"content"`
	} `json:"chatItem"`
}

type newChatItems struct {
	ChatItems []wireChatItem `json:"chatItems"`
	// Older cores send a single item.
	ChatItem *wireChatItem `json:"chatItem"`
}

type contactConnected struct {
	Contact *wireContact `json:"contact"`
}

// dispatcher turns chat core events into engine callbacks.
type dispatcher struct {
	callbacks engine.Callbacks
	log       *slog.Logger
}

func (d dispatcher) handle(resp json.RawMessage) {
	switch kind := responseType(resp); kind {
	case "newChatItems", "newChatItem":
		var items newChatItems
		if err := json.Unmarshal(resp, &items); err != nil {
			d.log.Warn("Failed to decode chat items", "error", err)
			return
		}
		if items.ChatItem != nil {
			items.ChatItems = append(items.ChatItems, *items.ChatItem)
		}
		for _, item := range items.ChatItems {
			d.chatItem(item)
		}
	case engine.EventContactConnected:
		var ev contactConnected
		if err := json.Unmarshal(resp, &ev); err != nil {
			d.log.Warn("Failed to decode contact event", "error", err)
			return
		}
		d.callbacks.Event(engine.Notification{Type: kind, Contact: ev.Contact.toContact()})
	default:
		d.log.Debug("Ignoring chat event", "type", kind)
	}
}

func (d dispatcher) chatItem(item wireChatItem) {
	if item.ChatInfo.Type != engine.ChatTypeDirect || item.ChatItem.ChatDir.Type != "directRcv" {
		return
	}
	if item.ChatItem.Content.Type != "rcvMsgContent" {
		return
	}

	text := item.ChatItem.Content.MsgContent.Text
	chat := engine.ChatItem{
		ChatType: engine.ChatTypeDirect,
		Contact:  item.ChatInfo.Contact.toContact(),
		ItemID:   item.ChatItem.Meta.ItemID,
	}
	d.callbacks.Dispatch(chat, engine.Content{Text: text})
}
