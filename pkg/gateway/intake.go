package gateway

import (
	"simplexbridge/pkg/engine"
	"simplexbridge/pkg/event"
	"simplexbridge/pkg/logger"
)

const (
	unknownDisplayName   = "Unknown"
	simulatedDisplayName = "TestUser"
)

// Callbacks wires the engine's asynchronous traffic into the intake
// handlers.
func (s *Service) Callbacks() engine.Callbacks {
	return engine.Callbacks{
		OnMessage: s.HandleMessage,
		OnCommand: s.HandleCommand,
		OnEvent: map[string]func(engine.Notification){
			engine.EventContactConnected: s.HandleEvent,
		},
	}
}

// HandleMessage broadcasts a plain inbound message. Empty and command-prefixed
// texts are dropped; commands arrive through HandleCommand.
func (s *Service) HandleMessage(item engine.ChatItem, content engine.Content) {
	text := content.Text
	if text == "" || engine.IsCommand(text) {
		return
	}

	contactID, name := contactFields(item.Contact)
	s.log.Info("Message received", "contact_id", contactID, "display_name", name, "content", logger.Preview(text))
	s.publish(event.NewMessage{ContactID: contactID, DisplayName: name, Text: text, MessageID: item.ItemID})
}

// HandleCommand broadcasts any command as its "/keyword params" text.
func (s *Service) HandleCommand(item engine.ChatItem, cmd engine.Command) {
	text := cmd.String()
	contactID, name := contactFields(item.Contact)
	s.log.Info("Command received", "contact_id", contactID, "display_name", name, "content", logger.Preview(text))
	s.publish(event.NewMessage{ContactID: contactID, DisplayName: name, Text: text, MessageID: item.ItemID})
}

// HandleEvent broadcasts contactConnected notifications that carry a
// contact.
func (s *Service) HandleEvent(n engine.Notification) {
	if n.Type != engine.EventContactConnected {
		return
	}
	if n.Contact == nil {
		s.log.Debug("Dropping contact event without contact")
		return
	}

	contactID, name := contactFields(n.Contact)
	s.log.Info("Contact connected", "contact_id", contactID, "display_name", name)
	s.publish(event.ContactConnected{ContactID: contactID, DisplayName: name})
}

func contactFields(c *engine.Contact) (int64, string) {
	if c == nil {
		return 0, unknownDisplayName
	}
	name := c.DisplayName
	if name == "" {
		name = unknownDisplayName
	}
	return c.ContactID, name
}
