// Package tail renders bridge stream events for a terminal.
package tail

import (
	"fmt"
	"strings"
	"time"

	"simplexbridge/pkg/event"
)

// Renderer formats events as single terminal lines.
type Renderer struct {
	theme theme
}

func NewRenderer() *Renderer {
	return &Renderer{theme: defaultTheme()}
}

// Event renders e received at the given time.
func (r *Renderer) Event(e event.Event, at time.Time) string {
	ts := r.theme.timestamp.Render(at.Format("15:04:05"))

	switch e := e.(type) {
	case event.NewMessage:
		return strings.Join([]string{
			ts,
			r.theme.newMessage.Render("IN"),
			r.theme.contact.Render(contactLabel(e.ContactID, e.DisplayName)),
			r.theme.text.Render(singleLine(e.Text)),
		}, " ")
	case event.BotResponse:
		return strings.Join([]string{
			ts,
			r.theme.botResponse.Render("OUT"),
			r.theme.contact.Render(contactLabel(e.ContactID, "")),
			r.theme.text.Render(singleLine(e.Text)),
		}, " ")
	case event.ContactConnected:
		return strings.Join([]string{
			ts,
			r.theme.connected.Render("NEW"),
			r.theme.contact.Render(contactLabel(e.ContactID, e.DisplayName)),
		}, " ")
	default:
		return ts + " " + r.theme.statusErr.Render(fmt.Sprintf("unknown event %T", e))
	}
}

// Status renders a connection status line.
func (r *Renderer) Status(message string, failed bool) string {
	if failed {
		return r.theme.statusErr.Render(message)
	}
	return r.theme.status.Render(message)
}

// Reconnecting renders a lost-stream line in the failure style.
func (r *Renderer) Reconnecting(err error, wait time.Duration) string {
	return r.Status(fmt.Sprintf("stream lost (%v), reconnecting in %s", err, wait), true)
}

func contactLabel(id int64, name string) string {
	if name == "" {
		return fmt.Sprintf("#%d", id)
	}
	return fmt.Sprintf("#%d %s", id, name)
}

// singleLine keeps multi-line messages on one terminal line.
func singleLine(text string) string {
	return strings.ReplaceAll(strings.TrimSpace(text), "\n", " ⏎ ")
}
