package engine

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input  string
		want   Command
		wantOK bool
	}{
		{input: "/help", want: Command{Keyword: "help"}, wantOK: true},
		{input: "/Subscribe  btc lbtc ", want: Command{Keyword: "subscribe", Params: "btc lbtc"}, wantOK: true},
		{input: "  /help", wantOK: false},
		{input: "/start@FeeBot", want: Command{Keyword: "start"}, wantOK: true},
		{input: "/unsubscribe\n2", want: Command{Keyword: "unsubscribe", Params: "2"}, wantOK: true},
		{input: "/", wantOK: false},
		{input: "/ spaced", wantOK: false},
		{input: "hello /help", wantOK: false},
		{input: "", wantOK: false},
	}

	for _, tt := range tests {
		got, ok := ParseCommand(tt.input)
		if ok != tt.wantOK {
			t.Fatalf("ParseCommand(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
		}
		if got != tt.want {
			t.Fatalf("ParseCommand(%q) = %#v, want %#v", tt.input, got, tt.want)
		}
	}
}

func TestCommandString(t *testing.T) {
	require.Equal(t, "/help", Command{Keyword: "help"}.String())
	require.Equal(t, "/subscribe 1 2", Command{Keyword: "subscribe", Params: "1 2"}.String())
}

func TestCallbacksDispatch(t *testing.T) {
	var messages, commands []string
	cb := Callbacks{
		OnMessage: func(_ ChatItem, c Content) { messages = append(messages, c.Text) },
		OnCommand: func(_ ChatItem, c Command) { commands = append(commands, c.String()) },
	}

	cb.Dispatch(ChatItem{}, Content{Text: "plain"})
	cb.Dispatch(ChatItem{}, Content{Text: "/subscribe now"})

	require.Equal(t, []string{"plain", "/subscribe now"}, messages)
	require.Equal(t, []string{"/subscribe now"}, commands)
}

func TestCallbacksToleratesNilHandlers(t *testing.T) {
	var cb Callbacks
	cb.Dispatch(ChatItem{}, Content{Text: "/help"})
	cb.Event(Notification{Type: EventContactConnected})
}

func TestCallbacksEventRouting(t *testing.T) {
	var got []Notification
	cb := Callbacks{OnEvent: map[string]func(Notification){
		EventContactConnected: func(n Notification) { got = append(got, n) },
	}}

	cb.Event(Notification{Type: "contactDeleted"})
	cb.Event(Notification{Type: EventContactConnected, Contact: &Contact{ContactID: 3}})

	require.Len(t, got, 1)
	require.Equal(t, int64(3), got[0].Contact.ContactID)
}

// 1x1 transparent PNG.
const pixelPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="

func TestLoadAvatar(t *testing.T) {
	raw, err := base64.StdEncoding.DecodeString(pixelPNG)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "avatar.png")
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	uri, err := LoadAvatar(path)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(uri, "data:image/png;base64,"), uri)
	require.Equal(t, "data:image/png;base64,"+base64.StdEncoding.EncodeToString(raw), uri)
}

func TestLoadAvatarMissingFile(t *testing.T) {
	uri, err := LoadAvatar(filepath.Join(t.TempDir(), "none.png"))
	require.NoError(t, err)
	require.Empty(t, uri)

	uri, err = LoadAvatar("")
	require.NoError(t, err)
	require.Empty(t, uri)
}

func TestLoadAvatarRejectsNonImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "avatar.png")
	require.NoError(t, os.WriteFile(path, []byte("just some text"), 0o600))

	_, err := LoadAvatar(path)
	require.Error(t, err)
}
