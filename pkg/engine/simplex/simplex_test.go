package simplex

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"simplexbridge/pkg/engine"
	"simplexbridge/pkg/logger"
)

// fakeCLI answers chat commands the way the simplex-chat websocket API does.
type fakeCLI struct {
	noUser bool

	mu      sync.Mutex
	cmds    []string
	conn    *websocket.Conn
	writeMu sync.Mutex
	ready   chan struct{}
	once    sync.Once
}

func newFakeCLI(t *testing.T) (*fakeCLI, string) {
	t.Helper()

	f := &fakeCLI{ready: make(chan struct{})}
	srv := httptest.NewServer(websocket.Handler(f.serve))
	t.Cleanup(srv.Close)
	return f, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (f *fakeCLI) serve(ws *websocket.Conn) {
	f.mu.Lock()
	f.conn = ws
	f.mu.Unlock()
	f.once.Do(func() { close(f.ready) })

	for {
		var raw string
		if err := websocket.Message.Receive(ws, &raw); err != nil {
			return
		}
		var cmd commandFrame
		if err := json.Unmarshal([]byte(raw), &cmd); err != nil {
			return
		}

		f.mu.Lock()
		f.cmds = append(f.cmds, cmd.Cmd)
		f.mu.Unlock()

		f.send(`{"corrId":"` + cmd.CorrID + `","resp":` + f.respond(cmd.Cmd) + `}`)
	}
}

func (f *fakeCLI) respond(cmd string) string {
	switch {
	case cmd == "/user":
		if f.noUser {
			return `{"type":"chatCmdError","chatError":{"type":"error","errorType":{"type":"noActiveUser"}}}`
		}
		return `{"Right":{"type":"activeUser","user":{"userId":1}}}`
	case strings.HasPrefix(cmd, "/_create user "):
		return `{"type":"activeUser","user":{"userId":7}}`
	case strings.HasPrefix(cmd, "/_profile "):
		return `{"type":"userProfileUpdated"}`
	case cmd == "/show_address":
		return `{"Left":{"type":"errorStore","storeError":{"type":"userContactLinkNotFound"}}}`
	case cmd == "/address":
		return `{"type":"userContactLinkCreated","connReqContact":"simplex:/contact#abc"}`
	case strings.HasPrefix(cmd, "/auto_accept "):
		return `{"type":"userContactLinkUpdated"}`
	case cmd == "/contacts":
		return `{"type":"contactsList","contacts":[{"contactId":5,"localDisplayName":"alice","profile":{"displayName":"alice"}}]}`
	case strings.HasPrefix(cmd, "/_send @6 "):
		return `{"type":"chatCmdError","chatError":{"type":"errorStore","storeError":{"type":"contactNotFound"}}}`
	case strings.HasPrefix(cmd, "/_send @"):
		return `{"type":"newChatItems","chatItems":[]}`
	default:
		return `{"type":"cmdOk"}`
	}
}

func (f *fakeCLI) send(frame string) {
	f.mu.Lock()
	ws := f.conn
	f.mu.Unlock()

	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	_ = websocket.Message.Send(ws, frame)
}

func (f *fakeCLI) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cmds...)
}

func testOptions() engine.Options {
	return engine.Options{
		Profile:       engine.Profile{DisplayName: "Fee Bot"},
		CreateAddress: true,
		Address:       engine.AddressSettings{AutoAccept: true, WelcomeMessage: "Welcome!\n\nUse /help"},
		Commands:      []engine.CommandSpec{{Keyword: "help", Label: "Show available commands"}},
	}
}

func startSession(t *testing.T, url string, callbacks engine.Callbacks) *Session {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	starter := Starter{URL: url, Log: logger.Discard(), DialAttempts: 3, DialInterval: 10 * time.Millisecond}
	session, err := starter.Start(ctx, testOptions(), callbacks)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session.(*Session)
}

func TestStartConfiguresBot(t *testing.T) {
	cli, url := newFakeCLI(t)
	session := startSession(t, url, engine.Callbacks{})

	require.Equal(t, int64(1), session.userID)

	cmds := cli.commands()
	require.Len(t, cmds, 5)
	require.Equal(t, "/user", cmds[0])
	require.True(t, strings.HasPrefix(cmds[1], "/_profile 1 {"), cmds[1])
	require.Contains(t, cmds[1], `"displayName":"Fee Bot"`)
	require.Contains(t, cmds[1], `"peerType":"bot"`)
	require.Contains(t, cmds[1], `"keyword":"help"`)
	require.Equal(t, []string{"/show_address", "/address", `/auto_accept on incognito=off json {"type":"text","text":"Welcome!\n\nUse /help"}`}, cmds[2:])
	require.NotContains(t, cmds[4], "\n", "the command must stay on one line")
}

func TestStartCreatesMissingUser(t *testing.T) {
	cli, url := newFakeCLI(t)
	cli.noUser = true

	session := startSession(t, url, engine.Callbacks{})
	require.Equal(t, int64(7), session.userID)

	cmds := cli.commands()
	require.True(t, strings.HasPrefix(cmds[1], "/_create user {"), cmds[1])
	require.True(t, strings.HasPrefix(cmds[2], "/_profile 7 "), cmds[2])
}

func TestStartFailsWhenUnreachable(t *testing.T) {
	srv := httptest.NewServer(websocket.Handler(func(*websocket.Conn) {}))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	starter := Starter{URL: url, Log: logger.Discard(), DialAttempts: 2, DialInterval: 10 * time.Millisecond}
	_, err := starter.Start(context.Background(), testOptions(), engine.Callbacks{})
	require.Error(t, err)
}

func TestSendDirect(t *testing.T) {
	cli, url := newFakeCLI(t)
	session := startSession(t, url, engine.Callbacks{})

	require.NoError(t, session.SendDirect(context.Background(), 5, "line one\nline two"))
	cmds := cli.commands()
	require.Equal(t, `/_send @5 json [{"msgContent":{"type":"text","text":"line one\nline two"}}]`, cmds[len(cmds)-1])

	err := session.SendDirect(context.Background(), 6, "hi")
	var respErr *ResponseError
	require.True(t, errors.As(err, &respErr), "got %v", err)
	require.Equal(t, "chatCmdError", respErr.Type)
	require.Contains(t, err.Error(), "contactNotFound")
}

func TestQueryReturnsRawResponse(t *testing.T) {
	_, url := newFakeCLI(t)
	session := startSession(t, url, engine.Callbacks{})

	raw, err := session.Query(context.Background(), engine.QueryContacts)
	require.NoError(t, err)
	require.Len(t, contactList(raw), 1)
	require.Equal(t, "contactsList", responseType(raw))
}

func TestQueryAfterCloseFails(t *testing.T) {
	_, url := newFakeCLI(t)
	session := startSession(t, url, engine.Callbacks{})

	require.NoError(t, session.Close())
	_, err := session.Query(context.Background(), engine.QueryContacts)
	require.ErrorIs(t, err, ErrClosed)
}

func TestEventsReachCallbacks(t *testing.T) {
	cli, url := newFakeCLI(t)

	messages := make(chan engine.Content, 4)
	commands := make(chan engine.Command, 4)
	contacts := make(chan engine.Notification, 4)
	startSession(t, url, engine.Callbacks{
		OnMessage: func(_ engine.ChatItem, c engine.Content) { messages <- c },
		OnCommand: func(_ engine.ChatItem, c engine.Command) { commands <- c },
		OnEvent: map[string]func(engine.Notification){
			engine.EventContactConnected: func(n engine.Notification) { contacts <- n },
		},
	})

	cli.send(`{"resp":{"type":"newChatItems","chatItems":[` +
		`{"chatInfo":{"type":"direct","contact":{"contactId":5,"localDisplayName":"al","profile":{"displayName":"alice"}}},` +
		`"chatItem":{"meta":{"itemId":11},"chatDir":{"type":"directRcv"},"content":{"type":"rcvMsgContent","msgContent":{"type":"text","text":"/subscribe btc"}}}},` +
		`{"chatInfo":{"type":"direct","contact":{"contactId":5}},` +
		`"chatItem":{"meta":{"itemId":12},"chatDir":{"type":"directSnd"},"content":{"type":"sndMsgContent","msgContent":{"type":"text","text":"ours"}}}}]}}`)
	cli.send(`{"resp":{"Right":{"type":"contactConnected","contact":{"contactId":9,"localDisplayName":"bob","profile":{"displayName":""}}}}}`)

	select {
	case c := <-messages:
		require.Equal(t, "/subscribe btc", c.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("message callback not invoked")
	}
	select {
	case c := <-commands:
		require.Equal(t, engine.Command{Keyword: "subscribe", Params: "btc"}, c)
	case <-time.After(2 * time.Second):
		t.Fatal("command callback not invoked")
	}
	select {
	case n := <-contacts:
		require.Equal(t, &engine.Contact{ContactID: 9, DisplayName: "bob"}, n.Contact)
	case <-time.After(2 * time.Second):
		t.Fatal("event callback not invoked")
	}

	require.Empty(t, messages, "sent items must not be dispatched")
}

func TestUnwrap(t *testing.T) {
	resp, err := unwrap(json.RawMessage(`{"Right":{"type":"cmdOk"}}`))
	require.NoError(t, err)
	require.Equal(t, "cmdOk", responseType(resp))

	resp, err = unwrap(json.RawMessage(`{"type":"contactsList","contacts":[]}`))
	require.NoError(t, err)
	require.Equal(t, "contactsList", responseType(resp))

	_, err = unwrap(json.RawMessage(`{"Left":{"type":"errorAgent"}}`))
	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
	require.Equal(t, "errorAgent", respErr.Type)

	_, err = unwrap(json.RawMessage(`{"type":"chatCmdError","chatError":{"type":"errorStore"}}`))
	require.ErrorAs(t, err, &respErr)
	require.Equal(t, "chatCmdError", respErr.Type)

	_, err = unwrap(json.RawMessage(`not json`))
	require.Error(t, err)
}

func TestAutoAcceptCommand(t *testing.T) {
	cmd, err := autoAcceptCommand("")
	require.NoError(t, err)
	require.Equal(t, "/auto_accept on incognito=off", cmd)

	cmd, err = autoAcceptCommand("Hi \"there\"\nline two")
	require.NoError(t, err)
	require.Equal(t, `/auto_accept on incognito=off json {"type":"text","text":"Hi \"there\"\nline two"}`, cmd)
}

func TestCLIArgs(t *testing.T) {
	args, err := cliArgs("ws://127.0.0.1:5225", "./simplex_bot", "")
	require.NoError(t, err)
	require.Equal(t, []string{"-p", "5225", "-d", "./simplex_bot"}, args)

	args, err = cliArgs("ws://127.0.0.1:5225", "", "secret")
	require.NoError(t, err)
	require.Equal(t, []string{"-p", "5225", "--key", "secret"}, args)

	_, err = cliArgs("ws://127.0.0.1", "", "")
	require.Error(t, err)
}
