package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/net/websocket"

	"simplexbridge/pkg/bus"
	"simplexbridge/pkg/engine"
	"simplexbridge/pkg/engine/mocks"
	"simplexbridge/pkg/logger"
)

func newHTTPService(t *testing.T, production bool) (*Service, *httptest.Server) {
	t.Helper()

	cfg := testConfig()
	if production {
		cfg.Mode.NodeEnv = "production"
	}

	svc, err := NewService(cfg, bus.NewRegistry(logger.Discard()), logger.Discard())
	require.NoError(t, err)

	srv := httptest.NewServer(svc.Handler())
	t.Cleanup(srv.Close)
	return svc, srv
}

func subscribe(t *testing.T, svc *Service, baseURL string) *websocket.Conn {
	t.Helper()

	before := svc.registry.Len()
	conn, err := websocket.Dial("ws"+strings.TrimPrefix(baseURL, "http")+"/", "", baseURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return svc.registry.Len() == before+1 }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func nextFrame(conn *websocket.Conn, wait time.Duration) (map[string]any, error) {
	if err := conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		return nil, err
	}
	var raw string
	if err := websocket.Message.Receive(conn, &raw); err != nil {
		return nil, err
	}
	var frame map[string]any
	err := json.Unmarshal([]byte(raw), &frame)
	return frame, err
}

func postJSON(t *testing.T, url string, body string) (int, map[string]any) {
	t.Helper()

	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var payload map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(raw, &payload))
	}
	return resp.StatusCode, payload
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var payload map[string]any
	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	}
	return resp.StatusCode, payload
}

func TestSendToSyntheticContactReachesSubscribers(t *testing.T) {
	svc, srv := newHTTPService(t, false)
	connect(t, svc)
	conn := subscribe(t, svc, srv.URL)

	status, body := postJSON(t, srv.URL+"/send", `{"contactId":90001,"text":"hi"}`)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, map[string]any{"success": true}, body)

	frame, err := nextFrame(conn, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, "botResponse", frame["type"])
	require.Equal(t, float64(90001), frame["contactId"])
	require.Equal(t, "hi", frame["text"])
	require.IsType(t, float64(0), frame["messageId"])
}

func TestSendWithInvalidContactBroadcastsNothing(t *testing.T) {
	svc, srv := newHTTPService(t, false)
	connect(t, svc)
	conn := subscribe(t, svc, srv.URL)

	status, body := postJSON(t, srv.URL+"/send", `{"contactId":-1,"text":"hi"}`)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "Invalid contactId", body["error"])
	require.Equal(t, ErrorInvalidInput, body["code"])

	_, err := nextFrame(conn, 200*time.Millisecond)
	require.Error(t, err, "no event expected")
}

func TestSendErrorStatuses(t *testing.T) {
	svc, srv := newHTTPService(t, false)

	status, body := postJSON(t, srv.URL+"/send", `{"contactId":5,"text":"hi"}`)
	require.Equal(t, http.StatusServiceUnavailable, status)
	require.Equal(t, "Not connected to SimpleX", body["error"])

	status, body = postJSON(t, srv.URL+"/send", `{"text":"hi"}`)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "contactId and text are required", body["error"])

	status, _ = postJSON(t, srv.URL+"/send", ``)
	require.Equal(t, http.StatusBadRequest, status)

	status, body = postJSON(t, srv.URL+"/send", `{"contactId":`)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, ErrorInvalidInput, body["code"])

	session := connect(t, svc)
	session.EXPECT().SendDirect(gomock.Any(), int64(5), "hi").Return(errors.New("chat core rejected message"))

	status, body = postJSON(t, srv.URL+"/send", `{"contactId":"5","text":"hi"}`)
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, "chat core rejected message", body["error"])
	require.Equal(t, ErrorEngine, body["code"])
}

func TestAddressAndContactsRoutes(t *testing.T) {
	svc, srv := newHTTPService(t, false)

	status, _ := getJSON(t, srv.URL+"/address")
	require.Equal(t, http.StatusServiceUnavailable, status)

	session := connect(t, svc)
	session.EXPECT().Query(gomock.Any(), engine.QueryShowAddress).Return(json.RawMessage(`{"type":"userContactLink","contactLink":"simplex:/contact#abc"}`), nil)
	session.EXPECT().Query(gomock.Any(), engine.QueryContacts).Return(json.RawMessage(`{"type":"contactsList","contacts":[]}`), nil)

	status, body := getJSON(t, srv.URL+"/address")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, map[string]any{"type": "userContactLink", "contactLink": "simplex:/contact#abc"}, body["address"])

	status, body = getJSON(t, srv.URL+"/contacts")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "contactsList", body["type"])
}

func TestSimulateRoute(t *testing.T) {
	svc, srv := newHTTPService(t, false)
	conn := subscribe(t, svc, srv.URL)

	status, body := postJSON(t, srv.URL+"/test/simulate_message", `{"contactId":90001,"text":"/subscribe"}`)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, body["success"])

	frame, err := nextFrame(conn, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, "newMessage", frame["type"])
	require.Equal(t, "TestUser", frame["displayName"])
	require.Equal(t, "/subscribe", frame["text"])
}

func TestSimulateRouteAbsentInProduction(t *testing.T) {
	_, srv := newHTTPService(t, true)

	status, _ := postJSON(t, srv.URL+"/test/simulate_message", `{"contactId":90001,"text":"hi"}`)
	require.Equal(t, http.StatusNotFound, status)
}

func TestHealthRoute(t *testing.T) {
	svc, srv := newHTTPService(t, false)
	subscribe(t, svc, srv.URL)

	status, body := getJSON(t, srv.URL+"/health")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, map[string]any{"status": "disconnected", "clients": float64(1)}, body)

	connect(t, svc)
	_, body = getJSON(t, srv.URL+"/health")
	require.Equal(t, "connected", body["status"])
}

func TestServeStartsEngineAfterListening(t *testing.T) {
	svc, err := NewService(testConfig(), nil, logger.Discard())
	require.NoError(t, err)

	ctrl := gomock.NewController(t)
	starter := mocks.NewMockStarter(ctrl)
	session := mocks.NewMockSession(ctrl)

	release := make(chan struct{})
	starter.EXPECT().Start(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, opts engine.Options, callbacks engine.Callbacks) (engine.Session, error) {
			if opts.Profile.DisplayName != "Fee Bot" || callbacks.OnMessage == nil {
				t.Errorf("unexpected start options %+v", opts)
			}
			<-release
			return session, nil
		})
	session.EXPECT().Close().Return(nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	baseURL := "http://" + ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx, ln, starter, EngineOptions(testConfig(), "")) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(baseURL + "/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var health Health
		return json.NewDecoder(resp.Body).Decode(&health) == nil && health.Status == StatusDisconnected
	}, 2*time.Second, 10*time.Millisecond)

	close(release)
	require.Eventually(t, func() bool { return svc.Health().Status == StatusConnected }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	require.Equal(t, StatusDisconnected, svc.Health().Status)
}

func TestServeReportsStartupFailure(t *testing.T) {
	svc, err := NewService(testConfig(), nil, logger.Discard())
	require.NoError(t, err)

	starter := mocks.NewMockStarter(gomock.NewController(t))
	starter.EXPECT().Start(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("simplex cli not reachable"))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	err = svc.Serve(context.Background(), ln, starter, engine.Options{})
	require.Equal(t, ErrorStartupFailure, CategoryOf(err))
	require.ErrorContains(t, errors.Unwrap(err), "simplex cli not reachable")
}
