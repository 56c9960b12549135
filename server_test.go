package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-dictation/internal/server"
)

func newTestServer(t *testing.T) (*httptest.Server, *App) {
	t.Helper()
	app, cfg := newTestApp(t, &levelOpener{level: speechThenSilence(0)}, "")
	srv := httptest.NewServer(NewServer(cfg, app, nil).SetupRoutes())
	t.Cleanup(srv.Close)
	return srv, app
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func TestWebSocketSendsStatusAndHandlesCommands(t *testing.T) {
	srv, app := newTestServer(t)
	conn := dial(t, srv)

	var status server.Status
	require.NoError(t, conn.ReadJSON(&status))
	assert.Equal(t, "status", status.Type)
	assert.Equal(t, server.StateIdle, status.State)

	require.Eventually(t, func() bool { return app.Hub().Clients() == 1 }, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(server.WSCommand{Type: "session/cancel", ID: "c1"}))

	// The command reply and the triggered status may arrive in either order.
	var reply map[string]any
	for reply == nil {
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		if msg["type"] == "session/cancel_result" {
			reply = msg
		}
	}
	assert.Equal(t, "c1", reply["id"])
	assert.Equal(t, false, reply["success"])
	assert.Equal(t, server.ErrNoActiveSession.Error(), reply["error"])
}

func TestWebSocketForwardsHubMessages(t *testing.T) {
	srv, app := newTestServer(t)
	conn := dial(t, srv)

	var status server.Status
	require.NoError(t, conn.ReadJSON(&status))
	require.Eventually(t, func() bool { return app.Hub().Clients() == 1 }, 5*time.Second, 5*time.Millisecond)

	app.Hub().Publish(server.TranscriptMessage{Type: "transcript", SessionID: "s1", Text: "hello"})

	for {
		var msg server.TranscriptMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == "transcript" {
			assert.Equal(t, "hello", msg.Text)
			return
		}
	}
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	srv, _ := newTestServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "go_goroutines")
}
