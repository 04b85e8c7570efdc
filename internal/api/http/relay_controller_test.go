package http

import (
	"encoding/json"
	"io"
	"log/slog"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imarenge/promptcast/internal/domain"
	"github.com/imarenge/promptcast/internal/service"
)

func newTestServer(t *testing.T, accessKey string) *httptest.Server {
	t.Helper()

	gin.SetMode(gin.TestMode)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	relayService := service.NewRelayService(log)
	controller := NewRelayController(relayService, log, accessKey, 64*1024)
	srv := httptest.NewServer(SetupRouter(controller))
	t.Cleanup(srv.Close)

	return srv
}

func dial(t *testing.T, srv *httptest.Server, key string) (*websocket.Conn, domain.Message) {
	t.Helper()

	endpoint := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if key != "" {
		endpoint += "?key=" + key
	}

	conn, _, err := websocket.DefaultDialer.Dial(endpoint, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var greeting domain.Message
	require.NoError(t, conn.ReadJSON(&greeting))
	require.Equal(t, domain.TypeConnected, greeting.Type)

	return conn, greeting
}

func readMessage(t *testing.T, conn *websocket.Conn) domain.Message {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg domain.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func assertSilent(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err, "expected no frame")
	conn.SetReadDeadline(time.Time{})
}

func TestGreetingCountsOthers(t *testing.T) {
	srv := newTestServer(t, "")

	_, greetA := dial(t, srv, "")
	require.NotNil(t, greetA.TotalClients)
	assert.Equal(t, 0, *greetA.TotalClients)
	assert.NotEmpty(t, greetA.DeviceID)

	_, greetB := dial(t, srv, "")
	require.NotNil(t, greetB.TotalClients)
	assert.Equal(t, 1, *greetB.TotalClients)
	assert.NotEqual(t, greetA.DeviceID, greetB.DeviceID)
}

func TestFanOutExcludesSender(t *testing.T) {
	srv := newTestServer(t, "")

	connA, _ := dial(t, srv, "")
	connB, _ := dial(t, srv, "")
	connC, _ := dial(t, srv, "")

	update, err := domain.NewStateUpdate(domain.Device{ID: "device-a"}, domain.RoleHost, "teleprompter-speed", 65.0)
	require.NoError(t, err)
	require.NoError(t, connA.WriteJSON(update))

	for _, conn := range []*websocket.Conn{connB, connC} {
		msg := readMessage(t, conn)
		assert.Equal(t, domain.TypeStateUpdate, msg.Type)
		assert.Equal(t, "device-a", msg.DeviceID)
	}

	assertSilent(t, connA)
}

func TestRelayForwardsVerbatim(t *testing.T) {
	srv := newTestServer(t, "")

	connA, _ := dial(t, srv, "")
	connB, _ := dial(t, srv, "")

	frame := []byte(`{"type":"PING","timestamp":123,"deviceId":"device-a","extra":"kept"}`)
	require.NoError(t, connA.WriteMessage(websocket.TextMessage, frame))

	require.NoError(t, connB.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, got, err := connB.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, string(frame), string(got))
}

func TestChurnCountUpdate(t *testing.T) {
	srv := newTestServer(t, "")

	connA, _ := dial(t, srv, "")
	connB, _ := dial(t, srv, "")
	connC, _ := dial(t, srv, "")

	require.NoError(t, connC.Close())

	for _, conn := range []*websocket.Conn{connA, connB} {
		msg := readMessage(t, conn)
		assert.Equal(t, domain.TypeClientCountUpdate, msg.Type)
		require.NotNil(t, msg.TotalClients)
		assert.Equal(t, 1, *msg.TotalClients, "count should exclude the recipient")
	}
}

func TestMalformedFrameDoesNotCrashRelay(t *testing.T) {
	srv := newTestServer(t, "")

	connA, _ := dial(t, srv, "")
	connB, _ := dial(t, srv, "")

	require.NoError(t, connA.WriteMessage(websocket.TextMessage, []byte("this is not json{{{")))

	// The bad frame is dropped, not forwarded, and the connection survives.
	assertSilent(t, connB)

	resp, err := nethttp.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, nethttp.StatusOK, resp.StatusCode)

	var health struct {
		Service     string `json:"service"`
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 2, health.Connections)
	assert.NotEmpty(t, health.Uptime)

	// The offending client is still being served too.
	update, err := domain.NewStateUpdate(domain.Device{ID: "device-a"}, domain.RoleHost, "teleprompter-speed", 42.0)
	require.NoError(t, err)
	require.NoError(t, connA.WriteJSON(update))
	msg := readMessage(t, connB)
	assert.Equal(t, domain.TypeStateUpdate, msg.Type)
}

func TestAccessKeyEnforcement(t *testing.T) {
	srv := newTestServer(t, "stage-key")

	endpoint := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(endpoint, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, nethttp.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(endpoint+"?key=wrong", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, nethttp.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(endpoint+"?key=stage-key", nil)
	require.NoError(t, err)
	conn.Close()
}

func TestUnknownPathReturnsJSONError(t *testing.T) {
	srv := newTestServer(t, "")

	resp, err := nethttp.Get(srv.URL + "/nope")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, nethttp.StatusNotFound, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "not found", body["error"])
}
