package sync

import (
	"net"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpapi "github.com/imarenge/promptcast/internal/api/http"
	"github.com/imarenge/promptcast/internal/domain"
	"github.com/imarenge/promptcast/internal/service"
)

func relayRouter(accessKey string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	svc := service.NewRelayService(discardLogger())
	ctrl := httpapi.NewRelayController(svc, discardLogger(), accessKey, 64*1024)
	return httpapi.SetupRouter(ctrl)
}

func newRelayServer(t *testing.T, accessKey string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(relayRouter(accessKey))
	t.Cleanup(srv.Close)
	return srv
}

func wsEndpoint(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func newRelaySession(t *testing.T, role domain.Role, serverURL, accessKey string) *Session {
	t.Helper()

	session, err := NewSession(Options{
		Logger:         discardLogger(),
		Broker:         NewBroker(),
		InitialRole:    role,
		Enabled:        true,
		ServerURL:      serverURL,
		AccessKey:      accessKey,
		ReconnectDelay: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })

	return session
}

func TestCrossDeviceSyncOverRelay(t *testing.T) {
	srv := newRelayServer(t, "stage-key")

	host := newRelaySession(t, domain.RoleHost, wsEndpoint(srv), "stage-key")
	viewer := newRelaySession(t, domain.RoleViewer, wsEndpoint(srv), "stage-key")

	require.Eventually(t, func() bool {
		return host.RelayConnected() && viewer.RelayConnected()
	}, 3*time.Second, 20*time.Millisecond, "sessions did not reach the relay")

	hostState := NewSyncedState(host, "teleprompter-speed", 50.0)
	viewerState := NewSyncedState(viewer, "teleprompter-speed", 50.0)
	defer hostState.Close()
	defer viewerState.Close()

	hostState.Set(72.0)

	require.Eventually(t, func() bool { return viewerState.Get() == 72.0 },
		3*time.Second, 20*time.Millisecond, "update did not cross devices")

	// The relay's count of others is authoritative for the network channel.
	// It is only reported on accept and on churn, so the earlier-connected
	// host still sees the count from its own greeting.
	require.Eventually(t, func() bool { return viewer.PeerCount() == 1 },
		3*time.Second, 20*time.Millisecond)
	assert.Zero(t, host.PeerCount())

	// Churn updates everyone who stays: a third device joins and leaves, and
	// the host finally learns there is one other party left.
	third := newRelaySession(t, domain.RoleViewer, wsEndpoint(srv), "stage-key")
	require.Eventually(t, func() bool { return third.RelayConnected() },
		3*time.Second, 20*time.Millisecond)
	require.NoError(t, third.Close())

	require.Eventually(t, func() bool { return host.PeerCount() == 1 },
		3*time.Second, 20*time.Millisecond)
}

func TestViewerCannotDriveRelayPeers(t *testing.T) {
	srv := newRelayServer(t, "")

	viewer := newRelaySession(t, domain.RoleViewer, wsEndpoint(srv), "")
	host := newRelaySession(t, domain.RoleHost, wsEndpoint(srv), "")

	require.Eventually(t, func() bool {
		return viewer.RelayConnected() && host.RelayConnected()
	}, 3*time.Second, 20*time.Millisecond)

	viewerState := NewSyncedState(viewer, "teleprompter-isPlaying", false)
	hostState := NewSyncedState(host, "teleprompter-isPlaying", false)
	defer viewerState.Close()
	defer hostState.Close()

	viewerState.Set(true)

	time.Sleep(300 * time.Millisecond)
	assert.False(t, viewerState.Get(), "viewer write applied locally")
	assert.False(t, hostState.Get(), "viewer write reached a peer")
}

func TestRelayDownDegradesToTabSync(t *testing.T) {
	// Reserve an address nobody is listening on yet.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	broker := NewBroker()

	host, err := NewSession(Options{
		Logger:         discardLogger(),
		Broker:         broker,
		InitialRole:    domain.RoleHost,
		Enabled:        true,
		ServerURL:      "ws://" + addr + "/ws",
		ReconnectDelay: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	defer host.Close()

	viewerTab := newTestSession(t, broker, domain.RoleViewer)

	hostState := NewSyncedState(host, "teleprompter-position", 0)
	tabState := NewSyncedState(viewerTab, "teleprompter-position", 0)
	defer hostState.Close()
	defer tabState.Close()

	// With the relay unreachable the write still lands locally and keeps
	// sibling tabs in sync.
	hostState.Set(42)
	assert.Equal(t, 42, hostState.Get())
	require.Eventually(t, func() bool { return tabState.Get() == 42 },
		time.Second, 10*time.Millisecond, "tab sync broke while relay was down")
	assert.False(t, host.RelayConnected())
	assert.True(t, hostState.Status().Connected, "local-only sync should still report connected")

	// Bring the relay up on the reserved address: the client reconnects on
	// its own within the retry interval, no restart required.
	var l2 net.Listener
	require.Eventually(t, func() bool {
		l2, err = net.Listen("tcp", addr)
		return err == nil
	}, 3*time.Second, 50*time.Millisecond, "could not rebind reserved address")

	srv := &nethttp.Server{Handler: relayRouter("")}
	go srv.Serve(l2)
	defer srv.Close()

	require.Eventually(t, func() bool { return host.RelayConnected() },
		5*time.Second, 50*time.Millisecond, "client did not reconnect")
}
