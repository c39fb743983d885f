package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artepatrick/realtime-server-backend/config"
	"github.com/artepatrick/realtime-server-backend/protocol"
)

func testWSConfig() *config.WebSocketConfig {
	return &config.WebSocketConfig{
		PingInterval:     30,
		PongGrace:        60,
		WriteTimeout:     5,
		MessageSizeLimit: 1 << 20,
	}
}

// dialTestClient upgrades a loopback connection and returns both ends.
func dialTestClient(t *testing.T, cfg *config.WebSocketConfig) (*ClientConnection, *websocket.Conn) {
	t.Helper()

	upgraded := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
		conn, err := up.Upgrade(w, r, nil)
		require.NoError(t, err)
		upgraded <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	peer, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { peer.Close() })

	serverConn := <-upgraded
	client := NewClientConnection("client-1", serverConn, cfg, nil)
	t.Cleanup(func() { client.Close(websocket.CloseNormalClosure, "test done") })
	return client, peer
}

func TestCanAccess(t *testing.T) {
	testCases := []struct {
		name     string
		scopes   []string
		action   string
		resource string
		expected bool
	}{
		{
			name:     "exact scope match",
			scopes:   []string{"send:response.create"},
			action:   "send",
			resource: "response.create",
			expected: true,
		},
		{
			name:     "wildcard scope match",
			scopes:   []string{"send:input_audio_buffer.*"},
			action:   "send",
			resource: "input_audio_buffer.append",
			expected: true,
		},
		{
			name:     "full wildcard",
			scopes:   []string{"send:*"},
			action:   "send",
			resource: "session.update",
			expected: true,
		},
		{
			name:     "no matching scope",
			scopes:   []string{"send:session.update"},
			action:   "send",
			resource: "response.create",
			expected: false,
		},
		{
			name:     "wrong action",
			scopes:   []string{"receive:response.create"},
			action:   "send",
			resource: "response.create",
			expected: false,
		},
		{
			name:     "empty scopes",
			scopes:   []string{},
			action:   "send",
			resource: "response.create",
			expected: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			client := &ClientConnection{
				ID:     "client-1",
				claims: &CustomClaims{Scopes: tc.scopes},
			}
			assert.Equal(t, tc.expected, client.CanAccess(tc.action, tc.resource))
		})
	}
}

func TestCanAccessWithoutClaims(t *testing.T) {
	// Auth disabled: every event type is allowed.
	client := &ClientConnection{ID: "client-1"}
	assert.True(t, client.CanAccess("send", "response.create"))
}

func TestWriteEventDeliversJSON(t *testing.T) {
	client, peer := dialTestClient(t, testWSConfig())

	require.NoError(t, client.WriteEvent(protocol.NewConnectionEstablished("client-1")))

	var got map[string]any
	require.NoError(t, peer.ReadJSON(&got))
	assert.Equal(t, "connection.established", got["type"])
	assert.Equal(t, "client-1", got["client_id"])
}

func TestWriteEventAfterClose(t *testing.T) {
	client, _ := dialTestClient(t, testWSConfig())

	require.NoError(t, client.Close(websocket.CloseNormalClosure, "bye"))
	assert.False(t, client.IsOpen())
	assert.Error(t, client.WriteEvent(protocol.NewConnectionEstablished("client-1")))

	// Second close is a no-op.
	assert.NoError(t, client.Close(websocket.CloseNormalClosure, "bye"))
}

func TestWriteEventStalledPeerTimesOut(t *testing.T) {
	cfg := testWSConfig()
	cfg.WriteTimeout = 1
	client, _ := dialTestClient(t, cfg)

	// The peer never reads, so a payload larger than both socket buffers
	// forces the write to block until the deadline fires.
	payload := strings.Repeat("a", 16<<20)
	errCh := make(chan error, 1)
	go func() {
		errCh <- client.WriteEvent(protocol.Event{
			"type":  "response.text.delta",
			"delta": payload,
		})
	}()

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("write to a stalled client never timed out")
	}
}

func TestMarkAliveAdvancesLastAlive(t *testing.T) {
	client := &ClientConnection{ID: "client-1"}
	client.lastLiveness.Store(time.Now().Add(-time.Hour).UnixNano())

	stale := client.LastAlive()
	client.MarkAlive()
	assert.True(t, client.LastAlive().After(stale))
}

func TestCheckLivenessEvictsStaleClient(t *testing.T) {
	cfg := testWSConfig()
	manager := NewClientManager()
	client, _ := dialTestClient(t, cfg)
	manager.AddClient(client)

	// Fresh client survives the sweep.
	evicted := make(map[string]bool)
	manager.CheckLiveness(time.Now(), 60*time.Second, func(id string) { evicted[id] = true })
	assert.Empty(t, evicted)

	// No liveness evidence past the grace period: evicted and closed.
	manager.CheckLiveness(time.Now().Add(61*time.Second), 60*time.Second, func(id string) {
		evicted[id] = true
		manager.RemoveClient(id)
	})
	assert.True(t, evicted[client.ID])
	assert.False(t, client.IsOpen())
	assert.Equal(t, 0, manager.Count())
}

func TestCheckLivenessEvictsClosedClient(t *testing.T) {
	manager := NewClientManager()
	client, _ := dialTestClient(t, testWSConfig())
	manager.AddClient(client)
	client.Close(websocket.CloseNormalClosure, "gone")

	var evicted []string
	manager.CheckLiveness(time.Now(), 60*time.Second, func(id string) {
		evicted = append(evicted, id)
		manager.RemoveClient(id)
	})
	assert.Equal(t, []string{client.ID}, evicted)
}

func TestClientManagerAddRemove(t *testing.T) {
	manager := NewClientManager()
	client := &ClientConnection{ID: "client-1", closed: true}

	manager.AddClient(client)
	assert.Equal(t, 1, manager.Count())

	got, ok := manager.GetClient("client-1")
	require.True(t, ok)
	assert.Same(t, client, got)

	manager.RemoveClient("client-1")
	assert.Equal(t, 0, manager.Count())
	manager.RemoveClient("client-1") // repeated removal is safe
}
