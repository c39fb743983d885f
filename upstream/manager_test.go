package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artepatrick/realtime-server-backend/protocol"
)

// mockUpstream is a minimal WebSocket endpoint standing in for the
// streaming API. It records handshake details and echoes or emits frames
// on demand.
type mockUpstream struct {
	srv *httptest.Server

	mu       sync.Mutex
	authz    string
	beta     string
	model    string
	received []protocol.Event
	conns    []*websocket.Conn
}

func newMockUpstream(t *testing.T) *mockUpstream {
	t.Helper()
	m := &mockUpstream{}
	m.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.authz = r.Header.Get("Authorization")
		m.beta = r.Header.Get("OpenAI-Beta")
		m.model = r.URL.Query().Get("model")
		m.mu.Unlock()

		up := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		m.mu.Lock()
		m.conns = append(m.conns, conn)
		m.mu.Unlock()

		for {
			var ev protocol.Event
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			m.mu.Lock()
			m.received = append(m.received, ev)
			m.mu.Unlock()
		}
	}))
	t.Cleanup(m.srv.Close)
	return m
}

func (m *mockUpstream) endpoint() string {
	return "ws" + strings.TrimPrefix(m.srv.URL, "http")
}

func (m *mockUpstream) send(t *testing.T, ev protocol.Event) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.conns)
	require.NoError(t, m.conns[len(m.conns)-1].WriteJSON(ev))
}

func (m *mockUpstream) lastReceived() []protocol.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]protocol.Event, len(m.received))
	copy(out, m.received)
	return out
}

func newTestManager(t *testing.T, mock *mockUpstream) *Manager {
	t.Helper()
	m := NewManager(Config{
		Endpoint:       mock.endpoint(),
		Model:          "test-model",
		APIKey:         "sk-test",
		ConnectTimeout: 2 * time.Second,
	})
	t.Cleanup(m.CloseAll)
	return m
}

func TestCreateConnection(t *testing.T) {
	mock := newMockUpstream(t)
	manager := newTestManager(t, mock)

	id, err := manager.CreateConnection(context.Background(), "client-1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "upc_"))
	assert.Equal(t, 1, manager.Count())

	mock.mu.Lock()
	defer mock.mu.Unlock()
	assert.Equal(t, "Bearer sk-test", mock.authz)
	assert.Equal(t, "realtime=v1", mock.beta)
	assert.Equal(t, "test-model", mock.model)
}

func TestCreateConnectionRefused(t *testing.T) {
	manager := NewManager(Config{
		Endpoint:       "ws://127.0.0.1:1", // nothing listens here
		Model:          "test-model",
		APIKey:         "sk-test",
		ConnectTimeout: time.Second,
	})

	_, err := manager.CreateConnection(context.Background(), "client-1")
	require.Error(t, err)
	assert.Equal(t, 0, manager.Count())
}

func TestSendEventAssignsEventID(t *testing.T) {
	mock := newMockUpstream(t)
	manager := newTestManager(t, mock)

	id, err := manager.CreateConnection(context.Background(), "client-1")
	require.NoError(t, err)

	eventID, err := manager.SendEvent(id, protocol.Event{"type": "response.create"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(eventID, "evt_"))

	require.Eventually(t, func() bool {
		return len(mock.lastReceived()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, eventID, mock.lastReceived()[0].ID())
}

func TestSendEventKeepsCallerEventID(t *testing.T) {
	mock := newMockUpstream(t)
	manager := newTestManager(t, mock)

	id, err := manager.CreateConnection(context.Background(), "client-1")
	require.NoError(t, err)

	ev := protocol.Event{"type": "session.update", "event_id": "evt_caller"}
	eventID, err := manager.SendEvent(id, ev)
	require.NoError(t, err)
	assert.Equal(t, "evt_caller", eventID)
}

func TestSendEventUnknownConnection(t *testing.T) {
	mock := newMockUpstream(t)
	manager := newTestManager(t, mock)

	_, err := manager.SendEvent("upc_missing", protocol.Event{"type": "response.create"})
	assert.ErrorIs(t, err, ErrConnectionNotFound)
}

func TestMessageHandlerReceivesInboundEvents(t *testing.T) {
	mock := newMockUpstream(t)
	manager := newTestManager(t, mock)

	id, err := manager.CreateConnection(context.Background(), "client-1")
	require.NoError(t, err)

	events := make(chan protocol.Event, 4)
	require.NoError(t, manager.SetMessageHandler(id, func(ev protocol.Event) {
		events <- ev
	}))

	mock.send(t, protocol.Event{"type": "session.created", "session": map[string]any{"id": "s-1"}})

	select {
	case ev := <-events:
		assert.Equal(t, "session.created", ev.Type())
	case <-time.After(2 * time.Second):
		t.Fatal("handler never received the event")
	}
}

func TestMessageHandlerReplaysFramesReadBeforeAttach(t *testing.T) {
	// The real upstream greets with session.created and
	// conversation.created immediately after the handshake, before the
	// caller has had a chance to attach a handler.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteJSON(protocol.Event{"type": "session.created", "session": map[string]any{"id": "s-1"}})
		conn.WriteJSON(protocol.Event{"type": "conversation.created", "conversation": map[string]any{"id": "c-1"}})
	}))
	t.Cleanup(srv.Close)

	manager := NewManager(Config{
		Endpoint:       "ws" + strings.TrimPrefix(srv.URL, "http"),
		Model:          "test-model",
		APIKey:         "sk-test",
		ConnectTimeout: 2 * time.Second,
	})
	t.Cleanup(manager.CloseAll)

	id, err := manager.CreateConnection(context.Background(), "client-1")
	require.NoError(t, err)

	// Let the read loop consume both greeting frames while no handler
	// exists yet.
	time.Sleep(200 * time.Millisecond)

	events := make(chan protocol.Event, 4)
	require.NoError(t, manager.SetMessageHandler(id, func(ev protocol.Event) {
		events <- ev
	}))

	for _, want := range []string{"session.created", "conversation.created"} {
		select {
		case ev := <-events:
			assert.Equal(t, want, ev.Type())
		case <-time.After(2 * time.Second):
			t.Fatalf("handler never received %s", want)
		}
	}
}

func TestSendEventStalledUpstreamTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
		// Accept the socket and never read from it.
		up.Upgrade(w, r, nil)
	}))
	t.Cleanup(srv.Close)

	manager := NewManager(Config{
		Endpoint:       "ws" + strings.TrimPrefix(srv.URL, "http"),
		Model:          "test-model",
		APIKey:         "sk-test",
		ConnectTimeout: 2 * time.Second,
		WriteTimeout:   time.Second,
	})
	t.Cleanup(manager.CloseAll)

	id, err := manager.CreateConnection(context.Background(), "client-1")
	require.NoError(t, err)

	// Big enough to overflow both socket buffers so the write must block.
	payload := strings.Repeat("a", 16<<20)
	errCh := make(chan error, 1)
	go func() {
		_, err := manager.SendEvent(id, protocol.Event{
			"type":  "input_audio_buffer.append",
			"audio": payload,
		})
		errCh <- err
	}()

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("write to a stalled upstream never timed out")
	}
}

func TestWaitForEvent(t *testing.T) {
	mock := newMockUpstream(t)
	manager := newTestManager(t, mock)

	id, err := manager.CreateConnection(context.Background(), "client-1")
	require.NoError(t, err)

	done := make(chan protocol.Event, 1)
	go func() {
		ev, err := manager.WaitForEvent(id, "session.created", 2*time.Second)
		if err == nil {
			done <- ev
		}
		close(done)
	}()

	// Give the waiter a moment to register before the frame arrives.
	time.Sleep(50 * time.Millisecond)
	mock.send(t, protocol.Event{"type": "session.created", "session": map[string]any{"id": "s-1"}})

	ev, ok := <-done
	require.True(t, ok, "WaitForEvent failed")
	assert.Equal(t, "session.created", ev.Type())
}

func TestWaitForEventTimeout(t *testing.T) {
	mock := newMockUpstream(t)
	manager := newTestManager(t, mock)

	id, err := manager.CreateConnection(context.Background(), "client-1")
	require.NoError(t, err)

	_, err = manager.WaitForEvent(id, "session.created", 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrWaitTimeout)
}

func TestCloseConnection(t *testing.T) {
	mock := newMockUpstream(t)
	manager := newTestManager(t, mock)

	id, err := manager.CreateConnection(context.Background(), "client-1")
	require.NoError(t, err)

	require.NoError(t, manager.CloseConnection(id))
	require.Eventually(t, func() bool {
		return manager.Count() == 0
	}, 2*time.Second, 10*time.Millisecond)

	// Unknown ids close cleanly.
	assert.NoError(t, manager.CloseConnection(id))

	_, err = manager.SendEvent(id, protocol.Event{"type": "response.create"})
	assert.ErrorIs(t, err, ErrConnectionNotFound)
}

func TestCloseHandlerFiresOnUpstreamDisconnect(t *testing.T) {
	mock := newMockUpstream(t)
	manager := newTestManager(t, mock)

	id, err := manager.CreateConnection(context.Background(), "client-1")
	require.NoError(t, err)

	closed := make(chan struct{})
	require.NoError(t, manager.SetCloseHandler(id, func() { close(closed) }))

	// Kill the server side of the socket.
	mock.mu.Lock()
	mock.conns[0].Close()
	mock.mu.Unlock()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("close handler never fired")
	}
	require.Eventually(t, func() bool {
		return manager.Count() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDialURLAppendsModel(t *testing.T) {
	manager := NewManager(Config{
		Endpoint: "wss://api.example.com/v1/realtime",
		Model:    "test-model",
	})

	url, err := manager.dialURL()
	require.NoError(t, err)
	assert.Equal(t, "wss://api.example.com/v1/realtime?model=test-model", url)
}
