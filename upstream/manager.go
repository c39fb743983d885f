// Package upstream owns the outbound WebSocket connections to the
// streaming API: one dedicated connection per relay session. Keeping the
// connections independent avoids head-of-line blocking across unrelated
// clients and makes per-session teardown trivial.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/artepatrick/realtime-server-backend/metrics"
	"github.com/artepatrick/realtime-server-backend/protocol"
)

// DefaultConnectTimeout bounds the wait for the upstream handshake.
const DefaultConnectTimeout = 10 * time.Second

// DefaultWriteTimeout bounds each data write on an open connection.
const DefaultWriteTimeout = 10 * time.Second

// Config parameterizes the fixed upstream endpoint.
type Config struct {
	// Endpoint is the upstream WebSocket URL, without the model parameter.
	Endpoint string
	// Model is appended to the endpoint as the `model` query parameter.
	Model string
	// APIKey is sent as the bearer credential on every dial.
	APIKey string
	// OrgID and ProjectID are optional scoping headers.
	OrgID     string
	ProjectID string
	// ConnectTimeout bounds the handshake; zero means DefaultConnectTimeout.
	ConnectTimeout time.Duration
	// WriteTimeout bounds each data write; zero means DefaultWriteTimeout.
	WriteTimeout time.Duration
}

// Manager opens, tracks and closes upstream connections.
type Manager struct {
	cfg Config

	mu    sync.Mutex
	conns map[string]*Connection
}

// NewManager creates a connection manager for the configured endpoint.
func NewManager(cfg Config) *Manager {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	return &Manager{
		cfg:   cfg,
		conns: make(map[string]*Connection),
	}
}

// CreateConnection dials the upstream endpoint for the given client and
// waits for the connection to open. The connection is registered only on
// success; a handshake that does not complete within the configured bound
// fails with ErrConnectTimeout.
func (m *Manager) CreateConnection(ctx context.Context, clientID string) (string, error) {
	endpoint, err := m.dialURL()
	if err != nil {
		return "", fmt.Errorf("building upstream URL: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: m.cfg.ConnectTimeout}
	wsConn, _, err := dialer.DialContext(dialCtx, endpoint, m.dialHeaders())
	if err != nil {
		metrics.UpstreamConnectFailures.Inc()
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			return "", fmt.Errorf("%w: %v", ErrConnectTimeout, err)
		}
		return "", fmt.Errorf("dialing upstream: %w", err)
	}

	conn := newConnection("upc_"+uuid.New().String(), clientID, wsConn, m.cfg.WriteTimeout)
	conn.onClose = func() {
		m.remove(conn.ID)
	}

	m.mu.Lock()
	m.conns[conn.ID] = conn
	m.mu.Unlock()
	metrics.UpstreamConnections.Inc()

	go conn.readLoop()

	log.Info().
		Str("component", "upstream").
		Str("connection_id", conn.ID).
		Str("client_id", clientID).
		Msg("upstream connection established")
	return conn.ID, nil
}

// SetMessageHandler attaches the single inbound handler for a connection.
// Frames read before the handler was attached are replayed to it in
// arrival order, so the greeting events sent right after the handshake
// reach the handler even when it is attached late.
func (m *Manager) SetMessageHandler(connectionID string, handler MessageHandler) error {
	conn, ok := m.get(connectionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, connectionID)
	}
	conn.setHandler(handler)
	return nil
}

// SetCloseHandler registers a callback invoked once when the connection's
// transport goes away, whether closed locally or by the upstream.
func (m *Manager) SetCloseHandler(connectionID string, onClose func()) error {
	conn, ok := m.get(connectionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, connectionID)
	}

	conn.mu.Lock()
	remove := conn.onClose
	conn.onClose = func() {
		remove()
		onClose()
	}
	conn.mu.Unlock()
	return nil
}

// SendEvent writes the event on the connection, assigning an event id when
// the caller did not supply one, and returns the identifier used.
func (m *Manager) SendEvent(connectionID string, ev protocol.Event) (string, error) {
	conn, ok := m.get(connectionID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrConnectionNotFound, connectionID)
	}

	if ev.ID() == "" {
		ev.SetID(protocol.NewEventID())
	}

	if err := conn.writeEvent(ev); err != nil {
		return "", fmt.Errorf("writing event %s: %w", ev.ID(), err)
	}
	return ev.ID(), nil
}

// WaitForEvent blocks until the next inbound event of the given type
// arrives on the connection, or fails with ErrWaitTimeout. It is a
// one-shot helper for point-to-point handshakes, not part of the
// steady-state relay path.
func (m *Manager) WaitForEvent(connectionID, eventType string, timeout time.Duration) (protocol.Event, error) {
	conn, ok := m.get(connectionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConnectionNotFound, connectionID)
	}

	ch := conn.addWaiter(eventType)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-ch:
		return ev, nil
	case <-timer.C:
		conn.removeWaiter(eventType, ch)
		return nil, fmt.Errorf("%w: %s after %s", ErrWaitTimeout, eventType, timeout)
	}
}

// CloseConnection closes the transport and removes the connection record.
// Safe to call when the connection is already gone.
func (m *Manager) CloseConnection(connectionID string) error {
	conn, ok := m.get(connectionID)
	if !ok {
		return nil
	}
	return conn.close()
}

// CloseAll tears down every registered connection. Used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.conns))
	for _, conn := range m.conns {
		conns = append(conns, conn)
	}
	m.mu.Unlock()

	for _, conn := range conns {
		if err := conn.close(); err != nil {
			log.Warn().
				Str("component", "upstream").
				Str("connection_id", conn.ID).
				Err(err).
				Msg("error closing upstream connection")
		}
	}
}

// Count returns the number of registered connections.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

func (m *Manager) get(connectionID string) (*Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[connectionID]
	return conn, ok
}

func (m *Manager) remove(connectionID string) {
	m.mu.Lock()
	_, ok := m.conns[connectionID]
	if ok {
		delete(m.conns, connectionID)
	}
	m.mu.Unlock()
	if ok {
		metrics.UpstreamConnections.Dec()
	}
}

func (m *Manager) dialURL() (string, error) {
	u, err := url.Parse(m.cfg.Endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", m.cfg.Model)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (m *Manager) dialHeaders() http.Header {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+m.cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")
	if m.cfg.OrgID != "" {
		headers.Set("OpenAI-Organization", m.cfg.OrgID)
	}
	if m.cfg.ProjectID != "" {
		headers.Set("OpenAI-Project", m.cfg.ProjectID)
	}
	return headers
}
