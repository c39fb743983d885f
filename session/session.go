// Package session owns the mapping between clients, sessions and upstream
// connections. The registry is the single owner of both maps; no other
// component mutates them.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/artepatrick/realtime-server-backend/protocol"
	"github.com/artepatrick/realtime-server-backend/upstream"
)

// State is the session-level record updated from a small subset of
// inbound upstream event types.
type State struct {
	RemoteSessionID      string `json:"remote_session_id"`
	RemoteConversationID string `json:"remote_conversation_id"`
	IsConnected          bool   `json:"is_connected"`
}

// ClientSocket is the client-side transport a session forwards upstream
// events to. Implemented by the relay's client connection.
type ClientSocket interface {
	WriteEvent(ev protocol.Event) error
	IsOpen() bool
}

// UpstreamManager is the surface of the upstream connection manager the
// registry depends on.
type UpstreamManager interface {
	CreateConnection(ctx context.Context, clientID string) (string, error)
	SetMessageHandler(connectionID string, handler upstream.MessageHandler) error
	SetCloseHandler(connectionID string, onClose func()) error
	SendEvent(connectionID string, ev protocol.Event) (string, error)
	CloseConnection(connectionID string) error
}

// Session binds one client connection to one upstream connection for its
// full lifetime, plus the shared conversational state.
type Session struct {
	ID           string
	ClientID     string
	ConnectionID string
	CreatedAt    time.Time

	client ClientSocket

	mu    sync.Mutex
	state State
}

// State returns a copy of the session's current state record.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setRemoteSessionID(id string) {
	s.mu.Lock()
	s.state.RemoteSessionID = id
	s.mu.Unlock()
}

func (s *Session) setRemoteConversationID(id string) {
	s.mu.Lock()
	s.state.RemoteConversationID = id
	s.mu.Unlock()
}

func (s *Session) setConnected(connected bool) {
	s.mu.Lock()
	s.state.IsConnected = connected
	s.mu.Unlock()
}
