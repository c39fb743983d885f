package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/artepatrick/realtime-server-backend/metrics"
	"github.com/artepatrick/realtime-server-backend/protocol"
)

// Registry owns the client-to-session and sessionID-to-session maps. All
// mutations go through the registry's mutex so no caller can observe a
// half-created or half-destroyed session.
type Registry struct {
	upstream UpstreamManager

	mu             sync.Mutex
	sessions       map[string]*Session
	clientSessions map[string]string
}

// NewRegistry creates a registry backed by the given upstream manager.
func NewRegistry(upstreamManager UpstreamManager) *Registry {
	return &Registry{
		upstream:       upstreamManager,
		sessions:       make(map[string]*Session),
		clientSessions: make(map[string]string),
	}
}

// CreateSession opens an upstream connection for the client and registers
// a new session bound to it. Calling it again for a client that already
// has a session returns the existing session unchanged; no second
// upstream connection is opened. On upstream failure no session is
// registered and ErrUpstreamConnect is returned.
func (r *Registry) CreateSession(ctx context.Context, clientID string, client ClientSocket) (*Session, error) {
	if existing, ok := r.sessionForClient(clientID); ok {
		log.Warn().
			Str("component", "session").
			Str("client_id", clientID).
			Str("session_id", existing.ID).
			Msg("session already exists for client, returning existing session")
		return existing, nil
	}

	connectionID, err := r.upstream.CreateConnection(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamConnect, err)
	}

	sess := &Session{
		ID:           "sess_" + uuid.New().String(),
		ClientID:     clientID,
		ConnectionID: connectionID,
		CreatedAt:    time.Now(),
		client:       client,
		state:        State{IsConnected: true},
	}

	r.mu.Lock()
	// A concurrent create for the same client may have won the race while
	// the upstream handshake was in flight. Keep the winner's session and
	// discard the connection opened here.
	if existingID, ok := r.clientSessions[clientID]; ok {
		existing := r.sessions[existingID]
		r.mu.Unlock()
		if err := r.upstream.CloseConnection(connectionID); err != nil {
			log.Warn().
				Str("component", "session").
				Str("connection_id", connectionID).
				Err(err).
				Msg("error closing redundant upstream connection")
		}
		return existing, nil
	}
	r.sessions[sess.ID] = sess
	r.clientSessions[clientID] = sess.ID
	r.mu.Unlock()
	metrics.ActiveSessions.Inc()

	sessionID := sess.ID
	if err := r.upstream.SetMessageHandler(connectionID, func(ev protocol.Event) {
		r.HandleUpstreamMessage(sessionID, ev)
	}); err != nil {
		// The connection vanished between registration and handler setup;
		// roll the session back rather than leave it half-wired.
		r.CloseSession(sessionID)
		return nil, fmt.Errorf("%w: %v", ErrUpstreamConnect, err)
	}
	if err := r.upstream.SetCloseHandler(connectionID, func() {
		sess.setConnected(false)
	}); err != nil {
		log.Warn().
			Str("component", "session").
			Str("session_id", sessionID).
			Err(err).
			Msg("could not attach upstream close handler")
	}

	log.Info().
		Str("component", "session").
		Str("client_id", clientID).
		Str("session_id", sess.ID).
		Str("connection_id", connectionID).
		Msg("session created")
	return sess, nil
}

// HandleUpstreamMessage updates session state from the inbound event and
// forwards it verbatim to the client socket. Events for unknown sessions
// are logged and dropped: an upstream connection may outlive a
// just-destroyed session transiently.
func (r *Registry) HandleUpstreamMessage(sessionID string, ev protocol.Event) {
	sess, ok := r.get(sessionID)
	if !ok {
		log.Debug().
			Str("component", "session").
			Str("session_id", sessionID).
			Str("event_type", ev.Type()).
			Msg("dropping upstream event for unknown session")
		return
	}

	switch ev.Type() {
	case "session.created":
		if id := nestedID(ev, "session"); id != "" {
			sess.setRemoteSessionID(id)
		}
	case "conversation.created":
		if id := nestedID(ev, "conversation"); id != "" {
			sess.setRemoteConversationID(id)
		}
	case "error":
		log.Error().
			Str("component", "session").
			Str("session_id", sessionID).
			Interface("error", ev["error"]).
			Msg("upstream reported an error event")
	}

	if !sess.client.IsOpen() {
		return
	}
	if err := sess.client.WriteEvent(ev); err != nil {
		log.Warn().
			Str("component", "session").
			Str("session_id", sessionID).
			Str("event_type", ev.Type()).
			Err(err).
			Msg("failed to forward upstream event to client")
		return
	}
	metrics.UpstreamEventsRelayed.Inc()
}

// SendToUpstream relays a client event to the session's upstream
// connection and returns the event identifier assigned to it.
func (r *Registry) SendToUpstream(sessionID string, ev protocol.Event) (string, error) {
	sess, ok := r.get(sessionID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return r.upstream.SendEvent(sess.ConnectionID, ev)
}

// CloseSession closes the session's upstream connection and removes both
// map entries. A no-op when the session is already gone.
func (r *Registry) CloseSession(sessionID string) {
	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		log.Debug().
			Str("component", "session").
			Str("session_id", sessionID).
			Msg("close requested for unknown session")
		return
	}
	delete(r.sessions, sessionID)
	delete(r.clientSessions, sess.ClientID)
	r.mu.Unlock()
	metrics.ActiveSessions.Dec()

	if err := r.upstream.CloseConnection(sess.ConnectionID); err != nil {
		log.Warn().
			Str("component", "session").
			Str("session_id", sessionID).
			Str("connection_id", sess.ConnectionID).
			Err(err).
			Msg("error closing upstream connection")
	}

	log.Info().
		Str("component", "session").
		Str("client_id", sess.ClientID).
		Str("session_id", sessionID).
		Msg("session closed")
}

// CloseClientSessions closes the session owned by the client, if any.
func (r *Registry) CloseClientSessions(clientID string) {
	r.mu.Lock()
	sessionID, ok := r.clientSessions[clientID]
	r.mu.Unlock()
	if !ok {
		return
	}
	r.CloseSession(sessionID)
}

// CloseAll tears down every registered session. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.CloseSession(id)
	}
}

// SessionIDForClient resolves the client's active session id.
func (r *Registry) SessionIDForClient(clientID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.clientSessions[clientID]
	return id, ok
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) get(sessionID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[sessionID]
	return sess, ok
}

func (r *Registry) sessionForClient(clientID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.clientSessions[clientID]
	if !ok {
		return nil, false
	}
	return r.sessions[id], true
}

// nestedID extracts `{key: {"id": "..."}}` from an event, falling back to
// a flat `{key_id: "..."}` field.
func nestedID(ev protocol.Event, key string) string {
	if obj, ok := ev[key].(map[string]any); ok {
		if id, ok := obj["id"].(string); ok {
			return id
		}
	}
	if id, ok := ev[key+"_id"].(string); ok {
		return id
	}
	return ""
}
