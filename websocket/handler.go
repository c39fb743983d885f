package websocket

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/artepatrick/realtime-server-backend/config"
	"github.com/artepatrick/realtime-server-backend/metrics"
	"github.com/artepatrick/realtime-server-backend/protocol"
	"github.com/artepatrick/realtime-server-backend/session"
)

// Upgrader for websocket connections
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler accepts client connections and drives the session registry and
// the protocol dispatcher.
type Handler struct {
	manager      *ClientManager
	registry     *session.Registry
	dispatcher   *protocol.Dispatcher
	jwtValidator *JWTValidator
	authConfig   *config.AuthConfig
	wsConfig     *config.WebSocketConfig

	livenessCtx    context.Context
	livenessCancel context.CancelFunc
	shutdownOnce   sync.Once
}

// NewHandler creates a relay handler.
func NewHandler(
	manager *ClientManager,
	registry *session.Registry,
	jwtValidator *JWTValidator,
	authConfig *config.AuthConfig,
	wsConfig *config.WebSocketConfig,
) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		manager:        manager,
		registry:       registry,
		dispatcher:     protocol.NewDispatcher(registry),
		jwtValidator:   jwtValidator,
		authConfig:     authConfig,
		wsConfig:       wsConfig,
		livenessCtx:    ctx,
		livenessCancel: cancel,
	}
}

// Start launches the periodic liveness check.
func (h *Handler) Start() {
	interval := time.Duration(h.wsConfig.PingInterval) * time.Second
	grace := time.Duration(h.wsConfig.PongGrace) * time.Second
	go h.manager.StartLivenessLoop(h.livenessCtx, interval, grace, h.teardown)
}

// ClientCount reports the number of live client connections.
func (h *Handler) ClientCount() int {
	return h.manager.Count()
}

// HandleWebSocket handles incoming websocket connections.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	var claims *CustomClaims
	var err error

	// --- Handshake Authentication ---
	if h.authConfig.Enabled {
		if h.jwtValidator == nil {
			log.Error().Str("component", "relay").Msg("auth is enabled but JWT validator is not initialized")
			http.Error(w, "Internal server configuration error", http.StatusInternalServerError)
			return
		}

		tokenString := r.URL.Query().Get(h.authConfig.TokenQueryParam)
		if tokenString == "" {
			metrics.AuthFailures.WithLabelValues("missing_token").Inc()
			http.Error(w, "Missing authentication token", http.StatusUnauthorized)
			return
		}

		claims, err = h.jwtValidator.ValidateToken(r.Context(), tokenString)
		if err != nil {
			metrics.AuthFailures.WithLabelValues("invalid_token").Inc()
			log.Warn().
				Str("component", "relay").
				Str("remote_addr", r.RemoteAddr).
				Err(err).
				Msg("rejecting client with invalid token")
			http.Error(w, "Invalid authentication token", http.StatusUnauthorized)
			return
		}
		metrics.AuthSuccess.Inc()
	}
	// --- End Handshake Authentication ---

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().
			Str("component", "relay").
			Str("remote_addr", r.RemoteAddr).
			Err(err).
			Msg("websocket upgrade failed")
		return
	}

	// Use subject from JWT as clientID if available, otherwise generate one.
	var clientID string
	if claims != nil && claims.Subject != "" {
		clientID = claims.Subject
	} else {
		clientID = uuid.New().String()
	}

	client := NewClientConnection(clientID, conn, h.wsConfig, claims)
	h.manager.AddClient(client)
	h.manager.IncreaseWaitGroup()
	defer h.manager.DecreaseWaitGroup()

	// Every client is bound to exactly one upstream connection; if the
	// upstream handshake fails the client is rejected outright.
	if _, err := h.registry.CreateSession(r.Context(), clientID, client); err != nil {
		log.Error().
			Str("component", "relay").
			Str("client_id", clientID).
			Err(err).
			Msg("session creation failed, rejecting client")
		client.WriteEvent(protocol.NewErrorEvent(
			protocol.ErrCodeSessionCreateFailed,
			"could not establish upstream session",
			"",
		))
		client.Close(websocket.CloseTryAgainLater, "upstream unavailable")
		h.manager.RemoveClient(clientID)
		return
	}
	defer h.teardown(clientID)

	if err := client.WriteEvent(protocol.NewConnectionEstablished(clientID)); err != nil {
		log.Warn().
			Str("component", "relay").
			Str("client_id", clientID).
			Err(err).
			Msg("failed to send connection.established")
		return // defer handles cleanup
	}

	// Read messages from client
	for {
		_, raw, err := client.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) &&
				!errors.Is(err, net.ErrClosed) {
				log.Debug().
					Str("component", "relay").
					Str("client_id", clientID).
					Err(err).
					Msg("client read error")
			}
			client.Close(websocket.CloseNormalClosure, "client disconnected")
			return
		}
		metrics.MessagesReceived.Inc()
		client.MarkAlive()

		h.OnClientMessage(clientID, raw)
	}
}

// OnClientMessage decodes one client frame and routes it. Parse and
// dispatch failures are answered with typed error events; the connection
// stays open either way.
func (h *Handler) OnClientMessage(clientID string, raw []byte) {
	client, ok := h.manager.GetClient(clientID)
	if !ok {
		return
	}

	ev, err := protocol.ParseEvent(raw)
	if err != nil {
		log.Debug().
			Str("component", "relay").
			Str("client_id", clientID).
			Err(err).
			Msg("malformed client frame")
		client.WriteEvent(protocol.NewErrorEvent(
			protocol.ErrCodeInvalidMessageFormat,
			"message could not be parsed as an event",
			"",
		))
		return
	}

	// --- Event Access Control ---
	if h.authConfig.Enabled && !client.CanAccess("send", ev.Type()) {
		log.Warn().
			Str("component", "relay").
			Str("client_id", clientID).
			Str("event_type", ev.Type()).
			Msg("authorization denied for event")
		client.WriteEvent(protocol.NewErrorEvent(
			protocol.ErrCodeInternalError,
			"event type not allowed for this token",
			ev.ID(),
		))
		return
	}
	// --- End Event Access Control ---

	if err := h.dispatcher.Dispatch(clientID, ev); err != nil {
		log.Error().
			Str("component", "relay").
			Str("client_id", clientID).
			Str("event_type", ev.Type()).
			Err(err).
			Msg("failed to forward client event")
		client.WriteEvent(protocol.NewErrorEvent(
			protocol.ErrCodeInternalError,
			"failed to forward event",
			ev.ID(),
		))
	}
}

// teardown runs the single client teardown path used by disconnects,
// evictions and shutdown. Idempotent.
func (h *Handler) teardown(clientID string) {
	h.registry.CloseClientSessions(clientID)
	if client, ok := h.manager.GetClient(clientID); ok {
		client.Close(websocket.CloseNormalClosure, "session closed")
	}
	h.manager.RemoveClient(clientID)
}

// Shutdown stops the liveness loop and tears down every client and
// session. Idempotent; returns once all teardown paths have run.
func (h *Handler) Shutdown() {
	h.shutdownOnce.Do(func() {
		h.livenessCancel()
		h.manager.CloseAllConnections("server shutting down", h.teardown)
		// Safety net: sessions whose client record was already gone.
		h.registry.CloseAll()
		h.manager.WaitForCompletion()
	})
}
