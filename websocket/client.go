package websocket

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/artepatrick/realtime-server-backend/config"
	"github.com/artepatrick/realtime-server-backend/metrics"
	"github.com/artepatrick/realtime-server-backend/protocol"
)

const (
	websocketRetryDelay = 200 * time.Millisecond
	websocketMaxRetries = 3
)

// ClientConnection represents one accepted client socket. It implements
// session.ClientSocket so the registry can forward upstream events back
// through it.
type ClientConnection struct {
	ID          string
	ConnectedAt time.Time

	conn   *websocket.Conn
	cfg    *config.WebSocketConfig
	claims *CustomClaims

	lastLiveness atomic.Int64

	mu     sync.Mutex
	closed bool
}

// NewClientConnection wraps an upgraded socket. claims is nil when auth is
// disabled.
func NewClientConnection(id string, conn *websocket.Conn, cfg *config.WebSocketConfig, claims *CustomClaims) *ClientConnection {
	c := &ClientConnection{
		ID:          id,
		ConnectedAt: time.Now(),
		conn:        conn,
		cfg:         cfg,
		claims:      claims,
	}
	c.lastLiveness.Store(time.Now().UnixNano())

	if cfg.MessageSizeLimit > 0 {
		conn.SetReadLimit(int64(cfg.MessageSizeLimit))
	}
	// Any pong counts as liveness evidence, regardless of payload.
	conn.SetPongHandler(func(string) error {
		c.MarkAlive()
		return nil
	})
	return c
}

// WriteEvent serializes the event as one JSON text frame, retrying briefly
// on transient write failures.
func (c *ClientConnection) WriteEvent(ev protocol.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return websocket.ErrCloseSent
	}

	// A deadline on every data write keeps a stalled client from holding
	// the connection mutex indefinitely.
	writeTimeout := time.Duration(c.cfg.WriteTimeout) * time.Second
	operation := func() error {
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			return err
		}
		return c.conn.WriteJSON(ev)
	}

	backoffStrategy := backoff.WithMaxRetries(
		backoff.NewConstantBackOff(websocketRetryDelay),
		websocketMaxRetries,
	)

	err := backoff.RetryNotify(operation, backoffStrategy, func(err error, d time.Duration) {
		log.Warn().
			Str("component", "relay").
			Str("client_id", c.ID).
			Err(err).
			Msgf("retrying client write in %s", d)
	})
	if err == nil {
		metrics.MessagesSent.Inc()
	}
	return err
}

// IsOpen reports whether the connection has not been closed yet.
func (c *ClientConnection) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// MarkAlive records liveness evidence: a pong or any client frame.
func (c *ClientConnection) MarkAlive() {
	c.lastLiveness.Store(time.Now().UnixNano())
}

// LastAlive returns the time of the most recent liveness evidence.
func (c *ClientConnection) LastAlive() time.Time {
	return time.Unix(0, c.lastLiveness.Load())
}

// SendPing writes a transport-level ping control frame.
func (c *ClientConnection) SendPing() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return websocket.ErrCloseSent
	}
	return c.conn.WriteControl(
		websocket.PingMessage,
		[]byte{},
		time.Now().Add(time.Duration(c.cfg.WriteTimeout)*time.Second),
	)
}

// ReadMessage blocks for the next client frame.
func (c *ClientConnection) ReadMessage() (int, []byte, error) {
	return c.conn.ReadMessage()
}

// CanAccess reports whether the client's token scopes allow the given
// action on the resource. Scopes have the form "action:resource" with an
// optional trailing wildcard, e.g. "send:input_audio_buffer.*". Always
// true when no claims are attached (auth disabled).
func (c *ClientConnection) CanAccess(action, resource string) bool {
	if c.claims == nil {
		return true
	}
	target := action + ":" + resource
	for _, scope := range c.claims.Scopes {
		if scope == target {
			return true
		}
		if strings.HasSuffix(scope, "*") && strings.HasPrefix(target, strings.TrimSuffix(scope, "*")) {
			return true
		}
	}
	return false
}

// Close sends a close control frame and shuts the transport down. Calling
// it again is a no-op.
func (c *ClientConnection) Close(code int, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	writeTimeout := time.Duration(c.cfg.WriteTimeout) * time.Second
	err := c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(writeTimeout),
	)
	if err != nil {
		log.Debug().
			Str("component", "relay").
			Str("client_id", c.ID).
			Err(err).
			Msg("error sending close message")
	}

	return c.conn.Close()
}
