package upstream

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/artepatrick/realtime-server-backend/protocol"
)

// MessageHandler receives every decodable inbound event from an upstream
// connection, in the order the transport delivered them.
type MessageHandler func(ev protocol.Event)

// Connection is one outbound WebSocket to the streaming API. It is owned
// exclusively by the session it was created for and closed with it.
type Connection struct {
	ID        string
	ClientID  string
	CreatedAt time.Time

	conn         *websocket.Conn
	writeTimeout time.Duration

	mu      sync.Mutex
	handler MessageHandler
	pending []protocol.Event
	onClose func()
	waiters map[string][]chan protocol.Event
	closed  bool
	writeMu sync.Mutex
}

func newConnection(id, clientID string, conn *websocket.Conn, writeTimeout time.Duration) *Connection {
	return &Connection{
		ID:           id,
		ClientID:     clientID,
		CreatedAt:    time.Now(),
		conn:         conn,
		writeTimeout: writeTimeout,
		waiters:      make(map[string][]chan protocol.Event),
	}
}

// setHandler attaches the single inbound message handler and replays, in
// arrival order, any events the read loop buffered before the handler
// existed. The drain runs under the mutex so a concurrently arriving frame
// cannot overtake a buffered one; handlers must not call back into the
// connection.
func (c *Connection) setHandler(handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
	for _, ev := range c.pending {
		handler(ev)
	}
	c.pending = nil
}

// writeEvent serializes the event and writes it as one text frame. Writes
// are serialized: gorilla connections support one concurrent writer. The
// write deadline keeps a stalled upstream from wedging the caller.
func (c *Connection) writeEvent(ev protocol.Event) error {
	data, err := ev.Marshal()
	if err != nil {
		return err
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrConnectionClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads frames until the transport fails, parses each as an event
// and hands it to the registered handler and any one-shot waiters. Frames
// that do not decode as events are logged and dropped.
func (c *Connection) readLoop() {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			log.Debug().
				Str("component", "upstream").
				Str("connection_id", c.ID).
				Err(err).
				Msg("upstream read loop terminated")
			c.markClosed()
			return
		}

		ev, err := protocol.ParseEvent(raw)
		if err != nil {
			log.Warn().
				Str("component", "upstream").
				Str("connection_id", c.ID).
				Err(err).
				Msg("dropping undecodable upstream frame")
			continue
		}

		c.dispatch(ev)
	}
}

func (c *Connection) dispatch(ev protocol.Event) {
	c.mu.Lock()
	if chans, ok := c.waiters[ev.Type()]; ok && len(chans) > 0 {
		waiter := chans[0]
		c.waiters[ev.Type()] = chans[1:]
		select {
		case waiter <- ev:
		default:
		}
	}
	handler := c.handler
	if handler == nil {
		// No handler yet: hold the event so the greeting frames the
		// upstream sends right after the handshake are not lost.
		c.pending = append(c.pending, ev)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	handler(ev)
}

// addWaiter registers a one-shot waiter for the next event of the given
// type and returns the channel it will be delivered on.
func (c *Connection) addWaiter(eventType string) chan protocol.Event {
	ch := make(chan protocol.Event, 1)
	c.mu.Lock()
	c.waiters[eventType] = append(c.waiters[eventType], ch)
	c.mu.Unlock()
	return ch
}

// removeWaiter unregisters a waiter that timed out before delivery.
func (c *Connection) removeWaiter(eventType string, ch chan protocol.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	chans := c.waiters[eventType]
	for i, w := range chans {
		if w == ch {
			c.waiters[eventType] = append(chans[:i], chans[i+1:]...)
			return
		}
	}
}

func (c *Connection) markClosed() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	onClose := c.onClose
	c.mu.Unlock()

	if onClose != nil {
		onClose()
	}
}

// close shuts the transport down. Safe to call more than once.
func (c *Connection) close() error {
	c.markClosed()
	return c.conn.Close()
}
