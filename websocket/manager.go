package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/artepatrick/realtime-server-backend/metrics"
)

// ClientManager tracks the live client connections for this relay
// instance and runs the liveness sweep that evicts half-open clients.
type ClientManager struct {
	clients sync.Map
	wg      sync.WaitGroup
}

// NewClientManager creates an empty client manager.
func NewClientManager() *ClientManager {
	return &ClientManager{}
}

// AddClient registers a live connection.
func (m *ClientManager) AddClient(client *ClientConnection) {
	m.clients.Store(client.ID, client)
	metrics.ActiveConnections.Inc()
	metrics.TotalConnections.Inc()
	log.Info().
		Str("component", "relay").
		Str("client_id", client.ID).
		Msg("client connected")
}

// RemoveClient drops a connection from the map. Safe to call repeatedly.
func (m *ClientManager) RemoveClient(clientID string) {
	if _, ok := m.clients.LoadAndDelete(clientID); ok {
		metrics.ActiveConnections.Dec()
		log.Info().
			Str("component", "relay").
			Str("client_id", clientID).
			Msg("client disconnected")
	}
}

// GetClient retrieves a live connection by id.
func (m *ClientManager) GetClient(clientID string) (*ClientConnection, bool) {
	if client, ok := m.clients.Load(clientID); ok {
		return client.(*ClientConnection), true
	}
	return nil, false
}

// Count returns the number of registered client connections.
func (m *ClientManager) Count() int {
	count := 0
	m.clients.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

// StartLivenessLoop probes every client on each tick and evicts the ones
// that stopped acknowledging. Blocks until ctx is cancelled; run it on its
// own goroutine.
func (m *ClientManager) StartLivenessLoop(ctx context.Context, interval, grace time.Duration, evict func(clientID string)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckLiveness(time.Now(), grace, evict)
		}
	}
}

// CheckLiveness runs one sweep: clients whose transport is gone or whose
// last liveness evidence is older than grace are evicted; everyone else
// gets a ping probe.
func (m *ClientManager) CheckLiveness(now time.Time, grace time.Duration, evict func(clientID string)) {
	m.clients.Range(func(key, value any) bool {
		clientID := key.(string)
		client := value.(*ClientConnection)

		if !client.IsOpen() {
			evict(clientID)
			return true
		}

		if now.Sub(client.LastAlive()) > grace {
			log.Warn().
				Str("component", "relay").
				Str("client_id", clientID).
				Time("last_alive", client.LastAlive()).
				Msg("evicting unresponsive client")
			metrics.ClientsEvicted.Inc()
			client.Close(websocket.ClosePolicyViolation, "liveness timeout")
			evict(clientID)
			return true
		}

		if err := client.SendPing(); err != nil {
			log.Warn().
				Str("component", "relay").
				Str("client_id", clientID).
				Err(err).
				Msg("ping failed, evicting client")
			metrics.ClientsEvicted.Inc()
			client.Close(websocket.CloseInternalServerErr, "ping failure")
			evict(clientID)
		}
		return true
	})
}

// IncreaseWaitGroup increases the in-flight operation counter.
func (m *ClientManager) IncreaseWaitGroup() {
	m.wg.Add(1)
}

// DecreaseWaitGroup decreases the in-flight operation counter.
func (m *ClientManager) DecreaseWaitGroup() {
	m.wg.Done()
}

// WaitForCompletion waits for all in-flight operations to complete.
func (m *ClientManager) WaitForCompletion() {
	m.wg.Wait()
}

// CloseAllConnections closes every client transport and runs the eviction
// callback for each, using the same teardown path as a disconnect.
func (m *ClientManager) CloseAllConnections(reason string, evict func(clientID string)) {
	m.clients.Range(func(key, value any) bool {
		clientID := key.(string)
		client := value.(*ClientConnection)

		log.Info().
			Str("component", "relay").
			Str("client_id", clientID).
			Str("reason", reason).
			Msg("closing client connection")
		client.Close(websocket.CloseGoingAway, reason)
		evict(clientID)
		return true
	})
}
