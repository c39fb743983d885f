package protocol

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/artepatrick/realtime-server-backend/metrics"
)

// Forwarder resolves a client to its session and relays events to the
// session's upstream connection. Implemented by the session registry.
type Forwarder interface {
	SessionIDForClient(clientID string) (string, bool)
	SendToUpstream(sessionID string, ev Event) (string, error)
}

// forwardableTypes is the closed set of client event types the relay
// forwards upstream. Anything else is dropped.
var forwardableTypes = map[string]struct{}{
	"session.update":            {},
	"input_audio_buffer.append": {},
	"input_audio_buffer.commit": {},
	"input_audio_buffer.clear":  {},
	"response.create":           {},
	"response.cancel":           {},
	"conversation.item.create":  {},
	"conversation.item.delete":  {},
}

// Dispatcher routes decoded client events by their type field.
type Dispatcher struct {
	forwarder Forwarder
}

// NewDispatcher creates a dispatcher backed by the given forwarder.
func NewDispatcher(forwarder Forwarder) *Dispatcher {
	return &Dispatcher{forwarder: forwarder}
}

// IsForwardable reports whether eventType is in the recognized set.
func IsForwardable(eventType string) bool {
	_, ok := forwardableTypes[eventType]
	return ok
}

// Dispatch routes one client event. Unrecognized types are logged and
// dropped without error. A nil error means the event was either forwarded
// or intentionally dropped; a non-nil error means forwarding failed and
// the caller should notify the client.
func (d *Dispatcher) Dispatch(clientID string, ev Event) (err error) {
	// Forwarding must never take the client connection down, so convert
	// panics from deeper layers into ordinary errors.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatching %q: %v", ev.Type(), r)
		}
	}()

	eventType := ev.Type()
	if !IsForwardable(eventType) {
		log.Debug().
			Str("component", "dispatcher").
			Str("client_id", clientID).
			Str("event_type", eventType).
			Msg("dropping unrecognized event type")
		metrics.EventsDropped.Inc()
		return nil
	}

	sessionID, ok := d.forwarder.SessionIDForClient(clientID)
	if !ok {
		return fmt.Errorf("dispatching %q: no session for client %s", eventType, clientID)
	}

	if _, err := d.forwarder.SendToUpstream(sessionID, ev); err != nil {
		return fmt.Errorf("dispatching %q: %w", eventType, err)
	}

	metrics.EventsForwarded.WithLabelValues(eventType).Inc()
	return nil
}
