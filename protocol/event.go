// Package protocol defines the event envelope exchanged on both sides of
// the relay and the dispatcher that routes client events toward the
// upstream API.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Client-visible error codes carried in error events.
const (
	ErrCodeInvalidMessageFormat = "invalid_message_format"
	ErrCodeInternalError        = "internal_error"
	ErrCodeSessionCreateFailed  = "session_create_failed"
)

// Event is a JSON object carrying a `type` discriminator and free-form
// fields. Events are transient: they are decoded, routed and re-encoded,
// never persisted.
type Event map[string]any

// ParseEvent decodes a raw frame into an Event. The frame must be a JSON
// object with a non-empty string `type` field.
func ParseEvent(raw []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decoding event: %w", err)
	}
	if ev.Type() == "" {
		return nil, fmt.Errorf("event is missing a type field")
	}
	return ev, nil
}

// Type returns the event's `type` field, or "" when absent or not a string.
func (e Event) Type() string {
	t, _ := e["type"].(string)
	return t
}

// ID returns the event's `event_id` field, or "" when absent.
func (e Event) ID() string {
	id, _ := e["event_id"].(string)
	return id
}

// SetID assigns the event identifier, overwriting any existing one.
func (e Event) SetID(id string) {
	e["event_id"] = id
}

// Marshal serializes the event to its JSON wire form.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// NewEventID generates an event identifier of the form
// evt_{unixMilli}_{shortRandom}. Uniqueness is not cryptographically
// guaranteed; collisions are negligible at relay volumes.
func NewEventID() string {
	suffix := strings.SplitN(uuid.New().String(), "-", 2)[0]
	return fmt.Sprintf("evt_%d_%s", time.Now().UnixMilli(), suffix)
}

// NewConnectionEstablished builds the first server-to-client event sent after
// a successful accept, carrying the identifier assigned to the client.
func NewConnectionEstablished(clientID string) Event {
	return Event{
		"type":      "connection.established",
		"client_id": clientID,
		"timestamp": time.Now().UnixMilli(),
	}
}

// NewErrorEvent builds a server-to-client error event. eventID correlates the
// error with the client event that caused it and is omitted when empty.
func NewErrorEvent(code, message, eventID string) Event {
	ev := Event{
		"type": "error",
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	}
	if eventID != "" {
		ev["event_id"] = eventID
	}
	return ev
}
