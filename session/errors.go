package session

import "errors"

var (
	// ErrSessionNotFound is returned when a caller references a session id
	// that is not registered.
	ErrSessionNotFound = errors.New("session not found")

	// ErrUpstreamConnect is returned by CreateSession when the upstream
	// connection could not be established; no session is registered.
	ErrUpstreamConnect = errors.New("failed to establish upstream connection")
)
