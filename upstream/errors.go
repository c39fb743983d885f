package upstream

import "errors"

var (
	// ErrConnectTimeout is returned when the upstream handshake does not
	// complete within the configured bound.
	ErrConnectTimeout = errors.New("upstream connection timed out before opening")

	// ErrConnectionNotFound is returned when a caller references a
	// connection id that is not registered.
	ErrConnectionNotFound = errors.New("upstream connection not found")

	// ErrWaitTimeout is returned by WaitForEvent when no matching event
	// arrives before the wait bound elapses.
	ErrWaitTimeout = errors.New("timed out waiting for upstream event")

	// ErrConnectionClosed is returned when writing to a connection whose
	// transport has already been closed.
	ErrConnectionClosed = errors.New("upstream connection is closed")
)
