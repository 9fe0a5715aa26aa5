package roomgraph

import "errors"

var (
	// ErrSessionNotFound is returned for unknown session ids
	ErrSessionNotFound = errors.New("session not found")

	// ErrServiceClosed is returned once the service is shutting down
	ErrServiceClosed = errors.New("roomgraph service is closed")

	// ErrPoolClosed is returned by Acquire after Close
	ErrPoolClosed = errors.New("room pool is closed")

	// ErrInvalidRequest wraps session request validation failures
	ErrInvalidRequest = errors.New("invalid session request")
)
