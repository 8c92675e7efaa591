// Package relay implements the server core: one event loop that owns every
// live connection and the session registry, dispatches decoded messages
// through the authentication state machine and fans them out to peers.
package relay

import (
	"context"
	"encoding/json"
)

// Conn abstracts a bidirectional, message-oriented connection.
// Transports (framed TCP, WebSocket) adapt their streams to it.
type Conn interface {
	// Read blocks until one complete payload arrives.
	// Returns protocol.ErrEndOfStream when the peer closed the stream.
	Read(ctx context.Context) ([]byte, error)

	// Write sends one payload. A deadline on ctx bounds the write.
	Write(ctx context.Context, payload []byte) error

	// Close closes the connection.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}

// Authenticator checks credentials against an external directory.
type Authenticator interface {
	Verify(username, password string) bool
}

// Validator accepts or rejects the data of a structured document.
type Validator interface {
	Valid(data json.RawMessage) bool
}
