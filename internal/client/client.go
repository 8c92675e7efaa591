// Package client implements the relay's terminal client: the transport
// neutral Client interface, input line handling and display formatting.
package client

import (
	"github.com/omochice/clinical-relay/pkg/protocol"
)

// Client defines the interface for relay clients.
// Both TCP and WebSocket implementations satisfy this interface.
type Client interface {
	Connect() error
	Disconnect()
	IsConnected() bool
	Send(msg protocol.Message) error

	// Messages yields decoded server messages. It is closed when the
	// connection ends.
	Messages() <-chan protocol.Message
}
