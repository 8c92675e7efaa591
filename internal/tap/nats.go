// Package tap mirrors relay broadcasts onto a NATS subject so external
// observers can follow the traffic without joining the relay.
package tap

import (
	"fmt"
	"log"

	"github.com/nats-io/nats.go"

	"github.com/omochice/clinical-relay/pkg/protocol"
)

// Publisher is the subset of *nats.Conn used by Tap.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Tap publishes each broadcast message to "<subject>.<type>".
type Tap struct {
	pub     Publisher
	subject string
	conn    *nats.Conn
}

// New creates a Tap over an existing publisher.
func New(pub Publisher, subject string) *Tap {
	return &Tap{pub: pub, subject: subject}
}

// Dial connects to the NATS server at url.
func Dial(url, subject string) (*Tap, error) {
	nc, err := nats.Connect(url, nats.Name("clinical-relay"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	t := New(nc, subject)
	t.conn = nc
	return t, nil
}

// Publish implements relay.Sink. Failures are logged, never returned:
// the tap must not affect delivery to relay peers.
func (t *Tap) Publish(msg protocol.Message) {
	data, err := protocol.MarshalOutbound(msg)
	if err != nil {
		log.Printf("Failed to encode %s for NATS: %v", msg.Type(), err)
		return
	}
	subject := t.subject + "." + string(msg.Type())
	if err := t.pub.Publish(subject, data); err != nil {
		log.Printf("Failed to publish to %s: %v", subject, err)
	}
}

// Close flushes pending messages and closes a connection opened by Dial.
func (t *Tap) Close() {
	if t.conn == nil {
		return
	}
	if err := t.conn.Drain(); err != nil {
		log.Printf("Failed to drain NATS connection: %v", err)
		t.conn.Close()
	}
}
