// Package tcp provides the length-prefixed TCP transport for the relay.
package tcp

import (
	"context"
	"net"

	"github.com/omochice/clinical-relay/pkg/protocol"
)

// Conn adapts net.Conn to relay.Conn using length-prefixed frames.
type Conn struct {
	conn         net.Conn
	maxFrameSize uint32
}

// NewConn wraps a net.Conn. A zero maxFrameSize accepts frames of any size.
func NewConn(conn net.Conn, maxFrameSize uint32) *Conn {
	return &Conn{conn: conn, maxFrameSize: maxFrameSize}
}

// Read implements relay.Conn.
// Reads exactly one frame from the TCP connection.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	return protocol.ReadFrame(c.conn, c.maxFrameSize)
}

// Write implements relay.Conn.
// The deadline of ctx, if any, becomes the socket write deadline.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	deadline, _ := ctx.Deadline()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return protocol.WriteFrame(c.conn, data)
}

// Close implements relay.Conn.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// RemoteAddr implements relay.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

