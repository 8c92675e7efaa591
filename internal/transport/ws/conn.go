// Package ws provides the WebSocket transport for the relay. Each text or
// binary WebSocket message carries exactly one JSON payload.
package ws

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	gobwas "github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/omochice/clinical-relay/pkg/protocol"
)

// Conn adapts a server-side WebSocket connection to relay.Conn.
type Conn struct {
	conn       net.Conn
	reader     io.Reader
	remoteAddr string
	mu         sync.Mutex // serialises frame writes, including pong replies
}

// NewConn wraps an upgraded connection. reader may be a buffered reader
// left over from the handshake; nil reads straight from conn.
func NewConn(conn net.Conn, reader io.Reader, remoteAddr string) *Conn {
	if reader == nil {
		reader = conn
	}
	if remoteAddr == "" {
		remoteAddr = conn.RemoteAddr().String()
	}
	return &Conn{conn: conn, reader: reader, remoteAddr: remoteAddr}
}

// Read implements relay.Conn.
// Control frames are answered in place; a close frame ends the stream.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	data, _, err := wsutil.ReadClientData(controlRW{c})
	if err != nil {
		var closed wsutil.ClosedError
		if errors.As(err, &closed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, protocol.ErrEndOfStream
		}
		return nil, err
	}
	return data, nil
}

// Write implements relay.Conn.
// Writes a text message; the deadline of ctx, if any, bounds the write.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return wsutil.WriteServerMessage(c.conn, gobwas.OpText, data)
}

// Close implements relay.Conn.
func (c *Conn) Close() error {
	c.mu.Lock()
	body := gobwas.NewCloseFrameBody(gobwas.StatusNormalClosure, "")
	_ = wsutil.WriteServerMessage(c.conn, gobwas.OpClose, body)
	c.mu.Unlock()
	return c.conn.Close()
}

// RemoteAddr implements relay.Conn.
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

type controlRW struct{ c *Conn }

func (rw controlRW) Read(p []byte) (int, error) {
	return rw.c.reader.Read(p)
}

func (rw controlRW) Write(p []byte) (int, error) {
	rw.c.mu.Lock()
	defer rw.c.mu.Unlock()
	return rw.c.conn.Write(p)
}
