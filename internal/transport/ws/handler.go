package ws

import (
	"io"
	"log"
	"net/http"

	gobwas "github.com/gobwas/ws"

	"github.com/omochice/clinical-relay/internal/relay"
)

// Acceptor takes ownership of upgraded connections.
type Acceptor interface {
	Attach(conn relay.Conn) error
}

// Handler upgrades HTTP requests to WebSocket and hands them to an Acceptor.
type Handler struct {
	acceptor Acceptor
}

// NewHandler creates a Handler.
func NewHandler(acceptor Acceptor) *Handler {
	return &Handler{acceptor: acceptor}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, rw, _, err := gobwas.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("Failed to accept WebSocket connection: %v", err)
		return
	}

	// Frames sent right after the handshake may already sit in the buffer.
	var reader io.Reader = conn
	if rw != nil && rw.Reader.Buffered() > 0 {
		reader = rw.Reader
	}

	c := NewConn(conn, reader, r.RemoteAddr)
	if err := h.acceptor.Attach(c); err != nil {
		log.Printf("Rejecting WebSocket connection from %s: %v", r.RemoteAddr, err)
		c.Close()
	}
}
