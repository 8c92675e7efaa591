package tcp

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/omochice/clinical-relay/internal/relay"
)

// ErrServerClosed is returned by Listen once Stop has been called.
var ErrServerClosed = errors.New("tcp: server closed")

// Acceptor takes ownership of accepted connections.
type Acceptor interface {
	Attach(conn relay.Conn) error
}

// Server accepts TCP connections and hands them to an Acceptor.
type Server struct {
	address      string
	maxFrameSize uint32
	acceptor     Acceptor
	listener     net.Listener
	mu           sync.Mutex
	ready        chan struct{}
	quit         chan struct{}
	stopOnce     sync.Once
}

// New creates a TCP server that hands connections to acceptor.
func New(address string, acceptor Acceptor, maxFrameSize uint32) *Server {
	return &Server{
		address:      address,
		maxFrameSize: maxFrameSize,
		acceptor:     acceptor,
		ready:        make(chan struct{}),
		quit:         make(chan struct{}),
	}
}

// Listen binds the listening socket. Start calls it if needed.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}
	select {
	case <-s.quit:
		return ErrServerClosed
	default:
	}

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to start TCP server: %w", err)
	}
	s.listener = listener
	close(s.ready)

	log.Printf("TCP server started on %s", listener.Addr().String())
	return nil
}

// Start accepts connections until Stop is called. It returns nil at once
// if Stop ran first.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		if errors.Is(err, ErrServerClosed) {
			return nil
		}
		return err
	}

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Printf("Failed to accept TCP connection: %v", err)
			continue
		}

		if err := s.acceptor.Attach(NewConn(conn, s.maxFrameSize)); err != nil {
			log.Printf("Rejecting TCP connection from %s: %v", conn.RemoteAddr(), err)
			conn.Close()
			if errors.Is(err, relay.ErrServerClosed) {
				return nil
			}
		}
	}
}

// Stop closes the listener.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.quit) })

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		s.listener.Close()
	}
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
