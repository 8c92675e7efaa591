package relay

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/omochice/clinical-relay/internal/metrics"
	"github.com/omochice/clinical-relay/pkg/protocol"
)

// ErrServerClosed is returned by Attach once Run has returned.
var ErrServerClosed = errors.New("relay: server closed")

// Sink receives a copy of every message the relay fans out.
type Sink interface {
	Publish(msg protocol.Message)
}

// Options configures a Server.
type Options struct {
	Authenticator Authenticator
	Validator     Validator

	// AuthTimeout closes connections that have not authenticated in time.
	// Zero disables the timeout.
	AuthTimeout time.Duration

	// WriteTimeout bounds each send. Zero means sends block.
	WriteTimeout time.Duration

	// AuthenticatedOnly restricts fan-out to authenticated connections.
	// By default every live connection receives broadcasts.
	AuthenticatedOnly bool

	Metrics *metrics.Metrics
	Sink    Sink
	Tracer  trace.Tracer
}

type peer struct {
	id        string
	conn      Conn
	removed   bool
	authTimer *time.Timer
}

type eventKind int

const (
	eventFrame eventKind = iota
	eventClosed
	eventAuthTimeout
)

type event struct {
	kind    eventKind
	peer    *peer
	payload []byte
	err     error
}

// Server is the connection multiplexer. All connection and session state is
// owned by the goroutine running Run; transports hand connections over with
// Attach and per-connection readers feed frames back as events.
type Server struct {
	opts     Options
	tracer   trace.Tracer
	attach   chan *peer
	events   chan event
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	peers    []*peer
	registry *Registry

	peerCount    atomic.Int64
	sessionCount atomic.Int64
}

// New creates a Server. Authenticator and Validator are required.
func New(opts Options) *Server {
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/omochice/clinical-relay/internal/relay")
	}
	return &Server{
		opts:     opts,
		tracer:   tracer,
		attach:   make(chan *peer),
		events:   make(chan event),
		done:     make(chan struct{}),
		registry: NewRegistry(),
	}
}

// Attach hands conn to the event loop as a new unauthenticated connection.
// It blocks until the loop accepts it.
func (s *Server) Attach(conn Conn) error {
	p := &peer{id: uuid.NewString(), conn: conn}
	select {
	case s.attach <- p:
		return nil
	case <-s.done:
		return ErrServerClosed
	}
}

// PeerCount returns the number of live connections.
func (s *Server) PeerCount() int {
	return int(s.peerCount.Load())
}

// SessionCount returns the number of authenticated connections.
func (s *Server) SessionCount() int {
	return int(s.sessionCount.Load())
}

// Run processes events until ctx is cancelled, then closes every connection.
func (s *Server) Run(ctx context.Context) error {
	defer s.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case p := <-s.attach:
			s.accept(ctx, p)
		case ev := <-s.events:
			s.handle(ctx, ev)
		}
	}
}

func (s *Server) shutdown() {
	s.stopOnce.Do(func() { close(s.done) })

	for _, p := range append([]*peer(nil), s.peers...) {
		s.remove(p)
	}
	s.wg.Wait()
	log.Printf("Relay stopped")
}

func (s *Server) accept(ctx context.Context, p *peer) {
	s.peers = append(s.peers, p)
	s.peerCount.Add(1)
	s.opts.Metrics.ConnectionOpened()
	log.Printf("Client %s connected (%s)", p.conn.RemoteAddr(), p.id)

	if s.opts.AuthTimeout > 0 {
		p.authTimer = time.AfterFunc(s.opts.AuthTimeout, func() {
			s.deliver(event{kind: eventAuthTimeout, peer: p})
		})
	}

	s.wg.Add(1)
	go s.readLoop(ctx, p)
}

// readLoop is the only code outside Run that touches a peer, and it only
// reads from the connection.
func (s *Server) readLoop(ctx context.Context, p *peer) {
	defer s.wg.Done()
	for {
		payload, err := p.conn.Read(ctx)
		if err != nil {
			s.deliver(event{kind: eventClosed, peer: p, err: err})
			return
		}
		if !s.deliver(event{kind: eventFrame, peer: p, payload: payload}) {
			return
		}
	}
}

func (s *Server) deliver(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *Server) handle(ctx context.Context, ev event) {
	if ev.peer.removed {
		return
	}

	switch ev.kind {
	case eventFrame:
		start := time.Now()
		s.dispatch(ctx, ev.peer, ev.payload)
		s.opts.Metrics.ObserveDispatch(time.Since(start))
	case eventClosed:
		if !errors.Is(ev.err, protocol.ErrEndOfStream) && !isExpectedCloseError(ev.err) {
			log.Printf("Error reading from client %s: %v", ev.peer.conn.RemoteAddr(), ev.err)
		}
		s.disconnect(ctx, ev.peer)
	case eventAuthTimeout:
		if _, ok := s.registry.Lookup(ev.peer.id); ok {
			return
		}
		log.Printf("Client %s did not authenticate within %s", ev.peer.conn.RemoteAddr(), s.opts.AuthTimeout)
		s.disconnect(ctx, ev.peer)
	}
}

// remove drops p from the live set and closes it. It reports false if p was
// already removed, so every cleanup path runs at most once per connection.
func (s *Server) remove(p *peer) bool {
	if p.removed {
		return false
	}
	p.removed = true

	for i, q := range s.peers {
		if q == p {
			s.peers = append(s.peers[:i], s.peers[i+1:]...)
			break
		}
	}
	if p.authTimer != nil {
		p.authTimer.Stop()
	}
	if err := p.conn.Close(); err != nil && !isExpectedCloseError(err) {
		log.Printf("Error closing client %s: %v", p.conn.RemoteAddr(), err)
	}

	s.peerCount.Add(-1)
	s.opts.Metrics.ConnectionClosed()
	return true
}

// endSession deletes p's session, if any, and returns its nickname.
func (s *Server) endSession(p *peer) (string, bool) {
	nick, ok := s.registry.Remove(p.id)
	if ok {
		s.sessionCount.Add(-1)
		s.opts.Metrics.SessionClosed()
	}
	return nick, ok
}

// disconnect removes p and announces its departure if it held a session.
func (s *Server) disconnect(ctx context.Context, p *peer) {
	if !s.remove(p) {
		return
	}
	log.Printf("Client %s disconnected", p.conn.RemoteAddr())

	if nick, ok := s.endSession(p); ok {
		s.broadcast(ctx, p, protocol.Leave{Nick: nick})
	}
}

func (s *Server) send(ctx context.Context, p *peer, payload []byte) error {
	if s.opts.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.WriteTimeout)
		defer cancel()
	}
	return p.conn.Write(ctx, payload)
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "io: read/write on closed pipe") ||
		strings.Contains(errStr, "connection reset by peer") ||
		strings.Contains(errStr, "broken pipe")
}
