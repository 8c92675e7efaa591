package relay_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/omochice/clinical-relay/internal/relay"
	"github.com/omochice/clinical-relay/pkg/protocol"
)

const waitTimeout = 2 * time.Second

// mockConn is a mock implementation of relay.Conn for testing.
type mockConn struct {
	readCh     chan []byte
	written    chan []byte
	closedCh   chan struct{}
	closeOnce  sync.Once
	hangOnce   sync.Once
	mu         sync.Mutex
	writeErr   error
	remoteAddr string
}

func newMockConn(addr string) *mockConn {
	return &mockConn{
		readCh:     make(chan []byte, 10),
		written:    make(chan []byte, 100),
		closedCh:   make(chan struct{}),
		remoteAddr: addr,
	}
}

func (m *mockConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-m.readCh:
		if !ok {
			return nil, protocol.ErrEndOfStream
		}
		return data, nil
	case <-m.closedCh:
		return nil, protocol.ErrEndOfStream
	}
}

func (m *mockConn) Write(ctx context.Context, data []byte) error {
	m.mu.Lock()
	err := m.writeErr
	m.mu.Unlock()
	if err != nil {
		return err
	}
	select {
	case <-m.closedCh:
		return errClosed
	default:
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	m.written <- copied
	return nil
}

func (m *mockConn) Close() error {
	m.closeOnce.Do(func() { close(m.closedCh) })
	return nil
}

func (m *mockConn) RemoteAddr() string {
	return m.remoteAddr
}

func (m *mockConn) failWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// hangUp simulates the peer closing its end of the stream.
func (m *mockConn) hangUp() {
	m.hangOnce.Do(func() { close(m.readCh) })
}

func (m *mockConn) isClosed() bool {
	select {
	case <-m.closedCh:
		return true
	default:
		return false
	}
}

func (m *mockConn) send(t *testing.T, msg protocol.Message) {
	t.Helper()
	data, err := protocol.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	m.readCh <- data
}

func (m *mockConn) sendRaw(data string) {
	m.readCh <- []byte(data)
}

// next returns the next message written to the connection.
func (m *mockConn) next(t *testing.T) protocol.Message {
	t.Helper()
	select {
	case data := <-m.written:
		msg, err := protocol.Unmarshal(data)
		if err != nil {
			t.Fatalf("%s received undecodable payload %q: %v", m.remoteAddr, data, err)
		}
		return msg
	case <-time.After(waitTimeout):
		t.Fatalf("%s: timeout waiting for message", m.remoteAddr)
		return nil
	}
}

func (m *mockConn) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-m.closedCh:
	case <-time.After(waitTimeout):
		t.Fatalf("%s: connection was not closed", m.remoteAddr)
	}
}

type closedError struct{}

func (closedError) Error() string { return "use of closed network connection" }

var errClosed error = closedError{}

// Compile-time check that mockConn implements relay.Conn
var _ relay.Conn = (*mockConn)(nil)
