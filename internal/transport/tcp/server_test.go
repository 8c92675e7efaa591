package tcp_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/omochice/clinical-relay/internal/relay"
	"github.com/omochice/clinical-relay/internal/transport/tcp"
	"github.com/omochice/clinical-relay/pkg/protocol"
)

type recordingAcceptor struct {
	got chan relay.Conn
}

func newRecordingAcceptor() *recordingAcceptor {
	return &recordingAcceptor{got: make(chan relay.Conn, 10)}
}

func (a *recordingAcceptor) Attach(conn relay.Conn) error {
	a.got <- conn
	return nil
}

func startServer(t *testing.T, acceptor tcp.Acceptor) *tcp.Server {
	t.Helper()
	srv := tcp.New("127.0.0.1:0", acceptor, 0)
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	go srv.Start()
	t.Cleanup(srv.Stop)
	return srv
}

func TestServer_Start(t *testing.T) {
	acceptor := newRecordingAcceptor()
	srv := startServer(t, acceptor)

	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	var accepted relay.Conn
	select {
	case accepted = <-acceptor.got:
	case <-time.After(2 * time.Second):
		t.Fatal("connection was not handed to the acceptor")
	}

	if err := protocol.WriteFrame(conn, []byte(`{"type":"chat","message":"hi"}`)); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}
	data, err := accepted.Read(context.Background())
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(data) != `{"type":"chat","message":"hi"}` {
		t.Errorf("Read() = %q", data)
	}
}

func TestServer_Addr(t *testing.T) {
	srv := tcp.New("127.0.0.1:0", newRecordingAcceptor(), 0)
	if srv.Addr() != "" {
		t.Error("Addr() before Listen should be empty")
	}

	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer srv.Stop()

	select {
	case <-srv.Ready():
	default:
		t.Error("Ready() not closed after Listen")
	}
	if srv.Addr() == "" {
		t.Error("Addr() returned empty string")
	}
}

func TestServer_ListenError(t *testing.T) {
	first := startServer(t, newRecordingAcceptor())

	second := tcp.New(first.Addr(), newRecordingAcceptor(), 0)
	if err := second.Start(); err == nil {
		second.Stop()
		t.Fatal("expected bind error for an address in use")
	}
}

func TestServer_Stop(t *testing.T) {
	srv := tcp.New("127.0.0.1:0", newRecordingAcceptor(), 0)
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	errChan := make(chan error, 1)
	go func() { errChan <- srv.Start() }()

	srv.Stop()

	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("server did not stop in time")
	}

	if _, err := net.Dial("tcp", srv.Addr()); err == nil {
		t.Error("expected error after stop, got nil")
	}
}

func TestServer_StopBeforeStart(t *testing.T) {
	srv := tcp.New("127.0.0.1:0", newRecordingAcceptor(), 0)
	srv.Stop()

	if err := srv.Listen(); !errors.Is(err, tcp.ErrServerClosed) {
		t.Errorf("Listen() after Stop error = %v, want %v", err, tcp.ErrServerClosed)
	}

	errChan := make(chan error, 1)
	go func() { errChan <- srv.Start() }()

	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("Start() after Stop error = %v, want nil", err)
		}
	case <-time.After(time.Second):
		srv.Stop()
		t.Fatal("Start() after Stop kept serving")
	}

	if srv.Addr() != "" {
		t.Errorf("Addr() = %q, want empty: nothing should be bound", srv.Addr())
	}
}
