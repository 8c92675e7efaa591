package server_test

import (
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/omochice/clinical-relay/internal/config"
	"github.com/omochice/clinical-relay/internal/httpapi"
	"github.com/omochice/clinical-relay/internal/server"
	"github.com/omochice/clinical-relay/pkg/protocol"
)

type staticAuth map[string]string

func (a staticAuth) Verify(username, password string) bool {
	want, ok := a[username]
	return ok && want == password
}

var testUsers = staticAuth{"alice": "secret", "bob": "hunter2"}

func startServer(t *testing.T, cfg config.Config) *server.Server {
	t.Helper()

	srv, err := server.New(cfg, server.Options{Authenticator: testUsers})
	if err != nil {
		t.Fatalf("server.New() error = %v", err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	select {
	case <-srv.Ready():
	case err := <-errChan:
		t.Fatalf("Start() error = %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not become ready")
	}

	t.Cleanup(func() {
		srv.Stop()
		select {
		case err := <-errChan:
			if err != nil {
				t.Errorf("Start() error = %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("server did not stop in time")
		}
	})
	return srv
}

// loopback turns a wildcard listen address into one a client can dial.
func loopback(t *testing.T, addr string) string {
	t.Helper()
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("bad address %q: %v", addr, err)
	}
	return net.JoinHostPort("127.0.0.1", port)
}

func dialTCP(t *testing.T, srv *server.Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", loopback(t, srv.Addr()))
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func writeMsg(t *testing.T, conn net.Conn, msg protocol.Message) {
	t.Helper()
	data, err := protocol.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if err := protocol.WriteFrame(conn, data); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}
}

func readMsg(t *testing.T, conn net.Conn) protocol.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	payload, err := protocol.ReadFrame(conn, 0)
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	msg, err := protocol.Unmarshal(payload)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	return msg
}

func expect(t *testing.T, got, want protocol.Message) {
	t.Helper()
	gotJSON, _ := protocol.Marshal(got)
	wantJSON, _ := protocol.Marshal(want)
	if string(gotJSON) != string(wantJSON) {
		t.Errorf("got %s, want %s", gotJSON, wantJSON)
	}
}

func TestServer_StartStop(t *testing.T) {
	srv := startServer(t, config.Config{Port: "0"})

	if srv.Addr() == "" {
		t.Fatal("Server address is empty")
	}
	if srv.HTTPAddr() != "" {
		t.Errorf("HTTPAddr() = %q, want empty when HTTP is disabled", srv.HTTPAddr())
	}

	conn := dialTCP(t, srv)
	deadline := time.Now().Add(time.Second)
	for srv.ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := srv.ClientCount(); got != 1 {
		t.Errorf("ClientCount() = %d, want 1", got)
	}
	_ = conn.Close()
}

func TestServer_StartFailsOnBusyPort(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()

	_, port, _ := net.SplitHostPort(ln.Addr().String())
	srv, err := server.New(config.Config{Port: port}, server.Options{Authenticator: testUsers})
	if err != nil {
		t.Fatalf("server.New() error = %v", err)
	}
	defer srv.Stop()

	if err := srv.Start(); err == nil {
		t.Error("Start() on a busy port should fail")
	}
}

func TestServer_StopBeforeStart(t *testing.T) {
	srv, err := server.New(config.Config{Port: "0", HTTPAddr: "127.0.0.1:0"}, server.Options{Authenticator: testUsers})
	if err != nil {
		t.Fatalf("server.New() error = %v", err)
	}
	srv.Stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("Start() after Stop error = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() after Stop kept serving")
	}
	if srv.Addr() != "" || srv.HTTPAddr() != "" {
		t.Errorf("Addr() = %q, HTTPAddr() = %q, want nothing bound", srv.Addr(), srv.HTTPAddr())
	}
}

func TestServer_TCPChat(t *testing.T) {
	srv := startServer(t, config.Config{Port: "0"})

	alice := dialTCP(t, srv)
	writeMsg(t, alice, protocol.Auth{Username: "alice", Password: "secret"})
	expect(t, readMsg(t, alice), protocol.AuthSuccess{})

	bob := dialTCP(t, srv)
	writeMsg(t, bob, protocol.Auth{Username: "bob", Password: "hunter2"})
	expect(t, readMsg(t, bob), protocol.AuthSuccess{})
	expect(t, readMsg(t, alice), protocol.Join{Nick: "bob"})

	writeMsg(t, bob, protocol.Chat{Message: "hello"})
	expect(t, readMsg(t, alice), protocol.Chat{Nick: "bob", Message: "hello"})

	_ = bob.Close()
	expect(t, readMsg(t, alice), protocol.Leave{Nick: "bob"})
}

func TestServer_TCPAuthFailure(t *testing.T) {
	srv := startServer(t, config.Config{Port: "0"})

	conn := dialTCP(t, srv)
	writeMsg(t, conn, protocol.Auth{Username: "alice", Password: "wrong"})
	expect(t, readMsg(t, conn), protocol.AuthFail{})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := protocol.ReadFrame(conn, 0); err != protocol.ErrEndOfStream {
		t.Errorf("ReadFrame() after auth_fail error = %v, want %v", err, protocol.ErrEndOfStream)
	}
}

func TestServer_WebSocketAndTCPShareRoom(t *testing.T) {
	srv := startServer(t, config.Config{Port: "0", HTTPAddr: "127.0.0.1:0"})

	wsURL := "ws://" + srv.HTTPAddr() + "/ws"
	wsConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to dial %s: %v", wsURL, err)
	}
	defer wsConn.Close()

	readWS := func() protocol.Message {
		t.Helper()
		_ = wsConn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := wsConn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage() error = %v", err)
		}
		msg, err := protocol.Unmarshal(data)
		if err != nil {
			t.Fatalf("Unmarshal() error = %v", err)
		}
		return msg
	}

	auth, _ := protocol.Marshal(protocol.Auth{Username: "alice", Password: "secret"})
	if err := wsConn.WriteMessage(websocket.TextMessage, auth); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	expect(t, readWS(), protocol.AuthSuccess{})

	bob := dialTCP(t, srv)
	writeMsg(t, bob, protocol.Auth{Username: "bob", Password: "hunter2"})
	expect(t, readMsg(t, bob), protocol.AuthSuccess{})
	expect(t, readWS(), protocol.Join{Nick: "bob"})

	doc := protocol.Document{Data: json.RawMessage(`{"resourceType":"Patient","id":"p1"}`)}
	writeMsg(t, bob, doc)
	got, ok := readWS().(protocol.Document)
	if !ok {
		t.Fatalf("expected a fhir message, got %T", got)
	}
	if got.Nick != "bob" {
		t.Errorf("Document.Nick = %q, want %q", got.Nick, "bob")
	}
}

func TestServer_HealthAndMetrics(t *testing.T) {
	srv := startServer(t, config.Config{Port: "0", HTTPAddr: "127.0.0.1:0"})

	conn := dialTCP(t, srv)
	writeMsg(t, conn, protocol.Auth{Username: "alice", Password: "secret"})
	expect(t, readMsg(t, conn), protocol.AuthSuccess{})

	resp, err := http.Get("http://" + srv.HTTPAddr() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	defer resp.Body.Close()

	var health httpapi.Health
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode /healthz: %v", err)
	}
	if health.Status != "ok" || health.Connections != 1 || health.Sessions != 1 {
		t.Errorf("/healthz = %+v, want ok with 1 connection and 1 session", health)
	}

	metricsResp, err := http.Get("http://" + srv.HTTPAddr() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer metricsResp.Body.Close()
	if metricsResp.StatusCode != http.StatusOK {
		t.Errorf("GET /metrics status = %d, want 200", metricsResp.StatusCode)
	}
}
