package client

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/omochice/clinical-relay/internal/fhir"
	"github.com/omochice/clinical-relay/pkg/protocol"
)

const (
	quitCommand     = "/q"
	documentCommand = "/fhir "
)

var (
	// ErrQuit is returned by HandleLine for the quit command.
	ErrQuit = errors.New("quit")

	// ErrInvalidDocument is returned by ParseLine when a /fhir line does not
	// carry valid JSON.
	ErrInvalidDocument = errors.New("invalid FHIR JSON data")

	// ErrAuthFailed is returned by Receive when the server rejects the login.
	ErrAuthFailed = errors.New("authentication failed")
)

// ParseLine turns one line of user input into the message to send.
func ParseLine(line string) (protocol.Message, error) {
	if line == quitCommand {
		return nil, ErrQuit
	}
	if body, ok := strings.CutPrefix(line, documentCommand); ok {
		if !json.Valid([]byte(body)) {
			return nil, ErrInvalidDocument
		}
		return protocol.Document{Data: json.RawMessage(body)}, nil
	}
	return protocol.Chat{Message: line}, nil
}

// Format renders a server message for display. It reports false for
// messages that have no display form.
func Format(msg protocol.Message) (string, bool) {
	switch m := msg.(type) {
	case protocol.AuthSuccess:
		return "Authentication successful!", true
	case protocol.AuthFail:
		return "Authentication failed. Disconnecting...", true
	case protocol.Chat:
		return fmt.Sprintf("%s: %s", m.Nick, m.Message), true
	case protocol.Join:
		return fmt.Sprintf("*** %s has joined the chat", m.Nick), true
	case protocol.Leave:
		return fmt.Sprintf("*** %s has left the chat", m.Nick), true
	case protocol.Document:
		body, err := fhir.Pretty(m.Data)
		if err != nil {
			body = string(m.Data)
		}
		return fmt.Sprintf("FHIR data from %s: %s", m.Nick, body), true
	default:
		return "", false
	}
}

// Session is one logged-in client: input lines go out as messages and
// server messages come back as display lines.
type Session struct {
	client  Client
	display func(line string)
}

// NewSession creates a Session that prints through display.
// display may be called from the goroutine running Receive.
func NewSession(c Client, display func(line string)) *Session {
	return &Session{client: c, display: display}
}

// Login sends the credentials. The outcome arrives through Receive.
func (s *Session) Login(username, password string) error {
	return s.client.Send(protocol.Auth{Username: username, Password: password})
}

// HandleLine sends one line of user input. It returns ErrQuit for the quit
// command. Malformed documents are reported locally and not sent.
func (s *Session) HandleLine(line string) error {
	msg, err := ParseLine(line)
	if errors.Is(err, ErrInvalidDocument) {
		s.display("Invalid FHIR JSON data.")
		return nil
	}
	if err != nil {
		return err
	}
	return s.client.Send(msg)
}

// Receive displays server messages until the connection ends. It returns
// ErrAuthFailed if the server rejected the login.
func (s *Session) Receive() error {
	for msg := range s.client.Messages() {
		if line, ok := Format(msg); ok {
			s.display(line)
		}
		if _, failed := msg.(protocol.AuthFail); failed {
			return ErrAuthFailed
		}
	}
	s.display("Connection closed by the server.")
	return nil
}

// Run drives s from line-oriented input until the quit command, the end of
// in, or the end of the connection.
func Run(s *Session, in io.Reader) error {
	received := make(chan error, 1)
	go func() {
		received <- s.Receive()
	}()

	lines := make(chan string)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
	}()

	for {
		select {
		case err := <-received:
			return err
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := s.HandleLine(line); err != nil {
				if errors.Is(err, ErrQuit) {
					return nil
				}
				return err
			}
		}
	}
}
