// Package protocol defines the relay wire format: length-prefixed frames
// carrying JSON objects tagged by a "type" field.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type is the discriminant carried in every message's "type" field.
type Type string

const (
	TypeAuth        Type = "auth"
	TypeAuthSuccess Type = "auth_success"
	TypeAuthFail    Type = "auth_fail"
	TypeChat        Type = "chat"
	TypeJoin        Type = "join"
	TypeLeave       Type = "leave"
	TypeDocument    Type = "fhir"
)

var (
	// ErrUnknownType is returned for a missing or unrecognised "type" field.
	ErrUnknownType = errors.New("unknown message type")

	// ErrMissingField is returned when a required field is absent.
	ErrMissingField = errors.New("missing required field")
)

// Message is one decoded protocol message.
type Message interface {
	Type() Type
}

// Auth carries client credentials. Client to server only.
type Auth struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthSuccess acknowledges a successful Auth. Server to client only.
type AuthSuccess struct{}

// AuthFail rejects an Auth. Server to client only.
type AuthFail struct{}

// Chat is a free-text line. Nick is set by the server on the way out;
// use MarshalOutbound to encode server-built messages.
type Chat struct {
	Nick    string `json:"nick,omitempty"`
	Message string `json:"message"`
}

// Join announces a newly authenticated participant.
type Join struct {
	Nick string `json:"nick"`
}

// Leave announces a participant whose connection ended.
type Leave struct {
	Nick string `json:"nick"`
}

// Document carries a structured clinical record. Data is forwarded verbatim.
type Document struct {
	Nick string          `json:"nick,omitempty"`
	Data json.RawMessage `json:"data"`
}

func (Auth) Type() Type        { return TypeAuth }
func (AuthSuccess) Type() Type { return TypeAuthSuccess }
func (AuthFail) Type() Type    { return TypeAuthFail }
func (Chat) Type() Type        { return TypeChat }
func (Join) Type() Type        { return TypeJoin }
func (Leave) Type() Type       { return TypeLeave }
func (Document) Type() Type    { return TypeDocument }

// Marshal encodes m as a JSON object with its "type" field set.
func Marshal(m Message) ([]byte, error) {
	var v any
	switch msg := m.(type) {
	case Auth:
		v = struct {
			Type Type `json:"type"`
			Auth
		}{TypeAuth, msg}
	case AuthSuccess:
		v = envelope{Type: TypeAuthSuccess}
	case AuthFail:
		v = envelope{Type: TypeAuthFail}
	case Chat:
		v = struct {
			Type Type `json:"type"`
			Chat
		}{TypeChat, msg}
	case Join:
		v = struct {
			Type Type `json:"type"`
			Join
		}{TypeJoin, msg}
	case Leave:
		v = struct {
			Type Type `json:"type"`
			Leave
		}{TypeLeave, msg}
	case Document:
		v = struct {
			Type Type `json:"type"`
			Document
		}{TypeDocument, msg}
	default:
		return nil, fmt.Errorf("failed to encode message: %w: %T", ErrUnknownType, m)
	}
	return encode(v)
}

// MarshalOutbound encodes a message the server sends to clients. Unlike
// Marshal, chat and fhir messages always carry "nick", even when empty.
func MarshalOutbound(m Message) ([]byte, error) {
	switch msg := m.(type) {
	case Chat:
		return encode(struct {
			Type    Type   `json:"type"`
			Nick    string `json:"nick"`
			Message string `json:"message"`
		}{TypeChat, msg.Nick, msg.Message})
	case Document:
		return encode(struct {
			Type Type            `json:"type"`
			Nick string          `json:"nick"`
			Data json.RawMessage `json:"data"`
		}{TypeDocument, msg.Nick, msg.Data})
	default:
		return Marshal(m)
	}
}

func encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

type envelope struct {
	Type Type `json:"type"`
}

// Unmarshal decodes one JSON payload into its concrete variant.
// It fails closed: unknown tags and absent required fields are errors.
func Unmarshal(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}

	switch env.Type {
	case TypeAuth:
		var raw struct {
			Username *string `json:"username"`
			Password *string `json:"password"`
		}
		if err := decodeBody(data, &raw); err != nil {
			return nil, err
		}
		if raw.Username == nil {
			return nil, missing(env.Type, "username")
		}
		if raw.Password == nil {
			return nil, missing(env.Type, "password")
		}
		return Auth{Username: *raw.Username, Password: *raw.Password}, nil

	case TypeAuthSuccess:
		return AuthSuccess{}, nil

	case TypeAuthFail:
		return AuthFail{}, nil

	case TypeChat:
		var raw struct {
			Nick    string  `json:"nick"`
			Message *string `json:"message"`
		}
		if err := decodeBody(data, &raw); err != nil {
			return nil, err
		}
		if raw.Message == nil {
			return nil, missing(env.Type, "message")
		}
		return Chat{Nick: raw.Nick, Message: *raw.Message}, nil

	case TypeJoin, TypeLeave:
		var raw struct {
			Nick *string `json:"nick"`
		}
		if err := decodeBody(data, &raw); err != nil {
			return nil, err
		}
		if raw.Nick == nil {
			return nil, missing(env.Type, "nick")
		}
		if env.Type == TypeJoin {
			return Join{Nick: *raw.Nick}, nil
		}
		return Leave{Nick: *raw.Nick}, nil

	case TypeDocument:
		var doc Document
		if err := decodeBody(data, &doc); err != nil {
			return nil, err
		}
		if len(doc.Data) == 0 {
			return nil, missing(env.Type, "data")
		}
		return doc, nil

	default:
		return nil, fmt.Errorf("failed to decode message: %w: %q", ErrUnknownType, env.Type)
	}
}

func decodeBody(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}
	return nil
}

func missing(t Type, field string) error {
	return fmt.Errorf("failed to decode %s message: %w: %s", t, ErrMissingField, field)
}
