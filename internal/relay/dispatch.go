package relay

import (
	"context"
	"log"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/omochice/clinical-relay/pkg/protocol"
)

// dispatch runs one decoded frame through the per-connection state machine.
// A connection is authenticated exactly when the registry holds its ID.
func (s *Server) dispatch(ctx context.Context, p *peer, payload []byte) {
	ctx, span := s.tracer.Start(ctx, "relay.dispatch",
		trace.WithAttributes(attribute.String("relay.peer_id", p.id)))
	defer span.End()

	msg, err := protocol.Unmarshal(payload)
	if err != nil {
		log.Printf("Failed to decode message from %s: %v", p.conn.RemoteAddr(), err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode")
		s.opts.Metrics.Dropped("decode")
		return
	}

	span.SetAttributes(attribute.String("relay.message_type", string(msg.Type())))
	s.opts.Metrics.FrameReceived(string(msg.Type()))

	nick, authenticated := s.registry.Lookup(p.id)

	switch m := msg.(type) {
	case protocol.Auth:
		if authenticated {
			log.Printf("Ignoring auth from %s: already authenticated as %s", p.conn.RemoteAddr(), nick)
			s.opts.Metrics.Dropped("reauth")
			return
		}
		s.authenticate(ctx, p, m)

	case protocol.Chat:
		if !authenticated {
			s.opts.Metrics.Dropped("unauthenticated")
			return
		}
		s.broadcast(ctx, p, protocol.Chat{Nick: nick, Message: m.Message})

	case protocol.Document:
		if !authenticated {
			s.opts.Metrics.Dropped("unauthenticated")
			return
		}
		if !s.opts.Validator.Valid(m.Data) {
			log.Printf("Dropping invalid document from %s", nick)
			span.SetStatus(codes.Error, "invalid document")
			s.opts.Metrics.Dropped("invalid_document")
			return
		}
		s.broadcast(ctx, p, protocol.Document{Nick: nick, Data: m.Data})

	case protocol.AuthSuccess, protocol.AuthFail, protocol.Join, protocol.Leave:
		log.Printf("Ignoring server-only %s message from %s", m.Type(), p.conn.RemoteAddr())
		s.opts.Metrics.Dropped("server_only")

	default:
		log.Printf("Ignoring unhandled %s message from %s", m.Type(), p.conn.RemoteAddr())
		s.opts.Metrics.Dropped("unhandled")
	}
}

func (s *Server) authenticate(ctx context.Context, p *peer, m protocol.Auth) {
	ok := s.opts.Authenticator.Verify(m.Username, m.Password)
	s.opts.Metrics.AuthAttempt(ok)

	if !ok {
		log.Printf("Authentication failed for %q from %s", m.Username, p.conn.RemoteAddr())
		if err := s.sendMessage(ctx, p, protocol.AuthFail{}); err != nil {
			log.Printf("Failed to send auth_fail to %s: %v", p.conn.RemoteAddr(), err)
		}
		s.disconnect(ctx, p)
		return
	}

	if err := s.registry.Register(p.id, m.Username); err != nil {
		log.Printf("Failed to register %s: %v", p.conn.RemoteAddr(), err)
		return
	}
	s.sessionCount.Add(1)
	s.opts.Metrics.SessionOpened()
	if p.authTimer != nil {
		p.authTimer.Stop()
	}
	log.Printf("Client %s authenticated as %s", p.conn.RemoteAddr(), m.Username)

	if err := s.sendMessage(ctx, p, protocol.AuthSuccess{}); err != nil {
		// Nobody has seen a join yet, so drop the session without a leave.
		log.Printf("Failed to send auth_success to %s: %v", p.conn.RemoteAddr(), err)
		s.endSession(p)
		s.disconnect(ctx, p)
		return
	}

	s.broadcast(ctx, p, protocol.Join{Nick: m.Username})
}

func (s *Server) sendMessage(ctx context.Context, p *peer, msg protocol.Message) error {
	payload, err := protocol.MarshalOutbound(msg)
	if err != nil {
		return err
	}
	return s.send(ctx, p, payload)
}
