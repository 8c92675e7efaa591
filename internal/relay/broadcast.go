package relay

import (
	"context"
	"log"

	"github.com/omochice/clinical-relay/pkg/protocol"
)

type outbound struct {
	origin *peer
	msg    protocol.Message
}

// broadcast sends msg to every live connection except origin, in accept
// order. Recipients whose send fails are collected during the pass and
// cleaned up after it; each one that held a session produces a leave that
// is queued behind the current message instead of recursing.
func (s *Server) broadcast(ctx context.Context, origin *peer, msg protocol.Message) {
	queue := []outbound{{origin: origin, msg: msg}}

	for len(queue) > 0 {
		job := queue[0]
		queue = queue[1:]

		payload, err := protocol.MarshalOutbound(job.msg)
		if err != nil {
			log.Printf("Failed to encode %s broadcast: %v", job.msg.Type(), err)
			continue
		}
		if s.opts.Sink != nil {
			s.opts.Sink.Publish(job.msg)
		}

		var failed []*peer
		delivered := 0
		for _, p := range s.peers {
			if p == job.origin || !s.eligible(p) {
				continue
			}
			if err := s.send(ctx, p, payload); err != nil {
				log.Printf("Error sending message to %s: %v", p.conn.RemoteAddr(), err)
				s.opts.Metrics.SendFailed()
				failed = append(failed, p)
				continue
			}
			delivered++
		}
		s.opts.Metrics.Broadcast(string(job.msg.Type()), delivered)

		for _, p := range failed {
			if !s.remove(p) {
				continue
			}
			log.Printf("Client %s disconnected", p.conn.RemoteAddr())
			if nick, ok := s.endSession(p); ok {
				queue = append(queue, outbound{origin: p, msg: protocol.Leave{Nick: nick}})
			}
		}
	}
}

func (s *Server) eligible(p *peer) bool {
	if !s.opts.AuthenticatedOnly {
		return true
	}
	_, ok := s.registry.Lookup(p.id)
	return ok
}
