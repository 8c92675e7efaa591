// Package server assembles the relay process: the event loop, the framed
// TCP listener, the optional HTTP side (WebSocket, metrics, health) and
// the optional NATS tap.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/omochice/clinical-relay/internal/auth"
	"github.com/omochice/clinical-relay/internal/config"
	"github.com/omochice/clinical-relay/internal/fhir"
	"github.com/omochice/clinical-relay/internal/httpapi"
	"github.com/omochice/clinical-relay/internal/metrics"
	"github.com/omochice/clinical-relay/internal/relay"
	"github.com/omochice/clinical-relay/internal/tap"
	"github.com/omochice/clinical-relay/internal/transport/tcp"
	"github.com/omochice/clinical-relay/internal/transport/ws"
)

const shutdownTimeout = 5 * time.Second

// Options overrides the collaborators chosen from Config.
type Options struct {
	Authenticator relay.Authenticator
	Validator     relay.Validator
	Sink          relay.Sink
}

// Server represents the whole relay process.
type Server struct {
	cfg      config.Config
	relay    *relay.Server
	tcp      *tcp.Server
	http     *http.Server
	tap      *tap.Tap
	registry *prometheus.Registry

	ctx       context.Context
	cancel    context.CancelFunc
	relayDone chan struct{}

	mu           sync.Mutex
	httpListener net.Listener
	started      bool
	stopOnce     sync.Once
}

// New creates a Server from cfg. Missing options are built from cfg: the
// credential file (or the built-in accounts), the resourceType validator
// and, when a NATS URL is configured, the NATS tap.
func New(cfg config.Config, opts Options) (*Server, error) {
	cfg = cfg.Sanitize()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		registry:  prometheus.NewRegistry(),
		ctx:       ctx,
		cancel:    cancel,
		relayDone: make(chan struct{}),
	}

	if opts.Authenticator == nil {
		dir, err := loadDirectory(cfg.UsersFile)
		if err != nil {
			cancel()
			return nil, err
		}
		opts.Authenticator = dir
	}
	if opts.Validator == nil {
		opts.Validator = fhir.ResourceTypeValidator{}
	}
	if opts.Sink == nil && cfg.NATSURL != "" {
		t, err := tap.Dial(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			cancel()
			return nil, err
		}
		s.tap = t
		opts.Sink = t
	}

	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s.relay = relay.New(relay.Options{
		Authenticator:     opts.Authenticator,
		Validator:         opts.Validator,
		AuthTimeout:       cfg.AuthTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		AuthenticatedOnly: cfg.AuthenticatedOnly,
		Metrics:           metrics.New(s.registry),
		Sink:              opts.Sink,
	})
	s.tcp = tcp.New(cfg.ListenAddr(), s.relay, cfg.MaxFrameSize)

	if cfg.HTTPAddr != "" {
		s.http = &http.Server{
			Handler:           httpapi.NewRouter(ws.NewHandler(s.relay), s.registry, s.relay),
			ReadHeaderTimeout: 15 * time.Second,
		}
	}
	return s, nil
}

func loadDirectory(path string) (*auth.Directory, error) {
	if path == "" {
		return auth.Default(), nil
	}
	dir, err := auth.LoadFile(path)
	if err != nil {
		return nil, err
	}
	log.Printf("Loaded %d accounts from %s", dir.Len(), path)
	return dir, nil
}

// Start binds the listeners and serves until Stop is called. Failure to
// bind is the only error it reports. After Stop it returns nil without
// binding anything.
func (s *Server) Start() error {
	if err := s.tcp.Listen(); err != nil {
		if errors.Is(err, tcp.ErrServerClosed) {
			return nil
		}
		return err
	}

	if s.http != nil {
		ln, err := net.Listen("tcp", s.cfg.HTTPAddr)
		if err != nil {
			s.tcp.Stop()
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		s.mu.Lock()
		s.httpListener = ln
		s.mu.Unlock()
		log.Printf("HTTP server started on %s (/ws, /metrics, /healthz)", ln.Addr().String())

		go func() {
			if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("HTTP server error: %v", err)
			}
		}()
	}

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	go func() {
		defer close(s.relayDone)
		if err := s.relay.Run(s.ctx); err != nil {
			log.Printf("Relay error: %v", err)
		}
	}()

	return s.tcp.Start()
}

// Stop closes the listeners and every connection.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.tcp.Stop()

		if s.http != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := s.http.Shutdown(ctx); err != nil {
				log.Printf("HTTP server shutdown error: %v", err)
			}
		}

		s.cancel()
		s.mu.Lock()
		started := s.started
		s.mu.Unlock()
		if started {
			<-s.relayDone
		}

		if s.tap != nil {
			s.tap.Close()
		}
	})
}

// Ready is closed once the relay listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.tcp.Ready()
}

// Addr returns the relay's listening address.
func (s *Server) Addr() string {
	return s.tcp.Addr()
}

// HTTPAddr returns the HTTP listening address, or "" when disabled.
func (s *Server) HTTPAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpListener != nil {
		return s.httpListener.Addr().String()
	}
	return ""
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	return s.relay.PeerCount()
}

// SessionCount returns the number of authenticated clients.
func (s *Server) SessionCount() int {
	return s.relay.SessionCount()
}

// Gatherer exposes the metrics registry.
func (s *Server) Gatherer() prometheus.Gatherer {
	return s.registry
}
