package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/omochice/clinical-relay/internal/config"
	"github.com/omochice/clinical-relay/internal/server"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cfg := config.FromEnv()

	cmd := &cobra.Command{
		Use:   "relay-server [port]",
		Short: "Relay chat lines and FHIR documents between authenticated clients",
		Long: `relay-server accepts length-prefixed JSON frames on a TCP port,
authenticates each connection and fans chat lines and FHIR documents
out to every other participant.

With --http-addr the same room is also reachable over WebSocket at /ws,
and /metrics and /healthz are served alongside.

Examples:
  relay-server 9000
  relay-server 9000 --http-addr=:8080 --users=users.txt
  RELAY_NATS_URL=nats://localhost:4222 relay-server 9000`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				cfg.Port = args[0]
			}
			if !config.ValidPort(cfg.Port) {
				return fmt.Errorf("invalid port %q", cfg.Port)
			}
			return run(cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "address serving /ws, /metrics and /healthz (disabled when empty)")
	flags.StringVar(&cfg.UsersFile, "users", cfg.UsersFile, "file of user:bcrypt-hash lines (built-in accounts when empty)")
	flags.StringVar(&cfg.NATSURL, "nats-url", cfg.NATSURL, "mirror broadcasts to this NATS server")
	flags.StringVar(&cfg.NATSSubject, "nats-subject", cfg.NATSSubject, "subject prefix for mirrored broadcasts")
	flags.DurationVar(&cfg.AuthTimeout, "auth-timeout", cfg.AuthTimeout, "close connections that do not authenticate in time (0 disables)")
	flags.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "bound on each send to a client (0 disables)")
	flags.Uint32Var(&cfg.MaxFrameSize, "max-frame-size", cfg.MaxFrameSize, "largest accepted frame in bytes (0 means unlimited)")
	flags.BoolVar(&cfg.AuthenticatedOnly, "authenticated-only", cfg.AuthenticatedOnly, "only deliver broadcasts to authenticated connections")

	return cmd
}

func run(cfg config.Config) error {
	srv, err := server.New(cfg, server.Options{})
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		log.Printf("Starting relay server on port %s...", cfg.Sanitize().Port)
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		if err != nil {
			log.Fatalf("Server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("Received signal %v, shutting down...", sig)
		srv.Stop()
	}

	log.Println("Relay server stopped")
	return nil
}
