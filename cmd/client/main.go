package main

import (
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/omochice/clinical-relay/internal/client"
	"github.com/omochice/clinical-relay/internal/client/tcp"
	"github.com/omochice/clinical-relay/internal/client/ui"
	"github.com/omochice/clinical-relay/internal/client/ws"
	"github.com/omochice/clinical-relay/internal/config"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		useWebSocket bool
		useUI        bool
	)

	cmd := &cobra.Command{
		Use:   "relay-client <username> <password> <host> <port>",
		Short: "Chat and share FHIR documents through a relay server",
		Long: `relay-client logs in to a relay server and reads lines from standard
input. Every line is sent as a chat message, except:

  /fhir <json>   send a FHIR document (checked locally for valid JSON)
  /q             quit

Examples:
  relay-client Dr.Waldmann krankenhaus localhost 9000
  relay-client --websocket Dr.Waldmann krankenhaus localhost 8080`,
		Args:          cobra.ExactArgs(4),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			username, password, host, port := args[0], args[1], args[2], args[3]
			if !config.ValidPort(port) {
				return fmt.Errorf("invalid port %q", port)
			}
			address := net.JoinHostPort(host, port)

			var c client.Client
			if useWebSocket {
				c = ws.New("ws://" + address + "/ws")
			} else {
				c = tcp.New(address)
			}
			if err := c.Connect(); err != nil {
				return fmt.Errorf("unable to connect: %w", err)
			}
			defer c.Disconnect()

			if useUI {
				return runUI(c, username, password)
			}
			return runConsole(c, username, password)
		},
	}

	cmd.Flags().BoolVar(&useWebSocket, "websocket", false, "connect through the server's /ws endpoint")
	cmd.Flags().BoolVar(&useUI, "ui", false, "use the full-screen terminal interface")

	return cmd
}

func runConsole(c client.Client, username, password string) error {
	s := client.NewSession(c, func(line string) {
		fmt.Println(line)
	})
	if err := s.Login(username, password); err != nil {
		return err
	}

	return client.Run(s, os.Stdin)
}

func runUI(c client.Client, username, password string) error {
	u, err := ui.New(c, username)
	if err != nil {
		return err
	}
	defer u.Close()
	return u.Run(password)
}
