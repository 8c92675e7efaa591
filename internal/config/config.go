// Package config defines runtime defaults, environment overrides and
// sanitisation for the relay server.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPort         = "9000"
	defaultNATSSubject  = "relay"
	defaultMaxFrameSize = 16 << 20
	defaultWriteTimeout = 10 * time.Second
)

// Config holds the server configuration.
type Config struct {
	// Port is the TCP port of the framed relay listener.
	Port string
	// HTTPAddr serves /ws, /metrics and /healthz. Empty disables it.
	HTTPAddr string
	// UsersFile holds "user:bcrypt-hash" lines. Empty uses the built-in accounts.
	UsersFile string
	// NATSURL enables mirroring broadcasts to NATS. Empty disables it.
	NATSURL     string
	NATSSubject string

	AuthTimeout       time.Duration
	WriteTimeout      time.Duration
	MaxFrameSize      uint32
	AuthenticatedOnly bool
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Port:         defaultPort,
		NATSSubject:  defaultNATSSubject,
		WriteTimeout: defaultWriteTimeout,
		MaxFrameSize: defaultMaxFrameSize,
	}
}

// FromEnv creates a Config from environment variables.
// Falls back to default values if environment variables are not set.
func FromEnv() Config {
	cfg := Default()

	if port := os.Getenv("RELAY_PORT"); port != "" {
		cfg.Port = port
	}
	if addr := os.Getenv("RELAY_HTTP_ADDR"); addr != "" {
		cfg.HTTPAddr = addr
	}
	if path := os.Getenv("RELAY_USERS_FILE"); path != "" {
		cfg.UsersFile = path
	}
	if url := os.Getenv("RELAY_NATS_URL"); url != "" {
		cfg.NATSURL = url
	}
	if subject := os.Getenv("RELAY_NATS_SUBJECT"); subject != "" {
		cfg.NATSSubject = subject
	}
	if v := os.Getenv("RELAY_AUTH_TIMEOUT"); v != "" {
		cfg.AuthTimeout = parseDuration(v, cfg.AuthTimeout)
	}
	if v := os.Getenv("RELAY_WRITE_TIMEOUT"); v != "" {
		cfg.WriteTimeout = parseDuration(v, cfg.WriteTimeout)
	}
	if v := os.Getenv("RELAY_MAX_FRAME_SIZE"); v != "" {
		cfg.MaxFrameSize = parseFrameSize(v, cfg.MaxFrameSize)
	}
	if v := os.Getenv("RELAY_AUTHENTICATED_ONLY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AuthenticatedOnly = b
		}
	}

	return cfg
}

// Sanitize fills empty or invalid fields with defaults.
func (c Config) Sanitize() Config {
	c.Port = strings.TrimPrefix(strings.TrimSpace(c.Port), ":")
	if c.Port == "" {
		c.Port = defaultPort
	}
	if c.NATSSubject == "" {
		c.NATSSubject = defaultNATSSubject
	}
	if c.AuthTimeout < 0 {
		c.AuthTimeout = 0
	}
	if c.WriteTimeout < 0 {
		c.WriteTimeout = 0
	}
	return c
}

// ListenAddr returns the relay listen address on all interfaces.
func (c Config) ListenAddr() string {
	return ":" + c.Port
}

// ValidPort reports whether port is a TCP port number.
func ValidPort(port string) bool {
	n, err := strconv.Atoi(port)
	return err == nil && n >= 0 && n <= 65535
}

func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d >= 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

func parseFrameSize(value string, defaultValue uint32) uint32 {
	if size, err := strconv.ParseUint(value, 10, 32); err == nil {
		return uint32(size)
	}
	return defaultValue
}
