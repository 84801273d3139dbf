// Package config defines the runtime configuration for nfcrelay and
// provides helpers for parsing tunnel specs and ports.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	rerr "nfcrelay/internal/errors"
	"nfcrelay/internal/filter"
)

// Role is the side of the relay this process plays.
type Role string

const (
	// RoleCard holds the real (or replayed) card and answers the
	// commands the peer forwards.
	RoleCard Role = "card"
	// RoleEmulator faces the reader and forwards its commands.
	RoleEmulator Role = "emulator"
)

// Config holds every tuneable for a single relay session.
type Config struct {
	// ── Peer connection ──────────────────────────────────────────────
	Host      string
	Port      int // peer port (connect side)
	LocalPort int // -p: listen port, or source port when connecting
	Listen    bool
	Timeout   time.Duration

	// ── SSH tunnel ───────────────────────────────────────────────────
	TunnelSpec     string // raw user@host[:port] from -T
	TunnelEnabled  bool
	TunnelUser     string
	TunnelHost     string
	TunnelPort     int
	SSHKeyPath     string
	SSHPassword    bool // true → prompt interactively
	UseSSHAgent    bool
	StrictHostKey  bool
	KnownHostsPath string

	// ── Role and hardware ────────────────────────────────────────────
	Role       Role
	ReplayPath string // trace driving the replay card or replay reader
	Chipset    string

	// ── Relay ────────────────────────────────────────────────────────
	CloneMode          bool
	WorkaroundDisabled bool
	WorkaroundInterval time.Duration
	Filters            []string

	// ── Recording ────────────────────────────────────────────────────
	RecordPath   string
	SinkCapacity int

	// ── Retry ────────────────────────────────────────────────────────
	ReconnectAttempts int

	// ── Output ───────────────────────────────────────────────────────
	Verbose int
}

// ── Port helpers ─────────────────────────────────────────────────────

// ParsePort accepts a decimal port in 1-65535.
func ParsePort(spec string) (int, error) {
	port, err := strconv.Atoi(spec)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", spec)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range 1-65535", port)
	}
	return port, nil
}

// ── Tunnel-spec parser ───────────────────────────────────────────────

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host, and port from a string such as
// "relay@bastion.example.com:2222". Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid tunnel spec %q, expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid tunnel port %q", m[3])
		}
	}
	return user, host, port, nil
}

// ApplyTunnelSpec parses TunnelSpec, if set, into the Tunnel* fields.
func (c *Config) ApplyTunnelSpec() error {
	if c.TunnelSpec == "" {
		return nil
	}
	user, host, port, err := ParseTunnelSpec(c.TunnelSpec)
	if err != nil {
		return &rerr.ConfigError{Field: "tunnel", Value: c.TunnelSpec, Message: err.Error()}
	}
	c.TunnelEnabled = true
	c.TunnelUser = user
	c.TunnelHost = host
	c.TunnelPort = port
	return nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent. The
// returned error is a *errors.ConfigError naming the offending flag.
func (c *Config) Validate() error {
	switch c.Role {
	case RoleCard, RoleEmulator:
	default:
		return &rerr.ConfigError{
			Field:   "role",
			Value:   string(c.Role),
			Message: "unknown role",
			Hint:    "use --role card or --role emulator",
		}
	}

	if c.Listen {
		if c.LocalPort == 0 {
			return &rerr.ConfigError{
				Field:   "port",
				Message: "listen mode requires a port",
				Hint:    "nfcrelay -l -p 7000",
			}
		}
		if c.TunnelEnabled {
			return &rerr.ConfigError{
				Field:   "tunnel",
				Value:   c.TunnelSpec,
				Message: "waiting for a peer through an SSH tunnel is not supported",
				Hint:    "run the listening side on a reachable host and let the other side use -T",
			}
		}
	} else {
		if c.Host == "" {
			return &rerr.ConfigError{
				Field:   "host",
				Message: "peer hostname is required",
				Hint:    "nfcrelay [options] <host> <port>, or -l -p <port> to wait for the peer",
			}
		}
		if c.Port < 1 || c.Port > 65535 {
			return &rerr.ConfigError{Field: "port", Value: c.Port, Message: "peer port is required (1-65535)"}
		}
	}

	if c.LocalPort < 0 || c.LocalPort > 65535 {
		return &rerr.ConfigError{Field: "port", Value: c.LocalPort, Message: "out of range 1-65535"}
	}

	if c.Role == RoleEmulator && c.ReplayPath == "" {
		return &rerr.ConfigError{
			Field:   "replay",
			Message: "emulator role needs a reader script",
			Hint:    "record one on the card side with --record, then pass it with --replay",
		}
	}

	if c.TunnelEnabled && c.TunnelHost == "" {
		return &rerr.ConfigError{Field: "tunnel", Value: c.TunnelSpec, Message: "tunnel host is required"}
	}

	if c.WorkaroundInterval <= 0 {
		return &rerr.ConfigError{Field: "workaround-interval", Value: c.WorkaroundInterval, Message: "must be positive"}
	}
	if c.SinkCapacity < 1 {
		return &rerr.ConfigError{Field: "sink-capacity", Value: c.SinkCapacity, Message: "must be at least 1"}
	}
	if c.ReconnectAttempts < 0 {
		return &rerr.ConfigError{Field: "reconnect", Value: c.ReconnectAttempts, Message: "must not be negative"}
	}

	for _, spec := range c.Filters {
		if _, err := filter.Parse(spec); err != nil {
			return &rerr.ConfigError{
				Field:   "filter",
				Value:   spec,
				Message: err.Error(),
				Hint:    "shape:action[=arg] with shape anticol, emulator or card",
			}
		}
	}
	return nil
}
