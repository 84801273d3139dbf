package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags and environment variable loading.

const (
	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultRole is the side of the relay a bare invocation plays.
	DefaultRole = RoleCard

	// DefaultChipset is reported by simulated hardware. It is not on
	// the defective list, so no workaround runs unless one is named.
	DefaultChipset = "generic"

	// DefaultConnTimeout is the TCP/SSH connection timeout.
	DefaultConnTimeout = 30 * time.Second

	// DefaultWriteTimeout bounds a single frame write to the peer.
	DefaultWriteTimeout = 5 * time.Second

	// DefaultWorkaroundInterval is the keep-alive period of the
	// workaround task.
	DefaultWorkaroundInterval = 50 * time.Millisecond

	// DefaultSinkCapacity is the bounded recording queue size.
	DefaultSinkCapacity = 1000

	// DefaultMaxReconnectAttempts is how many times to dial the peer
	// before giving up.
	DefaultMaxReconnectAttempts = 10

	// DefaultInitialBackoff is the first wait between dial attempts.
	DefaultInitialBackoff = 500 * time.Millisecond

	// DefaultMaxReconnectBackoff caps the exponential backoff between
	// reconnection attempts.
	DefaultMaxReconnectBackoff = 60 * time.Second

	// DefaultReplyTimeout is how long the replay reader waits for the
	// card's answer to each recorded command.
	DefaultReplyTimeout = 10 * time.Second
)

// Default returns a Config populated with every default above.
func Default() *Config {
	return &Config{
		Role:               DefaultRole,
		Chipset:            DefaultChipset,
		Timeout:            DefaultConnTimeout,
		WorkaroundInterval: DefaultWorkaroundInterval,
		SinkCapacity:       DefaultSinkCapacity,
		ReconnectAttempts:  DefaultMaxReconnectAttempts,
	}
}
