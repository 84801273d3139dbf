package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"nfcrelay/tunnel"
	"nfcrelay/util"
)

// SSHDialer routes the relay link through an SSH tunnel. The tunnel is
// connected lazily on the first Dial call, health-checked while up,
// and torn down on Close.
type SSHDialer struct {
	manager   *tunnel.Manager
	config    *tunnel.SSHConfig
	logger    *util.Logger
	mu        sync.Mutex
	connected bool
}

// NewSSHDialer creates a dialer that forwards connections through an
// SSH tunnel. onLost, if non-nil, runs when the health check finds the
// tunnel dead.
func NewSSHDialer(cfg *tunnel.SSHConfig, logger *util.Logger, onLost func()) *SSHDialer {
	return newSSHDialer(tunnel.NewSSHTunnel(cfg, logger), cfg, logger, onLost)
}

func newSSHDialer(t tunnel.Tunnel, cfg *tunnel.SSHConfig, logger *util.Logger, onLost func()) *SSHDialer {
	d := &SSHDialer{config: cfg, logger: logger}
	d.manager = tunnel.NewManager(t, logger, tunnel.ManagerOptions{
		OnLost: func() {
			d.mu.Lock()
			d.connected = false
			d.mu.Unlock()
			if onLost != nil {
				onLost()
			}
		},
	})
	return d
}

// connect establishes the SSH tunnel if not already connected.
func (d *SSHDialer) connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return nil
	}

	d.logger.Verbose("establishing SSH tunnel to %s@%s:%d",
		d.config.User, d.config.Host, d.config.Port)

	if err := d.manager.Start(ctx); err != nil {
		return fmt.Errorf("tunnel: %w", err)
	}

	d.connected = true
	d.logger.Verbose("SSH tunnel established")
	return nil
}

// Dial connects to the peer address through the SSH tunnel, lazily
// establishing the tunnel on the first call.
func (d *SSHDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	if err := d.connect(ctx); err != nil {
		return nil, err
	}
	return d.manager.Tunnel().Dial(ctx, network, address)
}

// Close tears down the underlying SSH tunnel.
func (d *SSHDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		d.connected = false
		return d.manager.Stop()
	}
	return nil
}
