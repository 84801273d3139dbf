package tunnel

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"nfcrelay/util"
)

// DefaultHealthInterval is how often a Manager checks the tunnel.
const DefaultHealthInterval = 10 * time.Second

// ManagerOptions tunes the health loop of a Manager.
type ManagerOptions struct {
	Interval time.Duration
	Clock    clock.Clock

	// OnLost runs once, from the health loop, when the tunnel is found
	// dead. The relay link riding the tunnel is gone at that point.
	OnLost func()
}

// Manager wraps a Tunnel and adds periodic health monitoring.
type Manager struct {
	tunnel Tunnel
	opts   ManagerOptions
	logger *util.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewManager returns a Manager for the given tunnel.
func NewManager(t Tunnel, logger *util.Logger, opts ManagerOptions) *Manager {
	if opts.Interval <= 0 {
		opts.Interval = DefaultHealthInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Manager{tunnel: t, opts: opts, logger: logger.Named("tunnel")}
}

// Tunnel returns the managed tunnel.
func (m *Manager) Tunnel() Tunnel { return m.tunnel }

// Start connects the tunnel and begins background health checks. The
// loop ends when ctx is done, Stop is called, or the tunnel dies.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.tunnel.Connect(ctx); err != nil {
		return err
	}
	tick := m.opts.Clock.Ticker(m.opts.Interval)
	stop, done := make(chan struct{}), make(chan struct{})

	m.mu.Lock()
	m.stop, m.done = stop, done
	m.mu.Unlock()

	go m.healthLoop(ctx, tick, stop, done)
	return nil
}

// Stop ends the health loop and shuts down the tunnel.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
	m.mu.Unlock()
	return m.tunnel.Close()
}

// Done is closed when the health loop exits.
func (m *Manager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

func (m *Manager) healthLoop(ctx context.Context, tick *clock.Ticker, stop, done chan struct{}) {
	defer close(done)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-tick.C:
			if !m.tunnel.IsAlive() {
				m.logger.Error("SSH tunnel connection lost")
				if m.opts.OnLost != nil {
					m.opts.OnLost()
				}
				return
			}
		}
	}
}
