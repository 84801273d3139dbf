package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"nfcrelay/config"
	"nfcrelay/internal/card"
	"nfcrelay/internal/emulator"
	rerr "nfcrelay/internal/errors"
	"nfcrelay/internal/filter"
	"nfcrelay/internal/metrics"
	"nfcrelay/internal/netlink"
	"nfcrelay/internal/nfc"
	"nfcrelay/internal/relay"
	"nfcrelay/internal/retry"
	"nfcrelay/internal/sink"
	"nfcrelay/internal/transport"
	"nfcrelay/util"
)

// statusBuffer is how many peer notifications may wait for the driver.
const statusBuffer = 16

// RelayMode runs one side of the relay: it reaches the peer, serves the
// link and drives the local hardware for its role until either side
// ends the session.
type RelayMode struct {
	Role config.Role

	// Peer. Conn, when set, is used as is and Dialer/Listen are skipped.
	Conn          net.Conn
	Dialer        transport.Dialer
	Address       string
	Listen        bool
	ListenAddress string
	Timeout       time.Duration
	Backoff       *retry.Backoff
	WriteTimeout  time.Duration

	// Hardware. Trace is the recorded session behind the replay card
	// (card role) or the replay reader script (emulator role).
	Trace        []sink.Entry
	ReplyTimeout time.Duration

	// Relay behaviour.
	Pipeline           *filter.Pipeline
	Chipset            string
	CloneMode          bool
	WorkaroundDisabled bool
	WorkaroundInterval time.Duration

	// Recording. RecordPath, when set, adds a JSON-lines file sink.
	RecordPath   string
	SinkCapacity int

	Clock   clock.Clock
	Logger  *util.Logger
	Metrics *metrics.Collector
}

// run is the state of one Run call.
type run struct {
	mode   *RelayMode
	logger *util.Logger
	clock  clock.Clock
	link   *netlink.Link
	coord  *relay.Coordinator
	virt   *emulator.Virtual
	status chan netlink.Type
}

// Run reaches the peer and relays until the peer hangs up, the role
// driver finishes or ctx is cancelled. Every resource is released when
// Run returns.
func (m *RelayMode) Run(ctx context.Context) (err error) {
	logger := m.Logger
	if logger == nil {
		logger = util.NewLogger(0)
	}
	clk := m.Clock
	if clk == nil {
		clk = clock.New()
	}
	if m.Dialer != nil {
		defer m.Dialer.Close()
	}

	conn, err := m.peer(ctx, logger)
	if err != nil {
		return err
	}

	sinks := []sink.Sink{&sink.LogSink{Logger: logger.Named("record")}}
	if m.RecordPath != "" {
		fs, ferr := sink.NewFileSink(m.RecordPath)
		if ferr != nil {
			conn.Close()
			return &rerr.ConfigError{Field: "record", Value: m.RecordPath, Message: ferr.Error()}
		}
		sinks = append(sinks, fs)
	}
	recorder := sink.NewManager(sink.Options{
		Capacity: m.SinkCapacity,
		Logger:   logger,
		Metrics:  m.Metrics,
		Clock:    clk,
	}, sinks...)

	r := &run{
		mode:   m,
		logger: logger,
		clock:  clk,
		status: make(chan netlink.Type, statusBuffer),
	}
	r.link = netlink.New(conn, netlink.Options{
		WriteTimeout: m.WriteTimeout,
		Clock:        clk,
		Logger:       logger,
		Metrics:      m.Metrics,
	})

	opts := relay.Options{
		Pipeline:           m.Pipeline,
		Sink:               recorder,
		Link:               r.link,
		Chipset:            m.Chipset,
		WorkaroundDisabled: m.WorkaroundDisabled,
		WorkaroundInterval: m.WorkaroundInterval,
		CloneMode:          m.CloneMode,
		Clock:              clk,
		Logger:             logger,
		Metrics:            m.Metrics,
	}
	if m.Role == config.RoleEmulator {
		r.virt = emulator.NewVirtual(logger)
		opts.Emulator = r.virt
	}
	r.coord = relay.New(opts)
	r.coord.Start()
	logger.Info("relay %s side up, run %s", m.Role, recorder.Run())

	defer func() {
		err = multierr.Combine(err,
			r.coord.Shutdown(),
			recorder.Close(),
			r.link.Close(),
		)
		logger.Verbose("metrics: %s", m.Metrics.JSON())
	}()

	return r.serve(ctx)
}

// peer returns the connection to the other relay side.
func (m *RelayMode) peer(ctx context.Context, logger *util.Logger) (net.Conn, error) {
	switch {
	case m.Conn != nil:
		return m.Conn, nil
	case m.Listen:
		logger.Verbose("waiting for relay peer on %s", m.ListenAddress)
		return netlink.Listen(ctx, m.ListenAddress, m.Timeout, logger)
	default:
		logger.Verbose("connecting to relay peer %s", m.Address)
		conn, err := netlink.Dial(ctx, m.Dialer, m.Address, m.Backoff, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to %s: %w", m.Address, err)
		}
		return conn, nil
	}
}

// serve runs the link reader and the role driver side by side. Either
// one finishing ends the other.
func (r *run) serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	linkDone := make(chan struct{})

	g.Go(func() error {
		defer close(linkDone)
		err := r.link.Serve(gctx, netlink.Dispatcher{Messages: r.coord, Status: r.peerStatus})
		switch {
		case errors.Is(err, rerr.ErrLinkClosed):
			r.logger.Info("relay peer hung up")
			return nil
		case netlink.IsEnd(err):
			return nil
		}
		return err
	})
	g.Go(func() error {
		defer cancel()
		if r.mode.Role == config.RoleEmulator {
			return r.driveEmulator(gctx, linkDone)
		}
		return r.driveCard(gctx, linkDone)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// peerStatus logs a notification and hands it to the role driver.
func (r *run) peerStatus(t netlink.Type) {
	switch t {
	case netlink.TypeNotConnected, netlink.TypeWorkaroundDisconnect:
		r.logger.Warn("peer: %s", t)
	default:
		r.logger.Info("peer: %s", t)
	}
	select {
	case r.status <- t:
	default:
		r.logger.Debug("peer status %s not consumed", t)
	}
}

// ── Card role ────────────────────────────────────────────────────────

// driveCard presents the replay card, if any, and then waits for the
// session to end. The coordinator answers the peer's commands from the
// link goroutine.
func (r *run) driveCard(ctx context.Context, linkDone <-chan struct{}) error {
	if len(r.mode.Trace) == 0 {
		r.logger.Info("no card present; answering %s", netlink.TypeNotConnected)
	} else {
		tag, err := card.NewReplayTag(r.mode.Trace)
		if err != nil {
			return err
		}
		r.logger.Verbose("replay card with %d recorded exchanges", tag.Pairs())
		if err := r.coord.AttachCard(tag); err != nil {
			r.logger.Warn("card not attached: %v", err)
		}
	}

	select {
	case <-ctx.Done():
	case <-linkDone:
	}
	return r.coord.DetachCard()
}

// ── Emulator role ────────────────────────────────────────────────────

// driveEmulator plays the recorded reader script against the remote
// card once its identity has been applied, then detaches.
func (r *run) driveEmulator(ctx context.Context, linkDone <-chan struct{}) error {
	if err := r.coord.AttachEmulator(r.virt); err != nil {
		return err
	}
	defer func() {
		r.coord.DetachEmulator()
		r.virt.Deactivate()
	}()

	if err := r.await(ctx, linkDone, netlink.TypeCardFound); err != nil {
		return err
	}
	if id, ok := r.virt.Identity(); ok {
		r.logger.Info("emulating card %s", util.Hex(id.UID))
	}
	if r.coord.CloneMode() {
		r.logger.Info("clone mode: identity applied, reader script skipped")
		return nil
	}

	commands := emulator.Commands(r.mode.Trace)
	for i, cmd := range commands {
		r.logger.Verbose("reader command %d/%d: %s", i+1, len(commands), util.Hex(cmd))
		if err := r.coord.HandleEmulatorData(nfc.NewApplicationData(nfc.OriginEmulator, cmd)); err != nil {
			return err
		}
		resp, err := r.response(ctx, linkDone)
		if err != nil {
			return fmt.Errorf("command %d (%s): %w", i+1, util.Hex(cmd), err)
		}
		r.logger.Info("reader <- %s", util.Hex(resp))
	}
	r.logger.Info("reader script complete (%d commands)", len(commands))
	return nil
}

// await blocks until the peer reports want.
func (r *run) await(ctx context.Context, linkDone <-chan struct{}, want netlink.Type) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-linkDone:
			return rerr.ErrLinkClosed
		case t := <-r.status:
			if t == want {
				return nil
			}
		}
	}
}

// response waits for the card's answer to reach the virtual emulator.
func (r *run) response(ctx context.Context, linkDone <-chan struct{}) ([]byte, error) {
	timeout := r.mode.ReplyTimeout
	if timeout <= 0 {
		timeout = config.DefaultReplyTimeout
	}
	timer := r.clock.Timer(timeout)
	defer timer.Stop()

	for {
		select {
		case resp := <-r.virt.Responses():
			return resp, nil
		case t := <-r.status:
			if t == netlink.TypeNotConnected {
				return nil, rerr.ErrNotConnected
			}
		case <-timer.C:
			return nil, fmt.Errorf("%w: no reply after %s", rerr.ErrTimeout, timeout)
		case <-linkDone:
			return nil, rerr.ErrLinkClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
