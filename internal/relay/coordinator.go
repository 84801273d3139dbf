// Package relay implements the relay coordinator: it owns the hardware
// role state, runs every message through the filter pipeline, records
// it, and forwards it to the card, the emulator or the network peer.
package relay

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"nfcrelay/internal/card"
	"nfcrelay/internal/emulator"
	rerr "nfcrelay/internal/errors"
	"nfcrelay/internal/filter"
	"nfcrelay/internal/metrics"
	"nfcrelay/internal/nfc"
	"nfcrelay/internal/session"
	"nfcrelay/internal/sink"
	"nfcrelay/internal/workaround"
	"nfcrelay/util"
)

// Options configure a Coordinator.  The zero value is usable: a nil
// Pipeline is the identity transform and a nil Sink disables recording.
type Options struct {
	Pipeline *filter.Pipeline
	Sink     *sink.Manager
	Link     NetworkLink

	// Emulator is the identity configuration surface used by
	// ApplyAnticollision.  When nil the attached emulator handle is used.
	Emulator emulator.Interface

	Chipset            string
	WorkaroundDisabled bool
	WorkaroundInterval time.Duration
	CloneMode          bool

	Clock   clock.Clock
	Logger  *util.Logger
	Metrics *metrics.Collector
}

// Coordinator is the relay core.  All methods are safe for concurrent
// use; hardware and network calls are made without holding the state
// lock.
type Coordinator struct {
	pipeline *filter.Pipeline
	sink     *sink.Manager
	config   emulator.Interface
	clock    clock.Clock
	logger   *util.Logger
	metrics  *metrics.Collector

	chipset            string
	workaroundDisabled bool
	workaroundInterval time.Duration

	mu        sync.Mutex
	link      NetworkLink
	session   *session.Session
	emu       emulator.Interface
	cloneMode bool
	started   bool
}

// New creates an idle coordinator.
func New(opts Options) *Coordinator {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &Coordinator{
		pipeline:           opts.Pipeline,
		sink:               opts.Sink,
		config:             opts.Emulator,
		clock:              clk,
		logger:             logger.Named("relay"),
		metrics:            opts.Metrics,
		chipset:            opts.Chipset,
		workaroundDisabled: opts.WorkaroundDisabled,
		workaroundInterval: opts.WorkaroundInterval,
		link:               opts.Link,
		cloneMode:          opts.CloneMode,
	}
}

// SetNetworkLink attaches (or, with nil, detaches) the peer link.
func (c *Coordinator) SetNetworkLink(link NetworkLink) {
	c.mu.Lock()
	c.link = link
	c.mu.Unlock()
}

// SetCloneMode toggles clone mode.  It has no hardware side effect.
func (c *Coordinator) SetCloneMode(enabled bool) {
	c.mu.Lock()
	c.cloneMode = enabled
	c.mu.Unlock()
	c.logger.Info("clone mode %s", onOff(enabled))
}

// CloneMode reports whether clone mode is on.
func (c *Coordinator) CloneMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cloneMode
}

// Role reports the hardware role currently occupied.
func (c *Coordinator) Role() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.session != nil:
		return RoleCard
	case c.emu != nil:
		return RoleEmulator
	default:
		return RoleIdle
	}
}

// WorkaroundActive reports whether the open card session is guarded by
// a running workaround task.
func (c *Coordinator) WorkaroundActive() bool {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	return s != nil && s.Guarded()
}

// ── Lifecycle ────────────────────────────────────────────────────────

// Start launches the sink consumer.  Starting twice is a no-op.
func (c *Coordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		c.logger.Verbose("already started")
		return
	}
	c.started = true
	if c.sink != nil {
		c.sink.Start()
	}
	c.logger.Verbose("started")
}

// Shutdown cancels the workaround, closes the card connection and stops
// the sink consumer.  It is safe to call more than once.
func (c *Coordinator) Shutdown() error {
	c.mu.Lock()
	s := c.session
	c.session = nil
	wasStarted := c.started
	c.started = false
	c.mu.Unlock()

	var err error
	if s != nil {
		err = multierr.Append(err, s.Close())
	}
	if c.sink != nil {
		c.sink.Stop()
	}
	if wasStarted {
		c.logger.Verbose("shut down")
	}
	return err
}

// ── Card role ────────────────────────────────────────────────────────

// AttachCard connects to a detected tag and opens a card session.  A
// tag with no supported technology is logged and ignored.  An open card
// session is replaced.
func (c *Coordinator) AttachCard(tag card.Tag) error {
	c.mu.Lock()
	busy := c.emu != nil
	c.mu.Unlock()
	if busy {
		c.logger.Error("attachCard: emulator session active")
		return fmt.Errorf("attach card: %w", rerr.ErrRoleConflict)
	}

	r, err := card.Resolve(tag)
	if err != nil {
		c.logger.Error("attachCard: %v", err)
		return err
	}

	s := session.New(r, c.clock, c.logger)
	c.mu.Lock()
	if c.emu != nil {
		// An emulator attached while the tag was connecting.
		c.mu.Unlock()
		c.logger.Error("attachCard: emulator session active")
		if err := r.CloseConnection(); err != nil {
			c.logger.Warn("attachCard: %v", err)
		}
		return fmt.Errorf("attach card: %w", rerr.ErrRoleConflict)
	}
	prev := c.session
	c.session = s
	link := c.link
	c.mu.Unlock()

	if prev != nil {
		c.logger.Verbose("attachCard: replacing session %s", prev.ID)
		if err := prev.Close(); err != nil {
			c.logger.Warn("attachCard: closing previous session: %v", err)
		}
	}
	c.logger.Info("attachCard: %s card attached (session %s)", r.Technology(), s.ID)

	if link == nil {
		c.logger.Info("attachCard: no network link, holding card locally")
		return nil
	}

	c.startWorkaround(s, link)

	ac, err := c.ReadAnticollision()
	if err != nil {
		return err
	}
	link.SendAnticollision(ac)
	link.NotifyCardFound()
	return nil
}

// DetachCard ends the open card session: the workaround is cancelled
// and the connection closed.
func (c *Coordinator) DetachCard() error {
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	c.logger.Info("detachCard: session %s", s.ID)
	return s.Close()
}

func (c *Coordinator) startWorkaround(s *session.Session, link NetworkLink) {
	switch {
	case !workaround.Needed(c.chipset):
		c.logger.Verbose("workaround: chipset %q not affected", c.chipset)
		return
	case c.workaroundDisabled:
		c.logger.Info("workaround: disabled in configuration")
		return
	}

	task := workaround.New(c.chipset, keeperFor(s.Card), workaround.Options{
		Interval: c.workaroundInterval,
		Clock:    c.clock,
		Logger:   c.logger,
		Metrics:  c.metrics,
		OnFailure: func(error) {
			link.DisconnectCardWorkaround()
		},
	})
	task.Start()
	s.Guard(task)
	link.NotifyCardWorkaroundConnected()
}

// SendToCard relays a reader command to the attached card and the
// card's reply back to the peer.  A nil reply is a lost connection.
func (c *Coordinator) SendToCard(m nfc.Message) error {
	const op = "sendToCard"

	c.mu.Lock()
	s, link := c.session, c.link
	c.mu.Unlock()

	if s == nil || !s.Card.IsConnected() {
		c.notConnected(op, link)
		return fmt.Errorf("%s: %w", op, rerr.ErrNotConnected)
	}
	if m.Kind != nfc.KindApplicationData {
		return fmt.Errorf("%s: unexpected %s", op, m.Kind)
	}

	out, err := c.process(op, filter.ShapeEmulatorData, m)
	if err != nil {
		return err
	}

	reply, err := s.Card.SendCommand(out.Payload)
	if err != nil || reply == nil {
		c.connectionLost(op, s, link, err)
		if err != nil {
			return fmt.Errorf("%s: %w: %w", op, rerr.ErrConnectionLost, err)
		}
		return fmt.Errorf("%s: %w", op, rerr.ErrConnectionLost)
	}

	res, err := c.process(op, filter.ShapeCardData, nfc.NewApplicationData(nfc.OriginCard, reply))
	if err != nil {
		return err
	}
	if link != nil {
		link.SendCardReply(res)
	}
	return nil
}

func (c *Coordinator) connectionLost(op string, s *session.Session, link NetworkLink, cause error) {
	c.mu.Lock()
	owner := c.session == s
	if owner {
		c.session = nil
	}
	c.mu.Unlock()
	if !owner {
		return
	}

	if cause != nil {
		c.logger.Warn("%s: card connection lost: %v", op, cause)
	} else {
		c.logger.Warn("%s: card connection lost (no reply)", op)
	}
	c.metrics.ConnectionLost()
	// A failed workaround has already told the peer.
	guarded := s.Guarded()
	if err := s.Close(); err != nil {
		c.logger.Warn("%s: close: %v", op, err)
	}
	if guarded && link != nil {
		link.DisconnectCardWorkaround()
	}
	c.notConnected(op, link)
}

// ReadAnticollision reads the attached card's identity and runs it
// through the anticollision stages.
func (c *Coordinator) ReadAnticollision() (nfc.Message, error) {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return nfc.Message{}, fmt.Errorf("readAnticollision: %w", rerr.ErrNotConnected)
	}
	return c.process("readAnticollision", filter.ShapeAnticollision, card.Anticollision(s.Card))
}

// ── Emulator role ────────────────────────────────────────────────────

// AttachEmulator records the emulator handle answering a reader.  It
// fails with ErrRoleConflict while a connected card is attached; a card
// session whose connection already dropped is torn down first.
func (c *Coordinator) AttachEmulator(e emulator.Interface) error {
	c.mu.Lock()
	s := c.session
	if s != nil && s.Card.IsConnected() {
		c.mu.Unlock()
		c.logger.Error("attachEmulator: card session %s active", s.ID)
		return fmt.Errorf("attach emulator: %w", rerr.ErrRoleConflict)
	}
	c.session = nil
	c.emu = e
	clone, link := c.cloneMode, c.link
	c.mu.Unlock()

	if s != nil {
		c.logger.Verbose("attachEmulator: dropping stale card session %s", s.ID)
		if err := s.Close(); err != nil {
			c.logger.Warn("attachEmulator: %v", err)
		}
	}
	c.logger.Info("attachEmulator: reader present")
	if !clone && link != nil {
		link.NotifyReaderFound()
	}
	return nil
}

// DetachEmulator clears the emulator handle.
func (c *Coordinator) DetachEmulator() {
	c.mu.Lock()
	c.emu = nil
	clone, link := c.cloneMode, c.link
	c.mu.Unlock()

	c.logger.Info("detachEmulator: reader gone")
	if !clone && link != nil {
		link.NotifyReaderRemoved()
	}
}

// SendToReader relays a card reply to the reader through the emulator.
func (c *Coordinator) SendToReader(m nfc.Message) error {
	const op = "sendToReader"

	c.mu.Lock()
	emu, link := c.emu, c.link
	c.mu.Unlock()

	if emu == nil {
		c.notConnected(op, link)
		return fmt.Errorf("%s: %w", op, rerr.ErrNotConnected)
	}
	out, err := c.process(op, filter.ShapeCardData, m)
	if err != nil {
		return err
	}
	if err := emu.SendResponse(out.Payload); err != nil {
		c.logger.Error("%s: %v", op, err)
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// HandleEmulatorData takes a command the emulator received from a real
// reader and, outside clone mode, forwards it to the peer.
func (c *Coordinator) HandleEmulatorData(m nfc.Message) error {
	const op = "handleEmulatorData"

	out, err := c.process(op, filter.ShapeEmulatorData, m)
	if err != nil {
		return err
	}
	c.mu.Lock()
	clone, link := c.cloneMode, c.link
	c.mu.Unlock()
	if !clone && link != nil {
		link.SendApplicationMessage(out)
	}
	return nil
}

// ApplyAnticollision installs a card identity on the emulator and
// activates emulation.
func (c *Coordinator) ApplyAnticollision(rec nfc.Message) error {
	const op = "applyAnticollision"

	if rec.Kind != nfc.KindAnticollision {
		return fmt.Errorf("%s: unexpected %s", op, rec.Kind)
	}
	out, err := c.process(op, filter.ShapeAnticollision, rec)
	if err != nil {
		return err
	}

	target := c.config
	if target == nil {
		c.mu.Lock()
		target = c.emu
		c.mu.Unlock()
	}
	if target == nil {
		c.logger.Error("%s: no emulator", op)
		return fmt.Errorf("%s: %w", op, rerr.ErrNotConnected)
	}

	if err := target.UploadIdentity(emulator.IdentityFrom(out)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := target.Activate(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	c.logger.Info("%s: patch enabled (uid %s)", op, util.Hex(out.UID))
	return nil
}

// ── Helpers ──────────────────────────────────────────────────────────

// process is the common path of every relayed message: filter, record,
// count.  A filter failure aborts the operation without touching role
// state.
func (c *Coordinator) process(op string, shape filter.Shape, m nfc.Message) (nfc.Message, error) {
	c.logger.Debug("%s: pre-filter: %s", op, m)
	out, err := c.pipeline.Apply(shape, m)
	if err != nil {
		c.metrics.FilterError()
		c.logger.Error("%s: %v", op, err)
		return nfc.Message{}, fmt.Errorf("%s: %w", op, err)
	}
	if c.sink != nil && sink.Admit(c.CloneMode(), out) {
		c.sink.Offer(out)
	}
	c.metrics.MessageRelayed(metricsOrigin(out.Origin))
	c.logger.Debug("%s: post-filter: %s", op, out)
	return out, nil
}

func (c *Coordinator) notConnected(op string, link NetworkLink) {
	c.logger.Error("%s: no counterpart connected", op)
	c.metrics.NotConnected()
	if link != nil {
		link.NotifyNotConnected()
	}
}

// keeperFor adapts a card to the workaround loop.  Cards without a
// native keep-alive are pinged by checking the connection.
func keeperFor(r card.Reader) workaround.Keeper {
	if k, ok := r.(workaround.Keeper); ok {
		return k
	}
	return connectedKeeper{r}
}

type connectedKeeper struct{ r card.Reader }

func (k connectedKeeper) KeepAlive() error {
	if !k.r.IsConnected() {
		return rerr.ErrNotConnected
	}
	return nil
}

func metricsOrigin(o nfc.Origin) metrics.Origin {
	switch o {
	case nfc.OriginCard:
		return metrics.OriginCard
	case nfc.OriginReader:
		return metrics.OriginReader
	case nfc.OriginEmulator:
		return metrics.OriginEmulator
	default:
		return metrics.OriginNetwork
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
