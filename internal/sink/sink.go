// Package sink records relayed messages off the hardware path.
//
// The Manager owns a bounded queue.  Offer never blocks: when the queue
// is full the entry is dropped and a warning is logged.  A dedicated
// goroutine drains the queue and fans each entry out to the registered
// sinks.
package sink

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"nfcrelay/internal/metrics"
	"nfcrelay/internal/nfc"
	"nfcrelay/util"
)

// Entry is one recorded message plus its arrival order.
type Entry struct {
	Seq     uint64
	Time    time.Time
	Run     string // recording run ID, shared by all entries of a Manager
	Message nfc.Message
}

// Sink consumes recorded entries.  Consume is only ever called from the
// Manager's consumer goroutine.
type Sink interface {
	Consume(e Entry) error
	Close() error
}

// Admit reports whether a message may be offered to the sink.  In clone
// mode only anticollision records are recorded; otherwise everything is.
func Admit(cloneMode bool, m nfc.Message) bool {
	return !cloneMode || m.Kind == nfc.KindAnticollision
}

// Options tune a Manager.  Zero values select defaults.
type Options struct {
	Capacity int // queue capacity (default 1000)
	Logger   *util.Logger
	Metrics  *metrics.Collector
	Clock    clock.Clock
}

// Manager is the asynchronous recording sink.
type Manager struct {
	queue   chan Entry
	sinks   []Sink
	logger  *util.Logger
	metrics *metrics.Collector
	clock   clock.Clock
	run     string
	seq     atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// DefaultCapacity is the queue size used when Options.Capacity is 0.
const DefaultCapacity = 1000

// NewManager creates a stopped Manager feeding sinks.
func NewManager(opts Options, sinks ...Sink) *Manager {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	logger := opts.Logger
	if logger == nil {
		logger = util.NewLogger(0)
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Manager{
		queue:   make(chan Entry, capacity),
		sinks:   sinks,
		logger:  logger.Named("sink"),
		metrics: opts.Metrics,
		clock:   clk,
		run:     uuid.NewString(),
	}
}

// Run returns the recording run ID stamped on every entry.
func (m *Manager) Run() string { return m.run }

// Len returns the number of entries waiting for the consumer.
func (m *Manager) Len() int { return len(m.queue) }

// Cap returns the queue capacity.
func (m *Manager) Cap() int { return cap(m.queue) }

// Offer enqueues msg without blocking.  It returns false, after logging
// a warning, when the queue is full and the entry was dropped.
func (m *Manager) Offer(msg nfc.Message) bool {
	e := Entry{
		Seq:     m.seq.Add(1),
		Time:    m.clock.Now(),
		Run:     m.run,
		Message: msg.Clone(),
	}
	select {
	case m.queue <- e:
		m.metrics.SinkOffered()
		return true
	default:
		m.metrics.SinkDropped()
		m.logger.Warn("queue full (%d), dropping entry %d: %s", cap(m.queue), e.Seq, msg)
		return false
	}
}

// Running reports whether the consumer goroutine is active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done != nil
}

// Start launches the consumer goroutine.  Calling Start on a running
// Manager is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done != nil {
		m.logger.Verbose("consumer already started")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.logger.Verbose("starting consumer (run %s)", m.run)
	go m.consume(ctx, m.done)
}

// Stop signals the consumer, lets it flush the entries already queued
// and waits for it to exit.  Calling Stop on a stopped Manager is a
// no-op.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if done == nil {
		return
	}
	cancel()
	<-done
	m.logger.Verbose("consumer stopped")
}

// Close stops the consumer and closes every sink.
func (m *Manager) Close() error {
	m.Stop()
	var err error
	for _, s := range m.sinks {
		err = multierr.Append(err, s.Close())
	}
	return err
}

func (m *Manager) consume(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case e := <-m.queue:
			m.dispatch(e)
		case <-ctx.Done():
			m.flush()
			return
		}
	}
}

// flush drains what is queued right now without waiting for more.
func (m *Manager) flush() {
	for {
		select {
		case e := <-m.queue:
			m.dispatch(e)
		default:
			return
		}
	}
}

func (m *Manager) dispatch(e Entry) {
	for _, s := range m.sinks {
		if err := s.Consume(e); err != nil {
			m.logger.Error("entry %d: %v", e.Seq, err)
		}
	}
}
