// Package workaround keeps a card session alive on NFC chipsets whose
// driver otherwise resets card-mode state while it polls idle.
//
// The loop pings the card through a Keeper once per interval.  It runs
// until cancelled or until a ping fails; a failure is reported and the
// session carries on without the mitigation.
package workaround

import (
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	rerr "nfcrelay/internal/errors"
	"nfcrelay/internal/metrics"
	"nfcrelay/util"
)

// DefaultInterval is the ping period used when Options.Interval is 0.
const DefaultInterval = 50 * time.Millisecond

// defective lists chipset name prefixes with the idle-polling defect.
var defective = []string{
	"BCM20791",
	"BCM20793",
	"BCM2079X",
}

// Needed reports whether chipset is on the known-defective list.
// Matching is by case-insensitive prefix so firmware suffixes such as
// "BCM20791B5" still match.
func Needed(chipset string) bool {
	name := strings.ToUpper(strings.TrimSpace(chipset))
	if name == "" {
		return false
	}
	for _, p := range defective {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// Keeper is implemented by card interfaces that can be pinged.
type Keeper interface {
	KeepAlive() error
}

// Options tune a Task.  Zero values select defaults.
type Options struct {
	Interval time.Duration
	Clock    clock.Clock
	Logger   *util.Logger
	Metrics  *metrics.Collector

	// OnFailure, if set, receives the *errors.WorkaroundError that
	// stopped the loop.  It is called from the loop goroutine.
	OnFailure func(error)
}

// Task is one workaround loop bound to one card session.
type Task struct {
	chipset string
	keeper  Keeper
	opts    Options
	logger  *util.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// New returns an idle Task for the given chipset and card.
func New(chipset string, k Keeper, opts Options) *Task {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &Task{
		chipset: chipset,
		keeper:  k,
		opts:    opts,
		logger:  logger.Named("workaround"),
	}
}

// Start launches the loop.  Starting a running task is a no-op.
func (t *Task) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done != nil && !closed(t.done) {
		return
	}
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	ticker := t.opts.Clock.Ticker(t.opts.Interval)
	t.opts.Metrics.WorkaroundStarted()
	t.logger.Info("chipset %s: keep-alive every %s", t.chipset, t.opts.Interval)
	go t.loop(ticker, t.stop, t.done)
}

// Cancel stops the loop and waits for it to exit.  Cancelling an idle
// task is a no-op.
func (t *Task) Cancel() {
	t.mu.Lock()
	stop, done := t.stop, t.done
	t.stop, t.done = nil, nil
	t.mu.Unlock()

	if done == nil {
		return
	}
	close(stop)
	<-done
	t.logger.Verbose("chipset %s: cancelled", t.chipset)
}

// Running reports whether the loop goroutine is still active.
func (t *Task) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done != nil && !closed(t.done)
}

// loop marks the task stopped before a failure is reported, so
// OnFailure observes Running() == false.
func (t *Task) loop(ticker *clock.Ticker, stop <-chan struct{}, done chan struct{}) {
	err := t.ping(ticker, stop)
	close(done)
	if err != nil {
		t.fail(err)
	}
}

func (t *Task) ping(ticker *clock.Ticker, stop <-chan struct{}) error {
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return nil
		case <-ticker.C:
			if err := t.keeper.KeepAlive(); err != nil {
				return err
			}
		}
	}
}

func (t *Task) fail(err error) {
	werr := &rerr.WorkaroundError{Chipset: t.chipset, Err: err}
	t.opts.Metrics.WorkaroundFailed()
	t.logger.Warn("%v; continuing without mitigation", werr)
	if t.opts.OnFailure != nil {
		t.opts.OnFailure(werr)
	}
}

func closed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
