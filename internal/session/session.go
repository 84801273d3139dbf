// Package session represents one card attachment: the connected card
// interface, the chipset workaround guarding it, and its identity for
// logs and recordings.
//
// Sessions decouple the coordinator from the card's lifetime.  Close
// is the single teardown path, so a connection lost mid-exchange and an
// explicit detach release the same resources exactly once.
package session

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"nfcrelay/internal/card"
	"nfcrelay/internal/workaround"
	"nfcrelay/util"
)

// Session is an open card session.
type Session struct {
	ID      string
	Card    card.Reader
	Started time.Time
	Logger  *util.Logger

	clock  clock.Clock
	once   sync.Once
	mu     sync.Mutex
	task   *workaround.Task
	closed bool
}

// New creates a session bound to the given card.  Its start time and
// lifetime are measured on clk.
func New(r card.Reader, clk clock.Clock, logger *util.Logger) *Session {
	id := uuid.NewString()
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &Session{
		ID:      id,
		Card:    r,
		Started: clk.Now(),
		Logger:  logger.Named("session " + id[:8]),
		clock:   clk,
	}
}

// Age is how long the session has been open.
func (s *Session) Age() time.Duration {
	return s.clock.Since(s.Started)
}

// Guard attaches a started workaround task; Close cancels it.
func (s *Session) Guard(t *workaround.Task) {
	s.mu.Lock()
	s.task = t
	s.mu.Unlock()
}

// Guarded reports whether a workaround task is attached and running.
func (s *Session) Guarded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.task != nil && s.task.Running()
}

// CancelWorkaround stops the workaround without closing the card.
func (s *Session) CancelWorkaround() {
	s.mu.Lock()
	t := s.task
	s.task = nil
	s.mu.Unlock()
	if t != nil {
		t.Cancel()
	}
}

// Closed reports whether Close has run.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close cancels the workaround and closes the card connection.  Only
// the first call has any effect.
func (s *Session) Close() error {
	var err error
	s.once.Do(func() {
		s.CancelWorkaround()
		err = s.Card.CloseConnection()
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.Logger.Verbose("closed after %s", s.Age().Truncate(time.Millisecond))
	})
	return err
}
