package relay

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/benbjohnson/clock"

	"nfcrelay/internal/card"
	"nfcrelay/internal/emulator"
	"nfcrelay/internal/nfc"
	"nfcrelay/util"
)

// ── Network link ─────────────────────────────────────────────────────

type fakeLink struct {
	mu    sync.Mutex
	calls []string
	sent  []nfc.Message
}

func (l *fakeLink) record(call string, m *nfc.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
	if m != nil {
		l.sent = append(l.sent, m.Clone())
	}
}

func (l *fakeLink) SendAnticollision(m nfc.Message)      { l.record("anticol", &m) }
func (l *fakeLink) NotifyCardFound()                     { l.record("card-found", nil) }
func (l *fakeLink) NotifyReaderFound()                   { l.record("reader-found", nil) }
func (l *fakeLink) NotifyReaderRemoved()                 { l.record("reader-removed", nil) }
func (l *fakeLink) SendApplicationMessage(m nfc.Message) { l.record("apdu", &m) }
func (l *fakeLink) SendCardReply(m nfc.Message)          { l.record("reply", &m) }
func (l *fakeLink) NotifyNotConnected()                  { l.record("not-connected", nil) }
func (l *fakeLink) DisconnectCardWorkaround()            { l.record("workaround-disconnect", nil) }
func (l *fakeLink) NotifyCardWorkaroundConnected()       { l.record("workaround-connected", nil) }

func (l *fakeLink) count(call string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (l *fakeLink) messages() []nfc.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]nfc.Message(nil), l.sent...)
}

// ── Card ─────────────────────────────────────────────────────────────

type fakeCard struct {
	name string
	uid  []byte

	mu        sync.Mutex
	connected bool
	dead      bool // SendCommand returns a nil reply
	pingErr   error
	commands  [][]byte
	closes    int
}

func newFakeCard(name string, uid ...byte) *fakeCard {
	return &fakeCard{name: name, uid: uid, connected: true}
}

func (c *fakeCard) Technology() nfc.Technology { return nfc.TechIsoDep }

func (c *fakeCard) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeCard) SendCommand(cmd []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands = append(c.commands, append([]byte(nil), cmd...))
	if c.dead {
		return nil, nil
	}
	return []byte{0x90, 0x00}, nil
}

func (c *fakeCard) CloseConnection() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	c.connected = false
	return nil
}

// KeepAlive makes fakeCard its own workaround keeper.
func (c *fakeCard) KeepAlive() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pingErr
}

func (c *fakeCard) failPings(err error) {
	c.mu.Lock()
	c.pingErr = err
	c.mu.Unlock()
}

func (c *fakeCard) UID() []byte        { return c.uid }
func (c *fakeCard) ATQA() []byte       { return []byte{0x00, 0x44} }
func (c *fakeCard) SAK() byte          { return 0x20 }
func (c *fakeCard) Historical() []byte { return []byte{0x80, 0x73} }

func (c *fakeCard) setDead() {
	c.mu.Lock()
	c.dead = true
	c.mu.Unlock()
}

func (c *fakeCard) disconnect() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *fakeCard) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func (c *fakeCard) sentCommands() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.commands...)
}

type fakeTag struct {
	techs []nfc.Technology
	card  *fakeCard
}

func tagFor(c *fakeCard) *fakeTag {
	return &fakeTag{techs: []nfc.Technology{nfc.TechNfcA, nfc.TechIsoDep}, card: c}
}

func (t *fakeTag) Technologies() []nfc.Technology { return t.techs }

func (t *fakeTag) Connect(nfc.Technology) (card.Reader, error) {
	if t.card == nil {
		return nil, errors.New("no card")
	}
	return t.card, nil
}

// blockingTag holds Connect until release is closed, signalling
// entered once it is inside.
type blockingTag struct {
	*fakeTag
	entered chan struct{}
	release chan struct{}
}

func newBlockingTag(c *fakeCard) *blockingTag {
	return &blockingTag{
		fakeTag: tagFor(c),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (t *blockingTag) Connect(tech nfc.Technology) (card.Reader, error) {
	close(t.entered)
	<-t.release
	return t.fakeTag.Connect(tech)
}

// ── Emulator ─────────────────────────────────────────────────────────

type fakeEmulator struct {
	mu        sync.Mutex
	responses [][]byte
	identity  *emulator.Identity
	active    bool
}

func (e *fakeEmulator) SendResponse(data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.responses = append(e.responses, append([]byte(nil), data...))
	return nil
}

func (e *fakeEmulator) UploadIdentity(id emulator.Identity) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.identity = &id
	return nil
}

func (e *fakeEmulator) Activate() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active = true
	return nil
}

// ── Harness ──────────────────────────────────────────────────────────

func testLogger(buf *bytes.Buffer) *util.Logger {
	l := util.NewLogger(3)
	l.SetOutput(buf)
	l.SetTimestamps(false)
	return l
}

func newTestCoordinator(t *testing.T, opts Options) (*Coordinator, *fakeLink) {
	t.Helper()
	link := &fakeLink{}
	if opts.Link == nil {
		opts.Link = link
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewMock()
	}
	if opts.Logger == nil {
		var buf bytes.Buffer
		opts.Logger = testLogger(&buf)
	}
	c := New(opts)
	t.Cleanup(func() { _ = c.Shutdown() })
	return c, link
}
