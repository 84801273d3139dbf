package netlink

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"nfcrelay/internal/metrics"
	"nfcrelay/internal/nfc"
	"nfcrelay/internal/retry"
	"nfcrelay/util"
)

// DefaultWriteTimeout bounds a single frame write.
const DefaultWriteTimeout = 5 * time.Second

// Options tune a Link.  Zero values select defaults.
type Options struct {
	WriteTimeout time.Duration
	Breaker      *retry.CircuitBreakerConfig
	Clock        clock.Clock
	Logger       *util.Logger
	Metrics      *metrics.Collector
}

// Link is the relay's Network Link over one peer connection.  Outbound
// methods never block on a dead peer for longer than the write timeout
// and stop writing altogether while the circuit breaker is open.
type Link struct {
	conn    net.Conn
	reader  *bufio.Reader
	breaker *retry.CircuitBreaker
	timeout time.Duration
	logger  *util.Logger
	metrics *metrics.Collector

	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// New wraps an established peer connection.
func New(conn net.Conn, opts Options) *Link {
	logger := opts.Logger
	if logger == nil {
		logger = util.NewLogger(0)
	}
	logger = logger.Named("link")

	bcfg := retry.DefaultCircuitBreakerConfig()
	if opts.Breaker != nil {
		c := *opts.Breaker
		bcfg = &c
	}
	if bcfg.Clock == nil {
		bcfg.Clock = opts.Clock
	}
	if bcfg.OnStateChange == nil {
		bcfg.OnStateChange = func(from, to retry.State) {
			logger.Warn("peer circuit %s -> %s", from, to)
		}
	}

	timeout := opts.WriteTimeout
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	return &Link{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		breaker: retry.NewCircuitBreaker(bcfg),
		timeout: timeout,
		logger:  logger,
		metrics: opts.Metrics,
	}
}

// RemoteAddr returns the peer address.
func (l *Link) RemoteAddr() net.Addr { return l.conn.RemoteAddr() }

// Close closes the connection.  Serve returns once it is closed.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.conn.Close()
	})
	return l.closeErr
}

// Send writes one frame through the circuit breaker.  Errors are
// returned for callers that care; the NetworkLink methods log them.
func (l *Link) Send(f Frame) error {
	return l.breaker.Execute(func() error {
		l.wmu.Lock()
		defer l.wmu.Unlock()
		if err := l.conn.SetWriteDeadline(time.Now().Add(l.timeout)); err != nil {
			return err
		}
		if err := WriteFrame(l.conn, f); err != nil {
			return err
		}
		l.metrics.FrameSent()
		return nil
	})
}

func (l *Link) send(f Frame) {
	l.logger.Debug("-> %s", f)
	if err := l.Send(f); err != nil {
		l.metrics.RecordError(err.Error())
		l.logger.Warn("send %s: %v", f.Type, err)
	}
}

// ── relay.NetworkLink ────────────────────────────────────────────────

func (l *Link) SendAnticollision(m nfc.Message) {
	l.send(Frame{Type: TypeAnticollision, Message: m})
}

func (l *Link) NotifyCardFound()     { l.send(Frame{Type: TypeCardFound}) }
func (l *Link) NotifyReaderFound()   { l.send(Frame{Type: TypeReaderFound}) }
func (l *Link) NotifyReaderRemoved() { l.send(Frame{Type: TypeReaderRemoved}) }

func (l *Link) SendApplicationMessage(m nfc.Message) {
	l.send(Frame{Type: TypeApplication, Message: m})
}

func (l *Link) SendCardReply(m nfc.Message) {
	l.send(Frame{Type: TypeCardReply, Message: m})
}

func (l *Link) NotifyNotConnected()            { l.send(Frame{Type: TypeNotConnected}) }
func (l *Link) DisconnectCardWorkaround()      { l.send(Frame{Type: TypeWorkaroundDisconnect}) }
func (l *Link) NotifyCardWorkaroundConnected() { l.send(Frame{Type: TypeWorkaroundConnected}) }
