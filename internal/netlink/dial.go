package netlink

import (
	"context"
	"errors"
	"net"
	"time"

	rerr "nfcrelay/internal/errors"
	"nfcrelay/internal/retry"
	"nfcrelay/internal/transport"
	"nfcrelay/util"
)

// Dial connects to the relay peer, retrying retryable failures with b.
// A nil b uses retry.DefaultBackoff.
func Dial(ctx context.Context, d transport.Dialer, address string, b *retry.Backoff, logger *util.Logger) (net.Conn, error) {
	if b == nil {
		b = retry.DefaultBackoff()
	}
	if logger == nil {
		logger = util.NewLogger(0)
	}
	bo := *b
	if bo.OnRetry == nil {
		bo.OnRetry = func(attempt int, err error, wait time.Duration) {
			logger.Verbose("dial %s: attempt %d failed (%v), retrying in %s",
				address, attempt, err, wait.Truncate(time.Millisecond))
		}
	}

	var conn net.Conn
	err := bo.Do(ctx, func(int) error {
		c, err := d.Dial(ctx, "tcp", address)
		if err != nil {
			nerr := rerr.Wrap("dial", address, err)
			nerr.Retryable = retryableDial(err)
			if !nerr.Retryable {
				return retry.Permanent(nerr)
			}
			return nerr
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Verbose("connected to %s", conn.RemoteAddr())
	return conn, nil
}

// retryableDial widens rerr.IsRetryable to refused and unreachable
// peers, which is the normal state while the other side starts up.
func retryableDial(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if rerr.IsRetryable(err) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return false
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// Listen waits for a single peer on address.  The listener is closed
// once the peer is accepted, when ctx is done, or after timeout if it
// is positive.
func Listen(ctx context.Context, address string, timeout time.Duration, logger *util.Logger) (net.Conn, error) {
	if logger == nil {
		logger = util.NewLogger(0)
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, rerr.Wrap("listen", address, err)
	}
	defer ln.Close()
	logger.Verbose("listening on %s", ln.Addr())
	return accept(ctx, ln, timeout, logger)
}

func accept(ctx context.Context, ln net.Listener, timeout time.Duration, logger *util.Logger) (net.Conn, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, rerr.Wrap("accept", ln.Addr().String(), rerr.ErrTimeout)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, rerr.Wrap("accept", ln.Addr().String(), err)
	}
	logger.Verbose("peer connected from %s", conn.RemoteAddr())
	return conn, nil
}
