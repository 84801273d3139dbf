package netlink

import (
	"context"
	"errors"
	"fmt"

	rerr "nfcrelay/internal/errors"
	"nfcrelay/internal/nfc"
	"nfcrelay/util"
)

// Handler receives inbound traffic.  *relay.Coordinator satisfies the
// message methods; PeerStatus gets every notification frame.
type Handler interface {
	SendToCard(m nfc.Message) error
	SendToReader(m nfc.Message) error
	ApplyAnticollision(m nfc.Message) error
	PeerStatus(t Type)
}

// Serve reads frames and dispatches them to h until the peer hangs up,
// ctx is cancelled or the link is closed.  A clean hang-up returns
// ErrLinkClosed.  Handler errors are logged; they never end the loop.
func (l *Link) Serve(ctx context.Context, h Handler) error {
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()

	for {
		f, err := ReadFrame(l.reader)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if util.IsClosed(err) {
				return fmt.Errorf("%w: %v", rerr.ErrLinkClosed, err)
			}
			return rerr.Wrap("read", l.conn.RemoteAddr().String(), err)
		}
		l.metrics.FrameReceived()
		l.logger.Debug("<- %s", f)
		l.dispatch(h, f)
	}
}

func (l *Link) dispatch(h Handler, f Frame) {
	var err error
	switch f.Type {
	case TypeApplication:
		err = h.SendToCard(f.Message)
	case TypeCardReply:
		err = h.SendToReader(f.Message)
	case TypeAnticollision:
		err = h.ApplyAnticollision(f.Message)
	default:
		h.PeerStatus(f.Type)
	}
	if err != nil {
		level := l.logger.Warn
		if !rerr.IsRecoverable(err) {
			level = l.logger.Error
		}
		level("%s: %v", f.Type, err)
	}
}

// StatusFunc adapts a function to the PeerStatus half of Handler.
type StatusFunc func(t Type)

// Dispatcher combines a message handler with a status callback.
type Dispatcher struct {
	Messages interface {
		SendToCard(m nfc.Message) error
		SendToReader(m nfc.Message) error
		ApplyAnticollision(m nfc.Message) error
	}
	Status StatusFunc
}

func (d Dispatcher) SendToCard(m nfc.Message) error         { return d.Messages.SendToCard(m) }
func (d Dispatcher) SendToReader(m nfc.Message) error       { return d.Messages.SendToReader(m) }
func (d Dispatcher) ApplyAnticollision(m nfc.Message) error { return d.Messages.ApplyAnticollision(m) }

func (d Dispatcher) PeerStatus(t Type) {
	if d.Status != nil {
		d.Status(t)
	}
}

// IsEnd reports whether err from Serve is an orderly end of the link.
func IsEnd(err error) bool {
	return errors.Is(err, rerr.ErrLinkClosed) || errors.Is(err, context.Canceled)
}
