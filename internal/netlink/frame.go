// Package netlink carries relay traffic between the card-side and the
// emulator-side peers over a single stream connection.
//
// Each frame is a uvarint body length followed by the body.  The body
// is protobuf wire format with these fields:
//
//	1 type     varint
//	2 origin   varint
//	3 payload  bytes   (application frames)
//	4 uid      bytes   (anticollision frames)
//	5 atqa     bytes
//	6 sak      varint
//	7 hist     bytes
//
// Unknown fields are skipped so either side can grow the format.
package netlink

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/multiformats/go-varint"
	"google.golang.org/protobuf/encoding/protowire"

	"nfcrelay/internal/nfc"
	"nfcrelay/util"
)

// Type identifies a frame.
type Type uint64

const (
	TypeAnticollision Type = iota + 1
	TypeCardFound
	TypeReaderFound
	TypeReaderRemoved
	TypeApplication
	TypeCardReply
	TypeNotConnected
	TypeWorkaroundDisconnect
	TypeWorkaroundConnected
)

var typeNames = map[Type]string{
	TypeAnticollision:        "anticollision",
	TypeCardFound:            "card-found",
	TypeReaderFound:          "reader-found",
	TypeReaderRemoved:        "reader-removed",
	TypeApplication:          "application",
	TypeCardReply:            "card-reply",
	TypeNotConnected:         "not-connected",
	TypeWorkaroundDisconnect: "workaround-disconnect",
	TypeWorkaroundConnected:  "workaround-connected",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("Type(%d)", uint64(t))
}

// carries reports whether frames of type t hold a message.
func (t Type) carries() bool {
	return t == TypeAnticollision || t == TypeApplication || t == TypeCardReply
}

const (
	fieldType    protowire.Number = 1
	fieldOrigin  protowire.Number = 2
	fieldPayload protowire.Number = 3
	fieldUID     protowire.Number = 4
	fieldATQA    protowire.Number = 5
	fieldSAK     protowire.Number = 6
	fieldHist    protowire.Number = 7
)

// ErrFrameTooLarge is returned for frames above util.MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame too large")

// Frame is one link message.  Message is only meaningful for
// anticollision, application and card-reply frames.
type Frame struct {
	Type    Type
	Message nfc.Message
}

func (f Frame) String() string {
	if f.Type.carries() {
		return f.Type.String() + " " + f.Message.String()
	}
	return f.Type.String()
}

// Marshal encodes the frame body.
func (f Frame) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Type))
	if !f.Type.carries() {
		return b
	}
	m := f.Message
	b = protowire.AppendTag(b, fieldOrigin, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Origin))
	if f.Type == TypeAnticollision {
		b = appendBytes(b, fieldUID, m.UID)
		b = appendBytes(b, fieldATQA, m.ATQA)
		b = protowire.AppendTag(b, fieldSAK, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.SAK))
		b = appendBytes(b, fieldHist, m.Historical)
		return b
	}
	return appendBytes(b, fieldPayload, m.Payload)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// Unmarshal decodes a frame body.
func Unmarshal(b []byte) (Frame, error) {
	var (
		typ                      Type
		origin                   uint64
		sak                      uint64
		payload, uid, atqa, hist []byte
	)
	for len(b) > 0 {
		num, wt, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Frame{}, fmt.Errorf("frame tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case wt == protowire.VarintType && (num == fieldType || num == fieldOrigin || num == fieldSAK):
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Frame{}, fmt.Errorf("frame field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldType:
				typ = Type(v)
			case fieldOrigin:
				origin = v
			default:
				sak = v
			}
		case wt == protowire.BytesType && num >= fieldPayload && num <= fieldHist && num != fieldSAK:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Frame{}, fmt.Errorf("frame field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldPayload:
				payload = v
			case fieldUID:
				uid = v
			case fieldATQA:
				atqa = v
			default:
				hist = v
			}
		default:
			n := protowire.ConsumeFieldValue(num, wt, b)
			if n < 0 {
				return Frame{}, fmt.Errorf("frame field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	if _, ok := typeNames[typ]; !ok {
		return Frame{}, fmt.Errorf("unknown frame type %d", uint64(typ))
	}
	f := Frame{Type: typ}
	if !typ.carries() {
		return f, nil
	}
	if origin > uint64(nfc.OriginNetwork) {
		return Frame{}, fmt.Errorf("%s frame: unknown origin %d", typ, origin)
	}
	if sak > 0xFF {
		return Frame{}, fmt.Errorf("%s frame: sak %d out of range", typ, sak)
	}
	o := nfc.Origin(origin)
	if typ == TypeAnticollision {
		f.Message = nfc.NewAnticollision(o, uid, atqa, byte(sak), hist)
	} else {
		f.Message = nfc.NewApplicationData(o, payload)
	}
	return f, nil
}

// WriteFrame writes one length-prefixed frame with a single Write.
func WriteFrame(w io.Writer, f Frame) error {
	body := f.Marshal()
	if len(body) > util.MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}
	buf := append(varint.ToUvarint(uint64(len(body))), body...)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one length-prefixed frame.
func ReadFrame(r *bufio.Reader) (Frame, error) {
	size, err := varint.ReadUvarint(r)
	if err != nil {
		return Frame{}, err
	}
	if size > util.MaxFrameSize {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	buf := util.GetFrame()
	defer util.PutFrame(buf)
	body := (*buf)[:size]
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}
	return Unmarshal(body)
}
