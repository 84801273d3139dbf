// Package nfc defines the message model passed between the relay
// components and the tag technologies the relay recognises.
package nfc

import (
	"bytes"
	"fmt"

	"nfcrelay/util"
)

// Origin names the side that produced a message.
type Origin int

const (
	OriginCard Origin = iota
	OriginReader
	OriginEmulator
	OriginNetwork
)

func (o Origin) String() string {
	switch o {
	case OriginCard:
		return "CARD"
	case OriginReader:
		return "READER"
	case OriginEmulator:
		return "EMULATOR"
	case OriginNetwork:
		return "NETWORK"
	default:
		return fmt.Sprintf("Origin(%d)", int(o))
	}
}

// ParseOrigin is the inverse of Origin.String.
func ParseOrigin(s string) (Origin, error) {
	for _, o := range []Origin{OriginCard, OriginReader, OriginEmulator, OriginNetwork} {
		if o.String() == s {
			return o, nil
		}
	}
	return 0, fmt.Errorf("unknown origin %q", s)
}

// Kind separates anticollision metadata from protocol data units.
type Kind int

const (
	KindApplicationData Kind = iota
	KindAnticollision
)

func (k Kind) String() string {
	switch k {
	case KindApplicationData:
		return "ApplicationData"
	case KindAnticollision:
		return "AnticollisionRecord"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "ApplicationData":
		return KindApplicationData, nil
	case "AnticollisionRecord":
		return KindAnticollision, nil
	}
	return 0, fmt.Errorf("unknown kind %q", s)
}

// Message is the unit exchanged between the coordinator, the filter
// pipeline, the sink and the network link.
//
// A Message carries either a payload (KindApplicationData) or an
// anticollision record (KindAnticollision).  Fields that do not apply
// to the kind are empty, never nil, so formatting stays total.  The
// byte slices are owned by the message; use Clone before mutating.
type Message struct {
	Origin Origin
	Kind   Kind

	Payload []byte

	UID        []byte
	ATQA       []byte
	SAK        byte
	Historical []byte
}

// NewApplicationData builds a PDU message.  data is copied.
func NewApplicationData(origin Origin, data []byte) Message {
	return Message{
		Origin:     origin,
		Kind:       KindApplicationData,
		Payload:    clone(data),
		UID:        []byte{},
		ATQA:       []byte{},
		Historical: []byte{},
	}
}

// NewAnticollision builds an anticollision record.  All slices are
// copied.
func NewAnticollision(origin Origin, uid, atqa []byte, sak byte, hist []byte) Message {
	return Message{
		Origin:     origin,
		Kind:       KindAnticollision,
		Payload:    []byte{},
		UID:        clone(uid),
		ATQA:       clone(atqa),
		SAK:        sak,
		Historical: clone(hist),
	}
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	return Message{
		Origin:     m.Origin,
		Kind:       m.Kind,
		Payload:    clone(m.Payload),
		UID:        clone(m.UID),
		ATQA:       clone(m.ATQA),
		SAK:        m.SAK,
		Historical: clone(m.Historical),
	}
}

// Normalize clears the fields that do not apply to m.Kind and replaces
// nil slices with empty ones.
func (m Message) Normalize() Message {
	out := m.Clone()
	switch out.Kind {
	case KindAnticollision:
		out.Payload = []byte{}
	default:
		out.UID, out.ATQA, out.Historical = []byte{}, []byte{}, []byte{}
		out.SAK = 0
	}
	return out
}

// Equal reports whether m and o carry the same origin, kind and bytes.
func (m Message) Equal(o Message) bool {
	return m.Origin == o.Origin && m.Kind == o.Kind && m.SAK == o.SAK &&
		bytes.Equal(m.Payload, o.Payload) && bytes.Equal(m.UID, o.UID) &&
		bytes.Equal(m.ATQA, o.ATQA) && bytes.Equal(m.Historical, o.Historical)
}

// String renders the message for logs, e.g.
// "CARD ApplicationData 9000" or
// "CARD AnticollisionRecord uid=04A21B atqa=0044 sak=00 hist=".
func (m Message) String() string {
	if m.Kind == KindAnticollision {
		return fmt.Sprintf("%s %s uid=%s atqa=%s sak=%02X hist=%s",
			m.Origin, m.Kind, util.Hex(m.UID), util.Hex(m.ATQA), m.SAK, util.Hex(m.Historical))
	}
	return fmt.Sprintf("%s %s %s", m.Origin, m.Kind, util.Hex(m.Payload))
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
