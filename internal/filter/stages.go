package filter

import (
	"bytes"
	"fmt"

	"nfcrelay/internal/nfc"
)

// Func adapts a plain function into a Stage.
type Func struct {
	StageName  string
	StageShape Shape
	Fn         func(nfc.Message) (nfc.Message, error)
}

func (f Func) Name() string                             { return f.StageName }
func (f Func) Shape() Shape                             { return f.StageShape }
func (f Func) Apply(m nfc.Message) (nfc.Message, error) { return f.Fn(m) }

// ReplaceUID substitutes the anticollision UID.
func ReplaceUID(uid []byte) Stage {
	uid = append([]byte{}, uid...)
	return Func{"uid", ShapeAnticollision, func(m nfc.Message) (nfc.Message, error) {
		m.UID = append([]byte{}, uid...)
		return m, nil
	}}
}

// ReplaceATQA substitutes the anticollision ATQA.
func ReplaceATQA(atqa []byte) Stage {
	atqa = append([]byte{}, atqa...)
	return Func{"atqa", ShapeAnticollision, func(m nfc.Message) (nfc.Message, error) {
		m.ATQA = append([]byte{}, atqa...)
		return m, nil
	}}
}

// ReplaceSAK substitutes the anticollision SAK.
func ReplaceSAK(sak byte) Stage {
	return Func{"sak", ShapeAnticollision, func(m nfc.Message) (nfc.Message, error) {
		m.SAK = sak
		return m, nil
	}}
}

// ReplaceHistorical substitutes the historical bytes.
func ReplaceHistorical(hist []byte) Stage {
	hist = append([]byte{}, hist...)
	return Func{"hist", ShapeAnticollision, func(m nfc.Message) (nfc.Message, error) {
		m.Historical = append([]byte{}, hist...)
		return m, nil
	}}
}

// RedactUID overwrites every UID byte with fill, keeping the length.
func RedactUID(fill byte) Stage {
	return Func{"redact-uid", ShapeAnticollision, func(m nfc.Message) (nfc.Message, error) {
		for i := range m.UID {
			m.UID[i] = fill
		}
		return m, nil
	}}
}

// AppendChecksum appends the XOR block check character.  For
// anticollision records the BCC covers and extends the UID; for
// application data it covers and extends the payload.
func AppendChecksum(shape Shape) Stage {
	return Func{"checksum", shape, func(m nfc.Message) (nfc.Message, error) {
		if m.Kind == nfc.KindAnticollision {
			m.UID = append(m.UID, bcc(m.UID))
		} else {
			m.Payload = append(m.Payload, bcc(m.Payload))
		}
		return m, nil
	}}
}

// ReplacePayload substitutes every non-overlapping occurrence of from
// in the payload with to.
func ReplacePayload(shape Shape, from, to []byte) (Stage, error) {
	if len(from) == 0 {
		return nil, fmt.Errorf("replace: empty pattern")
	}
	from, to = append([]byte{}, from...), append([]byte{}, to...)
	return Func{"replace", shape, func(m nfc.Message) (nfc.Message, error) {
		m.Payload = bytes.ReplaceAll(m.Payload, from, to)
		return m, nil
	}}, nil
}

// DropPrefix strips n leading payload bytes.  Shorter payloads become
// empty.
func DropPrefix(shape Shape, n int) (Stage, error) {
	if n < 0 {
		return nil, fmt.Errorf("drop-prefix: negative length %d", n)
	}
	return Func{"drop-prefix", shape, func(m nfc.Message) (nfc.Message, error) {
		if n >= len(m.Payload) {
			m.Payload = []byte{}
		} else {
			m.Payload = m.Payload[n:]
		}
		return m, nil
	}}, nil
}

func bcc(b []byte) byte {
	var x byte
	for _, v := range b {
		x ^= v
	}
	return x
}
