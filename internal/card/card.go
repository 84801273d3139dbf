// Package card defines the card-side hardware contract used by the
// relay and resolves attached tags to a connected Reader.
package card

import (
	"fmt"

	rerr "nfcrelay/internal/errors"
	"nfcrelay/internal/nfc"
)

// Reader is a connected card interface.
//
// SendCommand returns a nil reply when the card has left the field or
// the link to it broke; callers treat that as a lost connection.
type Reader interface {
	Technology() nfc.Technology
	IsConnected() bool
	SendCommand(cmd []byte) ([]byte, error)
	CloseConnection() error

	UID() []byte
	ATQA() []byte
	SAK() byte
	Historical() []byte
}

// Tag is a detected, not yet connected tag.
type Tag interface {
	Technologies() []nfc.Technology
	Connect(tech nfc.Technology) (Reader, error)
}

// Resolve picks the first supported technology in nfc.Preference and
// connects with it.  It returns an error wrapping
// ErrUnsupportedHardware when the tag offers none of them.
func Resolve(tag Tag) (Reader, error) {
	techs := tag.Technologies()
	tech, ok := nfc.Select(techs)
	if !ok {
		return nil, fmt.Errorf("%w: tag offers %v", rerr.ErrUnsupportedHardware, techs)
	}
	r, err := tag.Connect(tech)
	if err != nil {
		return nil, rerr.WrapHardware("connect", tech.String(), err)
	}
	return r, nil
}

// Anticollision reads the identity of a connected card.
func Anticollision(r Reader) nfc.Message {
	return nfc.NewAnticollision(nfc.OriginCard, r.UID(), r.ATQA(), r.SAK(), r.Historical())
}
