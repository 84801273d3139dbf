package nfc

import "fmt"

// Technology is a tag technology the card reader role can drive.
type Technology int

const (
	// TechIsoDep is ISO 14443-4 (APDU exchange).
	TechIsoDep Technology = iota + 1
	// TechNfcA is raw ISO 14443-3A framing.
	TechNfcA
)

// Preference is the fixed order in which technologies are tried when a
// tag is attached.  The first technology the tag supports wins.
var Preference = []Technology{TechIsoDep, TechNfcA} //nolint:gochecknoglobals

func (t Technology) String() string {
	switch t {
	case TechIsoDep:
		return "IsoDep"
	case TechNfcA:
		return "NfcA"
	default:
		return fmt.Sprintf("Technology(%d)", int(t))
	}
}

// Select returns the first technology in Preference that appears in
// supported.  ok is false when none match.
func Select(supported []Technology) (tech Technology, ok bool) {
	for _, want := range Preference {
		for _, have := range supported {
			if have == want {
				return want, true
			}
		}
	}
	return 0, false
}
