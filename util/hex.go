package util

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Hex renders b as upper-case hex without separators.  An empty or nil
// slice renders as "" so log lines stay total.
func Hex(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}

// ParseHex decodes a hex string, tolerating spaces, colons and an
// optional "0x" prefix ("04:A2 0x1B" style input from the CLI).
func ParseHex(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", ":", "", "0x", "", "0X", "").Replace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	return b, nil
}
