package emulator

import (
	"fmt"
	"strings"

	"nfcrelay/util"
)

// NCI listen-mode parameter types touched by an identity upload.
const (
	TypeLABitFrameSDD    byte = 0x30 // ATQA (bit frame SDD)
	TypeLAPlatformConfig byte = 0x31
	TypeLASelInfo        byte = 0x32 // SAK
	TypeLANFCID1         byte = 0x33 // UID
	TypeLIAHistBy        byte = 0x59 // historical bytes
)

// Option is one NCI configuration TLV.
type Option struct {
	Type  byte
	Value []byte
}

func (o Option) String() string {
	return fmt.Sprintf("%02X=%s", o.Type, util.Hex(o.Value))
}

// Config is an ordered list of NCI configuration options as passed to
// the controller's set-config call.
type Config struct {
	options []Option
}

// ParseConfig decodes a concatenation of type/length/value triples.
func ParseConfig(tlv []byte) (Config, error) {
	var c Config
	for i := 0; i < len(tlv); {
		if i+2 > len(tlv) {
			return Config{}, fmt.Errorf("config: truncated header at offset %d", i)
		}
		typ, n := tlv[i], int(tlv[i+1])
		i += 2
		if i+n > len(tlv) {
			return Config{}, fmt.Errorf("config: option %02X wants %d bytes, %d left", typ, n, len(tlv)-i)
		}
		c.Add(Option{Type: typ, Value: tlv[i : i+n]})
		i += n
	}
	return c, nil
}

// Add appends a copy of opt.
func (c *Config) Add(opt Option) {
	c.options = append(c.options, Option{Type: opt.Type, Value: append([]byte{}, opt.Value...)})
}

// Set replaces the option of the same type, or appends it.
func (c *Config) Set(opt Option) {
	for i := range c.options {
		if c.options[i].Type == opt.Type {
			c.options[i].Value = append([]byte{}, opt.Value...)
			return
		}
	}
	c.Add(opt)
}

// apply sets every option of o in c.
func (c *Config) apply(o Config) {
	for _, opt := range o.options {
		c.Set(opt)
	}
}

// Options returns the options in order.
func (c Config) Options() []Option { return c.options }

// Len returns the number of options.
func (c Config) Len() int { return len(c.options) }

// Has reports whether an option of type typ is present.
func (c Config) Has(typ byte) bool {
	_, ok := c.Get(typ)
	return ok
}

// Get returns the first option of type typ.
func (c Config) Get(typ byte) (Option, bool) {
	for _, o := range c.options {
		if o.Type == typ {
			return o, true
		}
	}
	return Option{}, false
}

// Total is the encoded size in bytes.
func (c Config) Total() int {
	n := 0
	for _, o := range c.options {
		n += 2 + len(o.Value)
	}
	return n
}

// Build encodes the options back to wire form.  Values longer than 255
// bytes cannot be represented and are truncated.
func (c Config) Build() []byte {
	out := make([]byte, 0, c.Total())
	for _, o := range c.options {
		v := o.Value
		if len(v) > 0xFF {
			v = v[:0xFF]
		}
		out = append(out, o.Type, byte(len(v)))
		out = append(out, v...)
	}
	return out
}

func (c Config) String() string {
	parts := make([]string, len(c.options))
	for i, o := range c.options {
		parts[i] = o.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// IdentityConfig maps an emulated card identity to listen-mode options.
func IdentityConfig(id Identity) Config {
	var c Config
	c.Add(Option{Type: TypeLABitFrameSDD, Value: []byte{id.ATQA}})
	c.Add(Option{Type: TypeLAPlatformConfig, Value: []byte{0x00}})
	c.Add(Option{Type: TypeLASelInfo, Value: []byte{id.SAK}})
	c.Add(Option{Type: TypeLANFCID1, Value: id.UID})
	c.Add(Option{Type: TypeLIAHistBy, Value: id.Historical})
	return c
}

// StackListenConfig is the listen-mode configuration the NFC stack
// issues when card emulation is switched on: its own ATQA, SAK and a
// random-UID marker, plus option 0x58 which no identity touches.
func StackListenConfig() Config {
	var c Config
	c.Add(Option{Type: TypeLABitFrameSDD, Value: []byte{0x04}})
	c.Add(Option{Type: TypeLASelInfo, Value: []byte{0x60}})
	c.Add(Option{Type: TypeLANFCID1, Value: []byte{0x08}})
	c.Add(Option{Type: 0x58, Value: []byte{0x00}})
	return c
}
