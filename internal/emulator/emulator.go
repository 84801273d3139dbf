// Package emulator defines the card-emulation hardware contract and an
// in-process Virtual emulator.
//
// An emulator answers a real reader with a borrowed identity.  The
// identity is uploaded as NCI listen-mode configuration (see Config and
// Patch), then emulation is activated and responses are sent back one
// command at a time.
package emulator

import (
	"errors"
	"fmt"
	"sync"

	rerr "nfcrelay/internal/errors"
	"nfcrelay/internal/nfc"
	"nfcrelay/internal/sink"
	"nfcrelay/util"
)

// Identity is the anticollision data presented to a reader.
type Identity struct {
	ATQA       byte
	SAK        byte
	Historical []byte
	UID        []byte
}

// IdentityFrom extracts an Identity from an anticollision record.  Only
// the last ATQA byte is configurable on the controller; an empty ATQA
// maps to 0.
func IdentityFrom(m nfc.Message) Identity {
	var atqa byte
	if n := len(m.ATQA); n > 0 {
		atqa = m.ATQA[n-1]
	}
	return Identity{
		ATQA:       atqa,
		SAK:        m.SAK,
		Historical: append([]byte{}, m.Historical...),
		UID:        append([]byte{}, m.UID...),
	}
}

// Interface is the emulator-side hardware contract.
type Interface interface {
	SendResponse(data []byte) error
	UploadIdentity(id Identity) error
	Activate() error
}

// ResponseBuffer is the number of unread responses a Virtual emulator
// holds before SendResponse fails.
const ResponseBuffer = 256

// Virtual is an Interface backed by a Patch.  Responses are delivered on
// a channel instead of to an RF field.
type Virtual struct {
	patch     Patch
	logger    *util.Logger
	responses chan []byte

	mu       sync.Mutex
	identity *Identity
	active   bool
	applied  Config // controller state after every set-config
}

// NewVirtual returns an inactive virtual emulator.
func NewVirtual(logger *util.Logger) *Virtual {
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &Virtual{
		logger:    logger.Named("emulator"),
		responses: make(chan []byte, ResponseBuffer),
	}
}

// UploadIdentity installs id.  A new upload replaces the previous one.
func (v *Virtual) UploadIdentity(id Identity) error {
	cfg := v.patch.Enable(id)
	v.mu.Lock()
	v.identity = &id
	v.applied.apply(v.patch.Hook())
	v.mu.Unlock()
	v.logger.Verbose("identity uploaded: uid=%s atqa=%02X sak=%02X hist=%s",
		util.Hex(id.UID), id.ATQA, id.SAK, util.Hex(id.Historical))
	v.logger.Debug("set-config %s", util.Hex(cfg))
	return nil
}

// Activate starts answering with the uploaded identity.  Switching
// emulation on makes the stack issue its own listen-mode configuration,
// which goes through the patch like any other set-config.
func (v *Virtual) Activate() error {
	v.mu.Lock()
	if v.identity == nil {
		v.mu.Unlock()
		return rerr.WrapHardware("activate", "emulator", errors.New("no identity uploaded"))
	}
	uid := v.identity.UID
	v.mu.Unlock()

	if err := v.SetConfig(StackListenConfig().Build()); err != nil {
		return rerr.WrapHardware("activate", "emulator", err)
	}
	v.mu.Lock()
	v.active = true
	v.mu.Unlock()
	v.logger.Info("emulation active (uid %s)", util.Hex(uid))
	return nil
}

// SetConfig is the stack's set-config entry point.  Options held by the
// patch are stripped before the rest reaches the controller.
func (v *Virtual) SetConfig(tlv []byte) error {
	out, err := v.patch.FilterSetConfig(tlv)
	if err != nil {
		return err
	}
	cfg, err := ParseConfig(out)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.applied.apply(cfg)
	v.mu.Unlock()
	v.logger.Debug("set-config %s -> %s", util.Hex(tlv), cfg)
	return nil
}

// Applied returns the configuration currently in force on the
// controller.
func (v *Virtual) Applied() Config {
	v.mu.Lock()
	defer v.mu.Unlock()
	var c Config
	c.apply(v.applied)
	return c
}

// Deactivate stops emulation and returns the stack configuration the
// patch had been holding back.
func (v *Virtual) Deactivate() Config {
	orig := v.patch.Disable()
	v.mu.Lock()
	v.active = false
	v.identity = nil
	v.applied.apply(orig)
	v.mu.Unlock()
	v.logger.Verbose("emulation stopped, restoring %s", orig)
	return orig
}

// SendResponse queues data for the reader.
func (v *Virtual) SendResponse(data []byte) error {
	v.mu.Lock()
	active := v.active
	v.mu.Unlock()
	if !active {
		return rerr.WrapHardware("respond", "emulator", rerr.ErrNotConnected)
	}
	select {
	case v.responses <- append([]byte{}, data...):
		return nil
	default:
		return rerr.WrapHardware("respond", "emulator", fmt.Errorf("response buffer full (%d)", ResponseBuffer))
	}
}

// Responses delivers every response sent to the reader.
func (v *Virtual) Responses() <-chan []byte { return v.responses }

// Identity returns the uploaded identity, if any.
func (v *Virtual) Identity() (Identity, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.identity == nil {
		return Identity{}, false
	}
	return *v.identity, true
}

// Active reports whether emulation is running.
func (v *Virtual) Active() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.active
}

// Patch exposes the config patch so a stack adapter can route its
// set-config calls through it.
func (v *Virtual) Patch() *Patch { return &v.patch }

// Commands returns the reader commands of a trace in order: the payload
// of every emulator- or reader-origin application entry.
func Commands(entries []sink.Entry) [][]byte {
	var out [][]byte
	for _, e := range entries {
		m := e.Message
		if m.Kind != nfc.KindApplicationData {
			continue
		}
		if m.Origin == nfc.OriginEmulator || m.Origin == nfc.OriginReader {
			out = append(out, append([]byte{}, m.Payload...))
		}
	}
	return out
}
