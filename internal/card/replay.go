package card

import (
	"errors"
	"fmt"
	"sync"

	rerr "nfcrelay/internal/errors"
	"nfcrelay/internal/nfc"
	"nfcrelay/internal/sink"
	"nfcrelay/util"
)

// InsNotSupported is the status word a replay card answers to commands
// absent from its trace.
var InsNotSupported = []byte{0x6D, 0x00}

// ReplayTag is a tag simulated from a recorded trace.  Its identity is
// the first anticollision record of the trace; every emulator-side
// command followed by a card reply becomes a command/reply pair.
type ReplayTag struct {
	identity nfc.Message
	techs    []nfc.Technology

	mu      sync.Mutex
	replies map[string][][]byte
	removed bool
}

// NewReplayTag builds a tag from trace entries.
func NewReplayTag(entries []sink.Entry) (*ReplayTag, error) {
	t := &ReplayTag{
		techs:   []nfc.Technology{nfc.TechIsoDep, nfc.TechNfcA},
		replies: make(map[string][][]byte),
	}
	found := false
	var pending []byte
	for _, e := range entries {
		m := e.Message
		switch {
		case m.Kind == nfc.KindAnticollision:
			if !found {
				t.identity = m.Clone()
				found = true
			}
		case m.Origin == nfc.OriginEmulator || m.Origin == nfc.OriginReader:
			pending = m.Payload
		case m.Origin == nfc.OriginCard && pending != nil:
			key := util.Hex(pending)
			t.replies[key] = append(t.replies[key], append([]byte(nil), m.Payload...))
			pending = nil
		}
	}
	if !found {
		return nil, errors.New("replay trace has no anticollision record")
	}
	return t, nil
}

// Technologies implements Tag.
func (t *ReplayTag) Technologies() []nfc.Technology { return t.techs }

// Connect implements Tag.
func (t *ReplayTag) Connect(tech nfc.Technology) (Reader, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.removed {
		return nil, fmt.Errorf("%w: tag removed", rerr.ErrNotConnected)
	}
	return &replayReader{tag: t, tech: tech, connected: true}, nil
}

// Remove takes the tag out of the field.  Connected readers see a nil
// reply on their next command.
func (t *ReplayTag) Remove() {
	t.mu.Lock()
	t.removed = true
	t.mu.Unlock()
}

// Pairs returns the number of distinct recorded commands.
func (t *ReplayTag) Pairs() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.replies)
}

// reply pops the next recorded reply for cmd.  The last reply of a
// command is sticky so repeated polling keeps getting an answer.
func (t *ReplayTag) reply(cmd []byte) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.removed {
		return nil, false
	}
	key := util.Hex(cmd)
	queue := t.replies[key]
	if len(queue) == 0 {
		return append([]byte(nil), InsNotSupported...), true
	}
	out := queue[0]
	if len(queue) > 1 {
		t.replies[key] = queue[1:]
	}
	return append([]byte(nil), out...), true
}

type replayReader struct {
	tag  *ReplayTag
	tech nfc.Technology

	mu        sync.Mutex
	connected bool
}

func (r *replayReader) Technology() nfc.Technology { return r.tech }

func (r *replayReader) IsConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

func (r *replayReader) SendCommand(cmd []byte) ([]byte, error) {
	if !r.IsConnected() {
		return nil, nil
	}
	reply, ok := r.tag.reply(cmd)
	if !ok {
		return nil, nil
	}
	return reply, nil
}

func (r *replayReader) CloseConnection() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = false
	return nil
}

// KeepAlive lets the workaround loop ping the simulated card.
func (r *replayReader) KeepAlive() error {
	r.tag.mu.Lock()
	removed := r.tag.removed
	r.tag.mu.Unlock()
	if removed || !r.IsConnected() {
		return rerr.ErrNotConnected
	}
	return nil
}

func (r *replayReader) UID() []byte        { return r.tag.identity.UID }
func (r *replayReader) ATQA() []byte       { return r.tag.identity.ATQA }
func (r *replayReader) SAK() byte          { return r.tag.identity.SAK }
func (r *replayReader) Historical() []byte { return r.tag.identity.Historical }
