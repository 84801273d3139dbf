package filter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerr "nfcrelay/internal/errors"
	"nfcrelay/internal/nfc"
)

func anticol(uid ...byte) nfc.Message {
	return nfc.NewAnticollision(nfc.OriginCard, uid, []byte{0x00, 0x44}, 0x20, []byte{0x80})
}

func TestPipeline_Composition(t *testing.T) {
	redact := RedactUID(0x00)
	checksum := AppendChecksum(ShapeAnticollision)
	p := New(redact, checksum)
	in := anticol(0xAA, 0xBB)

	step1, err := redact.Apply(in.Clone())
	require.NoError(t, err)
	want, err := checksum.Apply(step1)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		got, err := p.FilterAnticollision(in)
		require.NoError(t, err)
		assert.Equal(t, want.UID, got.UID, "run %d", i)
		assert.Equal(t, []byte{0x00, 0x00, 0x00}, got.UID)
	}
	assert.Equal(t, []byte{0xAA, 0xBB}, in.UID, "input must not be mutated")
}

func TestPipeline_OrderMatters(t *testing.T) {
	in := anticol(0xAA, 0xBB)

	a, err := New(RedactUID(0x00), AppendChecksum(ShapeAnticollision)).FilterAnticollision(in)
	require.NoError(t, err)
	b, err := New(AppendChecksum(ShapeAnticollision), RedactUID(0x00)).FilterAnticollision(in)
	require.NoError(t, err)

	assert.Equal(t, []byte{0x00, 0x00, 0x00}, a.UID)
	assert.Equal(t, []byte{0x00, 0x00, 0x00}, b.UID)

	c, err := New(AppendChecksum(ShapeAnticollision), ReplaceUID([]byte{0x01})).FilterAnticollision(in)
	require.NoError(t, err)
	d, err := New(ReplaceUID([]byte{0x01}), AppendChecksum(ShapeAnticollision)).FilterAnticollision(in)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, c.UID)
	assert.Equal(t, []byte{0x01, 0x01}, d.UID)
}

func TestPipeline_ShapeSelection(t *testing.T) {
	swap, err := ReplacePayload(ShapeCardData, []byte{0x6A, 0x82}, []byte{0x90, 0x00})
	require.NoError(t, err)
	p := New(swap, AppendChecksum(ShapeEmulatorData))

	reply := nfc.NewApplicationData(nfc.OriginCard, []byte{0x01, 0x6A, 0x82})
	got, err := p.FilterCardData(reply)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x90, 0x00}, got.Payload)

	cmd := nfc.NewApplicationData(nfc.OriginEmulator, []byte{0x00, 0xA4})
	got, err = p.FilterEmulatorData(cmd)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0xA4, 0xA4}, got.Payload)

	got, err = p.FilterAnticollision(anticol(0x04))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x04}, got.UID)

	assert.Equal(t, []string{"replace"}, p.Stages(ShapeCardData))
	assert.Equal(t, 2, p.Len())
}

func TestPipeline_NilIsIdentity(t *testing.T) {
	var p *Pipeline
	in := nfc.NewApplicationData(nfc.OriginCard, []byte{0x90, 0x00})

	got, err := p.FilterCardData(in)
	require.NoError(t, err)
	assert.True(t, in.Equal(got))
	assert.Zero(t, p.Len())
	assert.Nil(t, p.Stages(ShapeCardData))
}

func TestPipeline_KindChangeRejected(t *testing.T) {
	bad := Func{"to-anticol", ShapeCardData, func(m nfc.Message) (nfc.Message, error) {
		m.Kind = nfc.KindAnticollision
		return m, nil
	}}
	in := nfc.NewApplicationData(nfc.OriginCard, []byte{0x90, 0x00})

	out, err := New(bad).FilterCardData(in)
	require.Error(t, err)
	assert.True(t, errors.Is(err, rerr.ErrKindChanged))
	var fe *rerr.FilterError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "to-anticol", fe.Stage)
	assert.True(t, in.Equal(out), "failed pipeline returns the input")
}

func TestPipeline_StageErrorAborts(t *testing.T) {
	calls := 0
	boom := Func{"boom", ShapeEmulatorData, func(m nfc.Message) (nfc.Message, error) {
		return m, errors.New("boom")
	}}
	after := Func{"after", ShapeEmulatorData, func(m nfc.Message) (nfc.Message, error) {
		calls++
		return m, nil
	}}

	_, err := New(boom, after).FilterEmulatorData(nfc.NewApplicationData(nfc.OriginEmulator, nil))
	require.Error(t, err)
	assert.Zero(t, calls, "stages after a failure must not run")
}

func TestPipeline_StageCannotLeakIntoInput(t *testing.T) {
	in := anticol(0xAA, 0xBB)
	_, err := New(RedactUID(0xFF)).FilterAnticollision(in)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB}, in.UID)
}

func TestDropPrefix(t *testing.T) {
	st, err := DropPrefix(ShapeCardData, 2)
	require.NoError(t, err)

	got, err := New(st).FilterCardData(nfc.NewApplicationData(nfc.OriginCard, []byte{1, 2, 3}))
	require.NoError(t, err)
	assert.Equal(t, []byte{3}, got.Payload)

	got, err = New(st).FilterCardData(nfc.NewApplicationData(nfc.OriginCard, []byte{1}))
	require.NoError(t, err)
	assert.NotNil(t, got.Payload)
	assert.Empty(t, got.Payload)

	_, err = DropPrefix(ShapeCardData, -1)
	assert.Error(t, err)
}

func TestReplacePayload_EmptyPattern(t *testing.T) {
	_, err := ReplacePayload(ShapeCardData, nil, []byte{1})
	assert.Error(t, err)
}
