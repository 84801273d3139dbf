package netlink

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/multiformats/go-varint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"nfcrelay/internal/nfc"
	"nfcrelay/util"
)

func TestFrame_RoundTrip(t *testing.T) {
	frames := []Frame{
		{Type: TypeAnticollision, Message: nfc.NewAnticollision(nfc.OriginCard, []byte{0x04, 0x01}, []byte{0x00, 0x44}, 0x20, []byte{0x80})},
		{Type: TypeApplication, Message: nfc.NewApplicationData(nfc.OriginEmulator, []byte{0x00, 0xA4, 0x04, 0x00})},
		{Type: TypeCardReply, Message: nfc.NewApplicationData(nfc.OriginCard, []byte{0x90, 0x00})},
		{Type: TypeCardFound},
		{Type: TypeWorkaroundConnected},
	}

	var buf bytes.Buffer
	for _, f := range frames {
		require.NoError(t, WriteFrame(&buf, f))
	}

	r := bufio.NewReader(&buf)
	for _, want := range frames {
		got, err := ReadFrame(r)
		require.NoError(t, err)
		assert.Equal(t, want.Type, got.Type)
		if want.Type.carries() {
			assert.True(t, want.Message.Equal(got.Message), "got %s want %s", got, want)
		}
	}
	_, err := ReadFrame(r)
	assert.ErrorIs(t, err, io.EOF)
}

func TestUnmarshal_SkipsUnknownFields(t *testing.T) {
	body := Frame{Type: TypeCardReply, Message: nfc.NewApplicationData(nfc.OriginCard, []byte{0x6A, 0x82})}.Marshal()
	body = protowire.AppendTag(body, 15, protowire.BytesType)
	body = protowire.AppendBytes(body, []byte("future"))
	body = protowire.AppendTag(body, 16, protowire.VarintType)
	body = protowire.AppendVarint(body, 7)

	f, err := Unmarshal(body)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x6A, 0x82}, f.Message.Payload)
}

func varintField(b []byte, num protowire.Number, v uint64) []byte {
	return protowire.AppendVarint(protowire.AppendTag(b, num, protowire.VarintType), v)
}

func TestUnmarshal_Errors(t *testing.T) {
	application := varintField(nil, fieldType, uint64(TypeApplication))
	anticol := varintField(nil, fieldType, uint64(TypeAnticollision))

	tests := []struct {
		name string
		body []byte
	}{
		{"empty", nil},
		{"unknown type", varintField(nil, fieldType, 99)},
		{"truncated varint", []byte{0x08, 0x80}},
		{"truncated bytes", append(append([]byte{}, application...), 0x1A, 0x05, 0x01)},
		{"bad origin", varintField(application, fieldOrigin, 9)},
		{"sak out of range", varintField(anticol, fieldSAK, 0x100)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal(tt.body)
			assert.Error(t, err)
		})
	}
}

func TestReadFrame_TooLarge(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(varint.ToUvarint(util.MaxFrameSize + 1))
	_, err := ReadFrame(bufio.NewReader(&buf))
	assert.True(t, errors.Is(err, ErrFrameTooLarge))
}

func TestWriteFrame_TooLarge(t *testing.T) {
	f := Frame{Type: TypeApplication, Message: nfc.NewApplicationData(nfc.OriginCard, make([]byte, util.MaxFrameSize))}
	err := WriteFrame(io.Discard, f)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadFrame_TruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, Frame{Type: TypeApplication, Message: nfc.NewApplicationData(nfc.OriginCard, []byte{1, 2, 3})}))
	raw := buf.Bytes()[:buf.Len()-1]

	_, err := ReadFrame(bufio.NewReader(bytes.NewReader(raw)))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestType_String(t *testing.T) {
	assert.Equal(t, "card-reply", TypeCardReply.String())
	assert.Equal(t, "Type(42)", Type(42).String())
}
