package wire_test

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waypost-dev/waypost/pkg/wire"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	fw := wire.NewFrameWriter(&buf, wire.MaxControlFrame)

	payloads := [][]byte{
		[]byte("hello"),
		{},
		bytes.Repeat([]byte{0xAB}, 1024),
	}
	for _, p := range payloads {
		require.NoError(t, fw.WriteFrame(p))
	}

	fr := wire.NewFrameReader(&buf, wire.MaxControlFrame)
	for _, want := range payloads {
		got, err := fr.ReadFrame()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := fr.ReadFrame()
	assert.Equal(t, io.EOF, err)
}

func TestFrameAtCap(t *testing.T) {
	const max = 64

	var buf bytes.Buffer
	fw := wire.NewFrameWriter(&buf, max)
	require.NoError(t, fw.WriteFrame(make([]byte, max)))

	fr := wire.NewFrameReader(&buf, max)
	payload, err := fr.ReadFrame()
	require.NoError(t, err)
	assert.Len(t, payload, max)
}

func TestFrameOverCapRead(t *testing.T) {
	const max = 64

	var buf bytes.Buffer
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], max+1)
	buf.Write(hdr[:])
	buf.Write(make([]byte, max+1))

	fr := wire.NewFrameReader(&buf, max)
	_, err := fr.ReadFrame()

	var tooLarge *wire.ErrFrameTooLarge
	require.ErrorAs(t, err, &tooLarge)
	assert.Equal(t, max+1, tooLarge.Size)
	assert.Equal(t, max, tooLarge.Max)
}

func TestFrameOverCapWrite(t *testing.T) {
	const max = 16

	fw := wire.NewFrameWriter(io.Discard, max)
	err := fw.WriteFrame(make([]byte, max+1))

	var tooLarge *wire.ErrFrameTooLarge
	require.ErrorAs(t, err, &tooLarge)
}

func TestFrameTruncatedMidPayload(t *testing.T) {
	var buf bytes.Buffer
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], 10)
	buf.Write(hdr[:])
	buf.Write([]byte("short"))

	fr := wire.NewFrameReader(&buf, wire.MaxControlFrame)
	_, err := fr.ReadFrame()
	assert.Equal(t, io.ErrUnexpectedEOF, err)
}

func TestFrameTruncatedMidHeader(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0x01, 0x02})

	fr := wire.NewFrameReader(buf, wire.MaxControlFrame)
	_, err := fr.ReadFrame()
	assert.Equal(t, io.ErrUnexpectedEOF, err)
}
