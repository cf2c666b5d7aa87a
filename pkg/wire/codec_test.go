package wire_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waypost-dev/waypost/pkg/wire"
)

func TestUintWidths(t *testing.T) {
	cases := []struct {
		value     uint64
		wantBytes int
	}{
		{0, 1},
		{250, 1},
		{251, 3},
		{math.MaxUint16, 3},
		{math.MaxUint16 + 1, 5},
		{math.MaxUint32, 5},
		{math.MaxUint32 + 1, 9},
		{math.MaxUint64, 9},
	}

	for _, tc := range cases {
		e := wire.NewEncoder()
		e.Uint(tc.value)
		assert.Len(t, e.Bytes(), tc.wantBytes, "value %d", tc.value)

		d := wire.NewDecoder(e.Bytes())
		got, err := d.Uint()
		require.NoError(t, err)
		assert.Equal(t, tc.value, got)
		assert.Zero(t, d.Remaining())
	}
}

func TestIntZigzag(t *testing.T) {
	values := []int64{0, 1, -1, 125, -125, 126, math.MaxInt64, math.MinInt64}

	for _, v := range values {
		e := wire.NewEncoder()
		e.Int(v)

		d := wire.NewDecoder(e.Bytes())
		got, err := d.Int()
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}

	// Small magnitudes in either sign stay single-byte.
	e := wire.NewEncoder()
	e.Int(-125)
	assert.Len(t, e.Bytes(), 1)
}

func TestMixedValues(t *testing.T) {
	e := wire.NewEncoder()
	e.Tag(7)
	e.String("QK3MV8ZP")
	e.Bool(true)
	e.Option(false)
	e.Blob([]byte{0xDE, 0xAD})

	d := wire.NewDecoder(e.Bytes())

	tag, err := d.Tag()
	require.NoError(t, err)
	assert.Equal(t, uint32(7), tag)

	s, err := d.String()
	require.NoError(t, err)
	assert.Equal(t, "QK3MV8ZP", s)

	b, err := d.Bool()
	require.NoError(t, err)
	assert.True(t, b)

	present, err := d.Option()
	require.NoError(t, err)
	assert.False(t, present)

	blob, err := d.Blob()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xDE, 0xAD}, blob)
	assert.Zero(t, d.Remaining())
}

func TestDecodeShortBuffer(t *testing.T) {
	d := wire.NewDecoder(nil)
	_, err := d.Uint()
	assert.ErrorIs(t, err, wire.ErrShortBuffer)

	// Blob length pointing past the payload end.
	e := wire.NewEncoder()
	e.Uint(100)
	d = wire.NewDecoder(e.Bytes())
	_, err = d.Blob()
	assert.ErrorIs(t, err, wire.ErrShortBuffer)
}

func TestDecodeInvalidBytes(t *testing.T) {
	// Reserved marker between singleByteMax and marker16.
	d := wire.NewDecoder([]byte{0xFE})
	_, err := d.Uint()
	assert.Error(t, err)

	d = wire.NewDecoder([]byte{0x02})
	_, err = d.Bool()
	assert.Error(t, err)
}

func TestBlobIsCopied(t *testing.T) {
	e := wire.NewEncoder()
	e.Blob([]byte{1, 2, 3})

	frame := e.Bytes()
	d := wire.NewDecoder(frame)
	blob, err := d.Blob()
	require.NoError(t, err)

	frame[1] = 0xFF
	assert.Equal(t, []byte{1, 2, 3}, blob)
}
