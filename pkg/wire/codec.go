package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// The value encoding is compact little-endian with variable-length
// integers and no field tags: fields are written in declaration order,
// unions as a varint discriminant followed by the variant payload.
// Both sides must agree on the message layout; a layout mismatch
// surfaces as a decode error and the frame is dropped.
//
// Unsigned integers below singleByteMax occupy one byte; larger values
// are written as a one-byte marker followed by the little-endian fixed
// width value.
const (
	singleByteMax = 0xFA // 250
	marker16      = 0xFB
	marker32      = 0xFC
	marker64      = 0xFD
)

// ErrShortBuffer is returned when a decode runs off the end of the
// frame payload.
var ErrShortBuffer = errors.New("wire: short buffer")

// Encoder appends values to a byte buffer.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an Encoder with a small preallocated buffer.
func NewEncoder() *Encoder {
	return &Encoder{buf: make([]byte, 0, 64)}
}

// Bytes returns the encoded payload.
func (e *Encoder) Bytes() []byte { return e.buf }

// Uint writes a variable-length unsigned integer.
func (e *Encoder) Uint(v uint64) {
	switch {
	case v <= singleByteMax:
		e.buf = append(e.buf, byte(v))
	case v <= math.MaxUint16:
		e.buf = append(e.buf, marker16)
		e.buf = binary.LittleEndian.AppendUint16(e.buf, uint16(v))
	case v <= math.MaxUint32:
		e.buf = append(e.buf, marker32)
		e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(v))
	default:
		e.buf = append(e.buf, marker64)
		e.buf = binary.LittleEndian.AppendUint64(e.buf, v)
	}
}

// Int writes a signed integer using zigzag mapping so small negative
// values stay short.
func (e *Encoder) Int(v int64) {
	e.Uint(uint64(v)<<1 ^ uint64(v>>63))
}

// Bool writes a single 0/1 byte.
func (e *Encoder) Bool(v bool) {
	if v {
		e.buf = append(e.buf, 1)
	} else {
		e.buf = append(e.buf, 0)
	}
}

// Tag writes a union discriminant.
func (e *Encoder) Tag(t uint32) { e.Uint(uint64(t)) }

// Blob writes an opaque blob as varint length plus raw bytes.
func (e *Encoder) Blob(b []byte) {
	e.Uint(uint64(len(b)))
	e.buf = append(e.buf, b...)
}

// String writes a UTF-8 string with the same layout as Blob.
func (e *Encoder) String(s string) {
	e.Uint(uint64(len(s)))
	e.buf = append(e.buf, s...)
}

// Option writes a presence byte; the caller writes the value iff
// present.
func (e *Encoder) Option(present bool) { e.Bool(present) }

// Decoder consumes values from a frame payload.
type Decoder struct {
	buf []byte
	off int
}

// NewDecoder returns a Decoder over payload.
func NewDecoder(payload []byte) *Decoder {
	return &Decoder{buf: payload}
}

// Remaining reports how many undecoded bytes are left.
func (d *Decoder) Remaining() int { return len(d.buf) - d.off }

func (d *Decoder) take(n int) ([]byte, error) {
	if d.Remaining() < n {
		return nil, ErrShortBuffer
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

// Uint reads a variable-length unsigned integer.
func (d *Decoder) Uint() (uint64, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	switch b[0] {
	case marker16:
		p, err := d.take(2)
		if err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint16(p)), nil
	case marker32:
		p, err := d.take(4)
		if err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint32(p)), nil
	case marker64:
		p, err := d.take(8)
		if err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint64(p), nil
	default:
		if b[0] > singleByteMax {
			return 0, fmt.Errorf("wire: invalid integer marker 0x%02x", b[0])
		}
		return uint64(b[0]), nil
	}
}

// Int reads a zigzag-encoded signed integer.
func (d *Decoder) Int() (int64, error) {
	u, err := d.Uint()
	if err != nil {
		return 0, err
	}
	return int64(u>>1) ^ -int64(u&1), nil
}

// Bool reads a 0/1 byte; any other value is a decode error.
func (d *Decoder) Bool() (bool, error) {
	b, err := d.take(1)
	if err != nil {
		return false, err
	}
	switch b[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("wire: invalid bool byte 0x%02x", b[0])
	}
}

// Tag reads a union discriminant.
func (d *Decoder) Tag() (uint32, error) {
	u, err := d.Uint()
	if err != nil {
		return 0, err
	}
	if u > math.MaxUint32 {
		return 0, fmt.Errorf("wire: tag %d out of range", u)
	}
	return uint32(u), nil
}

// Blob reads a length-prefixed opaque blob. The returned slice is a
// copy, safe to retain after the frame buffer is reused.
func (d *Decoder) Blob() ([]byte, error) {
	n, err := d.Uint()
	if err != nil {
		return nil, err
	}
	if n > uint64(d.Remaining()) {
		return nil, ErrShortBuffer
	}
	b, err := d.take(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// String reads a length-prefixed UTF-8 string.
func (d *Decoder) String() (string, error) {
	b, err := d.Blob()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Option reads a presence byte; the caller reads the value iff present.
func (d *Decoder) Option() (bool, error) { return d.Bool() }
