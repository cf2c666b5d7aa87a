// Package wire implements waypost's wire primitives: length-delimited
// framing over TCP and the compact little-endian value encoding shared
// by the control protocol and the relay handshake.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Frame caps. A peer announcing a larger frame is either broken or
// hostile; decoding past the cap is a fatal connection error.
const (
	// MaxControlFrame caps frames on control (signal) connections.
	MaxControlFrame = 16 * 1024 * 1024
	// MaxRelayFrame caps frames during the relay handshake.
	MaxRelayFrame = 32 * 1024 * 1024
)

// ErrFrameTooLarge is returned when an inbound frame header announces a
// payload above the reader's cap. The connection must be torn down: the
// stream can no longer be resynchronized.
type ErrFrameTooLarge struct {
	Size int
	Max  int
}

func (e *ErrFrameTooLarge) Error() string {
	return fmt.Sprintf("frame of %d bytes exceeds cap of %d bytes", e.Size, e.Max)
}

// FrameReader reads little-endian u32 length-prefixed frames from an
// underlying stream.
type FrameReader struct {
	r   io.Reader
	max int
	hdr [4]byte
}

// NewFrameReader wraps r with a frame decoder bounded by max payload
// bytes per frame.
func NewFrameReader(r io.Reader, max int) *FrameReader {
	return &FrameReader{r: r, max: max}
}

// ReadFrame reads the next frame payload. It returns io.EOF when the
// stream ends cleanly on a frame boundary and io.ErrUnexpectedEOF when
// it ends mid-frame. A *ErrFrameTooLarge return means the stream is
// unrecoverable.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(fr.r, fr.hdr[:]); err != nil {
		return nil, err
	}
	size := int(binary.LittleEndian.Uint32(fr.hdr[:]))
	if size > fr.max {
		return nil, &ErrFrameTooLarge{Size: size, Max: fr.max}
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}

// FrameWriter writes little-endian u32 length-prefixed frames to an
// underlying stream. Not safe for concurrent use; the session sink loop
// is the single writer.
type FrameWriter struct {
	w   io.Writer
	max int
	hdr [4]byte
}

// NewFrameWriter wraps w with a frame encoder bounded by max payload
// bytes per frame.
func NewFrameWriter(w io.Writer, max int) *FrameWriter {
	return &FrameWriter{w: w, max: max}
}

// WriteFrame writes one frame. The payload is written in full or the
// connection is considered broken.
func (fw *FrameWriter) WriteFrame(payload []byte) error {
	if len(payload) > fw.max {
		return &ErrFrameTooLarge{Size: len(payload), Max: fw.max}
	}
	binary.LittleEndian.PutUint32(fw.hdr[:], uint32(len(payload)))
	if _, err := fw.w.Write(fw.hdr[:]); err != nil {
		return err
	}
	_, err := fw.w.Write(payload)
	return err
}
