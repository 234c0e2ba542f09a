// Package protocol implements the length-prefixed frame format spoken between
// the game client and the server.
//
// Each frame is a uint32 little-endian length followed by that many bytes of
// body. The first body byte is a marker identifying the frame family: 'W' for
// gameplay traffic and 'M' for session/meta control messages. Everything after
// the marker is the family-specific payload.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Marker identifies the family of a frame.
type Marker byte

const (
	// MarkerGameplay frames carry Godot-serialized gameplay packets.
	MarkerGameplay Marker = 'W'
	// MarkerMeta frames carry JSON session control messages.
	MarkerMeta Marker = 'M'
)

const lengthPrefixSize = 4

// MaxFrameSize bounds the length prefix a peer can declare. Anything larger
// is treated as a protocol violation before a body buffer is allocated.
const MaxFrameSize = 16 * 1024 * 1024

var (
	// ErrConnectionClosed indicates the peer closed the stream mid-frame.
	ErrConnectionClosed = errors.New("connection closed while reading frame")
	// ErrInvalidLength indicates a length prefix outside of (0, MaxFrameSize].
	ErrInvalidLength = errors.New("invalid frame length")
)

// Frame is one decoded unit off the wire.
type Frame struct {
	Marker  Marker
	Payload []byte
}

// ReadFrame reads exactly one frame from r, blocking until the full body has
// arrived. A zero-length read from the underlying stream is surfaced as
// ErrConnectionClosed; a declared length of zero (or one interpretable as
// negative) fails with ErrInvalidLength without allocating a body buffer.
func ReadFrame(r io.Reader) (Frame, error) {
	var lengthBuf [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return Frame{}, readErr(err)
	}

	length := binary.LittleEndian.Uint32(lengthBuf[:])
	if length == 0 || int32(length) <= 0 || length > MaxFrameSize {
		return Frame{}, fmt.Errorf("%w: %d", ErrInvalidLength, int32(length))
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, readErr(err)
	}

	return Frame{Marker: Marker(body[0]), Payload: body[1:]}, nil
}

// WriteFrame encodes the marker and payload as a single frame and writes it to
// w in one Write call so that concurrent writers on the same connection cannot
// interleave frame bytes (callers still serialize writes per connection).
func WriteFrame(w io.Writer, marker Marker, payload []byte) error {
	frame := EncodeFrame(marker, payload)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// EncodeFrame returns the full wire representation of a frame: length prefix,
// marker, and payload in one contiguous buffer.
func EncodeFrame(marker Marker, payload []byte) []byte {
	frame := make([]byte, lengthPrefixSize+1+len(payload))
	binary.LittleEndian.PutUint32(frame, uint32(1+len(payload)))
	frame[lengthPrefixSize] = byte(marker)
	copy(frame[lengthPrefixSize+1:], payload)
	return frame
}

func readErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrConnectionClosed
	}
	return err
}
