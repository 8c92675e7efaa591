package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderSize is the length of the big-endian frame length prefix.
const HeaderSize = 4

var (
	// ErrEndOfStream is returned when the stream ends before a full frame arrived.
	ErrEndOfStream = errors.New("end of stream")

	// ErrFrameTooLarge is returned when a declared frame length exceeds the cap.
	ErrFrameTooLarge = errors.New("frame too large")
)

// EncodeFrame prepends the 4-byte length header to payload.
func EncodeFrame(payload []byte) []byte {
	frame := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[HeaderSize:], payload)
	return frame
}

// WriteFrame writes payload as a single frame.
// Header and body go out in one Write so concurrent frames never interleave.
func WriteFrame(w io.Writer, payload []byte) error {
	if _, err := w.Write(EncodeFrame(payload)); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// ReadFrame reads exactly one frame from r and returns its payload.
// A stream that closes before the header or body is complete yields
// ErrEndOfStream. If maxSize is non-zero, larger frames yield ErrFrameTooLarge
// without reading the body.
func ReadFrame(r io.Reader, maxSize uint32) ([]byte, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, readError(err)
	}

	length := binary.BigEndian.Uint32(header[:])
	if maxSize > 0 && length > maxSize {
		return nil, fmt.Errorf("%w: declared %d, limit %d", ErrFrameTooLarge, length, maxSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, readError(err)
	}
	return payload, nil
}

func readError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrEndOfStream
	}
	return fmt.Errorf("failed to read frame: %w", err)
}
