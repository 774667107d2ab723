package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"midimesh/internal/core/domain"
)

// MaxFramePayload bounds a single framed message. Anything larger than this
// on the wire is treated as stream desynchronization, not a real frame.
const MaxFramePayload = 65536

// WriteFrame writes a 4-byte big-endian length prefix followed by the
// payload. The prefix and payload go out as one write so a concurrent
// writer cannot interleave between them.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) == 0 || len(payload) > MaxFramePayload {
		return fmt.Errorf("%w: frame payload of %d bytes", domain.ErrInvalidArgument, len(payload))
	}
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)
	_, err := w.Write(buf)
	return err
}

// ReadFrame blocks until one full frame is available and returns its
// payload. A length prefix of zero or beyond MaxFramePayload yields
// ErrProtocolViolation; the caller decides whether to resync or drop the
// stream. Stream closure surfaces as io.EOF (or the transport's error).
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length == 0 || length > MaxFramePayload {
		return nil, fmt.Errorf("%w: frame length prefix %d", domain.ErrProtocolViolation, length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}
