package wire

import (
	"encoding/binary"
	"fmt"

	"midimesh/internal/core/domain"
)

// Binary layout, big-endian throughout:
//
//	8 bytes  timestamp (signed microseconds)
//	1 byte   status (kind|channel, or raw kind >= 0xF0)
//	0-2      data bytes, count fixed by kind
//
// SysEx replaces the data bytes with a 4-byte payload length and the payload.

const (
	headerLen = 9  // timestamp + status
	sysExHead = 13 // timestamp + status + length prefix
)

// EncodedLen returns the wire length of an event.
func EncodedLen(e domain.Event) int {
	if e.Kind == domain.KindSysEx {
		return sysExHead + len(e.SysExPayload)
	}
	return headerLen + e.Kind.DataBytes()
}

// EncodeEvent serializes one performance event.
func EncodeEvent(e domain.Event) []byte {
	buf := make([]byte, EncodedLen(e))
	binary.BigEndian.PutUint64(buf, uint64(e.TimestampMicros))
	buf[8] = e.StatusByte()

	if e.Kind == domain.KindSysEx {
		binary.BigEndian.PutUint32(buf[headerLen:], uint32(len(e.SysExPayload)))
		copy(buf[sysExHead:], e.SysExPayload)
		return buf
	}

	switch e.Kind.DataBytes() {
	case 2:
		buf[9] = e.Data1
		buf[10] = e.Data2
	case 1:
		buf[9] = e.Data1
	}
	return buf
}

// DecodeEvent parses one event starting at offset. It returns the event and
// the number of bytes consumed; on error nothing is consumed. The buffer must
// hold the full fixed-length message for the kind named by the status byte
// (or, for SysEx, the declared payload), otherwise ErrTruncatedMessage.
func DecodeEvent(buf []byte, offset int) (domain.Event, int, error) {
	if offset < 0 || offset > len(buf) {
		return domain.Event{}, 0, fmt.Errorf("%w: offset %d out of range", domain.ErrInvalidArgument, offset)
	}
	rest := buf[offset:]
	if len(rest) < headerLen {
		return domain.Event{}, 0, fmt.Errorf("%w: %d bytes remaining", domain.ErrTruncatedMessage, len(rest))
	}

	ts := int64(binary.BigEndian.Uint64(rest))
	status := rest[8]

	if status < byte(domain.KindSysEx) {
		if status < 0x80 {
			return domain.Event{}, 0, fmt.Errorf("%w: running status byte 0x%02X", domain.ErrProtocolViolation, status)
		}
		kind := domain.EventKind(status & 0xF0)
		channel := status & 0x0F
		need := headerLen + kind.DataBytes()
		if len(rest) < need {
			return domain.Event{}, 0, fmt.Errorf("%w: %s needs %d bytes, %d remaining",
				domain.ErrTruncatedMessage, kind, need, len(rest))
		}
		var d1, d2 byte
		switch kind.DataBytes() {
		case 2:
			d1, d2 = rest[9], rest[10]
		case 1:
			d1 = rest[9]
		}
		return domain.NewEvent(kind, channel, d1, d2, ts), need, nil
	}

	kind := domain.EventKind(status)
	if kind == domain.KindSysEx {
		if len(rest) < sysExHead {
			return domain.Event{}, 0, fmt.Errorf("%w: sysex header needs %d bytes, %d remaining",
				domain.ErrTruncatedMessage, sysExHead, len(rest))
		}
		payloadLen := int(binary.BigEndian.Uint32(rest[headerLen:]))
		if len(rest) < sysExHead+payloadLen {
			return domain.Event{}, 0, fmt.Errorf("%w: sysex declares %d payload bytes, %d available",
				domain.ErrTruncatedMessage, payloadLen, len(rest)-sysExHead)
		}
		payload := make([]byte, payloadLen)
		copy(payload, rest[sysExHead:sysExHead+payloadLen])
		return domain.SysEx(payload, ts), sysExHead + payloadLen, nil
	}

	switch kind {
	case domain.KindClock, domain.KindStart, domain.KindContinue, domain.KindStop,
		domain.KindActiveSensing, domain.KindSystemReset:
		return domain.SystemRealtime(kind, ts), headerLen, nil
	}
	return domain.Event{}, 0, fmt.Errorf("%w: unknown status byte 0x%02X", domain.ErrProtocolViolation, status)
}
