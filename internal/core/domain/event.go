package domain

// EventKind identifies one kind of performance event. Channel kinds carry the
// MIDI status nibble in the high bits; system kinds are the raw status byte.
type EventKind byte

const (
	KindNoteOff         EventKind = 0x80
	KindNoteOn          EventKind = 0x90
	KindPolyPressure    EventKind = 0xA0
	KindControlChange   EventKind = 0xB0
	KindProgramChange   EventKind = 0xC0
	KindChannelPressure EventKind = 0xD0
	KindPitchBend       EventKind = 0xE0
	KindSysEx           EventKind = 0xF0
	KindClock           EventKind = 0xF8
	KindStart           EventKind = 0xFA
	KindContinue        EventKind = 0xFB
	KindStop            EventKind = 0xFC
	KindActiveSensing   EventKind = 0xFE
	KindSystemReset     EventKind = 0xFF
)

const (
	channelMask = 0x0F
	dataMask    = 0x7F

	// PitchBendCenter is the neutral 14-bit pitch wheel position.
	PitchBendCenter = 8192
	pitchBendMax    = 16383
)

func (k EventKind) String() string {
	switch k {
	case KindNoteOff:
		return "note_off"
	case KindNoteOn:
		return "note_on"
	case KindPolyPressure:
		return "poly_pressure"
	case KindControlChange:
		return "control_change"
	case KindProgramChange:
		return "program_change"
	case KindChannelPressure:
		return "channel_pressure"
	case KindPitchBend:
		return "pitch_bend"
	case KindSysEx:
		return "sysex"
	case KindClock:
		return "clock"
	case KindStart:
		return "start"
	case KindContinue:
		return "continue"
	case KindStop:
		return "stop"
	case KindActiveSensing:
		return "active_sensing"
	case KindSystemReset:
		return "system_reset"
	}
	return "unknown"
}

// IsChannelKind reports whether the kind addresses one of the 16 channels.
func (k EventKind) IsChannelKind() bool {
	return k < KindSysEx
}

// DataBytes returns how many data bytes follow the status byte on the wire.
// SysEx is variable-length and reports 0 here.
func (k EventKind) DataBytes() int {
	switch k {
	case KindProgramChange, KindChannelPressure:
		return 1
	case KindSysEx, KindClock, KindStart, KindContinue, KindStop, KindActiveSensing, KindSystemReset:
		return 0
	}
	return 2
}

// Event is a single performance event. Values are immutable once constructed;
// Channel and the data bytes are masked into range by the constructors, so a
// well-formed Event always satisfies Channel <= 15 and Data1, Data2 <= 127.
type Event struct {
	Kind            EventKind
	Channel         byte
	Data1           byte
	Data2           byte
	TimestampMicros int64
	SysExPayload    []byte
}

// NewEvent builds an event, truncating out-of-range channel and data values
// rather than rejecting them.
func NewEvent(kind EventKind, channel, data1, data2 byte, tsMicros int64) Event {
	return Event{
		Kind:            kind,
		Channel:         channel & channelMask,
		Data1:           data1 & dataMask,
		Data2:           data2 & dataMask,
		TimestampMicros: tsMicros,
	}
}

func NoteOn(channel, note, velocity byte, tsMicros int64) Event {
	return NewEvent(KindNoteOn, channel, note, velocity, tsMicros)
}

func NoteOff(channel, note, velocity byte, tsMicros int64) Event {
	return NewEvent(KindNoteOff, channel, note, velocity, tsMicros)
}

func ControlChange(channel, controller, value byte, tsMicros int64) Event {
	return NewEvent(KindControlChange, channel, controller, value, tsMicros)
}

func ProgramChange(channel, program byte, tsMicros int64) Event {
	return NewEvent(KindProgramChange, channel, program, 0, tsMicros)
}

func ChannelPressure(channel, pressure byte, tsMicros int64) Event {
	return NewEvent(KindChannelPressure, channel, pressure, 0, tsMicros)
}

func PolyPressure(channel, note, pressure byte, tsMicros int64) Event {
	return NewEvent(KindPolyPressure, channel, note, pressure, tsMicros)
}

// PitchBend clamps value to the 14-bit range and splits it into LSB/MSB.
func PitchBend(channel byte, value int, tsMicros int64) Event {
	if value < 0 {
		value = 0
	}
	if value > pitchBendMax {
		value = pitchBendMax
	}
	return NewEvent(KindPitchBend, channel, byte(value&dataMask), byte(value>>7), tsMicros)
}

// SysEx wraps an arbitrary system-exclusive payload. The payload is not
// copied; callers must not mutate it after construction.
func SysEx(payload []byte, tsMicros int64) Event {
	return Event{Kind: KindSysEx, TimestampMicros: tsMicros, SysExPayload: payload}
}

// SystemRealtime builds a data-less system message (clock, transport, reset).
func SystemRealtime(kind EventKind, tsMicros int64) Event {
	return Event{Kind: kind, TimestampMicros: tsMicros}
}

// PitchBendValue reassembles the 14-bit pitch wheel position from the two
// data bytes. 8192 is center.
func (e Event) PitchBendValue() int {
	return int(e.Data2)<<7 | int(e.Data1)
}

// StatusByte is the wire status byte: kind|channel for channel messages, the
// raw kind for system messages.
func (e Event) StatusByte() byte {
	if e.Kind.IsChannelKind() {
		return byte(e.Kind) | e.Channel
	}
	return byte(e.Kind)
}
