// Package protocol defines the fixed-layout gamepad wire format.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Version is the only protocol version this codec accepts. A frame carrying
// any other version is rejected outright, never decoded best-effort.
const Version = 2

// Frame layout, little-endian:
// version(1) clientID(4) sequence(2) buttons(2) lt(1) rt(1)
// lx(2) ly(2) rx(2) ry(2) timestamp(8)
const (
	PacketSize    = 27
	MaxPacketSize = 1024
)

// Button bits carried in State.Buttons.
const (
	ButtonDPadUp        uint16 = 0x0001
	ButtonDPadDown      uint16 = 0x0002
	ButtonDPadLeft      uint16 = 0x0004
	ButtonDPadRight     uint16 = 0x0008
	ButtonStart         uint16 = 0x0010
	ButtonBack          uint16 = 0x0020
	ButtonLeftThumb     uint16 = 0x0040
	ButtonRightThumb    uint16 = 0x0080
	ButtonLeftShoulder  uint16 = 0x0100
	ButtonRightShoulder uint16 = 0x0200
	ButtonA             uint16 = 0x1000
	ButtonB             uint16 = 0x2000
	ButtonX             uint16 = 0x4000
	ButtonY             uint16 = 0x8000
)

var (
	// ErrSize indicates a datagram shorter than PacketSize or longer than
	// MaxPacketSize.
	ErrSize = errors.New("packet size out of range")
	// ErrVersion indicates an unsupported protocol version field.
	ErrVersion = errors.New("unsupported protocol version")
)

// State is one gamepad frame as carried on the wire. Field widths are
// bit-exact with the wire layout, so a decoded State is range-valid by
// construction; only the version needs checking.
type State struct {
	Version      uint8
	ClientID     uint32
	Sequence     uint16
	Buttons      uint16
	LeftTrigger  uint8
	RightTrigger uint8
	LX           int16
	LY           int16
	RX           int16
	RY           int16
	Timestamp    uint64
}

// New builds a State for sending. Caller inputs wider than their wire field
// are masked down, and the origin timestamp is stamped from the wall clock,
// so an out-of-range State is never constructed.
func New(clientID uint32, seq uint16, buttons uint16, lt, rt uint8, lx, ly, rx, ry int16) State {
	return State{
		Version:      Version,
		ClientID:     clientID,
		Sequence:     seq,
		Buttons:      buttons,
		LeftTrigger:  lt,
		RightTrigger: rt,
		LX:           lx,
		LY:           ly,
		RX:           rx,
		RY:           ry,
		Timestamp:    uint64(time.Now().UnixNano()),
	}
}

// Marshal encodes the state to the fixed 27-byte wire format.
func (s State) Marshal() []byte {
	b := make([]byte, PacketSize)
	b[0] = s.Version
	binary.LittleEndian.PutUint32(b[1:5], s.ClientID)
	binary.LittleEndian.PutUint16(b[5:7], s.Sequence)
	binary.LittleEndian.PutUint16(b[7:9], s.Buttons)
	b[9] = s.LeftTrigger
	b[10] = s.RightTrigger
	binary.LittleEndian.PutUint16(b[11:13], uint16(s.LX))
	binary.LittleEndian.PutUint16(b[13:15], uint16(s.LY))
	binary.LittleEndian.PutUint16(b[15:17], uint16(s.RX))
	binary.LittleEndian.PutUint16(b[17:19], uint16(s.RY))
	binary.LittleEndian.PutUint64(b[19:27], s.Timestamp)
	return b
}

// Unmarshal decodes and validates one datagram. The accepted length range is
// [PacketSize, MaxPacketSize]; trailing bytes beyond the fixed frame are
// ignored (padded frames from buggy or hostile senders must not break the
// parse, oversized ones are rejected before parsing).
func Unmarshal(data []byte) (State, error) {
	if len(data) < PacketSize || len(data) > MaxPacketSize {
		return State{}, fmt.Errorf("%w: %d bytes", ErrSize, len(data))
	}
	s := State{
		Version:      data[0],
		ClientID:     binary.LittleEndian.Uint32(data[1:5]),
		Sequence:     binary.LittleEndian.Uint16(data[5:7]),
		Buttons:      binary.LittleEndian.Uint16(data[7:9]),
		LeftTrigger:  data[9],
		RightTrigger: data[10],
		LX:           int16(binary.LittleEndian.Uint16(data[11:13])),
		LY:           int16(binary.LittleEndian.Uint16(data[13:15])),
		RX:           int16(binary.LittleEndian.Uint16(data[15:17])),
		RY:           int16(binary.LittleEndian.Uint16(data[17:19])),
		Timestamp:    binary.LittleEndian.Uint64(data[19:27]),
	}
	if s.Version != Version {
		return State{}, fmt.Errorf("%w: %d", ErrVersion, s.Version)
	}
	return s, nil
}

// SeqDelta returns the modular distance from prev to next on the 16-bit
// sequence ring. Zero means duplicate; any other value, including wrapped
// ones, is a new frame. Never compare sequences with raw subtraction.
func SeqDelta(prev, next uint16) uint16 {
	return next - prev
}
