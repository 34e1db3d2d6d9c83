package protocol

import (
	"errors"
	"fmt"
)

// StatusOffset is the position of the status byte in a GetState response frame.
const StatusOffset = 4

// ErrShortFrame is returned when a response frame is too short to carry a status byte.
var ErrShortFrame = errors.New("response frame too short")

// Command is one of the fixed byte sequences written to the Command characteristic.
type Command struct {
	name  string
	bytes []byte
}

var (
	// GetState asks the device to report its operating state.
	GetState = Command{name: "get_state", bytes: []byte{0x82, 0x00}}
	// StopStream ends any active data stream.
	StopStream = Command{name: "stop_stream", bytes: []byte{0x02, 0x01, 0x02}}

	startAccelerometry = Command{name: "start_stream_accelerometry", bytes: []byte{0x02, 0x03, 0xF8, 0x04, 0x04}}
	startPressure      = Command{name: "start_stream_pressure", bytes: []byte{0x02, 0x03, 0xF8, 0x01, 0x04}}
)

// StartStream returns the command that starts streaming for the given recording kind.
func StartStream(kind Kind) (Command, error) {
	switch kind {
	case Accelerometry:
		return startAccelerometry, nil
	case Pressure:
		return startPressure, nil
	default:
		return Command{}, fmt.Errorf("no start command for recording kind %d", int(kind))
	}
}

// Bytes returns a copy of the command encoding.
func (c Command) Bytes() []byte {
	out := make([]byte, len(c.bytes))
	copy(out, c.bytes)
	return out
}

func (c Command) String() string {
	return c.name
}

// ParseStateResponse extracts and decodes the status byte of a GetState response.
func ParseStateResponse(frame []byte) (State, error) {
	if len(frame) <= StatusOffset {
		return 0, fmt.Errorf("%w: got %d bytes, need at least %d", ErrShortFrame, len(frame), StatusOffset+1)
	}
	return DecodeState(frame[StatusOffset])
}
