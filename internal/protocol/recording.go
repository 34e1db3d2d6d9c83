package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// PayloadOffset is where sample data begins in a Data characteristic notification.
const PayloadOffset = 4

// ErrPayloadLength is returned when a notification cannot hold a full sample.
var ErrPayloadLength = errors.New("unexpected payload length")

// Kind selects the sensor modality being streamed.
type Kind int

const (
	Accelerometry Kind = iota
	Pressure
)

func (k Kind) String() string {
	switch k {
	case Accelerometry:
		return "accelerometry"
	case Pressure:
		return "pressure"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if k != Accelerometry && k != Pressure {
		return nil, fmt.Errorf("unknown recording kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind parses a recording kind name. Short aliases "acc" and "accel" are accepted.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "accelerometry", "accel", "acc":
		return Accelerometry, nil
	case "pressure":
		return Pressure, nil
	default:
		return 0, fmt.Errorf("unknown recording kind %q (must be accelerometry or pressure)", s)
	}
}

// ChannelFormat is the per-channel sample encoding announced to the telemetry sink.
type ChannelFormat string

const Int16 ChannelFormat = "int16"

// NominalRate is the sample rate, in Hz, the device streams at for every kind.
const NominalRate = 50.0

// Descriptor is the immutable stream shape for one recording kind.
type Descriptor struct {
	Kind         Kind
	ContentType  string
	ChannelCount int
	NominalRate  float64
	Format       ChannelFormat
	Labels       []string // empty when channels are unlabeled

	decode func(payload []byte) ([]int16, error)
}

var descriptors = map[Kind]Descriptor{
	Accelerometry: {
		Kind:         Accelerometry,
		ContentType:  "Accelerometry",
		ChannelCount: 3,
		NominalRate:  NominalRate,
		Format:       Int16,
		Labels:       []string{"Pitch", "Roll", "Yaw"},
		decode:       decodeAccelerometry,
	},
	Pressure: {
		Kind:         Pressure,
		ContentType:  "Pressure",
		ChannelCount: 16,
		NominalRate:  NominalRate,
		Format:       Int16,
		decode:       decodePressure,
	},
}

// DescriptorFor returns the descriptor of a recording kind.
func DescriptorFor(kind Kind) (Descriptor, error) {
	d, ok := descriptors[kind]
	if !ok {
		return Descriptor{}, fmt.Errorf("unknown recording kind %d", int(kind))
	}
	d.Labels = append([]string(nil), d.Labels...)
	return d, nil
}

// Decode turns a raw Data notification into one sample of ChannelCount values.
func (d Descriptor) Decode(payload []byte) ([]int16, error) {
	if d.decode == nil {
		return nil, fmt.Errorf("descriptor for %s has no decoder", d.Kind)
	}
	return d.decode(payload)
}

// decodeAccelerometry reads three little-endian int16 values at [4,10).
func decodeAccelerometry(payload []byte) ([]int16, error) {
	if len(payload) < PayloadOffset+6 {
		return nil, fmt.Errorf("%w: accelerometry frame has %d bytes, need %d", ErrPayloadLength, len(payload), PayloadOffset+6)
	}
	sample := make([]int16, 3)
	for i := range sample {
		off := PayloadOffset + 2*i
		sample[i] = int16(binary.LittleEndian.Uint16(payload[off : off+2]))
	}
	return sample, nil
}

// decodePressure widens each unsigned byte after the header into one channel.
func decodePressure(payload []byte) ([]int16, error) {
	const channels = 16
	if len(payload) < PayloadOffset || len(payload)-PayloadOffset != channels {
		return nil, fmt.Errorf("%w: pressure frame has %d bytes, need %d", ErrPayloadLength, len(payload), PayloadOffset+channels)
	}
	data := payload[PayloadOffset:]
	sample := make([]int16, len(data))
	for i, b := range data {
		sample[i] = int16(b)
	}
	return sample, nil
}
