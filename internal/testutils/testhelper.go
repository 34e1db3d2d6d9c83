package testutils

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper whose logger keeps debug records but
// only prints them when the test runs verbose.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	if !testing.Verbose() {
		logger.SetOutput(io.Discard)
	}
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// StateFrame builds a GetState response frame carrying status at offset 4.
func StateFrame(status byte) []byte {
	return []byte{0x82, 0x00, 0x00, 0x00, status}
}

// AccelerometryFrame builds a Data notification carrying one accelerometry sample.
func AccelerometryFrame(x, y, z int16) []byte {
	frame := []byte{0x00, 0x00, 0x00, 0x00}
	for _, v := range []int16{x, y, z} {
		frame = append(frame, byte(uint16(v)), byte(uint16(v)>>8))
	}
	return frame
}

// PressureFrame builds a Data notification carrying one pressure sample.
func PressureFrame(values [16]byte) []byte {
	return append([]byte{0x00, 0x00, 0x00, 0x00}, values[:]...)
}
