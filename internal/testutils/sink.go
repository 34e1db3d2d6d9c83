package testutils

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/srg/mitch/internal/telemetry"
)

// RecordingSink is an in-memory telemetry.Sink that keeps every declaration
// and every pushed sample for inspection.
type RecordingSink struct {
	mu       sync.Mutex
	Declared []telemetry.StreamInfo
	Samples  [][]int16
	Closed   int

	// DeclareErr makes Declare fail; PushErr makes every push fail.
	DeclareErr error
	PushErr    error

	// Block, when set before recording starts, holds every push until it is closed.
	Block chan struct{}

	pushed  chan struct{}
	waiting atomic.Int32
}

func NewRecordingSink() *RecordingSink {
	return &RecordingSink{pushed: make(chan struct{}, 1024)}
}

func (s *RecordingSink) Declare(info telemetry.StreamInfo) (telemetry.Outlet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DeclareErr != nil {
		return nil, s.DeclareErr
	}
	s.Declared = append(s.Declared, info)
	return &recordingOutlet{sink: s, info: info}, nil
}

// Waiting returns the number of pushes currently held by Block.
func (s *RecordingSink) Waiting() int {
	return int(s.waiting.Load())
}

// Pushed signals once per push attempt, successful or not.
func (s *RecordingSink) Pushed() <-chan struct{} {
	return s.pushed
}

func (s *RecordingSink) Snapshot() (declared []telemetry.StreamInfo, samples [][]int16, closed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	declared = append(declared, s.Declared...)
	samples = append(samples, s.Samples...)
	return declared, samples, s.Closed
}

type recordingOutlet struct {
	sink   *RecordingSink
	info   telemetry.StreamInfo
	closed bool
}

func (o *recordingOutlet) Info() telemetry.StreamInfo {
	return o.info
}

func (o *recordingOutlet) PushSample(values []int16) error {
	s := o.sink
	defer func() {
		select {
		case s.pushed <- struct{}{}:
		default:
		}
	}()

	if s.Block != nil {
		s.waiting.Add(1)
		<-s.Block
		s.waiting.Add(-1)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if o.closed {
		return errors.New("outlet closed")
	}
	if s.PushErr != nil {
		return s.PushErr
	}
	s.Samples = append(s.Samples, append([]int16(nil), values...))
	return nil
}

func (o *recordingOutlet) Close() error {
	o.sink.mu.Lock()
	defer o.sink.mu.Unlock()
	if !o.closed {
		o.closed = true
		o.sink.Closed++
	}
	return nil
}
