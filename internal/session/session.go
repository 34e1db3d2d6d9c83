// Package session owns the connection lifecycle of one mitch peripheral and
// the recording task that forwards its samples to a telemetry sink.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/mitch/internal/device"
	"github.com/srg/mitch/internal/groutine"
	"github.com/srg/mitch/internal/protocol"
	"github.com/srg/mitch/internal/telemetry"
)

const (
	// DefaultTransportTimeout bounds every transport call when Options leaves it unset.
	DefaultTransportTimeout = 5 * time.Second
	// DefaultStopTimeout bounds the wait for a recording task to exit when Options leaves it unset.
	DefaultStopTimeout = 2 * time.Second
)

var (
	// ErrRecordingActive is returned by StartRecording while a recording task is running.
	ErrRecordingActive = errors.New("recording already active")
	// ErrStopTimeout means the recording task did not exit within the stop timeout.
	// The task stays attached to the session until it exits.
	ErrStopTimeout = errors.New("recording task did not exit in time")
)

// Options tunes a Session. Zero values select the defaults.
type Options struct {
	TransportTimeout time.Duration // bound on every transport call
	StopTimeout      time.Duration // bound on waiting for a recording task to exit
	Logger           *logrus.Logger
}

// Session is one physical device for the life of the process.
//
// Operations are serialized per session; the fields read by Summary have
// their own lock so a hung transport call never blocks listing.
type Session struct {
	name       string
	peripheral device.Peripheral
	sink       telemetry.Sink

	transportTimeout time.Duration
	stopTimeout      time.Duration
	logger           *logrus.Entry

	op sync.Mutex

	mu        sync.RWMutex
	connected bool
	state     *protocol.State
	task      *recorder
	last      *recorder
}

// New wraps a discovered peripheral. name is the case-folded advertised name.
func New(name string, p device.Peripheral, sink telemetry.Sink, opts Options) *Session {
	if opts.TransportTimeout <= 0 {
		opts.TransportTimeout = DefaultTransportTimeout
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	return &Session{
		name:             name,
		peripheral:       p,
		sink:             sink,
		transportTimeout: opts.TransportTimeout,
		stopTimeout:      opts.StopTimeout,
		logger: opts.Logger.WithFields(logrus.Fields{
			"device":  name,
			"address": p.ID(),
		}),
	}
}

func (s *Session) Name() string {
	return s.name
}

func (s *Session) Address() string {
	return s.peripheral.ID()
}

func (s *Session) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// State returns the last known device state; ok is false when it is unknown.
func (s *Session) State() (state protocol.State, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return 0, false
	}
	return *s.state, true
}

// Recording reports whether a recording task is running.
func (s *Session) Recording() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.task != nil && s.task.running()
}

// Connect connects the transport and discovers services. Once both succeed
// the session is connected; a failing state query afterwards is logged and
// does not fail Connect.
func (s *Session) Connect(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()

	s.logger.Debug("Connecting...")
	if err := s.transport(ctx, func(ctx context.Context) error {
		return s.peripheral.Connect(ctx)
	}); err != nil {
		return &device.TransportError{Op: "connect", Err: err}
	}

	if err := s.transport(ctx, func(ctx context.Context) error {
		return s.peripheral.DiscoverServices(ctx)
	}); err != nil {
		s.abandonConnection()
		return &device.TransportError{Op: "discover services", Err: err}
	}

	for _, char := range []string{device.CommandCharUUID, device.DataCharUUID} {
		if !device.HasCharacteristic(s.peripheral, char) {
			s.abandonConnection()
			return &device.TransportError{Op: "discover services", Char: char, Err: device.ErrNotFound}
		}
	}

	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	s.logger.Info("Connected")

	if err := s.updateState(ctx); err != nil {
		s.logger.WithError(err).Warn("State query after connect failed")
	}
	return nil
}

// abandonConnection drops a half-established link.
func (s *Session) abandonConnection() {
	if err := s.transport(context.Background(), func(ctx context.Context) error {
		return s.peripheral.Disconnect(ctx)
	}); err != nil {
		s.logger.WithError(err).Debug("Disconnect after failed setup")
	}
}

// Disconnect closes the transport. The last known state is kept.
func (s *Session) Disconnect(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()

	if err := s.transport(ctx, func(ctx context.Context) error {
		return s.peripheral.Disconnect(ctx)
	}); err != nil {
		return &device.TransportError{Op: "disconnect", Err: err}
	}

	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	s.logger.Info("Disconnected")
	return nil
}

// UpdateState queries the device state with a GetState round trip.
func (s *Session) UpdateState(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()
	s.reapTask()
	return s.updateState(ctx)
}

// updateState treats a failed GetState write as a lost link: the session is
// demoted to disconnected with unknown state and the TransportError returned.
// Read and decode failures only clear the state.
func (s *Session) updateState(ctx context.Context) error {
	if err := s.write(ctx, protocol.GetState); err != nil {
		s.mu.Lock()
		s.connected = false
		s.state = nil
		s.mu.Unlock()
		s.logger.WithError(err).Warn("State query write failed, session demoted to disconnected")
		return err
	}

	frame, err := s.read(ctx)
	if err == nil {
		var st protocol.State
		st, err = protocol.ParseStateResponse(frame)
		if err == nil {
			s.mu.Lock()
			s.state = &st
			s.mu.Unlock()
			s.logger.WithField("state", st.String()).Debug("Device state updated")
			return nil
		}
	}

	s.mu.Lock()
	s.state = nil
	s.mu.Unlock()
	return err
}

// StartRecording declares a telemetry stream, subscribes to the Data
// characteristic, starts the device stream and spawns the recording task.
// The state is refreshed last; its error is returned with the task left running.
func (s *Session) StartRecording(ctx context.Context, kind protocol.Kind) error {
	s.op.Lock()
	defer s.op.Unlock()

	if !s.Connected() {
		return &device.TransportError{Op: "start recording", Err: device.ErrNotConnected}
	}
	if s.reapTask() {
		return ErrRecordingActive
	}

	descriptor, err := protocol.DescriptorFor(kind)
	if err != nil {
		return err
	}
	start, err := protocol.StartStream(kind)
	if err != nil {
		return err
	}

	outlet, err := s.sink.Declare(telemetry.NewStreamInfo(s.name, descriptor))
	if err != nil {
		var setupErr *telemetry.StreamSetupError
		if !errors.As(err, &setupErr) {
			err = &telemetry.StreamSetupError{Stream: s.name, Err: err}
		}
		return err
	}

	if err := s.transport(ctx, func(ctx context.Context) error {
		return s.peripheral.Subscribe(ctx, device.DataCharUUID)
	}); err != nil {
		_ = outlet.Close()
		return &device.TransportError{Op: "subscribe", Char: device.DataCharUUID, Err: err}
	}

	taskCtx, cancel := context.WithCancel(context.Background())
	notifications, err := s.peripheral.Notifications(taskCtx)
	if err != nil {
		cancel()
		s.unsubscribe()
		_ = outlet.Close()
		return &device.TransportError{Op: "subscribe", Char: device.DataCharUUID, Err: err}
	}

	if err := s.command(ctx, start); err != nil {
		cancel()
		s.unsubscribe()
		_ = outlet.Close()
		return err
	}

	task := &recorder{
		kind:          kind,
		descriptor:    descriptor,
		outlet:        outlet,
		notifications: notifications,
		logger:        s.logger.WithField("kind", kind.String()),
		cancel:        cancel,
	}
	task.done = groutine.Go(taskCtx, fmt.Sprintf("recording-%s", s.name), task.run)

	s.mu.Lock()
	s.task = task
	s.last = task
	s.mu.Unlock()
	s.logger.WithField("kind", kind.String()).Info("Recording started")

	return s.updateState(ctx)
}

// StopRecording stops the device stream and the recording task, then
// refreshes the state. Without a running task only the device is told to
// stop. The task is stopped even when the stop command fails. A task that
// does not exit within the stop timeout yields ErrStopTimeout and keeps
// blocking new recordings until it exits.
func (s *Session) StopRecording(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()

	err := s.command(ctx, protocol.StopStream)
	stopped := s.stopTask()
	if err != nil {
		return err
	}
	if !stopped {
		return ErrStopTimeout
	}
	return s.updateState(ctx)
}

// Close stops any recording and disconnects if still connected. It is safe
// to call on every exit path.
func (s *Session) Close(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()

	s.stopTask()
	if !s.Connected() {
		return nil
	}

	s.logger.Debug("Disconnecting on close")
	err := s.transport(ctx, func(ctx context.Context) error {
		return s.peripheral.Disconnect(ctx)
	})

	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()

	if err != nil {
		return &device.TransportError{Op: "disconnect", Err: err}
	}
	return nil
}

// reapTask detaches a task that ended on its own and releases its Data
// subscription. It reports whether a task is still live. Callers hold s.op.
func (s *Session) reapTask() bool {
	s.mu.RLock()
	task := s.task
	s.mu.RUnlock()

	if task == nil {
		return false
	}
	if task.running() {
		return true
	}
	s.detach(task)
	return false
}

// stopTask cancels the current task and waits up to the stop timeout. A task
// that does not exit in time stays attached and false is returned. Callers hold s.op.
func (s *Session) stopTask() bool {
	s.mu.RLock()
	task := s.task
	s.mu.RUnlock()

	if task == nil {
		return true
	}
	if !task.stop(s.stopTimeout) {
		s.logger.WithField("timeout", s.stopTimeout).Warn("Recording task did not exit in time")
		return false
	}
	s.detach(task)
	s.logger.WithFields(logrus.Fields{
		"samples": task.samples.Load(),
		"skipped": task.skipped.Load(),
	}).Info("Recording stopped")
	return true
}

// detach clears an exited task and unsubscribes the Data characteristic it
// was fed from. While a task is attached no other recording can subscribe,
// so the subscription released here is always the task's own.
func (s *Session) detach(task *recorder) {
	s.mu.Lock()
	if s.task != task {
		s.mu.Unlock()
		return
	}
	s.task = nil
	s.mu.Unlock()

	if s.Connected() {
		s.unsubscribe()
	}
}

// command writes cmd to the Command characteristic and reads the acknowledgment frame.
func (s *Session) command(ctx context.Context, cmd protocol.Command) error {
	if err := s.write(ctx, cmd); err != nil {
		return err
	}
	_, err := s.read(ctx)
	return err
}

func (s *Session) write(ctx context.Context, cmd protocol.Command) error {
	s.logger.WithField("command", cmd.String()).Debug("Writing command")
	if err := s.transport(ctx, func(ctx context.Context) error {
		return s.peripheral.Write(ctx, device.CommandCharUUID, cmd.Bytes(), device.WithResponse)
	}); err != nil {
		return &device.TransportError{Op: "write", Char: device.CommandCharUUID, Err: err}
	}
	return nil
}

func (s *Session) read(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.transportTimeout)
	defer cancel()

	frame, err := device.Call(ctx, func() ([]byte, error) {
		return s.peripheral.Read(ctx, device.CommandCharUUID)
	})
	if err != nil {
		return nil, &device.TransportError{Op: "read", Char: device.CommandCharUUID, Err: err}
	}
	return frame, nil
}

func (s *Session) unsubscribe() {
	if err := s.transport(context.Background(), func(ctx context.Context) error {
		return s.peripheral.Unsubscribe(ctx, device.DataCharUUID)
	}); err != nil {
		s.logger.WithError(err).Warn("Failed to unsubscribe from data characteristic")
	}
}

// transport runs one backend call bounded by the transport timeout.
func (s *Session) transport(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.transportTimeout)
	defer cancel()
	return device.Do(ctx, func() error { return fn(ctx) })
}
