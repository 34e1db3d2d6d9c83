package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/mitch/internal/device"
	"github.com/srg/mitch/internal/protocol"
	"github.com/srg/mitch/internal/telemetry"
)

// recorder is the streaming task of one recording. It owns the outlet and
// the notification channel, and exits when cancelled, when the channel is
// closed, or when a push fails. On exit it only closes the outlet; the Data
// subscription belongs to the session, which releases it under its op lock.
type recorder struct {
	kind          protocol.Kind
	descriptor    protocol.Descriptor
	outlet        telemetry.Outlet
	notifications <-chan device.Notification
	logger        *logrus.Entry

	cancel context.CancelFunc
	done   <-chan struct{}

	samples atomic.Uint64
	skipped atomic.Uint64

	mu  sync.Mutex
	err error
}

func (r *recorder) run(ctx context.Context) {
	defer r.finish()

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-r.notifications:
			if !ok {
				r.logger.Info("Notification source ended")
				return
			}
			// cancellation wins over a notification that raced with it
			if ctx.Err() != nil {
				return
			}
			if err := r.handle(n); err != nil {
				r.setErr(err)
				r.logger.WithError(err).Error("Recording task stopped on sink failure")
				return
			}
		}
	}
}

// handle forwards one notification. Only sink failures are returned.
func (r *recorder) handle(n device.Notification) error {
	if device.NormalizeUUID(n.Characteristic) != device.DataCharUUID {
		return nil
	}

	values, err := r.descriptor.Decode(n.Value)
	if err != nil {
		r.skipped.Add(1)
		r.logger.WithFields(logrus.Fields{
			"length": len(n.Value),
			"error":  err,
		}).Warn("Skipping malformed data notification")
		return nil
	}

	if err := r.outlet.PushSample(values); err != nil {
		var sinkErr *telemetry.SinkError
		if !errors.As(err, &sinkErr) {
			err = &telemetry.SinkError{Stream: r.outlet.Info().Name, Err: err}
		}
		return err
	}
	r.samples.Add(1)
	return nil
}

func (r *recorder) finish() {
	if err := r.outlet.Close(); err != nil {
		r.logger.WithError(err).Warn("Failed to close telemetry outlet")
	}
	r.logger.WithFields(logrus.Fields{
		"samples": r.samples.Load(),
		"skipped": r.skipped.Load(),
	}).Debug("Recording task exited")
}

func (r *recorder) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Err returns the error that ended the task, if any.
func (r *recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *recorder) running() bool {
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// stop cancels the task and waits up to timeout for it to exit.
func (r *recorder) stop(timeout time.Duration) bool {
	r.cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-r.done:
		return true
	case <-timer.C:
		return false
	}
}
