// Package control is the id-addressed surface front-ends use to drive
// sessions. Errors carry a kind (ftag) and a user-facing issue (fmsg).
package control

import (
	"context"
	"errors"
	"strconv"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/sirupsen/logrus"

	"github.com/srg/mitch/internal/device"
	"github.com/srg/mitch/internal/protocol"
	"github.com/srg/mitch/internal/registry"
	"github.com/srg/mitch/internal/session"
	"github.com/srg/mitch/scanner"
)

// Control exposes the registry's sessions by id.
type Control struct {
	registry *registry.Registry
	scanner  *scanner.Scanner
	logger   *logrus.Logger
}

func New(reg *registry.Registry, sc *scanner.Scanner, logger *logrus.Logger) *Control {
	if logger == nil {
		logger = logrus.New()
	}
	return &Control{registry: reg, scanner: sc, logger: logger}
}

// ListSessions returns every session summary ordered by id.
func (c *Control) ListSessions() []session.Summary {
	return c.registry.Summaries()
}

// GetSession returns the summary of one session.
func (c *Control) GetSession(id int) (session.Summary, error) {
	s, err := c.lookup(id)
	if err != nil {
		return session.Summary{}, err
	}
	sum := s.Summary()
	sum.ID = id
	return sum, nil
}

func (c *Control) Connect(ctx context.Context, id int) error {
	return c.do(ctx, id, "connect", "Could not connect to the device", func(s *session.Session) error {
		return s.Connect(ctx)
	})
}

func (c *Control) Disconnect(ctx context.Context, id int) error {
	return c.do(ctx, id, "disconnect", "Could not disconnect from the device", func(s *session.Session) error {
		return s.Disconnect(ctx)
	})
}

// UpdateState refreshes the device state of one session.
func (c *Control) UpdateState(ctx context.Context, id int) error {
	return c.do(ctx, id, "update-state", "Could not read the device state", func(s *session.Session) error {
		return s.UpdateState(ctx)
	})
}

func (c *Control) StartRecording(ctx context.Context, id int, kind protocol.Kind) error {
	return c.do(ctx, id, "start-recording", "Could not start recording", func(s *session.Session) error {
		return s.StartRecording(ctx, kind)
	})
}

func (c *Control) StopRecording(ctx context.Context, id int) error {
	return c.do(ctx, id, "stop-recording", "Could not stop recording", func(s *session.Session) error {
		return s.StopRecording(ctx)
	})
}

// Discoveries delivers one notification per newly registered device.
func (c *Control) Discoveries() <-chan scanner.Discovery {
	return c.scanner.Discoveries()
}

// Await consumes discoveries until one named name arrives. Discoveries read
// while waiting are not delivered again.
func (c *Control) Await(ctx context.Context, name string) (scanner.Discovery, error) {
	for {
		select {
		case <-ctx.Done():
			return scanner.Discovery{}, fault.Wrap(ctx.Err(),
				fctx.With(ctx, "device", name),
				ftag.With(ftag.NotFound),
				fmsg.WithDesc("await discovery", "Device "+name+" was not found"),
			)
		case d, ok := <-c.Discoveries():
			if !ok {
				return scanner.Discovery{}, fault.Wrap(errors.New("scanner stopped"),
					fctx.With(ctx, "device", name),
					ftag.With(ftag.NotFound),
					fmsg.WithDesc("await discovery", "Device "+name+" was not found"),
				)
			}
			if d.Name == name {
				return d, nil
			}
		}
	}
}

func (c *Control) lookup(id int) (*session.Session, error) {
	s, err := c.registry.Get(id)
	if err != nil {
		return nil, fault.Wrap(err,
			fctx.With(context.Background(), "session_id", strconv.Itoa(id)),
			ftag.With(ftag.NotFound),
			fmsg.WithDesc("lookup session", "No device with id "+strconv.Itoa(id)),
		)
	}
	return s, nil
}

func (c *Control) do(ctx context.Context, id int, op, issue string, fn func(*session.Session) error) error {
	s, err := c.lookup(id)
	if err != nil {
		return err
	}

	if err := fn(s); err != nil {
		c.logger.WithFields(logrus.Fields{
			"id":     id,
			"device": s.Name(),
			"op":     op,
			"error":  err,
		}).Debug("Session operation failed")

		return fault.Wrap(err,
			fctx.With(ctx, "session_id", strconv.Itoa(id), "device", s.Name(), "error_at", op),
			ftag.With(kindOf(err)),
			fmsg.WithDesc(op, issue),
		)
	}
	return nil
}

// kindOf classifies session errors for front-ends.
func kindOf(err error) ftag.Kind {
	var unknown *protocol.UnknownStateError
	switch {
	case errors.Is(err, context.Canceled):
		return ftag.Cancelled
	case errors.Is(err, session.ErrRecordingActive):
		return ftag.AlreadyExists
	case errors.Is(err, device.ErrNotConnected), errors.As(err, &unknown):
		return ftag.InvalidArgument
	default:
		return ftag.Internal
	}
}
