// Package scanner turns adapter discovery events into registered sessions.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/mitch/internal/device"
	"github.com/srg/mitch/internal/registry"
	"github.com/srg/mitch/internal/ringchan"
	"github.com/srg/mitch/internal/session"
)

const (
	DefaultPrefix      = "mitch"
	DefaultEventBuffer = 100
)

// ErrAdapterUnavailable means there is no powered-on adapter to scan with.
// There is no recovery path; callers treat it as fatal.
var ErrAdapterUnavailable = errors.New("bluetooth adapter unavailable")

// Discovery announces a newly registered device.
type Discovery struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

// SessionFactory builds the session of a newly matched peripheral.
type SessionFactory func(name string, p device.Peripheral) *session.Session

// Options configures a Scanner. Zero values select the defaults.
type Options struct {
	Prefix      string // lower-case local name prefix
	EventBuffer int
	Logger      *logrus.Logger
}

// Scanner consumes discovery events, filters them by advertised name and
// appends one session per new name to the registry.
type Scanner struct {
	adapter    device.Adapter
	registry   *registry.Registry
	newSession SessionFactory
	prefix     string

	seen   *hashmap.Map[string, struct{}]
	events *ringchan.RingChannel[Discovery]
	logger *logrus.Logger
}

func New(adapter device.Adapter, reg *registry.Registry, factory SessionFactory, opts Options) *Scanner {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultEventBuffer
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	return &Scanner{
		adapter:    adapter,
		registry:   reg,
		newSession: factory,
		prefix:     strings.ToLower(opts.Prefix),
		seen:       hashmap.New[string, struct{}](),
		events:     ringchan.New[Discovery](opts.EventBuffer),
		logger:     opts.Logger,
	}
}

// Discoveries delivers one Discovery per registered device. A slow reader
// loses the oldest notifications. The channel is closed when Run returns.
func (s *Scanner) Discoveries() <-chan Discovery {
	return s.events.C()
}

// Run scans until ctx is done or the adapter ends the event stream. The
// stream cannot be restarted; a Scanner runs once.
func (s *Scanner) Run(ctx context.Context) error {
	defer s.events.Close()

	state, err := s.adapter.State(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAdapterUnavailable, err)
	}
	if state != device.AdapterPoweredOn {
		return fmt.Errorf("%w: adapter is %s", ErrAdapterUnavailable, state)
	}

	events, err := s.adapter.Events(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAdapterUnavailable, err)
	}

	s.logger.WithField("prefix", s.prefix).Info("Scanning for devices...")
	for {
		select {
		case <-ctx.Done():
			s.logger.WithField("device_count", s.registry.Len()).Info("Scan stopped")
			return nil
		case ev, ok := <-events:
			if !ok {
				s.logger.WithField("device_count", s.registry.Len()).Info("Discovery stream ended")
				return nil
			}
			s.handle(ev)
		}
	}
}

func (s *Scanner) handle(ev device.DiscoveryEvent) {
	p, err := s.adapter.Peripheral(ev.ID)
	if err != nil {
		s.logger.WithError(err).WithField("id", ev.ID).Debug("Discovered peripheral is gone")
		return
	}
	props, err := p.Properties()
	if err != nil || props == nil {
		s.logger.WithError(err).WithField("id", ev.ID).Debug("No properties for peripheral")
		return
	}

	name := strings.ToLower(props.LocalName)
	if !strings.HasPrefix(name, s.prefix) {
		return
	}
	if _, loaded := s.seen.GetOrInsert(name, struct{}{}); loaded {
		return
	}

	id := s.registry.Append(s.newSession(name, p))
	s.logger.WithFields(logrus.Fields{
		"id":      id,
		"device":  name,
		"address": p.ID(),
		"rssi":    props.RSSI,
	}).Info("Discovered new device")

	if s.events.ForceSend(Discovery{ID: id, Name: name, Address: p.ID()}) {
		s.logger.Debug("Discovery queue full, dropped oldest notification")
	}
}
