package telemetry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cskr/pubsub/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"
)

// ErrHubClosed is returned by outlets of a hub that was shut down.
var ErrHubClosed = errors.New("hub shut down")

// DefaultHubBuffer is the per-subscriber queue length of a Hub.
const DefaultHubBuffer = 64

// Hub is an in-process sink: every declared stream is a pub/sub topic and
// samples are fanned out to its subscribers. A subscriber that falls behind
// loses samples; the producer is never blocked.
type Hub struct {
	ps      *pubsub.PubSub[string, Sample]
	streams *xsync.MapOf[string, StreamInfo]
	logger  *logrus.Logger

	// guards ps against use after Shutdown
	mu   sync.RWMutex
	done bool
}

// NewHub creates a hub with the given per-subscriber buffer.
func NewHub(buffer int, logger *logrus.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultHubBuffer
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Hub{
		ps:      pubsub.New[string, Sample](buffer),
		streams: xsync.NewMapOf[string, StreamInfo](),
		logger:  logger,
	}
}

// Declare registers a stream. Declaring a name that is already live fails.
func (h *Hub) Declare(info StreamInfo) (Outlet, error) {
	if err := validateInfo(info); err != nil {
		return nil, err
	}
	if _, loaded := h.streams.LoadOrStore(info.Name, info); loaded {
		return nil, &StreamSetupError{Stream: info.Name, Err: fmt.Errorf("stream already declared")}
	}

	h.logger.WithFields(logrus.Fields{
		"stream":   info.Name,
		"type":     info.ContentType,
		"channels": info.ChannelCount,
	}).Debug("Stream declared")
	return &hubOutlet{hub: h, info: info}, nil
}

// Subscribe returns the sample channel of a stream and a function ending the
// subscription. The channel is closed when the stream's outlet is closed.
func (h *Hub) Subscribe(stream string) (<-chan Sample, func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.done {
		ch := make(chan Sample)
		close(ch)
		return ch, func() {}
	}

	ch := h.ps.Sub(stream)
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			// Unsub needs the pubsub loop; never block a reader draining ch.
			go func() {
				h.mu.RLock()
				defer h.mu.RUnlock()
				if !h.done {
					h.ps.Unsub(ch, stream)
				}
			}()
		})
	}
}

// Streams returns the currently declared streams.
func (h *Hub) Streams() []StreamInfo {
	var out []StreamInfo
	h.streams.Range(func(_ string, info StreamInfo) bool {
		out = append(out, info)
		return true
	})
	return out
}

// Shutdown closes every subscription. Outlets still open fail with
// ErrHubClosed afterwards.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return
	}
	h.done = true
	h.ps.Shutdown()
}

type hubOutlet struct {
	hub  *Hub
	info StreamInfo

	mu     sync.Mutex
	seq    uint64
	closed bool
}

func (o *hubOutlet) Info() StreamInfo {
	return o.info
}

func (o *hubOutlet) PushSample(values []int16) error {
	if err := checkWidth(o.info, values); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return &SinkError{Stream: o.info.Name, Err: ErrOutletClosed}
	}

	o.hub.mu.RLock()
	defer o.hub.mu.RUnlock()
	if o.hub.done {
		return &SinkError{Stream: o.info.Name, Err: ErrHubClosed}
	}
	o.hub.ps.TryPub(Sample{
		Stream: o.info.Name,
		Seq:    o.seq,
		Time:   time.Now(),
		Values: append([]int16(nil), values...),
	}, o.info.Name)
	o.seq++
	return nil
}

// Close ends the stream; subscribers see their channel closed.
func (o *hubOutlet) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	o.hub.streams.Delete(o.info.Name)

	o.hub.mu.RLock()
	defer o.hub.mu.RUnlock()
	if !o.hub.done {
		o.hub.ps.Close(o.info.Name)
	}
	return nil
}
