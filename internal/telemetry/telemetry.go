// Package telemetry declares sample streams and forwards decoded samples to
// their consumers. A Sink accepts a stream declaration and hands back an
// Outlet; the recording task pushes one sample per Data notification.
package telemetry

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/mitch/internal/protocol"
)

// ErrOutletClosed is returned by PushSample after Close.
var ErrOutletClosed = errors.New("outlet closed")

const labelKeyPrefix = "channels.label."

// StreamInfo is the declaration of one outgoing stream.
type StreamInfo struct {
	Name         string
	ContentType  string
	ChannelCount int
	NominalRate  float64
	Format       protocol.ChannelFormat
	SourceID     string
	UID          uuid.UUID

	// Desc holds free-form metadata in declaration order, including the
	// per-channel labels when the recording kind has them.
	Desc *orderedmap.OrderedMap[string, string]
}

// NewStreamInfo declares a stream named after the device for a recording kind.
func NewStreamInfo(name string, d protocol.Descriptor) StreamInfo {
	desc := orderedmap.New[string, string]()
	desc.Set("kind", d.Kind.String())
	for i, label := range d.Labels {
		desc.Set(fmt.Sprintf("%s%d", labelKeyPrefix, i), label)
	}

	return StreamInfo{
		Name:         name,
		ContentType:  d.ContentType,
		ChannelCount: d.ChannelCount,
		NominalRate:  d.NominalRate,
		Format:       d.Format,
		SourceID:     name,
		UID:          uuid.New(),
		Desc:         desc,
	}
}

// Labels returns the channel labels in channel order, or nil when unlabeled.
func (s StreamInfo) Labels() []string {
	if s.Desc == nil {
		return nil
	}
	var labels []string
	for pair := s.Desc.Oldest(); pair != nil; pair = pair.Next() {
		if strings.HasPrefix(pair.Key, labelKeyPrefix) {
			labels = append(labels, pair.Value)
		}
	}
	return labels
}

// Sample is one decoded reading as delivered to consumers.
type Sample struct {
	Stream string    `json:"stream"`
	Seq    uint64    `json:"seq"`
	Time   time.Time `json:"time"`
	Values []int16   `json:"values"`
}

// Outlet accepts samples for one declared stream.
type Outlet interface {
	Info() StreamInfo
	PushSample(values []int16) error
	Close() error
}

// Sink creates outlets. Declare fails with a *StreamSetupError.
type Sink interface {
	Declare(info StreamInfo) (Outlet, error)
}

// StreamSetupError reports that a stream could not be declared.
type StreamSetupError struct {
	Stream string
	Err    error
}

func (e *StreamSetupError) Error() string {
	return fmt.Sprintf("declare stream %q: %v", e.Stream, e.Err)
}

func (e *StreamSetupError) Unwrap() error { return e.Err }

// SinkError reports a failed sample push.
type SinkError struct {
	Stream string
	Err    error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("push sample to %q: %v", e.Stream, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

func validateInfo(info StreamInfo) error {
	if info.Name == "" {
		return &StreamSetupError{Stream: info.Name, Err: errors.New("stream name is empty")}
	}
	if info.ChannelCount <= 0 {
		return &StreamSetupError{Stream: info.Name, Err: fmt.Errorf("invalid channel count %d", info.ChannelCount)}
	}
	return nil
}

func checkWidth(info StreamInfo, values []int16) error {
	if len(values) != info.ChannelCount {
		return &SinkError{Stream: info.Name, Err: fmt.Errorf("sample has %d channels, stream declares %d", len(values), info.ChannelCount)}
	}
	return nil
}
