package telemetry

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/ugorji/go/codec"
)

// Format is the encoding of a WriterSink.
type Format string

const (
	FormatJSON    Format = "json"
	FormatMsgpack Format = "msgpack"
	FormatCBOR    Format = "cbor"
)

// ParseFormat parses an encoding name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatMsgpack, FormatCBOR:
		return f, nil
	default:
		return "", fmt.Errorf("unknown sink format %q (must be json, msgpack or cbor)", s)
	}
}

func newHandle(f Format) (codec.Handle, error) {
	switch f {
	case FormatJSON:
		h := &codec.JsonHandle{}
		h.TermWhitespace = true
		h.TypeInfos = codec.NewTypeInfos([]string{"json"})
		return h, nil
	case FormatMsgpack:
		h := &codec.MsgpackHandle{}
		h.WriteExt = true
		h.TypeInfos = codec.NewTypeInfos([]string{"json"})
		return h, nil
	case FormatCBOR:
		h := &codec.CborHandle{}
		h.TypeInfos = codec.NewTypeInfos([]string{"json"})
		return h, nil
	default:
		return nil, fmt.Errorf("unknown sink format %q", f)
	}
}

// Record is one item of a WriterSink stream: either a stream header or a sample.
type Record struct {
	Type   string        `json:"type"` // "stream" or "sample"
	Stream *StreamHeader `json:"header,omitempty"`
	Sample *Sample       `json:"sample,omitempty"`
}

// StreamHeader is the encoded form of a StreamInfo.
type StreamHeader struct {
	Name         string      `json:"name"`
	ContentType  string      `json:"content_type"`
	ChannelCount int         `json:"channel_count"`
	NominalRate  float64     `json:"nominal_rate"`
	Format       string      `json:"format"`
	SourceID     string      `json:"source_id"`
	UID          string      `json:"uid"`
	Desc         [][2]string `json:"desc,omitempty"`
}

func headerOf(info StreamInfo) *StreamHeader {
	h := &StreamHeader{
		Name:         info.Name,
		ContentType:  info.ContentType,
		ChannelCount: info.ChannelCount,
		NominalRate:  info.NominalRate,
		Format:       string(info.Format),
		SourceID:     info.SourceID,
		UID:          info.UID.String(),
	}
	if info.Desc != nil {
		for pair := info.Desc.Oldest(); pair != nil; pair = pair.Next() {
			h.Desc = append(h.Desc, [2]string{pair.Key, pair.Value})
		}
	}
	return h
}

// WriterSink encodes stream headers and samples to an io.Writer.
// Outlets declared on the same sink share the writer.
type WriterSink struct {
	mu     sync.Mutex
	enc    *codec.Encoder
	format Format
	now    func() time.Time
}

// NewWriterSink creates a sink writing records to w in the given format.
func NewWriterSink(w io.Writer, format Format) (*WriterSink, error) {
	h, err := newHandle(format)
	if err != nil {
		return nil, err
	}
	return &WriterSink{
		enc:    codec.NewEncoder(w, h),
		format: format,
		now:    time.Now,
	}, nil
}

func (s *WriterSink) Format() Format {
	return s.format
}

func (s *WriterSink) encode(r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(r)
}

// Declare writes the stream header and returns an outlet for the stream.
func (s *WriterSink) Declare(info StreamInfo) (Outlet, error) {
	if err := validateInfo(info); err != nil {
		return nil, err
	}
	if err := s.encode(Record{Type: "stream", Stream: headerOf(info)}); err != nil {
		return nil, &StreamSetupError{Stream: info.Name, Err: err}
	}
	return &writerOutlet{sink: s, info: info}, nil
}

type writerOutlet struct {
	sink *WriterSink
	info StreamInfo

	mu     sync.Mutex
	seq    uint64
	closed bool
}

func (o *writerOutlet) Info() StreamInfo {
	return o.info
}

func (o *writerOutlet) PushSample(values []int16) error {
	if err := checkWidth(o.info, values); err != nil {
		return err
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return &SinkError{Stream: o.info.Name, Err: ErrOutletClosed}
	}
	seq := o.seq
	o.seq++
	o.mu.Unlock()

	sample := &Sample{Stream: o.info.Name, Seq: seq, Time: o.sink.now(), Values: values}
	if err := o.sink.encode(Record{Type: "sample", Sample: sample}); err != nil {
		return &SinkError{Stream: o.info.Name, Err: err}
	}
	return nil
}

func (o *writerOutlet) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}
