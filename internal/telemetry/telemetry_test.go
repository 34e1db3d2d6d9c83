package telemetry_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ugorji/go/codec"

	"github.com/srg/mitch/internal/protocol"
	"github.com/srg/mitch/internal/telemetry"
)

func mustDescriptor(t *testing.T, kind protocol.Kind) protocol.Descriptor {
	t.Helper()
	d, err := protocol.DescriptorFor(kind)
	require.NoError(t, err)
	return d
}

func TestNewStreamInfo(t *testing.T) {
	info := telemetry.NewStreamInfo("mitch01", mustDescriptor(t, protocol.Accelerometry))

	assert.Equal(t, "mitch01", info.Name)
	assert.Equal(t, "mitch01", info.SourceID)
	assert.Equal(t, "Accelerometry", info.ContentType)
	assert.Equal(t, 3, info.ChannelCount)
	assert.Equal(t, 50.0, info.NominalRate)
	assert.Equal(t, protocol.Int16, info.Format)
	assert.NotEqual(t, uuid.Nil, info.UID)
	assert.Equal(t, []string{"Pitch", "Roll", "Yaw"}, info.Labels(), "labels MUST keep channel order")

	kind, ok := info.Desc.Get("kind")
	require.True(t, ok)
	assert.Equal(t, "accelerometry", kind)
}

func TestNewStreamInfo_PressureUnlabeled(t *testing.T) {
	info := telemetry.NewStreamInfo("mitch02", mustDescriptor(t, protocol.Pressure))

	assert.Equal(t, 16, info.ChannelCount)
	assert.Equal(t, "Pressure", info.ContentType)
	assert.Nil(t, info.Labels())

	other := telemetry.NewStreamInfo("mitch02", mustDescriptor(t, protocol.Pressure))
	assert.NotEqual(t, info.UID, other.UID, "every declaration MUST get its own UID")
}

func TestErrors(t *testing.T) {
	cause := errors.New("boom")

	setup := &telemetry.StreamSetupError{Stream: "mitch01", Err: cause}
	assert.Equal(t, `declare stream "mitch01": boom`, setup.Error())
	assert.ErrorIs(t, setup, cause)

	sink := &telemetry.SinkError{Stream: "mitch01", Err: cause}
	assert.Equal(t, `push sample to "mitch01": boom`, sink.Error())
	assert.ErrorIs(t, sink, cause)
}

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"json", "JSON", " msgpack", "cbor"} {
		_, err := telemetry.ParseFormat(s)
		assert.NoError(t, err, s)
	}
	_, err := telemetry.ParseFormat("xml")
	assert.Error(t, err)
}

func TestWriterSink_JSON(t *testing.T) {
	var buf bytes.Buffer
	sink, err := telemetry.NewWriterSink(&buf, telemetry.FormatJSON)
	require.NoError(t, err)

	info := telemetry.NewStreamInfo("mitch01", mustDescriptor(t, protocol.Accelerometry))
	outlet, err := sink.Declare(info)
	require.NoError(t, err)

	require.NoError(t, outlet.PushSample([]int16{1, 2, 3}))
	require.NoError(t, outlet.PushSample([]int16{-1, 0, 1}))

	var records []telemetry.Record
	dec := codec.NewDecoder(&buf, &codec.JsonHandle{})
	for {
		var r telemetry.Record
		if err := dec.Decode(&r); err != nil {
			break
		}
		records = append(records, r)
	}

	require.Len(t, records, 3, "header plus two samples MUST be written")

	assert.Equal(t, "stream", records[0].Type)
	require.NotNil(t, records[0].Stream)
	assert.Equal(t, "mitch01", records[0].Stream.Name)
	assert.Equal(t, 3, records[0].Stream.ChannelCount)
	assert.Equal(t, "int16", records[0].Stream.Format)
	assert.Equal(t, info.UID.String(), records[0].Stream.UID)
	assert.Equal(t, [2]string{"kind", "accelerometry"}, records[0].Stream.Desc[0])

	require.NotNil(t, records[1].Sample)
	assert.Equal(t, uint64(0), records[1].Sample.Seq)
	assert.Equal(t, []int16{1, 2, 3}, records[1].Sample.Values)
	require.NotNil(t, records[2].Sample)
	assert.Equal(t, uint64(1), records[2].Sample.Seq)
	assert.Equal(t, []int16{-1, 0, 1}, records[2].Sample.Values)
}

func TestWriterSink_Msgpack(t *testing.T) {
	var buf bytes.Buffer
	sink, err := telemetry.NewWriterSink(&buf, telemetry.FormatMsgpack)
	require.NoError(t, err)
	assert.Equal(t, telemetry.FormatMsgpack, sink.Format())

	outlet, err := sink.Declare(telemetry.NewStreamInfo("mitch02", mustDescriptor(t, protocol.Pressure)))
	require.NoError(t, err)

	values := make([]int16, 16)
	values[15] = 255
	require.NoError(t, outlet.PushSample(values))

	h := &codec.MsgpackHandle{}
	h.TypeInfos = codec.NewTypeInfos([]string{"json"})
	dec := codec.NewDecoder(&buf, h)

	var header, sample telemetry.Record
	require.NoError(t, dec.Decode(&header))
	require.NoError(t, dec.Decode(&sample))
	assert.Equal(t, 16, header.Stream.ChannelCount)
	assert.Equal(t, int16(255), sample.Sample.Values[15])
}

func TestWriterSink_Errors(t *testing.T) {
	_, err := telemetry.NewWriterSink(&bytes.Buffer{}, telemetry.Format("xml"))
	assert.Error(t, err)

	sink, err := telemetry.NewWriterSink(&bytes.Buffer{}, telemetry.FormatCBOR)
	require.NoError(t, err)

	_, err = sink.Declare(telemetry.StreamInfo{ChannelCount: 3})
	var setupErr *telemetry.StreamSetupError
	assert.ErrorAs(t, err, &setupErr, "unnamed streams MUST be rejected")

	outlet, err := sink.Declare(telemetry.NewStreamInfo("mitch01", mustDescriptor(t, protocol.Accelerometry)))
	require.NoError(t, err)

	var sinkErr *telemetry.SinkError
	assert.ErrorAs(t, outlet.PushSample([]int16{1, 2}), &sinkErr, "channel count mismatch MUST fail")

	require.NoError(t, outlet.Close())
	err = outlet.PushSample([]int16{1, 2, 3})
	assert.ErrorIs(t, err, telemetry.ErrOutletClosed)
}

func TestWriterSink_WriteFailure(t *testing.T) {
	sink, err := telemetry.NewWriterSink(failingWriter{}, telemetry.FormatJSON)
	require.NoError(t, err)

	_, err = sink.Declare(telemetry.NewStreamInfo("mitch01", mustDescriptor(t, protocol.Accelerometry)))
	var setupErr *telemetry.StreamSetupError
	assert.ErrorAs(t, err, &setupErr)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestHub_FanOut(t *testing.T) {
	hub := telemetry.NewHub(8, nil)
	defer hub.Shutdown()

	info := telemetry.NewStreamInfo("mitch01", mustDescriptor(t, protocol.Accelerometry))
	outlet, err := hub.Declare(info)
	require.NoError(t, err)
	require.Len(t, hub.Streams(), 1)

	a, cancelA := hub.Subscribe("mitch01")
	defer cancelA()
	b, cancelB := hub.Subscribe("mitch01")
	defer cancelB()

	require.NoError(t, outlet.PushSample([]int16{4, 5, 6}))

	for _, ch := range []<-chan telemetry.Sample{a, b} {
		select {
		case s := <-ch:
			assert.Equal(t, []int16{4, 5, 6}, s.Values)
			assert.Equal(t, "mitch01", s.Stream)
		case <-time.After(time.Second):
			t.Fatal("subscriber MUST receive the sample")
		}
	}

	require.NoError(t, outlet.Close())
	select {
	case _, ok := <-a:
		assert.False(t, ok, "closing the outlet MUST close subscriber channels")
	case <-time.After(time.Second):
		t.Fatal("subscriber channel was not closed")
	}
	assert.Empty(t, hub.Streams())
}

func TestHub_DuplicateDeclare(t *testing.T) {
	hub := telemetry.NewHub(0, nil)
	defer hub.Shutdown()

	info := telemetry.NewStreamInfo("mitch01", mustDescriptor(t, protocol.Pressure))
	outlet, err := hub.Declare(info)
	require.NoError(t, err)

	_, err = hub.Declare(info)
	var setupErr *telemetry.StreamSetupError
	require.ErrorAs(t, err, &setupErr, "a live stream name MUST NOT be declared twice")

	require.NoError(t, outlet.Close())
	_, err = hub.Declare(info)
	assert.NoError(t, err, "a closed stream name MUST be reusable")
}

func TestHub_PushAfterShutdown(t *testing.T) {
	hub := telemetry.NewHub(4, nil)
	outlet, err := hub.Declare(telemetry.NewStreamInfo("mitch01", mustDescriptor(t, protocol.Accelerometry)))
	require.NoError(t, err)

	hub.Shutdown()
	hub.Shutdown()

	assert.ErrorIs(t, outlet.PushSample([]int16{1, 2, 3}), telemetry.ErrHubClosed)
	assert.NoError(t, outlet.Close())

	ch, cancel := hub.Subscribe("mitch01")
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
}
