package control_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/srg/mitch/internal/control"
	"github.com/srg/mitch/internal/device"
	"github.com/srg/mitch/internal/protocol"
	"github.com/srg/mitch/internal/registry"
	"github.com/srg/mitch/internal/session"
	"github.com/srg/mitch/internal/testutils"
	"github.com/srg/mitch/internal/testutils/mocks"
	"github.com/srg/mitch/scanner"
)

const mitchAddress = "aa:bb:cc:dd:ee:01"

type fixture struct {
	adapter *mocks.Adapter
	p       *mocks.Peripheral
	sink    *testutils.RecordingSink
	reg     *registry.Registry
	ctl     *control.Control
}

// newFixture scripts an adapter that advertises a single mitch01 and keeps
// its event stream open until the test ends.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := testutils.NewTestHelper(t).Logger

	p := &mocks.Peripheral{}
	p.On("ID").Return(mitchAddress).Maybe()
	p.On("Properties").Return(&device.Properties{LocalName: "Mitch01", Address: mitchAddress}, nil).Maybe()
	p.On("Connect", mock.Anything).Return(nil).Maybe()
	p.On("DiscoverServices", mock.Anything).Return(nil).Maybe()
	p.On("Characteristics").Return([]string{device.CommandCharUUID, device.DataCharUUID}).Maybe()
	p.On("Disconnect", mock.Anything).Return(nil).Maybe()

	events := make(chan device.DiscoveryEvent, 1)
	events <- device.DiscoveryEvent{ID: mitchAddress}
	t.Cleanup(func() { close(events) })

	a := &mocks.Adapter{}
	a.On("State", mock.Anything).Return(device.AdapterPoweredOn, nil)
	a.On("Events", mock.Anything).Return((<-chan device.DiscoveryEvent)(events), nil)
	a.On("Peripheral", mitchAddress).Return(p, nil)

	sink := testutils.NewRecordingSink()
	reg := registry.New()
	sc := scanner.New(a, reg, func(name string, p device.Peripheral) *session.Session {
		return session.New(name, p, sink, session.Options{
			TransportTimeout: time.Second,
			StopTimeout:      time.Second,
			Logger:           logger,
		})
	}, scanner.Options{Logger: logger})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sc.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = reg.Close(context.Background())
	})

	return &fixture{adapter: a, p: p, sink: sink, reg: reg, ctl: control.New(reg, sc, logger)}
}

func (f *fixture) expectWrite(cmd protocol.Command) *mock.Call {
	return f.p.On("Write", mock.Anything, device.CommandCharUUID, cmd.Bytes(), device.WithResponse)
}

func (f *fixture) expectRead() *mock.Call {
	return f.p.On("Read", mock.Anything, device.CommandCharUUID)
}

func await(t *testing.T, ctl *control.Control) scanner.Discovery {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	d, err := ctl.Await(ctx, "mitch01")
	require.NoError(t, err)
	return d
}

// GOAL: Verify a discovered device can be driven through a full recording by id
//
// TEST SCENARIO: Discover mitch01 → id 0; connect; start pressure → 16-channel stream; stop → task stopped, state refreshed
func TestControl_EndToEndRecording(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := await(t, f.ctl)
	assert.Equal(t, scanner.Discovery{ID: 0, Name: "mitch01", Address: mitchAddress}, d)

	f.expectWrite(protocol.GetState).Return(nil).Once()
	f.expectRead().Return(testutils.StateFrame(0x02), nil).Once()
	require.NoError(t, f.ctl.Connect(ctx, 0))

	start, err := protocol.StartStream(protocol.Pressure)
	require.NoError(t, err)
	notes := make(chan device.Notification, 1)
	f.p.On("Subscribe", mock.Anything, device.DataCharUUID).Return(nil).Once()
	f.p.On("Notifications", mock.Anything).Return((<-chan device.Notification)(notes), nil).Once()
	f.p.On("Unsubscribe", mock.Anything, device.DataCharUUID).Return(nil).Maybe()
	f.expectWrite(start).Return(nil).Once()
	f.expectWrite(protocol.GetState).Return(nil).Once()
	f.expectRead().Return(testutils.StateFrame(0xF8), nil).Twice()
	require.NoError(t, f.ctl.StartRecording(ctx, 0, protocol.Pressure))

	declared, _, _ := f.sink.Snapshot()
	require.Len(t, declared, 1)
	assert.Equal(t, 16, declared[0].ChannelCount)

	sum, err := f.ctl.GetSession(0)
	require.NoError(t, err)
	require.NotNil(t, sum.Recording)
	assert.Equal(t, protocol.Pressure, *sum.Recording)
	require.NotNil(t, sum.State)
	assert.Equal(t, protocol.SysTx.String(), *sum.State)

	f.expectWrite(protocol.StopStream).Return(nil).Once()
	f.expectWrite(protocol.GetState).Return(nil).Once()
	f.expectRead().Return(testutils.StateFrame(0x02), nil).Twice()
	require.NoError(t, f.ctl.StopRecording(ctx, 0))

	sum, err = f.ctl.GetSession(0)
	require.NoError(t, err)
	assert.Nil(t, sum.Recording, "stop MUST end the recording task")
	require.NotNil(t, sum.State)
	assert.Equal(t, protocol.SysIdle.String(), *sum.State)
	assert.True(t, sum.Connected)

	list := f.ctl.ListSessions()
	require.Len(t, list, 1)
	assert.Equal(t, 0, list[0].ID)
	assert.Equal(t, "mitch01", list[0].Name)
}

// GOAL: Verify unknown ids are reported as not found with a user-facing issue
//
// TEST SCENARIO: Connect(7) on an empty registry → NotFound kind, issue names the id
func TestControl_UnknownID(t *testing.T) {
	f := newFixture(t)

	err := f.ctl.Connect(context.Background(), 7)

	require.Error(t, err)
	assert.ErrorIs(t, err, registry.ErrNotFound)
	assert.Equal(t, ftag.NotFound, ftag.Get(err))
	assert.Contains(t, fmsg.GetIssue(err), "7")

	_, err = f.ctl.GetSession(7)
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

// GOAL: Verify a second start is classified as a conflict
//
// TEST SCENARIO: Recording active, start again → ErrRecordingActive with AlreadyExists kind
func TestControl_SecondStartConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	await(t, f.ctl)

	f.expectWrite(protocol.GetState).Return(nil).Once()
	f.expectRead().Return(testutils.StateFrame(0x02), nil).Once()
	require.NoError(t, f.ctl.Connect(ctx, 0))

	start, err := protocol.StartStream(protocol.Accelerometry)
	require.NoError(t, err)
	notes := make(chan device.Notification)
	f.p.On("Subscribe", mock.Anything, device.DataCharUUID).Return(nil).Once()
	f.p.On("Notifications", mock.Anything).Return((<-chan device.Notification)(notes), nil).Once()
	f.p.On("Unsubscribe", mock.Anything, device.DataCharUUID).Return(nil).Maybe()
	f.expectWrite(start).Return(nil).Once()
	f.expectWrite(protocol.GetState).Return(nil).Once()
	f.expectRead().Return(testutils.StateFrame(0xF8), nil).Twice()
	require.NoError(t, f.ctl.StartRecording(ctx, 0, protocol.Accelerometry))

	err = f.ctl.StartRecording(ctx, 0, protocol.Pressure)

	assert.ErrorIs(t, err, session.ErrRecordingActive)
	assert.Equal(t, ftag.AlreadyExists, ftag.Get(err))
	assert.Equal(t, "Could not start recording", fmsg.GetIssue(err))
}

// GOAL: Verify operations on a disconnected session are classified as invalid
//
// TEST SCENARIO: StartRecording on a never-connected session → ErrNotConnected, InvalidArgument kind
func TestControl_NotConnected(t *testing.T) {
	f := newFixture(t)
	await(t, f.ctl)

	err := f.ctl.StartRecording(context.Background(), 0, protocol.Pressure)

	assert.ErrorIs(t, err, device.ErrNotConnected)
	assert.Equal(t, ftag.InvalidArgument, ftag.Get(err))
	f.p.AssertNotCalled(t, "Write", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// GOAL: Verify transport failures surface with the internal kind
//
// TEST SCENARIO: Peripheral refuses to disconnect → TransportError wrapped as Internal
func TestControl_TransportFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	await(t, f.ctl)

	f.expectWrite(protocol.GetState).Return(nil).Once()
	f.expectRead().Return(testutils.StateFrame(0x02), nil).Once()
	require.NoError(t, f.ctl.Connect(ctx, 0))

	f.p.ExpectedCalls = withoutMethod(f.p.ExpectedCalls, "Disconnect")
	f.p.On("Disconnect", mock.Anything).Return(errors.New("hci: command disallowed")).Once()
	f.p.On("Disconnect", mock.Anything).Return(nil).Maybe()

	err := f.ctl.Disconnect(ctx, 0)

	var terr *device.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "disconnect", terr.Op)
	assert.Equal(t, ftag.Internal, ftag.Get(err))
}

// GOAL: Verify Await gives up when its context ends
//
// TEST SCENARIO: Await a name that never appears with a short deadline → NotFound kind
func TestControl_AwaitTimeout(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.ctl.Await(ctx, "mitch99")

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, ftag.NotFound, ftag.Get(err))
}

func withoutMethod(calls []*mock.Call, method string) []*mock.Call {
	out := calls[:0]
	for _, c := range calls {
		if c.Method != method {
			out = append(out, c)
		}
	}
	return out
}
