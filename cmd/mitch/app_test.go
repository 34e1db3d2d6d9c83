package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ugorji/go/codec"

	"github.com/srg/mitch/internal/device"
	"github.com/srg/mitch/internal/protocol"
	"github.com/srg/mitch/internal/telemetry"
	"github.com/srg/mitch/internal/testutils"
	"github.com/srg/mitch/internal/testutils/mocks"
	"github.com/srg/mitch/pkg/config"
	"github.com/srg/mitch/scanner"
)

const testAddress = "aa:bb:cc:dd:ee:01"

// newMitchPeripheral mocks an advertising device named name.
func newMitchPeripheral(name string) *mocks.Peripheral {
	p := &mocks.Peripheral{}
	p.On("ID").Return(testAddress).Maybe()
	p.On("Properties").Return(&device.Properties{LocalName: name, Address: testAddress}, nil).Maybe()
	p.On("Connect", mock.Anything).Return(nil).Maybe()
	p.On("DiscoverServices", mock.Anything).Return(nil).Maybe()
	p.On("Characteristics").Return([]string{device.CommandCharUUID, device.DataCharUUID}).Maybe()
	p.On("Disconnect", mock.Anything).Return(nil).Maybe()
	return p
}

// newTestApp builds an app over an adapter that reports p once and then
// keeps its event stream open until the test ends.
func newTestApp(t *testing.T, p *mocks.Peripheral, sink telemetry.Sink) *app {
	t.Helper()

	events := make(chan device.DiscoveryEvent, 1)
	events <- device.DiscoveryEvent{ID: testAddress}
	t.Cleanup(func() { close(events) })

	adapter := &mocks.Adapter{}
	adapter.On("State", mock.Anything).Return(device.AdapterPoweredOn, nil)
	adapter.On("Events", mock.Anything).Return((<-chan device.DiscoveryEvent)(events), nil)
	adapter.On("Peripheral", testAddress).Return(p, nil)

	cfg := config.DefaultConfig()
	cfg.ScanTimeout = 2 * time.Second
	cfg.TransportTimeout = time.Second
	cfg.StopTimeout = time.Second

	a := newAppWithAdapter(cfg, testutils.NewTestHelper(t).Logger, sink, adapter)
	t.Cleanup(a.close)
	return a
}

func expectState(p *mocks.Peripheral, status byte) {
	p.On("Write", mock.Anything, device.CommandCharUUID, protocol.GetState.Bytes(), device.WithResponse).Return(nil).Once()
	p.On("Read", mock.Anything, device.CommandCharUUID).Return(testutils.StateFrame(status), nil).Once()
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("config", "", "")
	cmd.Flags().String("backend", "", "")
	cmd.Flags().String("prefix", "", "")
	require.NoError(t, cmd.ParseFlags([]string{"--backend", "tinygo", "--prefix", "mitchx"}))

	cfg, err := loadConfig(cmd)

	require.NoError(t, err)
	assert.Equal(t, config.BackendTinyGo, cfg.Backend)
	assert.Equal(t, "mitchx", cfg.NamePrefix)
	assert.Equal(t, config.DefaultConfig().TransportTimeout, cfg.TransportTimeout)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("config", "", "")
	require.NoError(t, cmd.ParseFlags([]string{"--config", t.TempDir() + "/missing.yaml"}))

	_, err := loadConfig(cmd)
	assert.Error(t, err)
}

func TestCollectDiscoveries(t *testing.T) {
	p := newMitchPeripheral("Mitch01")
	a := newTestApp(t, p, testutils.NewRecordingSink())
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var buf bytes.Buffer
	found := collectDiscoveries(ctx, a, newPrinterWithColor(&buf, false))

	require.NoError(t, a.wait())
	assert.Equal(t, 1, found)
	testutils.NewTextAsserter(t).Assert(buf.String(), "[0] mitch01  "+testAddress)
}

func TestAwait_AdapterUnavailable(t *testing.T) {
	adapter := &mocks.Adapter{}
	adapter.On("State", mock.Anything).Return(device.AdapterPoweredOff, nil)

	cfg := config.DefaultConfig()
	a := newAppWithAdapter(cfg, testutils.NewTestHelper(t).Logger, testutils.NewRecordingSink(), adapter)
	defer a.close()

	a.start(context.Background())
	_, err := a.connect(context.Background(), "mitch01")

	assert.ErrorIs(t, err, scanner.ErrAdapterUnavailable, "a dead adapter MUST surface instead of a lookup timeout")
}

func TestConnect_ByName(t *testing.T) {
	p := newMitchPeripheral("mitch01")
	a := newTestApp(t, p, testutils.NewRecordingSink())
	expectState(p, 0x02)

	a.start(context.Background())
	id, err := a.connect(context.Background(), "MITCH01")

	require.NoError(t, err)
	assert.Equal(t, 0, id)
	sum, err := a.control.GetSession(id)
	require.NoError(t, err)
	assert.True(t, sum.Connected)
	require.NotNil(t, sum.State)
	assert.Equal(t, protocol.SysIdle.String(), *sum.State)
}

func TestRecord_WritesSamples(t *testing.T) {
	p := newMitchPeripheral("mitch01")
	var out bytes.Buffer
	sink, err := telemetry.NewWriterSink(&out, telemetry.FormatJSON)
	require.NoError(t, err)
	a := newTestApp(t, p, sink)

	ctx := context.Background()
	expectState(p, 0x02)
	a.start(ctx)
	id, err := a.connect(ctx, "mitch01")
	require.NoError(t, err)

	start, err := protocol.StartStream(protocol.Accelerometry)
	require.NoError(t, err)
	notes := make(chan device.Notification, 1)
	notes <- device.Notification{Characteristic: device.DataCharUUID, Value: testutils.AccelerometryFrame(1, -2, 3)}
	p.On("Subscribe", mock.Anything, device.DataCharUUID).Return(nil).Once()
	p.On("Notifications", mock.Anything).Return((<-chan device.Notification)(notes), nil).Once()
	p.On("Unsubscribe", mock.Anything, device.DataCharUUID).Return(nil).Maybe()
	p.On("Write", mock.Anything, device.CommandCharUUID, start.Bytes(), device.WithResponse).Return(nil).Once()
	p.On("Read", mock.Anything, device.CommandCharUUID).Return(testutils.StateFrame(0x00), nil).Once()
	expectState(p, 0xF8)
	p.On("Write", mock.Anything, device.CommandCharUUID, protocol.StopStream.Bytes(), device.WithResponse).Return(nil).Once()
	p.On("Read", mock.Anything, device.CommandCharUUID).Return(testutils.StateFrame(0x00), nil).Once()
	expectState(p, 0x02)

	var report bytes.Buffer
	err = record(ctx, a, id, protocol.Accelerometry, 300*time.Millisecond, newPrinterWithColor(&report, false))

	require.NoError(t, err)

	var records []telemetry.Record
	dec := codec.NewDecoder(&out, &codec.JsonHandle{})
	for {
		var r telemetry.Record
		if err := dec.Decode(&r); err != nil {
			break
		}
		records = append(records, r)
	}
	require.Len(t, records, 2, "header plus one sample MUST be written")
	assert.Equal(t, "stream", records[0].Type)
	require.NotNil(t, records[1].Sample)
	assert.Equal(t, []int16{1, -2, 3}, records[1].Sample.Values)
	assert.Contains(t, report.String(), "samples: 1 (skipped 0)")
}
