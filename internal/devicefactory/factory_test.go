package devicefactory_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/mitch/internal/devicefactory"
	goble "github.com/srg/mitch/internal/device/go-ble"
	"github.com/srg/mitch/internal/device/tinygo"
	"github.com/srg/mitch/internal/telemetry"
	"github.com/srg/mitch/internal/testutils"
	"github.com/srg/mitch/pkg/config"
)

func TestNewAdapter_SelectsBackend(t *testing.T) {
	logger := testutils.NewTestHelper(t).Logger

	tests := []struct {
		backend string
		check   func(t *testing.T, a any)
	}{
		{config.BackendGoBLE, func(t *testing.T, a any) { assert.IsType(t, &goble.Adapter{}, a) }},
		{config.BackendTinyGo, func(t *testing.T, a any) { assert.IsType(t, &tinygo.Adapter{}, a) }},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Backend = tt.backend

			a, err := devicefactory.NewAdapter(cfg, logger)
			require.NoError(t, err)
			tt.check(t, a)
		})
	}
}

func TestNewAdapter_UnknownBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Backend = "bluez"

	_, err := devicefactory.NewAdapter(cfg, testutils.NewTestHelper(t).Logger)
	assert.ErrorContains(t, err, "bluez")
}

func TestNewSink(t *testing.T) {
	logger := testutils.NewTestHelper(t).Logger

	cfg := config.DefaultConfig()
	cfg.Sink.Format = "msgpack"
	sink, err := devicefactory.NewSink(cfg, &bytes.Buffer{}, logger)
	require.NoError(t, err)
	ws, ok := sink.(*telemetry.WriterSink)
	require.True(t, ok, "default sink MUST be the writer sink")
	assert.Equal(t, telemetry.FormatMsgpack, ws.Format())

	cfg.Sink.Kind = config.SinkHub
	sink, err = devicefactory.NewSink(cfg, nil, logger)
	require.NoError(t, err)
	hub, ok := sink.(*telemetry.Hub)
	require.True(t, ok)
	hub.Shutdown()

	cfg.Sink.Kind = config.SinkWriter
	cfg.Sink.Format = "xml"
	_, err = devicefactory.NewSink(cfg, &bytes.Buffer{}, logger)
	assert.Error(t, err)
}
