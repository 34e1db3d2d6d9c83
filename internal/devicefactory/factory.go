// Package devicefactory builds the transport backend and telemetry sink
// selected by configuration.
package devicefactory

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/srg/mitch/internal/device"
	goble "github.com/srg/mitch/internal/device/go-ble"
	"github.com/srg/mitch/internal/device/tinygo"
	"github.com/srg/mitch/internal/telemetry"
	"github.com/srg/mitch/pkg/config"
)

// AdapterFactory creates the adapter for a backend name.
// This is a variable so that it can be overridden in tests.
var AdapterFactory = func(backend string, logger *logrus.Logger, notificationBuffer int) (device.Adapter, error) {
	switch backend {
	case config.BackendGoBLE:
		return goble.NewAdapter(logger, notificationBuffer), nil
	case config.BackendTinyGo:
		return tinygo.NewAdapter(logger, notificationBuffer), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}

// NewAdapter creates the configured BLE adapter. The adapter is not enabled
// until its first use.
func NewAdapter(cfg *config.Config, logger *logrus.Logger) (device.Adapter, error) {
	logger.WithField("backend", cfg.Backend).Debug("Creating BLE adapter")
	return AdapterFactory(cfg.Backend, logger, cfg.NotificationBuffer)
}

// NewSink creates the configured telemetry sink. A writer sink encodes to w;
// a hub sink is returned as *telemetry.Hub so callers can subscribe.
func NewSink(cfg *config.Config, w io.Writer, logger *logrus.Logger) (telemetry.Sink, error) {
	switch cfg.Sink.Kind {
	case config.SinkWriter:
		format, err := telemetry.ParseFormat(cfg.Sink.Format)
		if err != nil {
			return nil, err
		}
		return telemetry.NewWriterSink(w, format)
	case config.SinkHub:
		return telemetry.NewHub(cfg.Sink.Buffer, logger), nil
	default:
		return nil, fmt.Errorf("unknown sink kind %q", cfg.Sink.Kind)
	}
}
