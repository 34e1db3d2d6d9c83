// Package tinygo implements the device transport on top of tinygo.org/x/bluetooth,
// which reaches BlueZ over D-Bus on Linux and CoreBluetooth on macOS.
package tinygo

import (
	"context"
	"fmt"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"github.com/srg/mitch/internal/device"
	"github.com/srg/mitch/internal/groutine"
)

// DefaultEventBuffer is the discovery event queue length.
const DefaultEventBuffer = 64

type sighting struct {
	addr  bluetooth.Address
	props device.Properties
}

// Adapter implements device.Adapter over a tinygo bluetooth adapter.
type Adapter struct {
	bt                 *bluetooth.Adapter
	logger             *logrus.Logger
	notificationBuffer int

	enableOnce sync.Once
	enableErr  error

	seen  *hashmap.Map[string, sighting]
	peers *hashmap.Map[string, *Peripheral]
}

// NewAdapter wraps bluetooth.DefaultAdapter.
func NewAdapter(logger *logrus.Logger, notificationBuffer int) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	a := &Adapter{
		bt:                 bluetooth.DefaultAdapter,
		logger:             logger,
		notificationBuffer: notificationBuffer,
		seen:               hashmap.New[string, sighting](),
		peers:              hashmap.New[string, *Peripheral](),
	}
	a.bt.SetConnectHandler(a.onConnectionChange)
	return a
}

func (a *Adapter) enable() error {
	a.enableOnce.Do(func() {
		a.logger.Debug("Enabling Bluetooth adapter...")
		if err := a.bt.Enable(); err != nil {
			a.enableErr = fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
		}
	})
	return a.enableErr
}

func (a *Adapter) onConnectionChange(d bluetooth.Device, connected bool) {
	if connected {
		return
	}
	if p, ok := a.peers.Get(d.Address.String()); ok {
		p.linkLost()
	}
}

func (a *Adapter) State(ctx context.Context) (device.AdapterState, error) {
	if err := device.Do(ctx, a.enable); err != nil {
		return device.AdapterPoweredOff, nil
	}
	return device.AdapterPoweredOn, nil
}

// Events starts a scan that runs until ctx is done. tinygo allows a single
// scan per adapter, so a second concurrent call fails in the backend.
func (a *Adapter) Events(ctx context.Context) (<-chan device.DiscoveryEvent, error) {
	if err := a.enable(); err != nil {
		return nil, err
	}

	events := make(chan device.DiscoveryEvent, DefaultEventBuffer)

	scanDone := groutine.Go(ctx, "tinygo-scan", func(ctx context.Context) {
		err := a.bt.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			id := result.Address.String()
			a.seen.Set(id, sighting{
				addr: result.Address,
				props: device.Properties{
					LocalName: result.LocalName(),
					Address:   id,
					RSSI:      int(result.RSSI),
				},
			})

			select {
			case events <- device.DiscoveryEvent{ID: id}:
			case <-ctx.Done():
			}
		})
		if err != nil {
			a.logger.WithError(err).Warn("BLE scan ended with error")
		}
	})

	groutine.Go(ctx, "tinygo-scan-stop", func(ctx context.Context) {
		defer close(events)
		select {
		case <-ctx.Done():
			if err := a.bt.StopScan(); err != nil {
				a.logger.WithError(err).Debug("Error stopping scan")
			}
			<-scanDone
		case <-scanDone:
		}
	})

	return events, nil
}

func (a *Adapter) Peripheral(id string) (device.Peripheral, error) {
	s, ok := a.seen.Get(id)
	if !ok {
		return nil, fmt.Errorf("peripheral %q: %w", id, device.ErrNotFound)
	}
	p, _ := a.peers.GetOrInsert(id, newPeripheral(a, s))
	return p, nil
}
