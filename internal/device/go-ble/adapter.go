package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/mitch/internal/device"
	"github.com/srg/mitch/internal/groutine"
)

// DefaultEventBuffer is the discovery event queue length.
const DefaultEventBuffer = 64

// Adapter implements device.Adapter over a go-ble HCI/CoreBluetooth device.
type Adapter struct {
	logger             *logrus.Logger
	notificationBuffer int

	mu  sync.Mutex
	dev ble.Device

	// last advertisement seen per address
	seen *hashmap.Map[string, device.Properties]
}

// NewAdapter creates an adapter. The underlying ble.Device is created lazily
// on first use through DeviceFactory.
func NewAdapter(logger *logrus.Logger, notificationBuffer int) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{
		logger:             logger,
		notificationBuffer: notificationBuffer,
		seen:               hashmap.New[string, device.Properties](),
	}
}

func (a *Adapter) device() (ble.Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.dev != nil {
		return a.dev, nil
	}

	dev, err := DeviceFactory()
	if err != nil {
		return nil, NormalizeError(err)
	}
	a.dev = dev
	return dev, nil
}

// State reports the adapter power state. go-ble refuses to create a device
// while the controller is off, which is reported as AdapterPoweredOff.
func (a *Adapter) State(ctx context.Context) (device.AdapterState, error) {
	_, err := device.Call(ctx, a.device)
	switch {
	case err == nil:
		return device.AdapterPoweredOn, nil
	case errors.Is(err, device.ErrBluetoothOff):
		return device.AdapterPoweredOff, nil
	default:
		return device.AdapterUnknown, err
	}
}

// Events scans until ctx is done. Duplicate advertisements are reported so a
// local name that only arrives in a later scan response is not missed.
func (a *Adapter) Events(ctx context.Context) (<-chan device.DiscoveryEvent, error) {
	dev, err := a.device()
	if err != nil {
		return nil, err
	}

	events := make(chan device.DiscoveryEvent, DefaultEventBuffer)

	groutine.Go(ctx, "goble-scan", func(ctx context.Context) {
		defer close(events)

		err := dev.Scan(ctx, true, func(adv ble.Advertisement) {
			addr := adv.Addr().String()
			a.seen.Set(addr, device.Properties{
				LocalName: adv.LocalName(),
				Address:   addr,
				RSSI:      adv.RSSI(),
			})

			select {
			case events <- device.DiscoveryEvent{ID: addr}:
			case <-ctx.Done():
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			a.logger.WithError(NormalizeError(err)).Warn("BLE scan ended with error")
			return
		}
		a.logger.Debug("BLE scan ended")
	})

	return events, nil
}

// Peripheral returns a handle for an address reported by Events.
func (a *Adapter) Peripheral(id string) (device.Peripheral, error) {
	props, ok := a.seen.Get(id)
	if !ok {
		return nil, fmt.Errorf("peripheral %q: %w", id, device.ErrNotFound)
	}
	return newPeripheral(a, props, a.logger), nil
}
