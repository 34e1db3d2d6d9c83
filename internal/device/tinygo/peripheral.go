package tinygo

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"github.com/srg/mitch/internal/device"
)

// maxReadSize covers the largest ATT value.
const maxReadSize = 512

// Peripheral implements device.Peripheral over a tinygo bluetooth.Device.
type Peripheral struct {
	adapter *Adapter
	addr    bluetooth.Address
	props   device.Properties

	mu        sync.RWMutex
	dev       bluetooth.Device
	connected bool
	chars     map[string]bluetooth.DeviceCharacteristic

	notifications *device.Fanout
}

func newPeripheral(a *Adapter, s sighting) *Peripheral {
	return &Peripheral{
		adapter:       a,
		addr:          s.addr,
		props:         s.props,
		chars:         make(map[string]bluetooth.DeviceCharacteristic),
		notifications: device.NewFanout(a.notificationBuffer),
	}
}

func (p *Peripheral) ID() string {
	return p.props.Address
}

func (p *Peripheral) Properties() (*device.Properties, error) {
	props := p.props
	return &props, nil
}

func (p *Peripheral) Connect(ctx context.Context) error {
	p.mu.RLock()
	connected := p.connected
	p.mu.RUnlock()
	if connected {
		return device.ErrAlreadyConnected
	}

	dev, err := device.Call(ctx, func() (bluetooth.Device, error) {
		return p.adapter.bt.Connect(p.addr, bluetooth.ConnectionParams{})
	})
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.dev = dev
	p.connected = true
	p.mu.Unlock()

	p.adapter.logger.WithField("address", p.props.Address).Debug("Connected")
	return nil
}

func (p *Peripheral) linkLost() {
	p.mu.Lock()
	was := p.connected
	p.connected = false
	p.mu.Unlock()

	if was {
		p.adapter.logger.WithField("address", p.props.Address).Warn("BLE link lost")
	}
	p.notifications.CloseAll()
}

func (p *Peripheral) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	dev, was := p.dev, p.connected
	p.connected = false
	p.mu.Unlock()

	p.notifications.CloseAll()
	if !was {
		return nil
	}
	return device.Do(ctx, dev.Disconnect)
}

func (p *Peripheral) DiscoverServices(ctx context.Context) error {
	p.mu.RLock()
	dev, connected := p.dev, p.connected
	p.mu.RUnlock()
	if !connected {
		return device.ErrNotConnected
	}

	chars, err := device.Call(ctx, func() (map[string]bluetooth.DeviceCharacteristic, error) {
		services, err := dev.DiscoverServices(nil)
		if err != nil {
			return nil, fmt.Errorf("could not discover services: %w", err)
		}
		out := make(map[string]bluetooth.DeviceCharacteristic)
		for _, svc := range services {
			cs, err := svc.DiscoverCharacteristics(nil)
			if err != nil {
				return nil, fmt.Errorf("could not discover characteristics of %s: %w", svc.UUID().String(), err)
			}
			for _, c := range cs {
				out[device.NormalizeUUID(c.UUID().String())] = c
			}
		}
		return out, nil
	})
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.chars = chars
	p.mu.Unlock()

	p.adapter.logger.WithFields(logrus.Fields{
		"address":         p.props.Address,
		"characteristics": len(chars),
	}).Debug("Services discovered")
	return nil
}

func (p *Peripheral) Characteristics() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]string, 0, len(p.chars))
	for uuid := range p.chars {
		out = append(out, uuid)
	}
	sort.Strings(out)
	return out
}

func (p *Peripheral) Write(ctx context.Context, char string, data []byte, mode device.WriteMode) error {
	c, err := p.characteristic(char)
	if err != nil {
		return err
	}
	return device.Do(ctx, func() error {
		if mode == device.WithoutResponse {
			_, err := c.WriteWithoutResponse(data)
			return err
		}
		_, err := c.Write(data)
		return err
	})
}

func (p *Peripheral) Read(ctx context.Context, char string) ([]byte, error) {
	c, err := p.characteristic(char)
	if err != nil {
		return nil, err
	}
	return device.Call(ctx, func() ([]byte, error) {
		buf := make([]byte, maxReadSize)
		n, err := c.Read(buf)
		if err != nil {
			return nil, err
		}
		return buf[:n], nil
	})
}

func (p *Peripheral) Subscribe(ctx context.Context, char string) error {
	c, err := p.characteristic(char)
	if err != nil {
		return err
	}
	uuid := device.NormalizeUUID(char)
	return device.Do(ctx, func() error {
		return c.EnableNotifications(func(buf []byte) {
			p.notifications.Publish(uuid, buf)
		})
	})
}

// Unsubscribe disables notifications; tinygo treats a nil callback as "stop".
func (p *Peripheral) Unsubscribe(ctx context.Context, char string) error {
	c, err := p.characteristic(char)
	if err != nil {
		return err
	}
	return device.Do(ctx, func() error {
		return c.EnableNotifications(nil)
	})
}

func (p *Peripheral) Notifications(ctx context.Context) (<-chan device.Notification, error) {
	p.mu.RLock()
	connected := p.connected
	p.mu.RUnlock()
	if !connected {
		return nil, device.ErrNotConnected
	}
	return p.notifications.Subscribe(ctx), nil
}

func (p *Peripheral) characteristic(uuid string) (bluetooth.DeviceCharacteristic, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.connected {
		return bluetooth.DeviceCharacteristic{}, device.ErrNotConnected
	}
	c, ok := p.chars[device.NormalizeUUID(uuid)]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("characteristic %q: %w", uuid, device.ErrNotFound)
	}
	return c, nil
}
