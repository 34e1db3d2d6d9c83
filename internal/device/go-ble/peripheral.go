package goble

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/mitch/internal/device"
	"github.com/srg/mitch/internal/groutine"
)

// Peripheral implements device.Peripheral over a go-ble client connection.
type Peripheral struct {
	adapter *Adapter
	props   device.Properties
	logger  *logrus.Logger

	mu     sync.RWMutex
	client ble.Client
	chars  map[string]*ble.Characteristic

	notifications *device.Fanout
}

func newPeripheral(a *Adapter, props device.Properties, logger *logrus.Logger) *Peripheral {
	return &Peripheral{
		adapter:       a,
		props:         props,
		logger:        logger,
		chars:         make(map[string]*ble.Characteristic),
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

// Connect dials the peripheral and starts watching for link loss.
func (p *Peripheral) Connect(ctx context.Context) error {
	if strings.TrimSpace(p.props.Address) == "" {
		return fmt.Errorf("device address is empty")
	}

	p.mu.RLock()
	connected := p.client != nil
	p.mu.RUnlock()
	if connected {
		return device.ErrAlreadyConnected
	}

	dev, err := p.adapter.device()
	if err != nil {
		return err
	}

	p.logger.WithField("address", p.props.Address).Debug("Dialing BLE device...")
	client, err := dev.Dial(ctx, ble.NewAddr(p.props.Address))
	if err != nil {
		return NormalizeError(err)
	}

	p.mu.Lock()
	p.client = client
	p.mu.Unlock()

	groutine.Go(context.Background(), "goble-link-monitor", func(context.Context) {
		<-client.Disconnected()
		p.linkLost(client)
	})

	return nil
}

// linkLost clears the connection if client is still the current one and ends
// every notification sequence.
func (p *Peripheral) linkLost(client ble.Client) {
	p.mu.Lock()
	current := p.client == client
	if current {
		p.client = nil
	}
	p.mu.Unlock()

	if current {
		p.logger.WithField("address", p.props.Address).Warn("BLE link lost")
	}
	p.notifications.CloseAll()
}

func (p *Peripheral) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	client := p.client
	p.client = nil
	p.mu.Unlock()

	p.notifications.CloseAll()

	if client == nil {
		p.logger.Debug("Disconnect called but already disconnected")
		return nil
	}

	return NormalizeError(device.Do(ctx, client.CancelConnection))
}

// DiscoverServices reads the full GATT profile and indexes its characteristics.
func (p *Peripheral) DiscoverServices(ctx context.Context) error {
	client, err := p.currentClient()
	if err != nil {
		return err
	}

	profile, err := device.Call(ctx, func() (*ble.Profile, error) {
		return client.DiscoverProfile(true)
	})
	if err != nil {
		return NormalizeError(err)
	}

	chars := make(map[string]*ble.Characteristic)
	for _, svc := range profile.Services {
		for _, c := range svc.Characteristics {
			chars[device.NormalizeUUID(c.UUID.String())] = c
		}
	}

	p.mu.Lock()
	p.chars = chars
	p.mu.Unlock()

	p.logger.WithFields(logrus.Fields{
		"address":         p.props.Address,
		"services":        len(profile.Services),
		"characteristics": len(chars),
	}).Debug("Profile discovered")
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
	client, c, err := p.characteristic(char)
	if err != nil {
		return err
	}
	return NormalizeError(device.Do(ctx, func() error {
		return client.WriteCharacteristic(c, data, mode == device.WithoutResponse)
	}))
}

func (p *Peripheral) Read(ctx context.Context, char string) ([]byte, error) {
	client, c, err := p.characteristic(char)
	if err != nil {
		return nil, err
	}
	data, err := device.Call(ctx, func() ([]byte, error) {
		return client.ReadCharacteristic(c)
	})
	return data, NormalizeError(err)
}

func (p *Peripheral) Subscribe(ctx context.Context, char string) error {
	client, c, err := p.characteristic(char)
	if err != nil {
		return err
	}
	uuid := device.NormalizeUUID(char)
	return NormalizeError(device.Do(ctx, func() error {
		return client.Subscribe(c, useIndication(c), func(data []byte) {
			p.notifications.Publish(uuid, data)
		})
	}))
}

func (p *Peripheral) Unsubscribe(ctx context.Context, char string) error {
	client, c, err := p.characteristic(char)
	if err != nil {
		return err
	}
	return NormalizeError(device.Do(ctx, func() error {
		return client.Unsubscribe(c, useIndication(c))
	}))
}

func (p *Peripheral) Notifications(ctx context.Context) (<-chan device.Notification, error) {
	if _, err := p.currentClient(); err != nil {
		return nil, err
	}
	return p.notifications.Subscribe(ctx), nil
}

func (p *Peripheral) currentClient() (ble.Client, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.client == nil {
		return nil, device.ErrNotConnected
	}
	return p.client, nil
}

func (p *Peripheral) characteristic(uuid string) (ble.Client, *ble.Characteristic, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.client == nil {
		return nil, nil, device.ErrNotConnected
	}
	c, ok := p.chars[device.NormalizeUUID(uuid)]
	if !ok {
		return nil, nil, fmt.Errorf("characteristic %q: %w", uuid, device.ErrNotFound)
	}
	return p.client, c, nil
}

// useIndication selects indications for characteristics that cannot notify.
func useIndication(c *ble.Characteristic) bool {
	return c.Property&ble.CharNotify == 0 && c.Property&ble.CharIndicate != 0
}
