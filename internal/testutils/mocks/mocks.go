// Package mocks provides testify mocks of the device transport.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/srg/mitch/internal/device"
)

// Peripheral is a mock device.Peripheral.
type Peripheral struct {
	mock.Mock
}

var _ device.Peripheral = (*Peripheral)(nil)

func (m *Peripheral) ID() string {
	return m.Called().String(0)
}

func (m *Peripheral) Properties() (*device.Properties, error) {
	args := m.Called()
	props, _ := args.Get(0).(*device.Properties)
	return props, args.Error(1)
}

func (m *Peripheral) Connect(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *Peripheral) Disconnect(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *Peripheral) DiscoverServices(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *Peripheral) Characteristics() []string {
	chars, _ := m.Called().Get(0).([]string)
	return chars
}

func (m *Peripheral) Write(ctx context.Context, char string, data []byte, mode device.WriteMode) error {
	return m.Called(ctx, char, data, mode).Error(0)
}

func (m *Peripheral) Read(ctx context.Context, char string) ([]byte, error) {
	args := m.Called(ctx, char)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *Peripheral) Subscribe(ctx context.Context, char string) error {
	return m.Called(ctx, char).Error(0)
}

func (m *Peripheral) Unsubscribe(ctx context.Context, char string) error {
	return m.Called(ctx, char).Error(0)
}

func (m *Peripheral) Notifications(ctx context.Context) (<-chan device.Notification, error) {
	args := m.Called(ctx)
	ch, _ := args.Get(0).(<-chan device.Notification)
	return ch, args.Error(1)
}

// Adapter is a mock device.Adapter.
type Adapter struct {
	mock.Mock
}

var _ device.Adapter = (*Adapter)(nil)

func (m *Adapter) State(ctx context.Context) (device.AdapterState, error) {
	args := m.Called(ctx)
	return args.Get(0).(device.AdapterState), args.Error(1)
}

func (m *Adapter) Events(ctx context.Context) (<-chan device.DiscoveryEvent, error) {
	args := m.Called(ctx)
	ch, _ := args.Get(0).(<-chan device.DiscoveryEvent)
	return ch, args.Error(1)
}

func (m *Adapter) Peripheral(id string) (device.Peripheral, error) {
	args := m.Called(id)
	p, _ := args.Get(0).(device.Peripheral)
	return p, args.Error(1)
}
