package mocks

import (
	"github.com/stretchr/testify/mock"

	"github.com/srg/mitch/internal/device"
)

// NewMitch returns a peripheral mock that answers the calls every session
// makes: ID, connect, service discovery with both protocol characteristics,
// and disconnect. Protocol traffic is left for the test to script.
func NewMitch(address string) *Peripheral {
	p := &Peripheral{}
	p.On("ID").Return(address).Maybe()
	p.On("Properties").Return(&device.Properties{Address: address}, nil).Maybe()
	p.On("Connect", mock.Anything).Return(nil).Maybe()
	p.On("DiscoverServices", mock.Anything).Return(nil).Maybe()
	p.On("Characteristics").Return([]string{device.CommandCharUUID, device.DataCharUUID}).Maybe()
	p.On("Disconnect", mock.Anything).Return(nil).Maybe()
	return p
}
