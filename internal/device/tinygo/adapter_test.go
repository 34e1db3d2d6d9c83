package tinygo

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/srg/mitch/internal/device"
)

func TestAdapter_PeripheralRequiresSighting(t *testing.T) {
	a := NewAdapter(nil, device.DefaultNotificationBuffer)

	_, err := a.Peripheral("aa:bb:cc:dd:ee:ff")
	assert.ErrorIs(t, err, device.ErrNotFound, "only scanned peripherals MUST be resolvable")
}
