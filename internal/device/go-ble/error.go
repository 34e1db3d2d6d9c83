package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/srg/mitch/internal/device"
)

// errorRule maps any of its message fragments to a device sentinel.
type errorRule struct {
	target    error
	fragments []string
}

// The go-ble stacks report adapter and link failures as plain strings that
// differ between the darwin and linux backends. Order matters: the first
// matching rule wins.
var errorRules = []errorRule{
	{device.ErrBluetoothOff, []string{
		"central manager has invalid state: have=4", // darwin, powered off
		"bluetooth is turned off",
		"can't init hci", // linux, no usable controller
		"no devices available",
	}},
	{device.ErrAlreadyConnected, []string{"device already connected"}},
	{device.ErrNotConnected, []string{"device not connected", "disconnected", "can't dial"}},
	{device.ErrTimeout, []string{"timed out", "timeout"}},
	{device.ErrUnsupported, []string{"not implemented", "not supported"}},
}

// NormalizeError wraps a go-ble failure with the device sentinel it stands
// for, keeping the backend message. Errors that already carry a sentinel, and
// errors no rule recognises, are returned unchanged.
func NormalizeError(err error) error {
	if err == nil || isSentinel(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", device.ErrTimeout, err)
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range errorRules {
		for _, fragment := range rule.fragments {
			if strings.Contains(msg, fragment) {
				return fmt.Errorf("%w: %v", rule.target, err)
			}
		}
	}
	return err
}

func isSentinel(err error) bool {
	for _, target := range []error{
		device.ErrBluetoothOff,
		device.ErrNotConnected,
		device.ErrAlreadyConnected,
		device.ErrTimeout,
		device.ErrUnsupported,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
