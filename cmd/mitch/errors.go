package main

import (
	"errors"
	"fmt"

	"github.com/Southclaws/fault/fmsg"

	"github.com/srg/mitch/internal/device"
	"github.com/srg/mitch/scanner"
)

// ErrTaskEnded reports a recording that ended without being asked to.
var ErrTaskEnded = errors.New("recording ended unexpectedly")

// FormatUserError renders err for the terminal. Errors from the control
// surface carry a user-facing issue; the technical cause follows it.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, scanner.ErrAdapterUnavailable):
		return fmt.Sprintf("Bluetooth adapter is unavailable, make sure Bluetooth is powered on (%v)", err)
	case errors.Is(err, device.ErrBluetoothOff):
		return fmt.Sprintf("Bluetooth is turned off (%v)", err)
	}

	if issue := fmsg.GetIssue(err); issue != "" {
		return fmt.Sprintf("%s: %v", issue, err)
	}
	return err.Error()
}
