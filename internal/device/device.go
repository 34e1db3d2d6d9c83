package device

import (
	"context"
	"errors"
	"fmt"
)

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	BluetoothOff     ConnectionState = "bluetooth_off"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrBluetoothOff     = &ConnectionError{State: BluetoothOff, Msg: "Bluetooth is turned off"}
)

// Operation errors
var (
	ErrTimeout     = errors.New("timeout")
	ErrNotFound    = errors.New("not found")
	ErrUnsupported = errors.New("unsupported")
)

// TransportError reports a failed BLE operation.
type TransportError struct {
	Op   string // "connect", "discover services", "write", "read", "subscribe", ...
	Char string // normalized characteristic UUID, empty for peripheral-level operations
	Err  error
}

func (e *TransportError) Error() string {
	if e.Char != "" {
		return fmt.Sprintf("transport %s %s: %v", e.Op, e.Char, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// AdapterState is the power state of the local Bluetooth adapter.
type AdapterState int

const (
	AdapterUnknown AdapterState = iota
	AdapterPoweredOff
	AdapterPoweredOn
)

func (s AdapterState) String() string {
	switch s {
	case AdapterPoweredOff:
		return "powered_off"
	case AdapterPoweredOn:
		return "powered_on"
	default:
		return "unknown"
	}
}

// WriteMode selects between acknowledged and unacknowledged characteristic writes.
type WriteMode int

const (
	WithResponse WriteMode = iota
	WithoutResponse
)

// DiscoveryEvent is emitted by an Adapter for every advertisement it sees.
type DiscoveryEvent struct {
	ID string // peripheral identity, usable with Adapter.Peripheral
}

// Properties is the advertised data of a peripheral.
type Properties struct {
	LocalName string
	Address   string
	RSSI      int
}

// Notification is one unsolicited characteristic update.
type Notification struct {
	Characteristic string // normalized UUID
	Value          []byte
}

// Adapter is the local Bluetooth controller.
type Adapter interface {
	// State reports whether the adapter is powered on.
	State(ctx context.Context) (AdapterState, error)

	// Events starts discovery. The channel is closed once scanning ends,
	// either because ctx is done or the backend stopped; it cannot be restarted.
	Events(ctx context.Context) (<-chan DiscoveryEvent, error)

	// Peripheral returns the handle of a previously discovered peripheral.
	Peripheral(id string) (Peripheral, error)
}

// Peripheral is one remote device. Implementations must be safe to hand
// to a different goroutine, but callers never use one concurrently from
// more than one command sequence.
type Peripheral interface {
	ID() string
	Properties() (*Properties, error)

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	DiscoverServices(ctx context.Context) error

	// Characteristics lists the normalized UUIDs found by DiscoverServices.
	Characteristics() []string

	Write(ctx context.Context, char string, data []byte, mode WriteMode) error
	Read(ctx context.Context, char string) ([]byte, error)
	Subscribe(ctx context.Context, char string) error
	Unsubscribe(ctx context.Context, char string) error

	// Notifications returns a fresh sequence of characteristic updates. It is
	// closed when the peripheral disconnects or ctx is done.
	Notifications(ctx context.Context) (<-chan Notification, error)
}
