package protocol

import (
	"fmt"
)

// State is the operating state reported by the device in a GetState response.
type State uint8

// System states.
const (
	SysStartup State = 0x01
	SysIdle    State = 0x02
	SysStandby State = 0x03
	SysLog     State = 0x04
	SysReadout State = 0x05
	SysTx      State = 0xF8
	SysError   State = 0xFF
)

// Boot loader states.
const (
	BootStartup  State = 0xF0
	BootIdle     State = 0xF1
	BootDownload State = 0xF2
)

// Family groups states by the firmware image that reports them.
type Family string

const (
	FamilySystem Family = "system"
	FamilyBoot   Family = "boot"
)

type stateInfo struct {
	name   string
	family Family
}

// states is the exhaustive lookup table for DecodeState. A byte that is not a
// key here never becomes a State.
var states = map[byte]stateInfo{
	byte(SysStartup):   {"sys_startup", FamilySystem},
	byte(SysIdle):      {"sys_idle", FamilySystem},
	byte(SysStandby):   {"sys_standby", FamilySystem},
	byte(SysLog):       {"sys_log", FamilySystem},
	byte(SysReadout):   {"sys_readout", FamilySystem},
	byte(SysTx):        {"sys_tx", FamilySystem},
	byte(SysError):     {"sys_error", FamilySystem},
	byte(BootStartup):  {"boot_startup", FamilyBoot},
	byte(BootIdle):     {"boot_idle", FamilyBoot},
	byte(BootDownload): {"boot_download", FamilyBoot},
}

// UnknownStateError is returned when a status byte does not map to a State.
type UnknownStateError struct {
	Code byte
}

func (e *UnknownStateError) Error() string {
	return fmt.Sprintf("unknown device state 0x%02X", e.Code)
}

// DecodeState maps a raw status byte to a State.
func DecodeState(b byte) (State, error) {
	if _, ok := states[b]; !ok {
		return 0, &UnknownStateError{Code: b}
	}
	return State(b), nil
}

// Byte returns the wire encoding of the state.
func (s State) Byte() byte {
	return byte(s)
}

func (s State) String() string {
	if info, ok := states[byte(s)]; ok {
		return info.name
	}
	return fmt.Sprintf("state(0x%02X)", byte(s))
}

// Family reports whether the state belongs to the system or boot firmware.
// It returns an empty Family for values that DecodeState would reject.
func (s State) Family() Family {
	return states[byte(s)].family
}

// MarshalText renders the state by name so summaries stay human readable.
func (s State) MarshalText() ([]byte, error) {
	if _, ok := states[byte(s)]; !ok {
		return nil, &UnknownStateError{Code: byte(s)}
	}
	return []byte(s.String()), nil
}
