// Package device defines the Bluetooth Low Energy transport abstraction used to
// reach mitch peripherals, independent of the BLE stack behind it.
//
// The package provides:
//   - Adapter and Peripheral interfaces implemented by the go-ble and tinygo backends
//   - the Command and Data characteristic identities of the mitch protocol
//   - TransportError and the connection-state sentinels shared by all backends
//   - Call, which bounds a blocking backend call by a context
package device
