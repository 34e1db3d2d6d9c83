// Package protocol implements the binary command/response protocol spoken by
// mitch sensor peripherals over their Command and Data characteristics.
//
// It covers:
//   - the device state codec (status byte <-> State)
//   - the fixed command encodings written to the Command characteristic
//   - recording descriptors and the per-kind sample decoders applied to Data
//     characteristic notifications
//
// Everything here is pure; transport concerns live in package device.
package protocol
