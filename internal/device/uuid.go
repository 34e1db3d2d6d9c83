package device

import (
	"strings"
)

// Protocol characteristics of mitch peripherals, in normalized form.
var (
	CommandCharUUID = NormalizeUUID("d5913036-2d8a-41ee-85b9-4e361aa5c8a7")
	DataCharUUID    = NormalizeUUID("09bf2c52-d1d9-c0b7-4145-475964544307")
)

// NormalizeUUID converts a UUID string to the internal format (lowercase, no dashes).
// A 0x prefix is stripped, so "0x2902" and "2902" compare equal.
func NormalizeUUID(uuid string) string {
	u := strings.ToLower(strings.TrimSpace(uuid))
	u = strings.TrimPrefix(u, "0x")
	return strings.ReplaceAll(u, "-", "")
}

// ShortenUUID returns a truncated version of a UUID for display purposes.
func ShortenUUID(uuid string) string {
	if len(uuid) > 8 {
		return uuid[:8]
	}
	return uuid
}

// HasCharacteristic reports whether uuid is among the discovered characteristics.
func HasCharacteristic(p Peripheral, uuid string) bool {
	want := NormalizeUUID(uuid)
	for _, c := range p.Characteristics() {
		if NormalizeUUID(c) == want {
			return true
		}
	}
	return false
}
