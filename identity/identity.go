// Package identity derives the device's stable names from its hardware
// address. Values are computed once at boot and never change.
package identity

import "autovolume-go/x/conv"

// Device is the immutable per-boot identity.
type Device struct {
	ID  string  // prefix + 12 lowercase hex digits of the MAC
	MAC [6]byte // station hardware address
}

// New builds the identity for mac, e.g. "av-240ac412ab0f".
func New(prefix string, mac [6]byte) Device {
	b := make([]byte, 0, len(prefix)+12)
	b = append(b, prefix...)
	b = conv.AppendHex(b, mac[:], false)
	return Device{ID: string(b), MAC: mac}
}

// APName is the setup access-point name: prefix + last two MAC bytes in
// uppercase hex, e.g. "AutoVolume-AB0F".
func APName(prefix string, mac [6]byte) string {
	b := make([]byte, 0, len(prefix)+4)
	b = append(b, prefix...)
	b = conv.AppendHex(b, mac[4:], true)
	return string(b)
}
