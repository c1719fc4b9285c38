// Package ft3168 provides a minimal driver for the FocalTech FT3168
// capacitive touch controller: mode selection and touch-count reads.
//
// NOTE: I2C.Tx MUST perform a write followed by a repeated-start read when both
// w and r are provided, without releasing the bus.
package ft3168

import (
	"errors"

	"tinygo.org/x/drivers"
)

// I2C address.
const Address = 0x38

// Registers.
const (
	regDeviceMode = 0x00
	regTDStatus   = 0x02

	modeWorking = 0x00

	// Only the low nibble of TD_STATUS carries the point count.
	tdCountMask = 0x0F
	maxPoints   = 2
)

var ErrProtocol = errors.New("ft3168: protocol error")

// Device wraps an I2C connection to an FT3168.
type Device struct {
	bus     drivers.I2C
	Address uint16
	buf     [2]byte
}

// New creates a Device. The I2C bus must already be configured.
func New(bus drivers.I2C) Device {
	return Device{bus: bus, Address: Address}
}

// Arm puts the controller into working mode so touch registers update.
func (d *Device) Arm() error {
	d.buf[0] = regDeviceMode
	d.buf[1] = modeWorking
	return d.bus.Tx(d.Address, d.buf[:2], nil)
}

// TouchCount returns the number of active touch points.
func (d *Device) TouchCount() (uint8, error) {
	w := [1]byte{regTDStatus}
	if err := d.bus.Tx(d.Address, w[:], d.buf[:1]); err != nil {
		return 0, err
	}
	n := d.buf[0] & tdCountMask
	if n > maxPoints {
		// 0x0F appears while the controller is still booting.
		return 0, ErrProtocol
	}
	return n, nil
}
