//go:build rp2040 || rp2350

package credstore

import "machine"

// NewMachineFlash stores the document in the on-chip flash data region.
func NewMachineFlash() *Flash { return NewFlash(machine.Flash) }
