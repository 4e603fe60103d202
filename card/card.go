// Copyright ©2024 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package card implements the driver core for the ESRF CT2 family of
// PCI counter/timer cards: the 12-channel C208 and the 10-channel P201.
//
// Both cards expose two register files mapped behind separate PCI BARs
// and a hardware FIFO of latched counter values behind a third one.
// The package multiplexes concurrent client sessions (DCCs) onto one
// physical card, arbitrates a device-wide exclusive-access token that
// gates state-changing operations, and distributes the card interrupt
// stream to every subscribed session.
package card // import "github.com/go-daq/ct2/card"

const (
	// RegLen1 and RegLen2 are the sizes, in registers, of the two
	// card register files.
	RegLen1 = 64
	RegLen2 = 64

	// RegLen is the size of the flattened register address space:
	// file 1 at offsets [0, RegLen1), file 2 at [RegLen1, RegLen).
	RegLen = RegLen1 + RegLen2

	// RegSize is the size in bytes of one card register.
	RegSize = 4

	// FifoOff and FifoLen delimit the window of the flattened
	// address space through which the card FIFO is read directly.
	FifoOff = RegLen
	FifoLen = 2048

	// DefaultNotifyDepth is the capacity of the interrupt
	// notification FIFO when none is requested explicitly.
	DefaultNotifyDepth = 32
)

// PCI identifiers of the cards.
const (
	VendorID     = 0x10e8 // AMCC
	DeviceIDC208 = 0xee10
	DeviceIDP201 = 0xee12
)

// PCI BAR indices of the card address regions.
const (
	BarAMCC = iota // AMCC bridge operation registers
	BarRegs1
	BarRegs2
	BarFIFO
	NumBars
)

// NumCounters is the number of counter/timer channels on a card.
const NumCounters = 12

// Variant selects one of the two CT2 card models.
type Variant uint8

const (
	C208 Variant = iota + 1
	P201
)

func (v Variant) String() string {
	switch v {
	case C208:
		return "C208"
	case P201:
		return "P201"
	}
	return "unknown"
}

// basename returns the prefix used to derive device names.
func (v Variant) basename() string {
	switch v {
	case C208:
		return "c208"
	case P201:
		return "p201"
	}
	return "ct2"
}

// itMask returns the mask of valid interrupt source bits of the
// interrupt control register.
func (v Variant) itMask() uint32 {
	switch v {
	case C208:
		return 0x0effffff
	case P201:
		return 0x0efff3ff
	}
	return 0
}

// VariantOf maps a PCI device identifier to the card variant.
func VariantOf(device uint32) (Variant, bool) {
	switch device {
	case DeviceIDC208:
		return C208, true
	case DeviceIDP201:
		return P201, true
	}
	return 0, false
}
