// Copyright ©2024 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package card

import "io"

// A Region is a mapped window of card address space.
type Region interface {
	io.ReaderAt
	io.WriterAt
	io.Closer

	// Len returns the size of the region in bytes.
	Len() int
}

// A Bus gives access to the PCI resources of one card.
type Bus interface {
	// Variant reports which card model sits behind the bus.
	Variant() Variant

	// Enable powers up bus access to the card.
	Enable() error

	// Disable undoes Enable.
	Disable()

	// Region claims and maps the address region behind the given
	// BAR.  The returned region stays valid until closed.
	Region(bar int) (Region, error)

	// Close releases the bus handle itself.  Claimed regions are
	// released separately by closing them.
	Close() error
}

// An IRQLine is implemented by buses that can deliver card
// interrupts.  Claim installs handler as the interrupt top half; the
// handler must not block and reports whether the interrupt came from
// this card.  Release returns only once no handler invocation is in
// flight.
type IRQLine interface {
	Claim(handler func() bool) error
	Release()
}

// A FirmwareLoader programs the FPGA of a card through its AMCC
// bridge region before first use.
type FirmwareLoader interface {
	Load(v Variant, amcc Region) error
}
