// Copyright ©2024 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package card

import (
	"encoding/binary"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"sync"
)

// fakeRegion is a memory-backed card address region.
type fakeRegion struct {
	data   []byte
	closed int
}

func newFakeRegion(n int) *fakeRegion {
	return &fakeRegion{data: make([]byte, n)}
}

func (r *fakeRegion) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(r.data)) {
		return 0, io.EOF
	}
	n := copy(p, r.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (r *fakeRegion) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(r.data)) {
		return 0, io.ErrShortWrite
	}
	n := copy(r.data[off:], p)
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

func (r *fakeRegion) Close() error { r.closed++; return nil }
func (r *fakeRegion) Len() int     { return len(r.data) }

// reg32 returns the register at off, in register units.
func (r *fakeRegion) reg32(off int64) uint32 {
	return binary.LittleEndian.Uint32(r.data[off*RegSize:])
}

// setReg32 pokes the register at off, in register units.
func (r *fakeRegion) setReg32(off int64, v uint32) {
	binary.LittleEndian.PutUint32(r.data[off*RegSize:], v)
}

// fakeBus is a memory-backed Bus with failure injection and call
// accounting.
type fakeBus struct {
	variant Variant
	regions [NumBars]*fakeRegion

	enabled  int
	disabled int
	closed   int

	failEnable error
	failRegion [NumBars]error
}

var _ Bus = (*fakeBus)(nil)

func newFakeBus(v Variant) *fakeBus {
	bus := &fakeBus{variant: v}
	for bar := range bus.regions {
		n := RegLen1 * RegSize
		if bar == BarFIFO {
			n = FifoLen * RegSize
		}
		bus.regions[bar] = newFakeRegion(n)
	}
	return bus
}

func (bus *fakeBus) Variant() Variant { return bus.variant }

func (bus *fakeBus) Enable() error {
	if bus.failEnable != nil {
		return bus.failEnable
	}
	bus.enabled++
	return nil
}

func (bus *fakeBus) Disable() { bus.disabled++ }

func (bus *fakeBus) Region(bar int) (Region, error) {
	if bar < 0 || bar >= NumBars {
		return nil, fmt.Errorf("invalid BAR index %d", bar)
	}
	if err := bus.failRegion[bar]; err != nil {
		return nil, err
	}
	return bus.regions[bar], nil
}

func (bus *fakeBus) Close() error { bus.closed++; return nil }

// irqBus is a fakeBus with an interrupt line.
type irqBus struct {
	*fakeBus

	mu       sync.Mutex
	handler  func() bool
	claims   int
	releases int
}

var (
	_ Bus     = (*irqBus)(nil)
	_ IRQLine = (*irqBus)(nil)
)

func newIRQBus(v Variant) *irqBus {
	return &irqBus{fakeBus: newFakeBus(v)}
}

func (bus *irqBus) Claim(handler func() bool) error {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.handler = handler
	bus.claims++
	return nil
}

func (bus *irqBus) Release() {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.handler = nil
	bus.releases++
}

// fire raises one interrupt, as the line would.  It reports whether a
// handler was installed and claimed the interrupt.
func (bus *irqBus) fire() bool {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	if bus.handler == nil {
		return false
	}
	return bus.handler()
}

// gatedRegion stalls the next write once armed, exposing the window
// where a transfer is in flight.  The gate is one-shot.
type gatedRegion struct {
	*fakeRegion

	mu      sync.Mutex
	armed   bool
	entered chan struct{}
	release chan struct{}
}

func newGatedRegion(n int) *gatedRegion {
	return &gatedRegion{
		fakeRegion: newFakeRegion(n),
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
}

func (r *gatedRegion) arm() {
	r.mu.Lock()
	r.armed = true
	r.mu.Unlock()
}

func (r *gatedRegion) WriteAt(p []byte, off int64) (int, error) {
	r.mu.Lock()
	armed := r.armed
	r.armed = false
	r.mu.Unlock()
	if armed {
		r.entered <- struct{}{}
		<-r.release
	}
	return r.fakeRegion.WriteAt(p, off)
}

// gatedBus serves the gated region as register file 1.
type gatedBus struct {
	*fakeBus
	gate *gatedRegion
}

func newGatedBus(v Variant) *gatedBus {
	return &gatedBus{
		fakeBus: newFakeBus(v),
		gate:    newGatedRegion(RegLen1 * RegSize),
	}
}

func (bus *gatedBus) Region(bar int) (Region, error) {
	if bar == BarRegs1 {
		return bus.gate, nil
	}
	return bus.fakeBus.Region(bar)
}

func quietLogger() *log.Logger {
	return log.New(ioutil.Discard, "", 0)
}

// quiet drops the registry log output during tests.
func quiet() Option {
	return WithLogger(quietLogger())
}
