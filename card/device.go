// Copyright ©2024 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package card

import (
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
)

// MaxNotifyDepth bounds the capacity a session may request for the
// notification queue.
const MaxNotifyDepth = 1 << 20

// Device is one attached CT2 card.
type Device struct {
	msg *log.Logger
	cfg config

	name    string
	variant Variant
	bus     Bus

	amcc Region
	fifo Region
	rs   RegisterSpace
	tbl  accessTables

	// mu serialises session state: the session set, subscription
	// flags and accumulators, the exclusive-access token and the
	// FIFO mapping count.
	mu        sync.Mutex
	dccs      map[*DCC]struct{}
	holder    *DCC
	fifoMaps  int
	accepting bool

	pl pipeline

	reg    *Registry
	stage  int
	stages []stage
}

// stage is one step of the ordered attach sequence.  release undoes
// exactly what acquire did.
type stage struct {
	name    string
	acquire func() error
	release func()
}

func (dev *Device) initStages() []stage {
	return []stage{
		{"struct", dev.initStruct, dev.finiStruct},
		{"bus", dev.bus.Enable, dev.bus.Disable},
		{"amcc-region", dev.claimRegion(BarAMCC, &dev.amcc), dev.releaseRegion(&dev.amcc)},
		{"regs-1-region", dev.claimRegion(BarRegs1, &dev.rs.r1), dev.releaseRegion(&dev.rs.r1)},
		{"regs-2-region", dev.claimRegion(BarRegs2, &dev.rs.r2), dev.releaseRegion(&dev.rs.r2)},
		{"fifo-region", dev.claimRegion(BarFIFO, &dev.fifo), dev.releaseRegion(&dev.fifo)},
		{"dev-name", dev.claimName, dev.releaseName},
		{"setup", dev.setup, dev.shutdown},
		{"dev-list", dev.register, dev.unregister},
		{"notify-worker", dev.startNotify, dev.stopNotify},
	}
}

// attach runs the stages in order.  The first failure tears down, in
// strict reverse order, every stage acquired before it.
func (dev *Device) attach() error {
	for _, st := range dev.stages {
		err := st.acquire()
		if err != nil {
			err = fmt.Errorf("ct2: could not attach %v card at stage %q: %w",
				dev.variant, st.name, err,
			)
			dev.teardown()
			return err
		}
		dev.stage++
	}
	return nil
}

// teardown releases every acquired stage, from the high-water mark
// down.  It is the single exit path shared by attach failures and
// Close.
func (dev *Device) teardown() {
	for i := dev.stage; i > 0; i-- {
		dev.stages[i-1].release()
	}
	dev.stage = 0
}

func (dev *Device) initStruct() error {
	dev.tbl = newAccessTables(dev.variant, dev.cfg.p201TestReg)
	dev.dccs = make(map[*DCC]struct{})
	return nil
}

func (dev *Device) finiStruct() {
	dev.dccs = nil
}

func (dev *Device) claimRegion(bar int, dst *Region) func() error {
	return func() error {
		reg, err := dev.bus.Region(bar)
		if err != nil {
			return err
		}
		*dst = reg
		return nil
	}
}

func (dev *Device) releaseRegion(dst *Region) func() {
	return func() {
		if *dst == nil {
			return
		}
		err := (*dst).Close()
		if err != nil {
			dev.msg.Printf("could not release region of %q: %+v", dev.name, err)
		}
		*dst = nil
	}
}

func (dev *Device) claimName() error {
	dev.name = dev.reg.allocName(dev.variant)
	return nil
}

func (dev *Device) releaseName() {
	dev.name = ""
}

// setup programs the FPGA, brings the card registers to their reset
// state and opens the device for sessions.
func (dev *Device) setup() error {
	if dev.cfg.fw != nil {
		err := dev.cfg.fw.Load(dev.variant, dev.amcc)
		if err != nil {
			return fmt.Errorf("could not load firmware: %w", err)
		}
	}

	err := dev.resetRegs()
	if err != nil {
		return fmt.Errorf("could not reset card registers: %w", err)
	}

	dev.mu.Lock()
	dev.accepting = true
	dev.mu.Unlock()
	return nil
}

func (dev *Device) shutdown() {
	dev.mu.Lock()
	dev.accepting = false
	dev.mu.Unlock()
}

func (dev *Device) register() error {
	return dev.reg.add(dev)
}

func (dev *Device) unregister() {
	dev.reg.remove(dev)
}

// Name returns the registry name of the device, e.g. "p201-0".
func (dev *Device) Name() string { return dev.name }

// Variant returns the card model.
func (dev *Device) Variant() Variant { return dev.variant }

// FifoSize returns the size in bytes of the card FIFO region.
func (dev *Device) FifoSize() int {
	if dev.fifo == nil {
		return 0
	}
	return dev.fifo.Len()
}

// Open starts a new session on the device.  The session inherits the
// current interrupt subscription state of the device.
func (dev *Device) Open() (*DCC, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if !dev.accepting {
		return nil, fmt.Errorf("ct2: could not open session on %q: %w", dev.name, ErrClosed)
	}

	dcc := &DCC{
		dev:        dev,
		wake:       make(chan struct{}, 1),
		subscribed: dev.pl.enabled,
	}
	dev.dccs[dcc] = struct{}{}
	return dcc, nil
}

// Close detaches the device, releasing its resources in the reverse
// of the order they were acquired.  It fails while sessions are still
// open.
func (dev *Device) Close() error {
	dev.mu.Lock()
	n := len(dev.dccs)
	dev.mu.Unlock()
	if n > 0 {
		return fmt.Errorf("ct2: could not close device %q with %d open session(s): %w",
			dev.name, n, ErrBusy,
		)
	}

	err := dev.disableInterrupts(nil)
	if err != nil {
		dev.msg.Printf("could not disable interrupts of %q: %+v", dev.name, err)
	}
	dev.teardown()
	return nil
}

// mayChangeState reports whether dcc may perform state-changing
// operations: nobody holds the exclusive-access token, or dcc does.
// Callers hold dev.mu.
func (dev *Device) mayChangeState(dcc *DCC) bool {
	return dev.holder == nil || dev.holder == dcc
}

func (dev *Device) enableInterrupts(dcc *DCC, capacity int) error {
	switch {
	case capacity == 0:
		capacity = dev.cfg.notifyDepth
	case capacity < 0:
		return ErrBounds
	case capacity > MaxNotifyDepth:
		return ErrNoMem
	}

	// Speculative allocation, outside the session lock.  When a
	// concurrent enable won the race the storage is dropped again.
	buf := make([]Notification, capacity)

	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dcc != nil {
		if dcc.closed {
			return ErrClosed
		}
		if !dev.mayChangeState(dcc) {
			return ErrPermission
		}
	}

	if dev.pl.enabled {
		if dev.pl.depth != capacity {
			return ErrBusy
		}
		return nil
	}

	dev.pl.fifo.reset(buf)
	if irq, ok := dev.bus.(IRQLine); ok {
		err := irq.Claim(dev.Interrupt)
		if err != nil {
			dev.pl.fifo.reset(nil)
			return fmt.Errorf("ct2: could not claim interrupt line of %q: %w", dev.name, err)
		}
	} else {
		dev.msg.Printf("bus of %q has no interrupt line: no notification will be delivered", dev.name)
	}
	dev.pl.enabled = true
	dev.pl.depth = capacity

	for d := range dev.dccs {
		d.subscribed = true
	}
	return nil
}

func (dev *Device) disableInterrupts(dcc *DCC) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dcc != nil {
		if dcc.closed {
			return ErrClosed
		}
		if !dev.mayChangeState(dcc) {
			return ErrPermission
		}
	}

	if !dev.pl.enabled {
		return nil
	}

	// Once the line is released no top-half invocation is in
	// flight anymore and the queue storage can go.
	if irq, ok := dev.bus.(IRQLine); ok {
		irq.Release()
	}
	dev.pl.enabled = false
	dev.pl.depth = 0
	dev.pl.fifo.reset(nil)

	for d := range dev.dccs {
		d.subscribed = false
		d.notify()
	}
	return nil
}

// Info is a snapshot of the device state.
type Info struct {
	Name        string
	Variant     string
	Sessions    int
	Exclusive   bool
	FifoMaps    int
	Interrupts  bool
	NotifyDepth int
	Dropped     uint64
	FifoSize    int
}

// Info returns a snapshot of the device state.
func (dev *Device) Info() Info {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	return Info{
		Name:        dev.name,
		Variant:     dev.variant.String(),
		Sessions:    len(dev.dccs),
		Exclusive:   dev.holder != nil,
		FifoMaps:    dev.fifoMaps,
		Interrupts:  dev.pl.enabled,
		NotifyDepth: dev.pl.depth,
		Dropped:     dev.pl.fifo.dropped(),
		FifoSize:    dev.FifoSize(),
	}
}

// DumpRegisters writes the value of every readable register to w.
// Registers whose read would change the device state are skipped.
func (dev *Device) DumpRegisters(w io.Writer) error {
	var offs []int64
	for off := int64(0); off < RegLen; off++ {
		if dev.tbl.rd.Run(off) == 0 || dev.tbl.state.Run(off) > 0 {
			continue
		}
		offs = append(offs, off)
	}
	sort.Slice(offs, func(i, j int) bool { return offs[i] < offs[j] })

	for _, off := range offs {
		v, err := dev.rs.Read1(off)
		if err != nil {
			return fmt.Errorf("ct2: could not dump register 0x%02x of %q: %w",
				off, dev.name, err,
			)
		}
		fmt.Fprintf(w, "0x%02x: 0x%08x\n", off, v)
	}
	return nil
}
