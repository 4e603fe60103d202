// Copyright ©2024 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package card

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// RegisterSpace serialises raw register transfers to the two register
// files of a card, addressed as one flattened space of RegLen
// registers.  Permission and bounds checks happen before a transfer
// reaches it.
//
// The interrupt path shares the same mutex; every critical section
// under it is bounded and allocation free, so the top half never
// waits for more than one in-flight transfer.
type RegisterSpace struct {
	mu sync.Mutex
	r1 Region
	r2 Region
}

// resolve maps a flattened register offset to its register file and
// byte offset therein.
func (rs *RegisterSpace) resolve(off int64) (Region, int64) {
	if off < RegLen1 {
		return rs.r1, off * RegSize
	}
	return rs.r2, (off - RegLen1) * RegSize
}

// ReadRun reads len(dst) registers starting at off into dst as one
// atomic transfer.
func (rs *RegisterSpace) ReadRun(off int64, dst []uint32) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	for i := range dst {
		v, err := rs.read(off + int64(i))
		if err != nil {
			return err
		}
		dst[i] = v
	}
	return nil
}

// WriteRun writes the src registers starting at off as one atomic
// transfer.
func (rs *RegisterSpace) WriteRun(off int64, src []uint32) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	for i, v := range src {
		err := rs.write(off+int64(i), v)
		if err != nil {
			return err
		}
	}
	return nil
}

// Read1 reads the single register at off.
func (rs *RegisterSpace) Read1(off int64) (uint32, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.read(off)
}

// Write1 writes the single register at off.
func (rs *RegisterSpace) Write1(off int64, v uint32) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.write(off, v)
}

// irqStatus reads the interrupt status register.  The hardware clears
// it on read.  This is the interrupt-context entry point into the
// register space.
func (rs *RegisterSpace) irqStatus() uint32 {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	v, _ := rs.read(RegCtrlIt)
	return v
}

func (rs *RegisterSpace) read(off int64) (uint32, error) {
	var (
		buf      [RegSize]byte
		reg, pos = rs.resolve(off)
	)
	_, err := reg.ReadAt(buf[:], pos)
	if err != nil {
		return 0, fmt.Errorf("ct2: could not read register 0x%02x: %w", off, err)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (rs *RegisterSpace) write(off int64, v uint32) error {
	var (
		buf      [RegSize]byte
		reg, pos = rs.resolve(off)
	)
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := reg.WriteAt(buf[:], pos)
	if err != nil {
		return fmt.Errorf("ct2: could not write register 0x%02x: %w", off, err)
	}
	return nil
}

// regWriter accumulates register writes, keeping the first error and
// turning the writes after it into no-ops.
type regWriter struct {
	rs  *RegisterSpace
	err error
}

func (w *regWriter) wr(off int64, v uint32) {
	if w.err != nil {
		return
	}
	w.err = w.rs.Write1(off, v)
}

func (w *regWriter) wrv(off int64, vs []uint32) {
	if w.err != nil {
		return
	}
	w.err = w.rs.WriteRun(off, vs)
}

func (w *regWriter) fill(off int64, n int, v uint32) {
	if w.err != nil {
		return
	}
	vs := make([]uint32, n)
	for i := range vs {
		vs[i] = v
	}
	w.err = w.rs.WriteRun(off, vs)
}
