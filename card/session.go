// Copyright ©2024 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package card

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"
)

// DCC is the device context of one client session.  All sessions of a
// device share its registers, exclusive-access token and interrupt
// stream; each session keeps its own file position and its own
// accumulator of unacknowledged interrupt bits.
type DCC struct {
	dev *Device

	// guarded by dev.mu
	acc        uint32
	stamp      time.Time
	subscribed bool
	closed     bool

	wake chan struct{}

	posMu sync.Mutex
	pos   int64
}

// Device returns the device the session is attached to.
func (dcc *DCC) Device() *Device { return dcc.dev }

// notify wakes a blocked Wait, if any.  Callers hold dev.mu.
func (dcc *DCC) notify() {
	select {
	case dcc.wake <- struct{}{}:
	default:
	}
}

// ReadRegs reads up to len(dst) registers starting at the flattened
// offset off and returns how many were transferred.  The transfer is
// truncated to the run of contiguously readable registers starting at
// off.  Offsets inside [FifoOff, FifoOff+FifoLen) read the card FIFO
// directly.
func (dcc *DCC) ReadRegs(ctx context.Context, off int64, dst []uint32) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, ErrInterrupted
	}
	if len(dst) == 0 {
		return 0, nil
	}
	if off >= FifoOff {
		return dcc.readFIFO(off, dst)
	}

	dev := dcc.dev
	run := dev.tbl.rd.Run(off)
	if run == 0 {
		return 0, fmt.Errorf("ct2: could not read registers at 0x%02x: %w", off, ErrBounds)
	}
	n := len(dst)
	if n > run {
		n = run
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	switch {
	case dcc.closed:
		return 0, ErrClosed
	case dev.tbl.touchesState(off, n) && !dev.mayChangeState(dcc):
		return 0, fmt.Errorf("ct2: could not read state-changing registers at 0x%02x: %w", off, ErrPermission)
	}

	err := dev.rs.ReadRun(off, dst[:n])
	if err != nil {
		return 0, err
	}
	return n, nil
}

// readFIFO transfers from the FIFO read window of the flattened
// address space.  Draining the FIFO changes the device state, so the
// window is gated like a state-changing register.
func (dcc *DCC) readFIFO(off int64, dst []uint32) (int, error) {
	dev := dcc.dev

	ext := int64(dev.FifoSize() / RegSize)
	if ext > FifoLen {
		ext = FifoLen
	}
	if off >= FifoOff+ext {
		return 0, fmt.Errorf("ct2: could not read FIFO at 0x%02x: %w", off, ErrBounds)
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	switch {
	case dcc.closed:
		return 0, ErrClosed
	case !dev.mayChangeState(dcc):
		return 0, fmt.Errorf("ct2: could not read FIFO at 0x%02x: %w", off, ErrPermission)
	}

	n := len(dst)
	if max := int(FifoOff + ext - off); n > max {
		n = max
	}

	buf := make([]byte, n*RegSize)
	_, err := dev.fifo.ReadAt(buf, (off-FifoOff)*RegSize)
	if err != nil {
		return 0, fmt.Errorf("ct2: could not read FIFO at 0x%02x: %w", off, err)
	}
	for i := 0; i < n; i++ {
		dst[i] = binary.LittleEndian.Uint32(buf[i*RegSize:])
	}
	return n, nil
}

// WriteRegs writes up to len(src) registers starting at the flattened
// offset off and returns how many were transferred.  Writing is a
// state-changing operation and needs the session to pass the
// exclusive-access check.
func (dcc *DCC) WriteRegs(ctx context.Context, off int64, src []uint32) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, ErrInterrupted
	}
	if len(src) == 0 {
		return 0, nil
	}

	dev := dcc.dev
	run := dev.tbl.wr.Run(off)
	if run == 0 {
		return 0, fmt.Errorf("ct2: could not write registers at 0x%02x: %w", off, ErrBounds)
	}
	n := len(src)
	if n > run {
		n = run
	}

	// The permission check and the transfer share one critical
	// section: once Grant returns, no transfer checked by another
	// session can still land.
	dev.mu.Lock()
	defer dev.mu.Unlock()

	switch {
	case dcc.closed:
		return 0, ErrClosed
	case !dev.mayChangeState(dcc):
		return 0, fmt.Errorf("ct2: could not write registers at 0x%02x: %w", off, ErrPermission)
	}

	err := dev.rs.WriteRun(off, src[:n])
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Read transfers registers from the current file position, advancing
// it by the number of registers read.
func (dcc *DCC) Read(ctx context.Context, dst []uint32) (int, error) {
	dcc.posMu.Lock()
	pos := dcc.pos
	dcc.posMu.Unlock()

	n, err := dcc.ReadRegs(ctx, pos, dst)
	if n > 0 {
		dcc.advance(pos, n)
	}
	return n, err
}

// Write transfers registers at the current file position, advancing
// it by the number of registers written.
func (dcc *DCC) Write(ctx context.Context, src []uint32) (int, error) {
	dcc.posMu.Lock()
	pos := dcc.pos
	dcc.posMu.Unlock()

	n, err := dcc.WriteRegs(ctx, pos, src)
	if n > 0 {
		dcc.advance(pos, n)
	}
	return n, err
}

func (dcc *DCC) advance(pos int64, n int) {
	dcc.posMu.Lock()
	dcc.pos = clampPos(pos + int64(n))
	dcc.posMu.Unlock()
}

// Seek moves the file position over the flattened register space,
// clamping the result into [0, RegLen).
func (dcc *DCC) Seek(off int64, whence int) (int64, error) {
	dcc.posMu.Lock()
	defer dcc.posMu.Unlock()

	var pos int64
	switch whence {
	case io.SeekStart:
		pos = off
	case io.SeekCurrent:
		pos = dcc.pos + off
	case io.SeekEnd:
		pos = RegLen + off
	default:
		return dcc.pos, fmt.Errorf("ct2: invalid seek whence %d", whence)
	}

	dcc.pos = clampPos(pos)
	return dcc.pos, nil
}

func clampPos(pos int64) int64 {
	if pos < 0 {
		return 0
	}
	if pos >= RegLen {
		return RegLen - 1
	}
	return pos
}

// Reset brings the card registers back to their power-up defaults.
// It is refused while the device delivers interrupts.
func (dcc *DCC) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return ErrInterrupted
	}

	dev := dcc.dev
	dev.mu.Lock()
	defer dev.mu.Unlock()

	switch {
	case dcc.closed:
		return ErrClosed
	case !dev.mayChangeState(dcc):
		return fmt.Errorf("ct2: could not reset %q: %w", dev.name, ErrPermission)
	case dev.pl.enabled:
		return fmt.Errorf("ct2: could not reset %q with interrupts enabled: %w", dev.name, ErrBusy)
	}

	return dev.resetRegs()
}

// EnableInterrupts makes the device deliver interrupts to all its
// sessions, queueing up to capacity notifications between the
// interrupt handler and the distribution worker.  A zero capacity
// selects the device default.  Re-enabling with the same capacity is
// a no-op; with a different one it fails.
func (dcc *DCC) EnableInterrupts(ctx context.Context, capacity int) error {
	if err := ctx.Err(); err != nil {
		return ErrInterrupted
	}
	return dcc.dev.enableInterrupts(dcc, capacity)
}

// DisableInterrupts stops interrupt delivery, unsubscribing every
// session.  Sessions blocked in Wait observe a hang-up.  Disabling an
// already-disabled device is a no-op.
func (dcc *DCC) DisableInterrupts(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return ErrInterrupted
	}
	return dcc.dev.disableInterrupts(dcc)
}

// AckInterrupt returns the interrupt bits accumulated since the last
// acknowledgement, with the time of their latest update, and resets
// the accumulator.
func (dcc *DCC) AckInterrupt(ctx context.Context) (Notification, error) {
	if err := ctx.Err(); err != nil {
		return Notification{}, ErrInterrupted
	}

	dev := dcc.dev
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dcc.closed {
		return Notification{}, ErrClosed
	}

	out := Notification{Bits: dcc.acc, Stamp: dcc.stamp}
	dcc.acc = 0
	return out, nil
}

// Grant acquires the device-wide exclusive-access token for the
// session.  Re-granting to the current holder is a no-op.
func (dcc *DCC) Grant(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return ErrInterrupted
	}

	dev := dcc.dev
	dev.mu.Lock()
	defer dev.mu.Unlock()

	switch {
	case dcc.closed:
		return ErrClosed
	case !dev.mayChangeState(dcc):
		return fmt.Errorf("ct2: could not grant exclusive access on %q: %w", dev.name, ErrPermission)
	}

	dev.holder = dcc
	return nil
}

// Revoke releases the exclusive-access token.  Revoking when no token
// is held is a no-op; revoking somebody else's token fails, as does
// revoking while the FIFO is mapped.
func (dcc *DCC) Revoke(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return ErrInterrupted
	}

	dev := dcc.dev
	dev.mu.Lock()
	defer dev.mu.Unlock()

	switch {
	case dcc.closed:
		return ErrClosed
	case dev.holder == nil:
		return nil
	case dev.holder != dcc:
		return fmt.Errorf("ct2: could not revoke exclusive access on %q: %w", dev.name, ErrPermission)
	case dev.fifoMaps > 0:
		return fmt.Errorf("ct2: could not revoke exclusive access on %q with mapped FIFO: %w", dev.name, ErrBusy)
	}

	dev.holder = nil
	return nil
}

// Ready reports the session readiness: rd when unacknowledged
// interrupt bits are pending, hup when the session is not subscribed
// to the interrupt stream.
func (dcc *DCC) Ready() (rd, hup bool) {
	dev := dcc.dev
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dcc.acc != 0, !dcc.subscribed
}

// Wait blocks until interrupt bits are pending for the session.  It
// returns ErrHangup when the session is not subscribed and
// ErrInterrupted when ctx is cancelled.
func (dcc *DCC) Wait(ctx context.Context) error {
	dev := dcc.dev
	for {
		dev.mu.Lock()
		var err error
		switch {
		case dcc.closed:
			err = ErrClosed
		case dcc.acc != 0:
			// readable
		case !dcc.subscribed:
			err = ErrHangup
		default:
			err = errWaitAgain
		}
		dev.mu.Unlock()

		if err != errWaitAgain {
			return err
		}

		select {
		case <-ctx.Done():
			return ErrInterrupted
		case <-dcc.wake:
		}
	}
}

var errWaitAgain = fmt.Errorf("ct2: wait again")

// Queue operations of the per-session notification queue.  The
// hardware family never grew that mode of interrupt delivery: only
// the accumulated-bits model above is available.

// AttachQueue is not implemented.
func (dcc *DCC) AttachQueue(n int) error { return ErrNotImplemented }

// DetachQueue is not implemented.
func (dcc *DCC) DetachQueue() error { return ErrNotImplemented }

// DrainQueue is not implemented.
func (dcc *DCC) DrainQueue() ([]Notification, error) { return nil, ErrNotImplemented }

// FlushQueue is not implemented.
func (dcc *DCC) FlushQueue() (time.Time, error) { return time.Time{}, ErrNotImplemented }

// LatchCounters transfers the current values of all counters into
// their latch registers.
func (dcc *DCC) LatchCounters(ctx context.Context) error {
	_, err := dcc.WriteRegs(ctx, RegLen1+RegSoftLatch, []uint32{0xfff})
	return err
}

// ReadLatches returns the latched values of all counters.
func (dcc *DCC) ReadLatches(ctx context.Context) ([]uint32, error) {
	dst := make([]uint32, NumCounters)
	_, err := dcc.ReadRegs(ctx, RegRdLatchCmpt, dst)
	if err != nil {
		return nil, err
	}
	return dst, nil
}

// EnableCounters enables clocking of the counters selected in mask,
// bit 0 for counter 1 up to bit 11 for counter 12.
func (dcc *DCC) EnableCounters(ctx context.Context, mask uint32) error {
	_, err := dcc.WriteRegs(ctx, RegLen1+RegSoftEnableDisable, []uint32{mask & 0xfff})
	return err
}

// DisableCounters disables clocking of the counters selected in mask.
func (dcc *DCC) DisableCounters(ctx context.Context, mask uint32) error {
	_, err := dcc.WriteRegs(ctx, RegLen1+RegSoftEnableDisable, []uint32{(mask & 0xfff) << 16})
	return err
}

// StartCounters starts the counters selected in mask.
func (dcc *DCC) StartCounters(ctx context.Context, mask uint32) error {
	_, err := dcc.WriteRegs(ctx, RegLen1+RegSoftStartStop, []uint32{mask & 0xfff})
	return err
}

// StopCounters stops the counters selected in mask.
func (dcc *DCC) StopCounters(ctx context.Context, mask uint32) error {
	_, err := dcc.WriteRegs(ctx, RegLen1+RegSoftStartStop, []uint32{(mask & 0xfff) << 16})
	return err
}

// Close ends the session.  A session holding the exclusive-access
// token cannot close while the FIFO is mapped; otherwise the token is
// revoked automatically.
func (dcc *DCC) Close() error {
	dev := dcc.dev
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dcc.closed {
		return nil
	}
	if dev.holder == dcc && dev.fifoMaps > 0 {
		return fmt.Errorf("ct2: could not close session on %q with mapped FIFO: %w", dev.name, ErrBusy)
	}
	if dev.holder == dcc {
		dev.holder = nil
	}

	dcc.closed = true
	dcc.subscribed = false
	delete(dev.dccs, dcc)
	dcc.notify()
	return nil
}
