// Copyright ©2024 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package card

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNotifyFIFO(t *testing.T) {
	var q notifyFIFO

	// a queue without storage drops everything
	if q.push(Notification{Bits: 1}) {
		t.Fatalf("push succeeded on a disabled queue")
	}
	if got, want := q.dropped(), uint64(1); got != want {
		t.Fatalf("invalid drop count: got=%d, want=%d", got, want)
	}

	q.reset(make([]Notification, 2))
	if got, want := q.capacity(), 2; got != want {
		t.Fatalf("invalid capacity: got=%d, want=%d", got, want)
	}

	for i, want := range []bool{true, true, false} {
		got := q.push(Notification{Bits: uint32(i + 1)})
		if got != want {
			t.Fatalf("invalid push %d: got=%v, want=%v", i, got, want)
		}
	}
	if got, want := q.dropped(), uint64(2); got != want {
		t.Fatalf("invalid drop count: got=%d, want=%d", got, want)
	}

	// entries come out in order, the overflow entry is gone
	for i, want := range []uint32{1, 2} {
		nt, ok := q.pop()
		if !ok {
			t.Fatalf("could not pop entry %d", i)
		}
		if nt.Bits != want {
			t.Fatalf("invalid entry %d: got=0x%x, want=0x%x", i, nt.Bits, want)
		}
	}
	if _, ok := q.pop(); ok {
		t.Fatalf("pop succeeded on an empty queue")
	}

	// reset discards content, not the drop statistics
	q.push(Notification{Bits: 3})
	q.reset(make([]Notification, 2))
	if _, ok := q.pop(); ok {
		t.Fatalf("pop succeeded after reset")
	}
	if got, want := q.dropped(), uint64(2); got != want {
		t.Fatalf("invalid drop count after reset: got=%d, want=%d", got, want)
	}
}

func waitBits(t *testing.T, dcc *DCC) uint32 {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := dcc.Wait(ctx)
	if err != nil {
		t.Fatalf("could not wait for interrupts: %+v", err)
	}
	nt, err := dcc.AckInterrupt(ctx)
	if err != nil {
		t.Fatalf("could not acknowledge interrupts: %+v", err)
	}
	return nt.Bits
}

func TestInterruptFanout(t *testing.T) {
	ctx := context.Background()

	reg := NewRegistry(quiet())
	bus := newIRQBus(P201)
	dev, err := reg.Attach(bus)
	if err != nil {
		t.Fatalf("could not attach card: %+v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })

	a := openSession(t, dev)
	b := openSession(t, dev)

	err = a.EnableInterrupts(ctx, 4)
	if err != nil {
		t.Fatalf("could not enable interrupts: %+v", err)
	}

	// sessions opened while enabled join the stream too
	c := openSession(t, dev)

	const bits = 0x0000_0201
	bus.regions[BarRegs1].setReg32(RegCtrlIt, bits)
	if !bus.fire() {
		t.Fatalf("interrupt not claimed by the device")
	}
	bus.regions[BarRegs1].setReg32(RegCtrlIt, 0)

	// every subscribed session accumulates the bits
	for _, dcc := range []*DCC{a, b, c} {
		if got := waitBits(t, dcc); got != bits {
			t.Fatalf("invalid interrupt bits: got=0x%x, want=0x%x", got, bits)
		}
	}

	// acknowledging reset the accumulator
	for _, dcc := range []*DCC{a, b, c} {
		nt, err := dcc.AckInterrupt(ctx)
		if err != nil {
			t.Fatalf("could not re-acknowledge: %+v", err)
		}
		if nt.Bits != 0 {
			t.Fatalf("accumulator not reset: 0x%x", nt.Bits)
		}
		if rd, _ := dcc.Ready(); rd {
			t.Fatalf("session still readable after acknowledge")
		}
	}
}

func TestInterruptAccumulates(t *testing.T) {
	ctx := context.Background()

	reg := NewRegistry(quiet())
	bus := newIRQBus(C208)
	dev, err := reg.Attach(bus)
	if err != nil {
		t.Fatalf("could not attach card: %+v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })

	dcc := openSession(t, dev)
	err = dcc.EnableInterrupts(ctx, 8)
	if err != nil {
		t.Fatalf("could not enable interrupts: %+v", err)
	}

	for _, bits := range []uint32{0x001, 0x800} {
		bus.regions[BarRegs1].setReg32(RegCtrlIt, bits)
		if !bus.fire() {
			t.Fatalf("interrupt 0x%x not claimed", bits)
		}
	}
	bus.regions[BarRegs1].setReg32(RegCtrlIt, 0)

	// both deliveries are ORed into one accumulated notification
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for {
		err := dcc.Wait(wctx)
		if err != nil {
			t.Fatalf("could not wait for interrupts: %+v", err)
		}
		nt, err := dcc.AckInterrupt(ctx)
		if err != nil {
			t.Fatalf("could not acknowledge: %+v", err)
		}
		if nt.Bits == 0x801 {
			break
		}
		// the second delivery is still in flight, fold it in
		if nt.Bits != 0x001 {
			t.Fatalf("invalid interrupt bits: 0x%x", nt.Bits)
		}
		bus2 := nt.Bits
		err = dcc.Wait(wctx)
		if err != nil {
			t.Fatalf("could not wait for interrupts: %+v", err)
		}
		nt, err = dcc.AckInterrupt(ctx)
		if err != nil {
			t.Fatalf("could not acknowledge: %+v", err)
		}
		if bus2|nt.Bits != 0x801 {
			t.Fatalf("invalid accumulated bits: 0x%x", bus2|nt.Bits)
		}
		break
	}
}

func TestInterruptNotMine(t *testing.T) {
	ctx := context.Background()

	reg := NewRegistry(quiet())
	bus := newIRQBus(P201)
	dev, err := reg.Attach(bus)
	if err != nil {
		t.Fatalf("could not attach card: %+v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })

	dcc := openSession(t, dev)
	err = dcc.EnableInterrupts(ctx, 4)
	if err != nil {
		t.Fatalf("could not enable interrupts: %+v", err)
	}

	// no source bits: the interrupt belongs to somebody else on a
	// shared line
	bus.regions[BarRegs1].setReg32(RegCtrlIt, 0)
	if bus.fire() {
		t.Fatalf("device claimed a foreign interrupt")
	}

	// bits outside the valid source mask do not count either
	bus.regions[BarRegs1].setReg32(RegCtrlIt, ^dev.variant.itMask())
	if bus.fire() {
		t.Fatalf("device claimed masked-out interrupt bits")
	}

	if rd, _ := dcc.Ready(); rd {
		t.Fatalf("session readable without a notification")
	}
}

func TestWaitHangup(t *testing.T) {
	ctx := context.Background()

	reg := NewRegistry(quiet())
	bus := newIRQBus(P201)
	dev, err := reg.Attach(bus)
	if err != nil {
		t.Fatalf("could not attach card: %+v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })

	dcc := openSession(t, dev)

	// interrupts were never enabled
	err = dcc.Wait(ctx)
	if !errors.Is(err, ErrHangup) {
		t.Fatalf("expected ErrHangup, got: %+v", err)
	}
	if rd, hup := dcc.Ready(); rd || !hup {
		t.Fatalf("invalid readiness: rd=%v hup=%v", rd, hup)
	}

	err = dcc.EnableInterrupts(ctx, 4)
	if err != nil {
		t.Fatalf("could not enable interrupts: %+v", err)
	}
	if _, hup := dcc.Ready(); hup {
		t.Fatalf("session hung up while enabled")
	}

	// a blocked waiter observes the hang-up when interrupts go away
	errch := make(chan error, 1)
	go func() {
		wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		errch <- dcc.Wait(wctx)
	}()

	// give the waiter a chance to block, then pull the plug
	time.Sleep(10 * time.Millisecond)
	err = dcc.DisableInterrupts(ctx)
	if err != nil {
		t.Fatalf("could not disable interrupts: %+v", err)
	}

	err = <-errch
	if !errors.Is(err, ErrHangup) {
		t.Fatalf("expected ErrHangup from blocked waiter, got: %+v", err)
	}
}

func TestWaitInterrupted(t *testing.T) {
	reg := NewRegistry(quiet())
	bus := newIRQBus(P201)
	dev, err := reg.Attach(bus)
	if err != nil {
		t.Fatalf("could not attach card: %+v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })

	dcc := openSession(t, dev)
	err = dcc.EnableInterrupts(context.Background(), 4)
	if err != nil {
		t.Fatalf("could not enable interrupts: %+v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = dcc.Wait(ctx)
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("expected ErrInterrupted, got: %+v", err)
	}
}
