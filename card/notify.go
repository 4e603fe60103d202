// Copyright ©2024 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package card

import (
	"sync"
	"time"
)

// Notification is one interrupt snapshot: the source bits read from
// the interrupt status register and the time they were captured.
type Notification struct {
	Bits  uint32
	Stamp time.Time
}

// notifyFIFO is the bounded queue between the interrupt top half and
// the distribution worker.  The producer never blocks: entries are
// dropped when the queue is full.
type notifyFIFO struct {
	mu    sync.Mutex
	buf   []Notification
	head  int
	n     int
	drops uint64
}

// reset installs buf as the queue storage, discarding any content.
// A nil buf disables the queue.
func (q *notifyFIFO) reset(buf []Notification) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.buf = buf
	q.head = 0
	q.n = 0
}

func (q *notifyFIFO) capacity() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// push appends nt, dropping it when the queue is full or disabled.
func (q *notifyFIFO) push(nt Notification) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.n == len(q.buf) {
		q.drops++
		return false
	}
	q.buf[(q.head+q.n)%len(q.buf)] = nt
	q.n++
	return true
}

func (q *notifyFIFO) pop() (Notification, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.n == 0 {
		return Notification{}, false
	}
	nt := q.buf[q.head]
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	return nt, true
}

func (q *notifyFIFO) dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drops
}

// pipeline carries interrupt notifications from the card to the
// subscribed sessions.
type pipeline struct {
	fifo    notifyFIFO
	enabled bool // guarded by the device session mutex
	depth   int

	wake chan struct{} // schedules the distribution worker
	stop chan int
}

// Interrupt is the interrupt top half.  It snapshots the interrupt
// status register, which the hardware clears on read, masks it to the
// valid source bits and queues the result for distribution.  It never
// blocks and reports whether the interrupt came from this card, so
// that a shared line can pass it on.
func (dev *Device) Interrupt() bool {
	bits := dev.rs.irqStatus() & dev.variant.itMask()
	if bits == 0 {
		return false
	}

	dev.pl.fifo.push(Notification{Bits: bits, Stamp: time.Now()})
	select {
	case dev.pl.wake <- struct{}{}:
	default:
	}
	return true
}

// startNotify spawns the distribution worker, the deferred half of
// the interrupt pipeline.
func (dev *Device) startNotify() error {
	dev.pl.wake = make(chan struct{}, 1)
	dev.pl.stop = make(chan int)
	go dev.distribute()
	return nil
}

func (dev *Device) stopNotify() {
	dev.pl.stop <- 1
	<-dev.pl.stop
}

func (dev *Device) distribute() {
	for {
		select {
		case <-dev.pl.stop:
			dev.fanout()
			dev.pl.stop <- 1
			return
		case <-dev.pl.wake:
			dev.fanout()
		}
	}
}

// fanout drains the notification queue, folding each entry into every
// subscribed session.
func (dev *Device) fanout() {
	for {
		nt, ok := dev.pl.fifo.pop()
		if !ok {
			return
		}

		dev.mu.Lock()
		for dcc := range dev.dccs {
			if !dcc.subscribed {
				continue
			}
			dcc.acc |= nt.Bits
			dcc.stamp = nt.Stamp
			dcc.notify()
		}
		dev.mu.Unlock()
	}
}
