// Copyright ©2024 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package card

import (
	"fmt"
	"io"
	"sync"
)

// FifoMapping is a read-only view of the card FIFO region.  While at
// least one mapping exists the exclusive-access token cannot be
// revoked and its holder cannot close.
type FifoMapping struct {
	dcc *DCC

	mu     sync.Mutex
	n      int
	closed bool
}

// MapFIFO maps the first n bytes of the card FIFO.  A zero n maps the
// whole region.  Only the current holder of the exclusive-access
// token may map; a request beyond the region extent is rejected.
func (dcc *DCC) MapFIFO(n int) (*FifoMapping, error) {
	dev := dcc.dev

	dev.mu.Lock()
	defer dev.mu.Unlock()

	ext := dev.FifoSize()
	switch {
	case dcc.closed:
		return nil, ErrClosed
	case dev.holder != dcc:
		return nil, fmt.Errorf("ct2: could not map FIFO of %q: %w", dev.name, ErrPermission)
	case n < 0 || n > ext:
		return nil, fmt.Errorf("ct2: could not map %d byte(s) of the %d-byte FIFO of %q: %w",
			n, ext, dev.name, ErrBounds,
		)
	}
	if n == 0 {
		n = ext
	}

	dev.fifoMaps++
	return &FifoMapping{dcc: dcc, n: n}, nil
}

// Len returns the size of the mapping in bytes.
func (m *FifoMapping) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.n
}

// ReadAt implements the io.ReaderAt interface over the mapped FIFO
// bytes.  The mapping is read-only.
func (m *FifoMapping) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}
	if off < 0 || off >= int64(m.n) {
		return 0, fmt.Errorf("ct2: invalid FIFO mapping offset %d: %w", off, ErrBounds)
	}
	if max := int64(m.n) - off; int64(len(p)) > max {
		p = p[:max]
	}
	n, err := m.dcc.dev.fifo.ReadAt(p, off)
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("ct2: could not read FIFO mapping: %w", err)
	}
	return n, nil
}

// Close unmaps the view, decrementing the device-wide mapping count.
func (m *FifoMapping) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	dev := m.dcc.dev
	dev.mu.Lock()
	dev.fifoMaps--
	dev.mu.Unlock()
	return nil
}

var _ io.ReaderAt = (*FifoMapping)(nil)
