// Copyright ©2024 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package card

import "errors"

var (
	// ErrPermission is returned when an operation needs the
	// exclusive-access token and another session holds it, or when
	// a mapping is requested with write or execute rights.
	ErrPermission = errors.New("ct2: permission denied")

	// ErrBounds is returned for accesses to undefined register
	// offsets and for mappings exceeding the FIFO extent.
	ErrBounds = errors.New("ct2: access out of bounds")

	// ErrBusy is returned when the current device state conflicts
	// with the request: revoking the token while the FIFO is
	// mapped, re-enabling interrupts with a different capacity,
	// resetting while interrupts are enabled, or closing a session
	// that still holds token and mapping.
	ErrBusy = errors.New("ct2: device busy")

	// ErrNoMem is returned when a non-blocking request cannot
	// allocate the storage it needs.
	ErrNoMem = errors.New("ct2: cannot allocate memory")

	// ErrInterrupted is returned when a wait is cancelled.
	ErrInterrupted = errors.New("ct2: interrupted")

	// ErrHangup is returned by Wait when the session is not
	// subscribed to the interrupt stream.
	ErrHangup = errors.New("ct2: interrupts disabled")

	// ErrNotImplemented is returned by the per-session
	// notification-queue operations.
	ErrNotImplemented = errors.New("ct2: not implemented")

	// ErrClosed is returned for operations on a closed session or
	// a detached device.
	ErrClosed = errors.New("ct2: closed")
)
