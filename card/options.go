// Copyright ©2024 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package card

import (
	"log"
	"os"
)

type config struct {
	msg         *log.Logger
	fw          FirmwareLoader
	p201TestReg bool
	notifyDepth int
}

func newConfig() *config {
	return &config{
		msg:         log.New(os.Stdout, "ct2: ", 0),
		notifyDepth: DefaultNotifyDepth,
	}
}

// Option configures a Registry or a Device.
type Option func(*config)

// WithLogger sets the logger messages are sent to.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithFirmware sets the loader used to program the card FPGA during
// attach.
func WithFirmware(fw FirmwareLoader) Option {
	return func(cfg *config) {
		cfg.fw = fw
	}
}

// WithP201TestRegister exposes the P201 test register through the
// register access tables.  Reading it changes the device state, so it
// stays hidden by default.
func WithP201TestRegister(on bool) Option {
	return func(cfg *config) {
		cfg.p201TestReg = on
	}
}

// WithNotifyDepth sets the notification queue capacity used when an
// interrupt enable does not request one explicitly.
func WithNotifyDepth(n int) Option {
	return func(cfg *config) {
		cfg.notifyDepth = n
	}
}
