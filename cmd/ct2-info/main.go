// Copyright ©2024 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command ct2-info lists the CT2 cards of the host and displays their
// registers.
package main // import "github.com/go-daq/ct2/cmd/ct2-info"

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/go-daq/ct2/card"
)

func main() {
	log.SetPrefix("ct2-info: ")
	log.SetFlags(0)

	var (
		root = flag.String("sysfs", card.SysfsRoot, "sysfs PCI devices directory to scan")
		regs = flag.Bool("regs", false, "dump the registers of each card")
	)

	flag.Parse()

	err := run(os.Stdout, *root, *regs)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(w *os.File, root string, regs bool) error {
	dirs, err := card.ScanSysfs(root)
	if err != nil {
		return fmt.Errorf("could not scan %q: %w", root, err)
	}
	if len(dirs) == 0 {
		return fmt.Errorf("no CT2 card found under %q", root)
	}

	reg := card.NewRegistry()
	defer reg.Close()

	for _, dir := range dirs {
		bus, err := card.OpenSysfs(dir)
		if err != nil {
			return fmt.Errorf("could not open card %q: %w", dir, err)
		}

		dev, err := reg.Attach(bus)
		if err != nil {
			return fmt.Errorf("could not attach card %q: %w", dir, err)
		}

		info := dev.Info()
		fmt.Fprintf(w, "=== %s ===\n", info.Name)
		fmt.Fprintf(w, "variant:    %v\n", info.Variant)
		fmt.Fprintf(w, "fifo:       %d bytes\n", info.FifoSize)
		fmt.Fprintf(w, "sessions:   %d\n", info.Sessions)
		fmt.Fprintf(w, "exclusive:  %v\n", info.Exclusive)
		fmt.Fprintf(w, "interrupts: %v (depth=%d, dropped=%d)\n",
			info.Interrupts, info.NotifyDepth, info.Dropped,
		)

		if regs {
			err = dev.DumpRegisters(w)
			if err != nil {
				return fmt.Errorf("could not dump registers of %q: %w", info.Name, err)
			}
		}
	}
	return nil
}
