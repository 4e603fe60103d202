// Copyright ©2024 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command ct2-srv exposes a CT2 card over a JSON/TCP control link.
package main // import "github.com/go-daq/ct2/cmd/ct2-srv"

import (
	"flag"
	"fmt"
	"log"

	"github.com/go-daq/ct2/card"
)

func main() {
	log.SetPrefix("ct2-srv: ")
	log.SetFlags(0)

	var (
		addr = flag.String("addr", ":8877", "[ip]:port to listen on")
		root = flag.String("sysfs", card.SysfsRoot, "sysfs PCI devices directory to scan")
		name = flag.String("dev", "", "name of the card to serve (default: first one)")
	)

	flag.Parse()

	err := run(*addr, *root, *name)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(addr, root, name string) error {
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
		if name == "" {
			name = dev.Name()
		}
	}

	log.Printf("serving %q on %q...", name, addr)
	return card.Serve(addr, reg, name)
}
