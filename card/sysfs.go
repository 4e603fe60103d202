// Copyright ©2024 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package card

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-daq/ct2/internal/mmap"
)

// SysfsRoot is where the kernel exposes PCI devices.
const SysfsRoot = "/sys/bus/pci/devices"

// sysfsBus drives a card through the sysfs PCI interface, mapping the
// BAR resource files into the process address space.
type sysfsBus struct {
	dir     string
	variant Variant
}

var _ Bus = (*sysfsBus)(nil)

// OpenSysfs opens the card sitting at the given sysfs device
// directory.
func OpenSysfs(dir string) (Bus, error) {
	vendor, err := sysfsHex(filepath.Join(dir, "vendor"))
	if err != nil {
		return nil, fmt.Errorf("ct2: could not read PCI vendor of %q: %w", dir, err)
	}
	if vendor != VendorID {
		return nil, fmt.Errorf("ct2: device %q has vendor 0x%04x, not a CT2 card", dir, vendor)
	}
	device, err := sysfsHex(filepath.Join(dir, "device"))
	if err != nil {
		return nil, fmt.Errorf("ct2: could not read PCI device-id of %q: %w", dir, err)
	}
	v, ok := VariantOf(uint32(device))
	if !ok {
		return nil, fmt.Errorf("ct2: device %q has unknown device-id 0x%04x", dir, device)
	}
	return &sysfsBus{dir: dir, variant: v}, nil
}

// ScanSysfs returns the sysfs directories of all CT2 cards under
// root, sorted by PCI address.  An empty root scans SysfsRoot.
func ScanSysfs(root string) ([]string, error) {
	if root == "" {
		root = SysfsRoot
	}
	ents, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("ct2: could not scan PCI bus %q: %w", root, err)
	}

	var dirs []string
	for _, ent := range ents {
		dir := filepath.Join(root, ent.Name())
		vendor, err := sysfsHex(filepath.Join(dir, "vendor"))
		if err != nil || vendor != VendorID {
			continue
		}
		device, err := sysfsHex(filepath.Join(dir, "device"))
		if err != nil {
			continue
		}
		if _, ok := VariantOf(uint32(device)); !ok {
			continue
		}
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	return dirs, nil
}

func (bus *sysfsBus) Variant() Variant { return bus.variant }

func (bus *sysfsBus) Enable() error {
	err := os.WriteFile(filepath.Join(bus.dir, "enable"), []byte("1"), 0644)
	if err != nil {
		return fmt.Errorf("ct2: could not enable device %q: %w", bus.dir, err)
	}
	return nil
}

func (bus *sysfsBus) Disable() {
	_ = os.WriteFile(filepath.Join(bus.dir, "enable"), []byte("0"), 0644)
}

func (bus *sysfsBus) Region(bar int) (Region, error) {
	if bar < 0 || bar >= NumBars {
		return nil, fmt.Errorf("ct2: invalid BAR index %d", bar)
	}
	fname := filepath.Join(bus.dir, fmt.Sprintf("resource%d", bar))
	ro := bar == BarFIFO

	flags := os.O_RDWR
	if ro {
		flags = os.O_RDONLY
	}
	f, err := os.OpenFile(fname, flags|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("ct2: could not open %q: %w", fname, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("ct2: could not stat %q: %w", fname, err)
	}

	h, err := mmap.Map(f, 0, int(fi.Size()), ro)
	if err != nil {
		return nil, fmt.Errorf("ct2: could not map BAR %d of %q: %w", bar, bus.dir, err)
	}
	return h, nil
}

func (bus *sysfsBus) Close() error { return nil }

func sysfsHex(fname string) (uint64, error) {
	raw, err := os.ReadFile(fname)
	if err != nil {
		return 0, err
	}
	str := strings.TrimSpace(string(raw))
	str = strings.TrimPrefix(str, "0x")
	v, err := strconv.ParseUint(str, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("could not parse %q: %w", fname, err)
	}
	return v, nil
}
