// Copyright ©2024 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package card

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeSysfsDev(t *testing.T, root, name string, vendor, device uint32) string {
	t.Helper()

	dir := filepath.Join(root, name)
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		t.Fatalf("could not create sysfs device dir: %+v", err)
	}

	for fname, v := range map[string]uint32{
		"vendor": vendor,
		"device": device,
	} {
		err = os.WriteFile(filepath.Join(dir, fname), []byte(fmt.Sprintf("0x%04x\n", v)), 0644)
		if err != nil {
			t.Fatalf("could not create sysfs %s file: %+v", fname, err)
		}
	}

	for bar := 0; bar < NumBars; bar++ {
		size := RegLen1 * RegSize
		if bar == BarFIFO {
			size = FifoLen * RegSize
		}
		err = os.WriteFile(
			filepath.Join(dir, fmt.Sprintf("resource%d", bar)),
			make([]byte, size), 0644,
		)
		if err != nil {
			t.Fatalf("could not create sysfs resource file: %+v", err)
		}
	}
	return dir
}

func TestScanSysfs(t *testing.T) {
	root := t.TempDir()

	p201 := writeSysfsDev(t, root, "0000:01:00.0", VendorID, DeviceIDP201)
	c208 := writeSysfsDev(t, root, "0000:02:00.0", VendorID, DeviceIDC208)
	writeSysfsDev(t, root, "0000:03:00.0", 0x8086, 0x1234)   // foreign vendor
	writeSysfsDev(t, root, "0000:04:00.0", VendorID, 0xbeef) // unknown device

	err := os.MkdirAll(filepath.Join(root, "0000:05:00.0"), 0755) // no attributes
	if err != nil {
		t.Fatalf("could not create empty device dir: %+v", err)
	}

	dirs, err := ScanSysfs(root)
	if err != nil {
		t.Fatalf("could not scan sysfs: %+v", err)
	}
	// sorted by PCI address
	if want := []string{p201, c208}; !reflect.DeepEqual(dirs, want) {
		t.Fatalf("invalid scan result:\ngot= %v\nwant=%v", dirs, want)
	}

	_, err = ScanSysfs(filepath.Join(root, "does-not-exist"))
	if err == nil {
		t.Fatalf("expected an error scanning a missing directory")
	}
}

func TestOpenSysfs(t *testing.T) {
	root := t.TempDir()

	dir := writeSysfsDev(t, root, "0000:01:00.0", VendorID, DeviceIDC208)
	bus, err := OpenSysfs(dir)
	if err != nil {
		t.Fatalf("could not open sysfs device: %+v", err)
	}
	if got, want := bus.Variant(), C208; got != want {
		t.Fatalf("invalid variant: got=%v, want=%v", got, want)
	}

	foreign := writeSysfsDev(t, root, "0000:02:00.0", 0x8086, 0x1234)
	_, err = OpenSysfs(foreign)
	if err == nil || !strings.Contains(err.Error(), "not a CT2 card") {
		t.Fatalf("expected a vendor error, got: %+v", err)
	}

	unknown := writeSysfsDev(t, root, "0000:03:00.0", VendorID, 0xbeef)
	_, err = OpenSysfs(unknown)
	if err == nil || !strings.Contains(err.Error(), "unknown device-id") {
		t.Fatalf("expected a device-id error, got: %+v", err)
	}
}

func TestSysfsAttach(t *testing.T) {
	root := t.TempDir()
	dir := writeSysfsDev(t, root, "0000:01:00.0", VendorID, DeviceIDP201)

	bus, err := OpenSysfs(dir)
	if err != nil {
		t.Fatalf("could not open sysfs device: %+v", err)
	}

	reg := NewRegistry(quiet())
	dev, err := reg.Attach(bus)
	if err != nil {
		t.Fatalf("could not attach card: %+v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "enable"))
	if err != nil || string(raw) != "1" {
		t.Fatalf("device not enabled: raw=%q err=%+v", raw, err)
	}

	if got, want := dev.FifoSize(), FifoLen*RegSize; got != want {
		t.Fatalf("invalid FIFO size: got=%d, want=%d", got, want)
	}

	// the reset sequence went through the mapped registers
	buf := new(strings.Builder)
	err = dev.DumpRegisters(buf)
	if err != nil {
		t.Fatalf("could not dump registers: %+v", err)
	}
	if !strings.Contains(buf.String(), fmt.Sprintf("0x%02x: 0x%08x", RegAdapt50, adapt50MaskP201)) {
		t.Fatalf("reset values not visible through the mapping:\n%s", buf.String())
	}

	err = dev.Close()
	if err != nil {
		t.Fatalf("could not close device: %+v", err)
	}
	raw, err = os.ReadFile(filepath.Join(dir, "enable"))
	if err != nil || string(raw) != "0" {
		t.Fatalf("device not disabled: raw=%q err=%+v", raw, err)
	}
}
