// Copyright ©2024 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command ct2-sh provides an interactive shell to poke at a CT2 card.
package main // import "github.com/go-daq/ct2/cmd/ct2-sh"

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/go-daq/ct2/card"
	"github.com/peterh/liner"
)

func main() {
	log.SetPrefix("ct2-sh: ")
	log.SetFlags(0)

	var (
		root = flag.String("sysfs", card.SysfsRoot, "sysfs PCI devices directory to scan")
		name = flag.String("dev", "", "name of the card to drive (default: first one)")
	)

	flag.Parse()

	err := run(*root, *name)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(root, name string) error {
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

	dev, ok := reg.Device(name)
	if !ok {
		return fmt.Errorf("no card named %q", name)
	}

	dcc, err := dev.Open()
	if err != nil {
		return fmt.Errorf("could not open session on %q: %w", name, err)
	}
	defer dcc.Close()

	sh := shell{dcc: dcc, w: os.Stdout}
	return sh.loop(name)
}

type shell struct {
	dcc *card.DCC
	w   io.Writer
}

func (sh *shell) loop(name string) error {
	term := liner.NewLiner()
	defer term.Close()
	term.SetCtrlCAborts(true)

	for {
		line, err := term.Prompt(name + "> ")
		switch {
		case err == io.EOF || err == liner.ErrPromptAborted:
			fmt.Fprintf(sh.w, "\n")
			return nil
		case err != nil:
			return fmt.Errorf("could not read command: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		term.AppendHistory(line)

		quit, err := sh.dispatch(strings.Fields(line))
		if err != nil {
			fmt.Fprintf(sh.w, "error: %+v\n", err)
		}
		if quit {
			return nil
		}
	}
}

func (sh *shell) dispatch(args []string) (bool, error) {
	ctx := context.Background()
	cmd, args := args[0], args[1:]

	switch cmd {
	case "quit", "exit":
		return true, nil

	case "help":
		fmt.Fprint(sh.w, `commands:
  grant              take exclusive access
  revoke             release exclusive access
  reset              reset the card registers
  enable [depth]     enable interrupts
  disable            disable interrupts
  ack                acknowledge accumulated interrupts
  read OFF [N]       read N registers at OFF
  write OFF V...     write values at OFF
  latch              latch all counters
  counters           read the latched counters
  start [MASK]       enable+start counters
  stop [MASK]        stop+disable counters
  info               display the card state
  quit               leave the shell
`)
		return false, nil

	case "grant":
		return false, sh.dcc.Grant(ctx)

	case "revoke":
		return false, sh.dcc.Revoke(ctx)

	case "reset":
		return false, sh.dcc.Reset(ctx)

	case "enable":
		depth := 0
		if len(args) > 0 {
			v, err := parseU32(args[0])
			if err != nil {
				return false, err
			}
			depth = int(v)
		}
		return false, sh.dcc.EnableInterrupts(ctx, depth)

	case "disable":
		return false, sh.dcc.DisableInterrupts(ctx)

	case "ack":
		nt, err := sh.dcc.AckInterrupt(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(sh.w, "bits=0x%08x stamp=%v\n", nt.Bits, nt.Stamp)
		return false, nil

	case "read":
		if len(args) < 1 {
			return false, fmt.Errorf("missing register offset")
		}
		off, err := parseU32(args[0])
		if err != nil {
			return false, err
		}
		n := 1
		if len(args) > 1 {
			v, err := parseU32(args[1])
			if err != nil {
				return false, err
			}
			n = int(v)
		}
		dst := make([]uint32, n)
		n, err = sh.dcc.ReadRegs(ctx, int64(off), dst)
		if err != nil {
			return false, err
		}
		for i, v := range dst[:n] {
			fmt.Fprintf(sh.w, "reg[%3d] = 0x%08x\n", int(off)+i, v)
		}
		return false, nil

	case "write":
		if len(args) < 2 {
			return false, fmt.Errorf("missing register offset or value")
		}
		off, err := parseU32(args[0])
		if err != nil {
			return false, err
		}
		src := make([]uint32, 0, len(args)-1)
		for _, arg := range args[1:] {
			v, err := parseU32(arg)
			if err != nil {
				return false, err
			}
			src = append(src, v)
		}
		n, err := sh.dcc.WriteRegs(ctx, int64(off), src)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(sh.w, "wrote %d register(s)\n", n)
		return false, nil

	case "latch":
		return false, sh.dcc.LatchCounters(ctx)

	case "counters":
		vals, err := sh.dcc.ReadLatches(ctx)
		if err != nil {
			return false, err
		}
		for i, v := range vals {
			fmt.Fprintf(sh.w, "counter[%2d] = %d\n", i+1, v)
		}
		return false, nil

	case "start":
		mask, err := maskOf(args)
		if err != nil {
			return false, err
		}
		err = sh.dcc.EnableCounters(ctx, mask)
		if err != nil {
			return false, err
		}
		return false, sh.dcc.StartCounters(ctx, mask)

	case "stop":
		mask, err := maskOf(args)
		if err != nil {
			return false, err
		}
		err = sh.dcc.StopCounters(ctx, mask)
		if err != nil {
			return false, err
		}
		return false, sh.dcc.DisableCounters(ctx, mask)

	case "info":
		info := sh.dcc.Device().Info()
		fmt.Fprintf(sh.w, "%s: variant=%v sessions=%d exclusive=%v interrupts=%v\n",
			info.Name, info.Variant, info.Sessions, info.Exclusive, info.Interrupts,
		)
		return false, nil

	default:
		return false, fmt.Errorf("unknown command %q (try \"help\")", cmd)
	}
}

func maskOf(args []string) (uint32, error) {
	if len(args) == 0 {
		return 0xfff, nil
	}
	return parseU32(args[0])
}

func parseU32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q: %w", s, err)
	}
	return uint32(v), nil
}
