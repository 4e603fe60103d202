// Copyright ©2024 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command ct2-daq runs a stand-alone CT2 acquisition and stores the
// latched counter values into scaler stream files.
package main // import "github.com/go-daq/ct2/cmd/ct2-daq"

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/go-daq/ct2/card"
	"github.com/go-daq/ct2/internal/scalers"
	"golang.org/x/sync/errgroup"
)

func main() {
	log.SetPrefix("ct2-daq: ")
	log.SetFlags(0)

	var (
		runnbr  = flag.Int("run", -1, "run number")
		timeout = flag.Duration("t", 0, "acquisition duration (0: until interrupted)")
		odir    = flag.String("o", ".", "output directory")
		root    = flag.String("sysfs", card.SysfsRoot, "sysfs PCI devices directory to scan")
	)

	flag.Parse()

	if *runnbr < 0 {
		log.Fatalf("invalid run number value")
	}

	err := run(*runnbr, *timeout, *odir, *root)
	if err != nil {
		log.Fatalf("could not run ct2-daq: %+v", err)
	}
}

func run(runnbr int, timeout time.Duration, odir, root string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

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
		_, err = reg.Attach(bus)
		if err != nil {
			return fmt.Errorf("could not attach card %q: %w", dir, err)
		}
	}

	grp, ctx := errgroup.WithContext(ctx)
	for _, dev := range reg.Devices() {
		dev := dev
		grp.Go(func() error {
			return acquire(ctx, dev, runnbr, odir)
		})
	}
	return grp.Wait()
}

func acquire(ctx context.Context, dev *card.Device, runnbr int, odir string) error {
	name := dev.Name()

	dcc, err := dev.Open()
	if err != nil {
		return fmt.Errorf("could not open session on %q: %w", name, err)
	}
	defer dcc.Close()

	err = dcc.Grant(ctx)
	if err != nil {
		return fmt.Errorf("could not take exclusive access on %q: %w", name, err)
	}

	err = dcc.Reset(ctx)
	if err != nil {
		return fmt.Errorf("could not reset %q: %w", name, err)
	}

	fname := filepath.Join(odir, fmt.Sprintf("%s_%06d.ct2s", name, runnbr))
	f, err := os.Create(fname)
	if err != nil {
		return fmt.Errorf("could not create output file %q: %w", fname, err)
	}
	defer f.Close()

	enc, err := scalers.NewEncoder(f, card.NumCounters)
	if err != nil {
		return fmt.Errorf("could not create scaler stream %q: %w", fname, err)
	}

	err = dcc.EnableInterrupts(ctx, 0)
	if err != nil {
		return fmt.Errorf("could not enable interrupts on %q: %w", name, err)
	}
	err = dcc.EnableCounters(ctx, 0xfff)
	if err != nil {
		return fmt.Errorf("could not enable counters on %q: %w", name, err)
	}
	err = dcc.StartCounters(ctx, 0xfff)
	if err != nil {
		return fmt.Errorf("could not start counters on %q: %w", name, err)
	}

	log.Printf("acquiring %q -> %q...", name, fname)
	n, err := loop(ctx, dcc, enc)
	log.Printf("acquiring %q... [done] (records=%d)", name, n)
	if err != nil {
		return err
	}

	stop := context.Background()
	err = dcc.StopCounters(stop, 0xfff)
	if err != nil {
		return fmt.Errorf("could not stop counters on %q: %w", name, err)
	}
	err = dcc.DisableInterrupts(stop)
	if err != nil {
		return fmt.Errorf("could not disable interrupts on %q: %w", name, err)
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("could not close output file %q: %w", fname, err)
	}
	return nil
}

func loop(ctx context.Context, dcc *card.DCC, enc *scalers.Encoder) (int, error) {
	name := dcc.Device().Name()
	for n := 0; ; n++ {
		err := dcc.Wait(ctx)
		switch {
		case errors.Is(err, card.ErrInterrupted):
			// acquisition window elapsed or ^C
			return n, nil
		case err != nil:
			return n, fmt.Errorf("could not wait for interrupts on %q: %w", name, err)
		}

		nt, err := dcc.AckInterrupt(ctx)
		if err != nil {
			return n, fmt.Errorf("could not acknowledge interrupts on %q: %w", name, err)
		}
		err = dcc.LatchCounters(ctx)
		if err != nil {
			return n, fmt.Errorf("could not latch counters on %q: %w", name, err)
		}
		vals, err := dcc.ReadLatches(ctx)
		if err != nil {
			return n, fmt.Errorf("could not read latches on %q: %w", name, err)
		}

		err = enc.Encode(&scalers.Record{
			Stamp:  nt.Stamp.UnixNano(),
			Bits:   nt.Bits,
			Values: vals,
		})
		if err != nil {
			return n, fmt.Errorf("could not encode scaler record for %q: %w", name, err)
		}
	}
}
