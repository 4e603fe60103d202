// Copyright ©2024 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command ct2-tdaq starts a TDAQ server publishing the scalers of the
// CT2 cards of the host.
package main // import "github.com/go-daq/ct2/cmd/ct2-tdaq"

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/go-daq/ct2/card"
	"github.com/go-daq/ct2/conddb"
	"github.com/go-daq/ct2/daq"
	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
)

func main() {
	cmd := flags.New()

	log.SetPrefix("ct2-tdaq: ")
	log.SetFlags(0)

	var (
		root   = os.Getenv("CT2_SYSFS")
		dbname = os.Getenv("CT2_DB")
		preset = os.Getenv("CT2_PRESET")
	)
	if root == "" {
		root = card.SysfsRoot
	}

	scan := func() ([]card.Bus, error) {
		dirs, err := card.ScanSysfs(root)
		if err != nil {
			return nil, err
		}
		buses := make([]card.Bus, 0, len(dirs))
		for _, dir := range dirs {
			bus, err := card.OpenSysfs(dir)
			if err != nil {
				return nil, err
			}
			buses = append(buses, bus)
		}
		return buses, nil
	}

	opts := []daq.Option{
		daq.WithFreq(100 * time.Millisecond),
	}
	if dbname != "" {
		db, err := conddb.Open(dbname)
		if err != nil {
			log.Fatalf("could not open conditions db %q: %+v", dbname, err)
		}
		defer db.Close()
		opts = append(opts, daq.WithCondDB(db, preset))
	}

	dev := daq.New(cmd.Args[0], scan, opts...)

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/scalers", dev.Scalers)

	srv.RunHandle(dev.Run)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}
