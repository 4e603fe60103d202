// Copyright ©2024 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command ct2-csv converts CT2 scaler stream files to CSV.
//
// Usage: ct2-csv [OPTIONS] FILE1 [FILE2 [FILE3 ...]]
//
// Example:
//
//	$> ct2-csv ./p201-0_000042.ct2s
//	$> ct2-csv -suffix .txt ./p201-0_000042.ct2s
package main // import "github.com/go-daq/ct2/cmd/ct2-csv"

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/go-daq/ct2/internal/scalers"
	"github.com/go-daq/ct2/internal/xcnv"
)

func main() {
	log.SetPrefix("ct2-csv: ")
	log.SetFlags(0)

	suffix := flag.String("suffix", ".csv", "suffix of the output file names")

	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		log.Fatalf("missing input file(s)")
	}

	for _, fname := range flag.Args() {
		err := process(fname, *suffix)
		if err != nil {
			log.Fatalf("could not convert %q: %+v", fname, err)
		}
	}
}

func process(fname, suffix string) error {
	f, err := os.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open scaler stream: %w", err)
	}
	defer f.Close()

	dec, err := scalers.NewDecoder(f)
	if err != nil {
		return fmt.Errorf("could not decode scaler stream: %w", err)
	}

	oname := strings.TrimSuffix(fname, ".ct2s") + suffix
	log.Printf("%s -> %s...", fname, oname)
	return xcnv.ToCSV(oname, dec)
}
