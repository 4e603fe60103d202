// Copyright ©2024 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package xcnv converts CT2 scaler streams to other formats.
package xcnv // import "github.com/go-daq/ct2/internal/xcnv"

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-daq/ct2/internal/scalers"
	"go-hep.org/x/hep/csvutil"
)

// ToCSV converts the scaler stream behind dec to a CSV file.
func ToCSV(oname string, dec *scalers.Decoder) error {
	tbl, err := csvutil.Create(oname)
	if err != nil {
		return fmt.Errorf("xcnv: could not create CSV file %q: %w", oname, err)
	}
	defer tbl.Close()
	tbl.Writer.Comma = ';'

	cols := make([]string, 0, 2+int(dec.Header().Counters))
	cols = append(cols, "stamp", "bits")
	for i := 0; i < int(dec.Header().Counters); i++ {
		cols = append(cols, fmt.Sprintf("c%02d", i+1))
	}
	err = tbl.WriteHeader("# " + strings.Join(cols, ";") + "\n")
	if err != nil {
		return fmt.Errorf("xcnv: could not write CSV header: %w", err)
	}

	var (
		rec scalers.Record
		i   int
	)
	for {
		err = dec.Decode(&rec)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("xcnv: could not decode record %d: %w", i, err)
		}

		args := make([]interface{}, 0, len(cols))
		args = append(args, rec.Stamp, rec.Bits)
		for _, v := range rec.Values {
			args = append(args, v)
		}
		err = tbl.WriteRow(args...)
		if err != nil {
			return fmt.Errorf("xcnv: could not write CSV row %d: %w", i, err)
		}
		i++
	}

	err = tbl.Close()
	if err != nil {
		return fmt.Errorf("xcnv: could not close CSV file %q: %w", oname, err)
	}
	return nil
}
