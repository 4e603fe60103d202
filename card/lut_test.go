// Copyright ©2024 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package card

import (
	"fmt"
	"testing"
)

func TestAccessTableRuns(t *testing.T) {
	for _, tc := range []struct {
		variant Variant
		testReg bool
		dir     string
		off     int64
		want    int
	}{
		// C208 reads
		{C208, false, "rd", 0, 12},
		{C208, false, "rd", 11, 1},
		{C208, false, "rd", RegCtrlIt, 0},
		{C208, false, "rd", 13, 0},
		{C208, false, "rd", RegRdCmpt, 24},
		{C208, false, "rd", RegRdLatchCmpt, 12},
		{C208, false, "rd", 39, 1},
		{C208, false, "rd", 40, 0},
		{C208, false, "rd", RegLen1, 26},
		{C208, false, "rd", RegLen1 + 25, 1},
		{C208, false, "rd", RegLen1 + 26, 0},
		{C208, false, "rd", RegLen1 + 29, 12},
		{C208, false, "rd", RegLen1 + 40, 1},
		{C208, false, "rd", RegLen1 + 41, 0},

		// C208 writes
		{C208, false, "wr", 0, 1},
		{C208, false, "wr", 1, 0},
		{C208, false, "wr", RegNiveauOut, 3},
		{C208, false, "wr", RegCmdDMA, 1},
		{C208, false, "wr", RegSourceIt, 2},
		{C208, false, "wr", RegCtrlIt, 0},
		{C208, false, "wr", RegLen1, 41},
		{C208, false, "wr", RegLen1 + 40, 1},
		{C208, false, "wr", RegLen1 + 41, 0},

		// P201 reads
		{P201, false, "rd", 0, 2},
		{P201, false, "rd", RegTemps, 0},
		{P201, false, "rd", RegNiveauOut, 9},
		{P201, false, "rd", RegCtrlIt, 0},
		{P201, false, "rd", RegNiveauIn, 1},
		{P201, false, "rd", RegRdCmpt, 24},
		{P201, false, "rd", RegLen1, 2},
		{P201, false, "rd", RegLen1 + 2, 0},
		{P201, false, "rd", RegLen1 + RegSelFiltreOutP201, 1},
		{P201, false, "rd", RegLen1 + RegSelSourceOutP201, 19},
		{P201, false, "rd", RegLen1 + 29, 12},
		{P201, false, "rd", RegTestP201, 0},
		{P201, true, "rd", RegTestP201, 1},

		// P201 writes
		{P201, false, "wr", RegNiveauIn, 1},
		{P201, false, "wr", RegLen1 + RegSelSourceOutP201, 34},
		{P201, false, "wr", RegTestP201, 0},
		{P201, true, "wr", RegTestP201, 1},

		// out of range
		{C208, false, "rd", -1, 0},
		{C208, false, "rd", RegLen, 0},
	} {
		name := fmt.Sprintf("%v-%s-%d", tc.variant, tc.dir, tc.off)
		t.Run(name, func(t *testing.T) {
			tbls := newAccessTables(tc.variant, tc.testReg)
			tbl := &tbls.rd
			if tc.dir == "wr" {
				tbl = &tbls.wr
			}
			if got := tbl.Run(tc.off); got != tc.want {
				t.Fatalf("invalid run at 0x%02x: got=%d, want=%d", tc.off, got, tc.want)
			}
		})
	}
}

func TestAccessTableRunLaw(t *testing.T) {
	// Within one span the run shrinks by exactly one register per
	// offset, down to one at the last register of the span.
	tbls := newAccessTables(C208, false)
	for off := int64(RegRdCmpt); off <= 39; off++ {
		if got, want := tbls.rd.Run(off), int(39-off+1); got != want {
			t.Fatalf("invalid run at 0x%02x: got=%d, want=%d", off, got, want)
		}
	}
}

func TestTouchesState(t *testing.T) {
	for _, tc := range []struct {
		variant Variant
		testReg bool
		off     int64
		n       int
		want    bool
	}{
		{C208, false, RegCtrlFifoDMA, 1, true},
		{C208, false, RegCmdDMA, 2, true},
		{C208, false, 0, 9, false},
		{C208, false, 0, 10, true},
		{C208, false, RegRdCmpt, 24, false},
		{P201, false, RegTestP201, 1, false},
		{P201, true, RegTestP201, 1, true},
	} {
		tbls := newAccessTables(tc.variant, tc.testReg)
		got := tbls.touchesState(tc.off, tc.n)
		if got != tc.want {
			t.Errorf("%v: touchesState(0x%02x, %d): got=%v, want=%v",
				tc.variant, tc.off, tc.n, got, tc.want,
			)
		}
	}
}
