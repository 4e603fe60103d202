// Copyright ©2024 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package card

// AccessTable maps a flattened register offset to the length of the
// longest run of contiguously accessible registers starting at that
// offset.  A zero entry marks an offset with no access rights.
type AccessTable struct {
	run [RegLen]uint8
}

// NewAccessTable builds a table from the given inclusive spans.
func NewAccessTable(spans []span) AccessTable {
	var tbl AccessTable
	for _, s := range spans {
		tbl.define(s.lo, s.hi)
	}
	return tbl
}

// define declares the registers [lo, hi] accessible.
func (tbl *AccessTable) define(lo, hi int) {
	for r := lo; r <= hi; r++ {
		tbl.run[r] = uint8(hi - r + 1)
	}
}

// Run returns the number of contiguously accessible registers
// starting at off, zero when off is undefined or out of range.
func (tbl *AccessTable) Run(off int64) int {
	if off < 0 || off >= RegLen {
		return 0
	}
	return int(tbl.run[off])
}

// accessTables groups the per-direction tables of one card.
type accessTables struct {
	rd    AccessTable
	wr    AccessTable
	state AccessTable // registers whose read changes device state
}

func newAccessTables(v Variant, p201TestReg bool) accessTables {
	return accessTables{
		rd:    NewAccessTable(v.readSpans(p201TestReg)),
		wr:    NewAccessTable(v.writeSpans(p201TestReg)),
		state: NewAccessTable(v.stateSpans(p201TestReg)),
	}
}

// touchesState reports whether reading the n registers starting at
// off touches a register with read side effects.
func (tbl *accessTables) touchesState(off int64, n int) bool {
	for r := off; r < off+int64(n); r++ {
		if tbl.state.Run(r) > 0 {
			return true
		}
	}
	return false
}
