// Copyright ©2024 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package card

// Register file 1 offsets, in register units, shared by both variants
// unless noted otherwise.
const (
	RegComGene     = 0 // general command
	RegCtrlGene    = 1 // general control
	RegTemps       = 2 // temperature readings (C208 only)
	RegNiveauOut   = 3 // output levels
	RegAdapt50     = 4 // 50 ohm input adaptation
	RegSoftOut     = 5 // software-driven outputs
	RegRdInOut     = 6 // input/output readback
	RegRdCtrlCmpt  = 7 // counter control readback
	RegCmdDMA      = 8 // DMA command
	RegCtrlFifoDMA = 9 // FIFO/DMA control, read has side effects
	RegSourceIt    = 10
	NumSourceIt    = 2
	RegCtrlIt      = 12 // interrupt status, read clears it
	RegNiveauIn    = 13 // input levels (P201 only)
	RegRdCmpt      = 16 // counter values
	RegRdLatchCmpt = 28 // latched counter values
	RegTestP201    = 63 // P201 test register, read has side effects
)

// Register file 2 offsets, in register units relative to RegLen1.
const (
	RegSelFiltreInput     = 0
	NumSelFiltreInput     = 2
	RegSelFiltreOutC208   = 2
	NumSelFiltreOutC208   = 3
	RegSelFiltreOutP201   = 4
	RegSelSourceOutC208   = 5
	NumSelSourceOutC208   = 3
	RegSelSourceOutP201   = 7
	RegSelLatch           = 8
	NumSelLatch           = 6
	RegConfCmpt           = 14
	RegSoftEnableDisable  = 26
	RegSoftStartStop      = 27
	RegSoftLatch          = 28
	RegCompareCmpt        = 29
)

// Register values used by the device reset sequence.
const (
	adapt50MaskC208 = 0x00000fff
	adapt50MaskP201 = 0x000003ff

	srcOutMaskC208 = 0x7f7f7f7f
	srcOutMaskP201 = 0x00007f7f

	// One input filter channel spans 5 bits; the reset value selects
	// the synchronised filter mode (bit 3) for every channel.
	filtreInputChan  = 1 << 3
	filtreInput6Chan = filtreInputChan * 0x2108421 // channels 1..6
	filtreInput4Chan = filtreInputChan * 0x0008421 // channels 7..10

	// conf_cmpt clock source field reset: 100 MHz.
	confCmptClk100MHz = 0x5
)

type span struct {
	lo, hi int // flattened register offsets, inclusive
}

// f2 shifts a file-2-local span into the flattened address space.
func f2(lo, hi int) span {
	return span{lo + RegLen1, hi + RegLen1}
}

// readSpans returns the runs of readable registers of the flattened
// address space.  The interrupt status register is excluded: the
// hardware clears it on read, so it is only ever read by the
// interrupt path.
func (v Variant) readSpans(p201TestReg bool) []span {
	switch v {
	case C208:
		return []span{
			{0, 11}, {16, 39},
			f2(0, 25), f2(29, 40),
		}
	case P201:
		spans := []span{
			{0, 1}, {3, 11}, {13, 13}, {16, 39},
			f2(0, 1), f2(4, 4), f2(7, 25), f2(29, 40),
		}
		if p201TestReg {
			spans = append(spans, span{RegTestP201, RegTestP201})
		}
		return spans
	}
	return nil
}

// writeSpans returns the runs of writable registers of the flattened
// address space.
func (v Variant) writeSpans(p201TestReg bool) []span {
	switch v {
	case C208:
		return []span{
			{0, 0}, {3, 5}, {8, 8}, {10, 11},
			f2(0, 40),
		}
	case P201:
		spans := []span{
			{0, 0}, {3, 5}, {8, 8}, {10, 11}, {13, 13},
			f2(0, 1), f2(4, 4), f2(7, 40),
		}
		if p201TestReg {
			spans = append(spans, span{RegTestP201, RegTestP201})
		}
		return spans
	}
	return nil
}

// stateSpans returns the registers whose read changes the device
// state and is therefore gated like a write.
func (v Variant) stateSpans(p201TestReg bool) []span {
	spans := []span{{RegCtrlFifoDMA, RegCtrlFifoDMA}}
	if v == P201 && p201TestReg {
		spans = append(spans, span{RegTestP201, RegTestP201})
	}
	return spans
}
