// Copyright ©2024 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package card

import "fmt"

// resetRegs drives the card registers to their power-up defaults.
// The order follows the card manual: interrupt sources first, then
// I/O configuration, then the counters, the general command register
// last.
func (dev *Device) resetRegs() error {
	w := regWriter{rs: &dev.rs}

	w.fill(RegSourceIt, NumSourceIt, 0)
	w.wr(RegNiveauOut, 0)

	switch dev.variant {
	case C208:
		w.wr(RegAdapt50, adapt50MaskC208)
		w.wrv(RegLen1+RegSelFiltreInput, []uint32{
			filtreInput6Chan,
			filtreInput6Chan,
		})
		w.fill(RegLen1+RegSelFiltreOutC208, NumSelFiltreOutC208, 0)
		w.fill(RegLen1+RegSelSourceOutC208, NumSelSourceOutC208, srcOutMaskC208)
	case P201:
		w.wr(RegAdapt50, adapt50MaskP201)
		w.wrv(RegLen1+RegSelFiltreInput, []uint32{
			filtreInput6Chan,
			filtreInput4Chan,
		})
		w.wr(RegNiveauIn, 0)
		w.wr(RegLen1+RegSelFiltreOutP201, 0)
		w.wr(RegLen1+RegSelSourceOutP201, srcOutMaskP201)
	}

	w.wr(RegSoftOut, 0)
	w.wr(RegCmdDMA, 0)
	w.fill(RegLen1+RegConfCmpt, NumCounters, confCmptClk100MHz)
	w.fill(RegLen1+RegSelLatch, NumSelLatch, 0)
	w.fill(RegLen1+RegCompareCmpt, NumCounters, 0)
	w.wr(RegComGene, 0)

	if w.err != nil {
		return fmt.Errorf("ct2: could not reset registers of %v card: %w", dev.variant, w.err)
	}
	return nil
}
