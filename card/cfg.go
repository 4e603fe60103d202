// Copyright ©2024 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package card

import (
	"context"
	"fmt"

	"github.com/go-daq/ct2/conddb"
)

// ApplyCounters configures the counter channels of the card from a
// conditions-database preset.  The session needs to pass the
// exclusive-access check, like any other register write.
func (dcc *DCC) ApplyCounters(ctx context.Context, counters []conddb.Counter) error {
	latch := make([]uint32, NumSelLatch)

	for _, cnt := range counters {
		ch := cnt.Channel
		if ch < 1 || ch > NumCounters {
			return fmt.Errorf("ct2: invalid counter channel %d", ch)
		}
		off := int64(ch - 1)

		_, err := dcc.WriteRegs(ctx, int64(RegLen1+RegConfCmpt)+off, []uint32{cnt.Conf})
		if err != nil {
			return fmt.Errorf("ct2: could not configure counter %d: %w", ch, err)
		}

		_, err = dcc.WriteRegs(ctx, int64(RegLen1+RegCompareCmpt)+off, []uint32{cnt.Compare})
		if err != nil {
			return fmt.Errorf("ct2: could not set compare value of counter %d: %w", ch, err)
		}

		// Each latch-source register carries two channels, one per
		// 16-bit half.
		latch[(ch-1)/2] |= cnt.Latch << (16 * uint((ch-1)%2))
	}

	_, err := dcc.WriteRegs(ctx, int64(RegLen1+RegSelLatch), latch)
	if err != nil {
		return fmt.Errorf("ct2: could not set latch sources: %w", err)
	}
	return nil
}
