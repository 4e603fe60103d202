// Copyright ©2024 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package conddb

import "fmt"

// Counter is the stored configuration of one counter channel of a
// CT2 card.
type Counter struct {
	Channel int    `json:"channel"` // counter channel, 1-based
	Conf    uint32 `json:"conf"`    // counter configuration register value
	Compare uint32 `json:"cmp"`     // compare register value
	Latch   uint32 `json:"latch"`   // latch source mask for the channel
}

func (cnt Counter) String() string {
	return fmt.Sprintf("counter{ch: %d, conf: 0x%08x, cmp: 0x%08x, latch: 0x%03x}",
		cnt.Channel, cnt.Conf, cnt.Compare, cnt.Latch,
	)
}
