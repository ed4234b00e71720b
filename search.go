// Copyright © 2015-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package fclk

import (
	"fmt"
	"math"
)

// Pick is a divider search result: the source and divisor pair whose
// output lands closest to the requested rate.
type Pick struct {
	Pll    int
	Sel    uint32
	Div0   int
	Div1   int
	MHz    float64
	RelErr float64
}

// better orders candidates: smallest relative error, then the smaller
// divisor product, then the smaller first stage divisor, then the
// lowest pll id. The order is total, so the winner does not depend on
// enumeration order.
func better(a, b Pick) bool {
	if a.RelErr != b.RelErr {
		return a.RelErr < b.RelErr
	}
	if ap, bp := a.Div0*a.Div1, b.Div0*b.Div1; ap != bp {
		return ap < bp
	}
	if a.Div0 != b.Div0 {
		return a.Div0 < b.Div0
	}
	return a.Pll < b.Pll
}

// Pick tries every legal source and divisor combination of a slot and
// returns the closest match to mhz. It fails only on an unknown slot,
// a target that isn't positive and finite, or an empty source set;
// otherwise the worst case is a large relative error, never an error.
func (t *Topology) Pick(slotID int, mhz float64) (Pick, error) {
	s := t.Slot(slotID)
	if s == nil {
		return Pick{}, fmt.Errorf("%w: %d", ErrUnknownClock, slotID)
	}
	if math.IsNaN(mhz) || math.IsInf(mhz, 0) || mhz <= 0 {
		return Pick{}, fmt.Errorf("%w: %v MHz", ErrBadFrequency, mhz)
	}
	var best Pick
	none := true
	for _, src := range s.Sources {
		p := t.Pll(src.Pll)
		if p == nil {
			continue
		}
		for d0 := 1; d0 <= s.Div0Max; d0++ {
			for d1 := 1; d1 <= s.Div1Max; d1++ {
				f := p.MHz / float64(d0*d1)
				c := Pick{
					Pll:    src.Pll,
					Sel:    src.Sel,
					Div0:   d0,
					Div1:   d1,
					MHz:    f,
					RelErr: math.Abs(f-mhz) / mhz,
				}
				if none || better(c, best) {
					best, none = c, false
				}
			}
		}
	}
	if none {
		return Pick{}, fmt.Errorf("%s: %w", s.Name, ErrNoSource)
	}
	return best, nil
}
