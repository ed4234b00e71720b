// Copyright © 2015-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package fclk

import "fmt"

// Pll is a fixed rate clock source. StatusReg and LockField name the
// readable lock bit; both are empty for sources without one, e.g. a
// crystal.
type Pll struct {
	ID        int
	Name      string
	MHz       float64
	StatusReg string
	LockField string
}

// Source is one legal mux input of a Slot: the Pll it routes and the
// select encoding that picks it in the slot's control register.
type Source struct {
	Pll int
	Sel uint32
}

// Slot is one programmable output clock. Both divisors range over
// [1, max].
type Slot struct {
	ID      int
	Name    string
	Reg     string
	Sources []Source
	Div0Max int
	Div1Max int
}

// Config is the programmed state of a Slot.
type Config struct {
	Pll     int
	Div0    int
	Div1    int
	Enabled bool
}

// CPUClock locates the processor clock: a Pll divided by the DIVISOR0
// field of Reg.
type CPUClock struct {
	Pll int
	Reg string
}

// Topology is the clock tree published by one hardware image.
type Topology struct {
	Plls  []Pll
	Slots []Slot
	CPU   *CPUClock
}

// Pll returns the source with the given id, nil if absent.
func (t *Topology) Pll(id int) *Pll {
	for i := range t.Plls {
		if t.Plls[i].ID == id {
			return &t.Plls[i]
		}
	}
	return nil
}

// Slot returns the output clock with the given id, nil if absent.
func (t *Topology) Slot(id int) *Slot {
	for i := range t.Slots {
		if t.Slots[i].ID == id {
			return &t.Slots[i]
		}
	}
	return nil
}

// MHz is the output rate of a slot programmed with cfg, 0 when gated
// or nonsense.
func (t *Topology) MHz(cfg Config) float64 {
	if !cfg.Enabled || cfg.Div0 < 1 || cfg.Div1 < 1 {
		return 0
	}
	p := t.Pll(cfg.Pll)
	if p == nil {
		return 0
	}
	return p.MHz / float64(cfg.Div0*cfg.Div1)
}

// Validate rejects trees the controller can't drive. An empty source
// set is legal here; it surfaces as ErrNoSource from the search.
func (t *Topology) Validate() error {
	plls := make(map[int]bool)
	for i := range t.Plls {
		p := &t.Plls[i]
		if plls[p.ID] {
			return fmt.Errorf("pll %s: duplicate id %d", p.Name, p.ID)
		}
		plls[p.ID] = true
		if p.MHz <= 0 {
			return fmt.Errorf("pll %s: bad rate %s MHz",
				p.Name, FormatMHz(p.MHz))
		}
	}
	slots := make(map[int]bool)
	for i := range t.Slots {
		s := &t.Slots[i]
		if slots[s.ID] {
			return fmt.Errorf("%s: duplicate id %d", s.Name, s.ID)
		}
		slots[s.ID] = true
		if s.Reg == "" {
			return fmt.Errorf("%s: no control register", s.Name)
		}
		if s.Div0Max < 1 || s.Div1Max < 1 {
			return fmt.Errorf("%s: bad divisor range %d,%d",
				s.Name, s.Div0Max, s.Div1Max)
		}
		for _, src := range s.Sources {
			if t.Pll(src.Pll) == nil {
				return fmt.Errorf("%s: unknown pll %d",
					s.Name, src.Pll)
			}
		}
	}
	if t.CPU != nil {
		if t.Pll(t.CPU.Pll) == nil {
			return fmt.Errorf("cpu clock: unknown pll %d", t.CPU.Pll)
		}
		if t.CPU.Reg == "" {
			return fmt.Errorf("cpu clock: no register")
		}
	}
	return nil
}

func (s *Slot) sourceBySel(sel uint32) *Source {
	for i := range s.Sources {
		if s.Sources[i].Sel == sel {
			return &s.Sources[i]
		}
	}
	return nil
}

func (s *Slot) selOf(pll int) (uint32, bool) {
	for i := range s.Sources {
		if s.Sources[i].Pll == pll {
			return s.Sources[i].Sel, true
		}
	}
	return 0, false
}
