// Copyright © 2015-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package fclk controls the programmable logic reference clocks of
// ZynqMP based appliances: rate synthesis across each output clock's
// legal sources and divisor pairs, glitch safe reprogramming, and
// adoption of the clock tree published by each hardware image.
package fclk

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/platinasystems/goes/external/log"
)

// DefaultTolerance bounds the post verify relative deviation from the
// requested rate. Deviation beyond it is logged and reported as a
// warning, never an error.
const DefaultTolerance = 0.01

// Result reports what a Set actually programmed.
type Result struct {
	Target   float64
	Achieved float64
	RelErr   float64
	Config   Config
	Warning  bool
}

// Clocks drives the output clocks of one adopted Topology through a
// RegisterAccess. Methods are safe for concurrent use; each slot is
// its own critical section and a topology swap excludes everything.
type Clocks struct {
	Tolerance float64

	regs RegisterAccess

	mu    sync.RWMutex
	topo  *Topology
	slots map[int]*slotState
}

type slotState struct {
	sync.Mutex
	spec   *Slot
	cfg    Config // last known hardware state
	valid  bool   // cfg matches hardware
	def    Config // captured at adoption
	hasDef bool
}

// New validates t, adopts it, and returns a controller over regs.
func New(regs RegisterAccess, t *Topology) (*Clocks, error) {
	c := &Clocks{Tolerance: DefaultTolerance, regs: regs}
	if err := c.Adopt(t); err != nil {
		return nil, err
	}
	return c, nil
}

// Adopt atomically replaces the clock tree, normally on hardware image
// load. In flight operations drain first; each slot's live register
// state is then captured as its default for ResetAll. A slot that
// can't be read starts stale and without defaults.
func (c *Clocks) Adopt(t *Topology) error {
	if err := t.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	slots := make(map[int]*slotState, len(t.Slots))
	for i := range t.Slots {
		s := &t.Slots[i]
		st := &slotState{spec: s}
		if cfg, err := c.readConfig(s); err == nil {
			st.cfg, st.valid = cfg, true
			if cfg.Div0 >= 1 && cfg.Div1 >= 1 {
				st.def, st.hasDef = cfg, true
			}
		} else {
			log.Print("warning: ", s.Name,
				": defaults not captured: ", err)
		}
		slots[s.ID] = st
	}
	c.topo = t
	c.slots = slots
	return nil
}

// Topology returns the adopted clock tree. Callers must treat it as
// read only.
func (c *Clocks) Topology() *Topology {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topo
}

// Get returns the slot's current output rate in MHz, 0 when gated.
// It serves the cached config unless a hardware error left the cache
// stale, in which case it re-reads the registers first.
func (c *Clocks) Get(slotID int) (float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, err := c.slot(slotID)
	if err != nil {
		return 0, err
	}
	st.Lock()
	defer st.Unlock()
	if !st.valid {
		cfg, err := c.readConfig(st.spec)
		if err != nil {
			return 0, err
		}
		st.cfg, st.valid = cfg, true
	}
	return c.topo.MHz(st.cfg), nil
}

// Set programs slotID as close to mhz as the topology allows. The
// slot is gated before the mux or divisors change and re-gated after,
// so no intermediate rate ever reaches the fabric. Arguments are
// checked before the first write; an invalid request changes nothing.
// Post verify deviation beyond Tolerance sets Result.Warning instead
// of failing.
func (c *Clocks) Set(slotID int, mhz float64) (Result, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, err := c.slot(slotID)
	if err != nil {
		return Result{}, err
	}
	pick, err := c.topo.Pick(slotID, mhz)
	if err != nil {
		return Result{}, err
	}
	st.Lock()
	defer st.Unlock()
	res := Result{Target: mhz}
	cfg := Config{
		Pll:     pick.Pll,
		Div0:    pick.Div0,
		Div1:    pick.Div1,
		Enabled: true,
	}
	if err = c.apply(st, pick.Sel, cfg); err != nil {
		return res, err
	}
	got, err := c.readConfig(st.spec)
	if err != nil {
		st.valid = false
		return res, err
	}
	st.cfg, st.valid = got, true
	res.Config = got
	res.Achieved = c.topo.MHz(got)
	res.RelErr = math.Abs(res.Achieved-mhz) / mhz
	if res.RelErr > c.tolerance() {
		res.Warning = true
		log.Print("warning: ", st.spec.Name, ": requested ",
			FormatMHz(mhz), " MHz, achieved ",
			FormatMHz(res.Achieved), " MHz")
	}
	return res, nil
}

// Enable gates slotID on or off without reprogramming it.
func (c *Clocks) Enable(slotID int, on bool) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, err := c.slot(slotID)
	if err != nil {
		return err
	}
	st.Lock()
	defer st.Unlock()
	if err = c.writeField(st.spec.Reg, FieldEnable, bit(on)); err != nil {
		st.valid = false
		return err
	}
	if st.valid {
		st.cfg.Enabled = on
	}
	return nil
}

// Sync re-reads slotID from hardware, refreshes the cache, and returns
// the live config and rate. Pollers use it to notice writes made
// behind the controller's back.
func (c *Clocks) Sync(slotID int) (Config, float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, err := c.slot(slotID)
	if err != nil {
		return Config{}, 0, err
	}
	st.Lock()
	defer st.Unlock()
	cfg, err := c.readConfig(st.spec)
	if err != nil {
		st.valid = false
		return Config{}, 0, err
	}
	st.cfg, st.valid = cfg, true
	return cfg, c.topo.MHz(cfg), nil
}

// CPUMHz reads the current processor clock rate. It never writes.
func (c *Clocks) CPUMHz() (float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cpu := c.topo.CPU
	if cpu == nil {
		return 0, fmt.Errorf("%w: cpu", ErrUnknownClock)
	}
	div, err := c.readField(cpu.Reg, FieldDiv0)
	if err != nil {
		return 0, err
	}
	if div < 1 {
		return 0, fmt.Errorf("cpu clock: zero divisor")
	}
	return c.topo.Pll(cpu.Pll).MHz / float64(div), nil
}

// Locked reads pllID's lock bit. Sources without one report locked.
func (c *Clocks) Locked(pllID int) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p := c.topo.Pll(pllID)
	if p == nil {
		return false, fmt.Errorf("%w: pll %d", ErrUnknownClock, pllID)
	}
	if p.StatusReg == "" {
		return true, nil
	}
	v, err := c.readField(p.StatusReg, p.LockField)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// ResetAll re-applies the defaults captured at adoption, every slot in
// id order. It keeps going past a failed slot and returns the first
// error.
func (c *Clocks) ResetAll() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]int, 0, len(c.slots))
	for id := range c.slots {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	var first error
	for _, id := range ids {
		st := c.slots[id]
		if err := c.reset(st); err != nil {
			log.Print("err: ", st.spec.Name, ": reset: ", err)
			if first == nil {
				first = fmt.Errorf("%s: %w", st.spec.Name, err)
			}
		}
	}
	return first
}

func (c *Clocks) reset(st *slotState) error {
	st.Lock()
	defer st.Unlock()
	if !st.hasDef {
		return ErrNoDefault
	}
	sel, found := st.spec.selOf(st.def.Pll)
	if !found {
		return fmt.Errorf("pll %d: %w", st.def.Pll, ErrNoSource)
	}
	return c.apply(st, sel, st.def)
}

// apply runs the glitch safe write sequence for one slot: gate off,
// select the source, set both divisors, restore the gate. Callers hold
// the slot lock.
func (c *Clocks) apply(st *slotState, sel uint32, cfg Config) error {
	for _, w := range []struct {
		field string
		v     uint32
	}{
		{FieldEnable, 0},
		{FieldSrcSel, sel},
		{FieldDiv0, uint32(cfg.Div0)},
		{FieldDiv1, uint32(cfg.Div1)},
		{FieldEnable, bit(cfg.Enabled)},
	} {
		if err := c.writeField(st.spec.Reg, w.field, w.v); err != nil {
			st.valid = false
			return err
		}
	}
	st.cfg, st.valid = cfg, true
	return nil
}

func (c *Clocks) readConfig(s *Slot) (Config, error) {
	sel, err := c.readField(s.Reg, FieldSrcSel)
	if err != nil {
		return Config{}, err
	}
	d0, err := c.readField(s.Reg, FieldDiv0)
	if err != nil {
		return Config{}, err
	}
	d1, err := c.readField(s.Reg, FieldDiv1)
	if err != nil {
		return Config{}, err
	}
	en, err := c.readField(s.Reg, FieldEnable)
	if err != nil {
		return Config{}, err
	}
	src := s.sourceBySel(sel)
	if src == nil {
		return Config{}, fmt.Errorf("%s: srcsel %#x not in the legal set",
			s.Name, sel)
	}
	return Config{
		Pll:     src.Pll,
		Div0:    int(d0),
		Div1:    int(d1),
		Enabled: en != 0,
	}, nil
}

func (c *Clocks) slot(id int) (*slotState, error) {
	st, found := c.slots[id]
	if !found {
		return nil, fmt.Errorf("%w: %d", ErrUnknownClock, id)
	}
	return st, nil
}

func (c *Clocks) readField(reg, field string) (uint32, error) {
	v, err := c.regs.ReadField(reg, field)
	if err != nil {
		return 0, &IOError{Op: "read", Reg: reg, Field: field, Err: err}
	}
	return v, nil
}

func (c *Clocks) writeField(reg, field string, v uint32) error {
	if err := c.regs.WriteField(reg, field, v); err != nil {
		return &IOError{Op: "write", Reg: reg, Field: field, Err: err}
	}
	return nil
}

func (c *Clocks) tolerance() float64 {
	if c.Tolerance > 0 {
		return c.Tolerance
	}
	return DefaultTolerance
}

func bit(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// FormatMHz renders a rate the way everything downstream displays it,
// six decimal places.
func FormatMHz(mhz float64) string {
	return strconv.FormatFloat(mhz, 'f', 6, 64)
}
