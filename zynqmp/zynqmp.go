// Copyright © 2015-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package zynqmp maps the ZynqMP PS clock blocks through /dev/mem and
// serves them to the fclk controller by register and field name.
package zynqmp

import (
	"fmt"
	"os"
	"sync"
	"time"
	"unsafe"

	"github.com/edsrzf/mmap-go"
	"github.com/jpillora/backoff"
	"github.com/platinasystems/fclk"
)

const DevMem = "/dev/mem"

// Regs is a window over CRL_APB and CRF_APB. It implements
// fclk.RegisterAccess; the mutex serializes read-modify-write cycles.
type Regs struct {
	mutex  sync.Mutex
	file   *os.File
	crlMem mmap.MMap
	crfMem mmap.MMap
	byName map[string]*reg32
}

// New maps both clock blocks.
func New() (*Regs, error) {
	f, err := os.OpenFile(DevMem, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, err
	}
	r := &Regs{file: f}
	r.crlMem, err = mmap.MapRegion(f, winSize, mmap.RDWR, 0, crlBase)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("map crl_apb: %v", err)
	}
	r.crfMem, err = mmap.MapRegion(f, winSize, mmap.RDWR, 0, crfBase)
	if err != nil {
		r.crlMem.Unmap()
		f.Close()
		return nil, fmt.Errorf("map crf_apb: %v", err)
	}
	l := (*crl)(unsafe.Pointer(&r.crlMem[0]))
	h := (*crf)(unsafe.Pointer(&r.crfMem[0]))
	r.byName = map[string]*reg32{
		"IOPLL_CTRL":       &l.ioPllCtrl,
		"RPLL_CTRL":        &l.rPllCtrl,
		"PLL_STATUS":       &l.pllStatus,
		"PL0_REF_CTRL":     &l.plRefCtrl[0],
		"PL1_REF_CTRL":     &l.plRefCtrl[1],
		"PL2_REF_CTRL":     &l.plRefCtrl[2],
		"PL3_REF_CTRL":     &l.plRefCtrl[3],
		"APLL_CTRL":        &h.aPllCtrl,
		"DPLL_CTRL":        &h.dPllCtrl,
		"CRF_PLL_STATUS":   &h.pllStatus,
		"DPLL_TO_LPD_CTRL": &h.dPllToLpdCtrl,
		"ACPU_CTRL":        &h.acpuCtrl,
	}
	return r, nil
}

func (r *Regs) Close() error {
	err := r.crlMem.Unmap()
	if e := r.crfMem.Unmap(); err == nil {
		err = e
	}
	if e := r.file.Close(); err == nil {
		err = e
	}
	return err
}

func (r *Regs) find(reg, fld string) (*reg32, field, error) {
	p, found := r.byName[reg]
	if !found {
		return nil, field{}, fmt.Errorf("%s: unknown register", reg)
	}
	f, found := fields[reg][fld]
	if !found {
		return nil, field{}, fmt.Errorf("%s.%s: unknown field", reg, fld)
	}
	return p, f, nil
}

func (r *Regs) ReadField(reg, fld string) (uint32, error) {
	p, f, err := r.find(reg, fld)
	if err != nil {
		return 0, err
	}
	r.mutex.Lock()
	v := uint32(*p)
	r.mutex.Unlock()
	return f.get(v), nil
}

// WriteField does a masked read-modify-write of one field.
func (r *Regs) WriteField(reg, fld string, x uint32) error {
	p, f, err := r.find(reg, fld)
	if err != nil {
		return err
	}
	if x > f.mask() {
		return fmt.Errorf("%s.%s: %#x exceeds field width", reg, fld, x)
	}
	r.mutex.Lock()
	*p = reg32(f.put(uint32(*p), x))
	r.mutex.Unlock()
	return nil
}

// PllMHz computes a PLL's output from its control register and the
// reference crystal.
func (r *Regs) PllMHz(ctrlReg string, refHz uint32) (float64, error) {
	bypass, err := r.ReadField(ctrlReg, "BYPASS")
	if err != nil {
		return 0, err
	}
	fbdiv, err := r.ReadField(ctrlReg, "FBDIV")
	if err != nil {
		return 0, err
	}
	div2, err := r.ReadField(ctrlReg, "DIV2")
	if err != nil {
		return 0, err
	}
	return pllRate(bypass, fbdiv, div2, refHz), nil
}

// WaitLocked polls a PLL lock bit until set, giving up after timeout.
func (r *Regs) WaitLocked(statusReg, lockField string, timeout time.Duration) error {
	b := backoff.Backoff{
		Min:    100 * time.Microsecond,
		Max:    10 * time.Millisecond,
		Factor: 2,
		Jitter: true,
	}
	for begin := time.Now(); ; {
		v, err := r.ReadField(statusReg, lockField)
		if err != nil {
			return err
		}
		if v != 0 {
			return nil
		}
		if time.Since(begin) > timeout {
			return fmt.Errorf("%s.%s: not locked after %v",
				statusReg, lockField, timeout)
		}
		time.Sleep(b.Duration())
	}
}

// Discover builds the board clock tree from live registers: the three
// LPD sources feeding PL0..PL3 and the APLL behind the processor
// clock. refHz is the PS reference crystal.
func (r *Regs) Discover(refHz uint32) (*fclk.Topology, error) {
	ioPll, err := r.PllMHz("IOPLL_CTRL", refHz)
	if err != nil {
		return nil, err
	}
	rPll, err := r.PllMHz("RPLL_CTRL", refHz)
	if err != nil {
		return nil, err
	}
	dPll, err := r.PllMHz("DPLL_CTRL", refHz)
	if err != nil {
		return nil, err
	}
	div, err := r.ReadField("DPLL_TO_LPD_CTRL", "DIVISOR0")
	if err != nil {
		return nil, err
	}
	if div < 1 {
		div = 1
	}
	aPll, err := r.PllMHz("APLL_CTRL", refHz)
	if err != nil {
		return nil, err
	}
	t := topology(ioPll, rPll, dPll/float64(div), aPll)
	for _, p := range t.Plls {
		if p.MHz <= 0 {
			return nil, fmt.Errorf("%s: not configured", p.Name)
		}
	}
	return t, nil
}

// topology assembles the board clock tree from the four PLL rates.
// SRCSEL encodings 0 and 1 both route the IOPLL; 0 is listed first so
// reprogramming always writes 0, while a board left on 1 still reads
// back as an IOPLL configuration.
func topology(ioPll, rPll, dPllLpd, aPll float64) *fclk.Topology {
	t := &fclk.Topology{
		Plls: []fclk.Pll{
			{ID: 0, Name: "iopll", MHz: ioPll,
				StatusReg: "PLL_STATUS", LockField: "IOPLL_LOCK"},
			{ID: 1, Name: "rpll", MHz: rPll,
				StatusReg: "PLL_STATUS", LockField: "RPLL_LOCK"},
			{ID: 2, Name: "dpll_to_lpd", MHz: dPllLpd,
				StatusReg: "CRF_PLL_STATUS", LockField: "DPLL_LOCK"},
			{ID: 3, Name: "apll", MHz: aPll,
				StatusReg: "CRF_PLL_STATUS", LockField: "APLL_LOCK"},
		},
		CPU: &fclk.CPUClock{Pll: 3, Reg: "ACPU_CTRL"},
	}
	for i := 0; i < 4; i++ {
		t.Slots = append(t.Slots, fclk.Slot{
			ID:   i,
			Name: fmt.Sprint("fclk", i),
			Reg:  fmt.Sprintf("PL%d_REF_CTRL", i),
			Sources: []fclk.Source{
				{Pll: 0, Sel: 0},
				{Pll: 0, Sel: 1},
				{Pll: 1, Sel: 2},
				{Pll: 2, Sel: 3},
			},
			Div0Max: 63,
			Div1Max: 63,
		})
	}
	return t
}
