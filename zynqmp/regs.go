// Copyright © 2015-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package zynqmp

// Clock registers of the two PS clock blocks, offsets per the ZynqMP
// register reference. Only what the controller and discovery need is
// mapped; the pad arrays keep everything else out of reach.

const (
	crlBase = 0xFF5E0000 // low power domain: CRL_APB
	crfBase = 0xFD1A0000 // full power domain: CRF_APB
	winSize = 0x1000
)

type reg32 uint32

type crl struct {
	_         [0x20]byte
	ioPllCtrl reg32 // 0x20
	_         [0x30 - 0x24]byte
	rPllCtrl  reg32 // 0x30
	_         [0x40 - 0x34]byte
	pllStatus reg32 // 0x40
	_         [0xc0 - 0x44]byte
	plRefCtrl [4]reg32 // 0xc0, 0xc4, 0xc8, 0xcc
}

type crf struct {
	_             [0x20]byte
	aPllCtrl      reg32 // 0x20
	_             [0x2c - 0x24]byte
	dPllCtrl      reg32 // 0x2c
	_             [0x44 - 0x30]byte
	pllStatus     reg32 // 0x44
	_             [0x4c - 0x48]byte
	dPllToLpdCtrl reg32 // 0x4c
	_             [0x60 - 0x50]byte
	acpuCtrl      reg32 // 0x60
}

type field struct{ shift, width uint32 }

func (f field) mask() uint32 { return 1<<f.width - 1 }

func (f field) get(v uint32) uint32 {
	return (v >> f.shift) & f.mask()
}

func (f field) put(v, x uint32) uint32 {
	return (v &^ (f.mask() << f.shift)) | ((x & f.mask()) << f.shift)
}

var pllCtrlFields = map[string]field{
	"RESET":   {0, 1},
	"BYPASS":  {3, 1},
	"FBDIV":   {8, 7},
	"DIV2":    {16, 1},
	"PRE_SRC": {20, 3},
}

var refCtrlFields = map[string]field{
	"SRCSEL":   {0, 3},
	"DIVISOR0": {8, 6},
	"DIVISOR1": {16, 6},
	"CLKACT":   {24, 1},
}

var fields = map[string]map[string]field{
	"IOPLL_CTRL": pllCtrlFields,
	"RPLL_CTRL":  pllCtrlFields,
	"APLL_CTRL":  pllCtrlFields,
	"DPLL_CTRL":  pllCtrlFields,
	"PLL_STATUS": {
		"IOPLL_LOCK": {0, 1},
		"RPLL_LOCK":  {1, 1},
	},
	"CRF_PLL_STATUS": {
		"APLL_LOCK": {0, 1},
		"DPLL_LOCK": {1, 1},
	},
	"DPLL_TO_LPD_CTRL": {
		"DIVISOR0": {8, 6},
	},
	"PL0_REF_CTRL": refCtrlFields,
	"PL1_REF_CTRL": refCtrlFields,
	"PL2_REF_CTRL": refCtrlFields,
	"PL3_REF_CTRL": refCtrlFields,
	"ACPU_CTRL": {
		"SRCSEL":   {0, 3},
		"DIVISOR0": {8, 6},
		"CLKACT":   {24, 1},
	},
}

// pllRate is the PLL output in MHz given its raw control fields and
// the reference crystal.
func pllRate(bypass, fbdiv, div2, refHz uint32) float64 {
	if bypass != 0 {
		return float64(refHz) / 1e6
	}
	mhz := float64(refHz) * float64(fbdiv) / 1e6
	if div2 != 0 {
		mhz /= 2
	}
	return mhz
}
