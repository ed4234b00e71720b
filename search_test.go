// Copyright © 2015-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package fclk

import (
	"errors"
	"math"
	"testing"
)

func searchTopology() *Topology {
	return &Topology{
		Plls: []Pll{
			{ID: 0, Name: "iopll", MHz: 1000},
		},
		Slots: []Slot{
			{
				ID:      0,
				Name:    "fclk0",
				Reg:     "PL0_REF_CTRL",
				Sources: []Source{{Pll: 0, Sel: 0}},
				Div0Max: 63,
				Div1Max: 63,
			},
			{
				ID:      1,
				Name:    "fclk1",
				Reg:     "PL1_REF_CTRL",
				Div0Max: 63,
				Div1Max: 63,
			},
		},
	}
}

type pickCase struct {
	name string
	mhz  float64
	want Pick
}

var pickCases = []pickCase{
	{"unity", 1000.0, Pick{Div0: 1, Div1: 1}},
	{"half", 500.0, Pick{Div0: 1, Div1: 2}},
	{"exact", 100.0, Pick{Div0: 1, Div1: 10}},
	{"inexact", 400.0, Pick{Div0: 1, Div1: 3}},
	{"floor", 0.251954, Pick{Div0: 63, Div1: 63}},
	{"above range", 2000.0, Pick{Div0: 1, Div1: 1}},
}

func TestPick(t *testing.T) {
	topo := searchTopology()
	for _, c := range pickCases {
		got, err := topo.Pick(0, c.mhz)
		if err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
		want := c.want
		want.MHz = 1000.0 / float64(want.Div0*want.Div1)
		want.RelErr = math.Abs(want.MHz-c.mhz) / c.mhz
		if got != want {
			t.Errorf("%s: got %+v want %+v", c.name, got, want)
		}
	}
}

func TestPickErrors(t *testing.T) {
	topo := searchTopology()
	for _, c := range []struct {
		name string
		slot int
		mhz  float64
		want error
	}{
		{"unknown slot", 9, 100, ErrUnknownClock},
		{"zero", 0, 0, ErrBadFrequency},
		{"negative", 0, -5, ErrBadFrequency},
		{"nan", 0, math.NaN(), ErrBadFrequency},
		{"inf", 0, math.Inf(1), ErrBadFrequency},
		{"no sources", 1, 100, ErrNoSource},
	} {
		_, err := topo.Pick(c.slot, c.mhz)
		if !errors.Is(err, c.want) {
			t.Errorf("%s: got %v want %v", c.name, err, c.want)
		}
	}
}

func TestPickPllTieBreak(t *testing.T) {
	topo := &Topology{
		Plls: []Pll{
			{ID: 0, Name: "iopll", MHz: 1000},
			{ID: 1, Name: "rpll", MHz: 1000},
		},
		Slots: []Slot{
			{
				ID:   0,
				Name: "fclk0",
				Reg:  "PL0_REF_CTRL",
				// listed high id first on purpose
				Sources: []Source{{Pll: 1, Sel: 2}, {Pll: 0, Sel: 0}},
				Div0Max: 63,
				Div1Max: 63,
			},
		},
	}
	got, err := topo.Pick(0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if got.Pll != 0 || got.Sel != 0 {
		t.Errorf("tie went to pll %d sel %d, want pll 0 sel 0",
			got.Pll, got.Sel)
	}
}

func TestPickDeterministic(t *testing.T) {
	topo := &Topology{
		Plls: []Pll{
			{ID: 0, Name: "iopll", MHz: 1000},
			{ID: 1, Name: "rpll", MHz: 800},
			{ID: 2, Name: "dpll_to_lpd", MHz: 750},
		},
		Slots: []Slot{
			{
				ID:   0,
				Name: "fclk0",
				Reg:  "PL0_REF_CTRL",
				Sources: []Source{
					{Pll: 0, Sel: 0},
					{Pll: 1, Sel: 2},
					{Pll: 2, Sel: 3},
				},
				Div0Max: 63,
				Div1Max: 63,
			},
		},
	}
	first, err := topo.Pick(0, 123.456)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 100; i++ {
		again, err := topo.Pick(0, 123.456)
		if err != nil {
			t.Fatal(err)
		}
		if again != first {
			t.Fatalf("run %d: got %+v want %+v", i, again, first)
		}
	}
}

type betterCase struct {
	name string
	a, b Pick
	want bool
}

var betterCases = []betterCase{
	{"smaller error", Pick{RelErr: 0.1}, Pick{RelErr: 0.2}, true},
	{"larger error", Pick{RelErr: 0.2}, Pick{RelErr: 0.1}, false},
	{"smaller product", Pick{Div0: 2, Div1: 5}, Pick{Div0: 3, Div1: 4}, true},
	{"smaller div0", Pick{Div0: 1, Div1: 10}, Pick{Div0: 2, Div1: 5}, true},
	{"lower pll", Pick{Pll: 0, Div0: 1, Div1: 1}, Pick{Pll: 1, Div0: 1, Div1: 1}, true},
	{"equal", Pick{Div0: 1, Div1: 1}, Pick{Div0: 1, Div1: 1}, false},
}

func TestBetter(t *testing.T) {
	for _, c := range betterCases {
		if got := better(c.a, c.b); got != c.want {
			t.Errorf("%s: got %v want %v", c.name, got, c.want)
		}
	}
}
