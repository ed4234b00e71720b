// Copyright © 2015-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package fclkcmd shows and programs the PL reference clocks from the
// command line, against the live registers.
package fclkcmd

import (
	"fmt"
	"strconv"

	"github.com/platinasystems/fclk"
	"github.com/platinasystems/fclk/fdtclk"
	"github.com/platinasystems/fclk/zynqmp"
	"github.com/platinasystems/goes/cmd"
	"github.com/platinasystems/goes/external/flags"
	"github.com/platinasystems/goes/lang"
)

type Command struct{}

func (Command) String() string { return "fclk" }

func (Command) Usage() string {
	return "fclk [show | set [-dry] SLOT MHZ | reset | cpu]"
}

func (Command) Apropos() lang.Alt {
	return lang.Alt{
		lang.EnUS: "show and program the PL reference clocks",
	}
}

func (Command) Man() lang.Alt {
	return lang.Alt{
		lang.EnUS: `
DESCRIPTION
	Show or reprogram the ZynqMP PL reference clocks.

	fclk
	fclk show
		print every slot's source, divisors, rate, and gate

	fclk set [-dry] SLOT MHZ
		retune SLOT (0-3) as close to MHZ as the clock tree
		allows; -dry prints the chosen setting without touching
		hardware

	fclk reset
		re-apply the configuration each slot had when this
		command started

	fclk cpu
		print the processor clock rate`,
	}
}

func (Command) Kind() cmd.Kind { return cmd.DontFork }

func (Command) Main(args ...string) error {
	flag, args := flags.New(args, "-dry")

	regs, err := zynqmp.New()
	if err != nil {
		return err
	}
	defer regs.Close()

	refHz := uint32(fdtclk.DefaultRefClkHz)
	if tree, err := fdtclk.Load(fdtclk.DefaultDTB); err == nil {
		if hz, err := fdtclk.RefClkHz(tree); err == nil {
			refHz = hz
		}
	}
	t, err := regs.Discover(refHz)
	if err != nil {
		return err
	}
	clocks, err := fclk.New(regs, t)
	if err != nil {
		return err
	}

	op := "show"
	if len(args) > 0 {
		op, args = args[0], args[1:]
	}
	switch op {
	case "show":
		return show(clocks)
	case "set":
		return set(clocks, flag.ByName["-dry"], args)
	case "reset":
		return clocks.ResetAll()
	case "cpu":
		mhz, err := clocks.CPUMHz()
		if err != nil {
			return err
		}
		fmt.Printf("cpu: %s MHz\n", fclk.FormatMHz(mhz))
		return nil
	default:
		return fmt.Errorf("%s: unknown", op)
	}
}

func show(clocks *fclk.Clocks) error {
	t := clocks.Topology()
	for _, s := range t.Slots {
		cfg, mhz, err := clocks.Sync(s.ID)
		if err != nil {
			fmt.Printf("%s: %v\n", s.Name, err)
			continue
		}
		gate := "off"
		if cfg.Enabled {
			gate = "on"
		}
		fmt.Printf("%s: %s /%d /%d %s MHz %s\n", s.Name,
			t.Pll(cfg.Pll).Name, cfg.Div0, cfg.Div1,
			fclk.FormatMHz(mhz), gate)
	}
	return nil
}

func set(clocks *fclk.Clocks, dry bool, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("SLOT MHZ: missing")
	}
	slot, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("%s: %v", args[0], err)
	}
	mhz, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("%s: %v", args[1], err)
	}
	t := clocks.Topology()
	if dry {
		pick, err := t.Pick(slot, mhz)
		if err != nil {
			return err
		}
		fmt.Printf("would set fclk%d: %s /%d /%d %s MHz\n", slot,
			t.Pll(pick.Pll).Name, pick.Div0, pick.Div1,
			fclk.FormatMHz(pick.MHz))
		return nil
	}
	res, err := clocks.Set(slot, mhz)
	if err != nil {
		return err
	}
	fmt.Printf("fclk%d: %s MHz\n", slot, fclk.FormatMHz(res.Achieved))
	if res.Warning {
		fmt.Printf("warning: %s MHz requested, off by %.2f%%\n",
			fclk.FormatMHz(res.Target), 100*res.RelErr)
	}
	return nil
}
