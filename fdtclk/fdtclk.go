// Copyright © 2015-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package fdtclk pulls the board facts the clock daemon needs out of
// the flattened device tree: the PS reference crystal rate and the
// gpio pin map.
package fdtclk

import (
	"fmt"
	"io/ioutil"
	"strconv"
	"strings"

	"github.com/platinasystems/fdt"
	"github.com/platinasystems/gpio"
)

// DefaultDTB is the live tree exported by the kernel, big endian.
const DefaultDTB = "/sys/firmware/fdt"

// DefaultRefClkHz is the PS reference crystal on boards whose tree
// doesn't carry a pss_ref_clk node.
const DefaultRefClkHz = 33333333

// Load reads and parses a device tree blob.
func Load(path string) (*fdt.Tree, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	t := &fdt.Tree{}
	if err = t.Parse(b); err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	return t, nil
}

// RefClkHz returns the pss_ref_clk fixed clock rate.
func RefClkHz(t *fdt.Tree) (uint32, error) {
	var hz uint32
	t.MatchNode("pss_ref_clk", func(n *fdt.Node) {
		if b, found := n.Properties["clock-frequency"]; found {
			hz = t.PropUint32(b)
		}
	})
	if hz == 0 {
		return 0, fmt.Errorf("pss_ref_clk: not in the device tree")
	}
	return hz, nil
}

// Pins builds the board gpio pin map from the tree's aliases and
// gpio-controller nodes. The map is fresh per call; nothing in the
// gpio package is mutated.
func Pins(t *fdt.Tree) gpio.PinMap {
	aliases := make(gpio.GpioAliasMap)
	t.MatchNode("aliases", func(n *fdt.Node) {
		for name, value := range n.Properties {
			if !strings.Contains(name, "gpio") {
				continue
			}
			path := strings.Split(t.PropString(value), "/")
			aliases[name] = path[len(path)-1]
		}
	})
	pins := make(gpio.PinMap)
	t.EachProperty("gpio-controller", "", func(n *fdt.Node, _, _ string) {
		for bank, controller := range aliases {
			if controller != n.Name {
				continue
			}
			for _, c := range n.Children {
				var pn []string
				var mode string
				for p := range c.Properties {
					switch p {
					case "gpio-pin-desc":
						pn = strings.Split(c.Name, "@")
					case "output-high", "output-low", "input":
						mode = p
					}
				}
				if mode == "" || len(pn) != 2 {
					continue
				}
				i, err := strconv.Atoi(pn[1])
				if err != nil {
					continue
				}
				pins[pn[0]] = gpio.GpioPinMode[mode] |
					gpio.GpioBankToBase[bank] |
					gpio.Pin(i)
			}
		}
	})
	return pins
}
