// Copyright © 2015-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package fclkd

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/platinasystems/goes/external/redis/rpc/args"
	"github.com/platinasystems/goes/external/redis/rpc/reply"
)

func TestParseField(t *testing.T) {
	for _, x := range []struct {
		field string
		slot  int
		attr  string
		bad   bool
	}{
		{field: "fclk.0.frequency.units.mhz", slot: 0, attr: "frequency"},
		{field: "fclk.3.frequency.units.mhz", slot: 3, attr: "frequency"},
		{field: "fclk.2.enable", slot: 2, attr: "enable"},
		{field: "fclk.x.enable", bad: true},
		{field: "fclk.0.divisor0", bad: true},
		{field: "fclk.0", bad: true},
		{field: "vnet.0.enable", bad: true},
		{field: "fclk.0.frequency", bad: true},
	} {
		slot, attr, err := parseField(x.field)
		if x.bad {
			if err == nil {
				t.Errorf("%s: expected an error", x.field)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", x.field, err)
			continue
		}
		if slot != x.slot || attr != x.attr {
			t.Errorf("%s: got %d %q want %d %q",
				x.field, slot, attr, x.slot, x.attr)
		}
	}
}

func TestKeys(t *testing.T) {
	if got := freqKey(2); got != "fclk.2.frequency.units.mhz" {
		t.Errorf("freqKey: got %q", got)
	}
	if got := enableKey(0); got != "fclk.0.enable" {
		t.Errorf("enableKey: got %q", got)
	}
}

func TestHsetBeforeAdopt(t *testing.T) {
	i := &Info{lasts: make(map[string]string)}
	var r reply.Hset
	for _, field := range []string{
		"fclk.0.frequency.units.mhz", "fclk.0.enable", "fclk.reset",
	} {
		err := i.Hset(args.Hset{Field: field, Value: []byte("true")}, &r)
		if err == nil {
			t.Errorf("%s: served before the controller exists", field)
		}
	}
}

func TestImageLoaded(t *testing.T) {
	dir := t.TempDir()
	defer func(s, f string) {
		fpgaState, fpgaFirmware = s, f
	}(fpgaState, fpgaFirmware)
	fpgaState = filepath.Join(dir, "state")
	fpgaFirmware = filepath.Join(dir, "firmware")

	c := new(Command)
	if _, loaded := c.imageLoaded(); loaded {
		t.Error("loaded with no fpga manager")
	}

	write := func(path, s string) {
		if err := ioutil.WriteFile(path, []byte(s), 0644); err != nil {
			t.Fatal(err)
		}
	}
	write(fpgaState, "operating\n")
	write(fpgaFirmware, "shell_v2.bit\n")
	image, loaded := c.imageLoaded()
	if !loaded || image != "shell_v2.bit" {
		t.Fatalf("got %q, %v want shell_v2.bit, true", image, loaded)
	}

	// once recorded, the same image is not news
	c.image = image
	if _, loaded = c.imageLoaded(); loaded {
		t.Error("unchanged image reported as new")
	}

	write(fpgaFirmware, "shell_v3.bit\n")
	if image, loaded = c.imageLoaded(); !loaded || image != "shell_v3.bit" {
		t.Errorf("got %q, %v want shell_v3.bit, true", image, loaded)
	}

	// mid-programming states don't count
	write(fpgaState, "write init\n")
	if _, loaded = c.imageLoaded(); loaded {
		t.Error("loaded while the manager is still programming")
	}
}

func ExampleCommand() {
	c := new(Command)
	fmt.Println(c)
	fmt.Println(c.Usage())
	fmt.Println(c.Apropos())
	fmt.Println(c.Kind())
	// Output:
	// fclkd
	// fclkd [-i SECONDS] [-dtb FILE] [-eeprom BUS:ADDR]
	// PL reference clock daemon
	// daemon
}
