// Copyright © 2015-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package fclkd publishes the PL reference clock rates to redis and
// serves hset requests to retune them.
package fclkd

import (
	"fmt"
	"io/ioutil"
	"net/rpc"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/platinasystems/eeprom"
	"github.com/platinasystems/fclk"
	"github.com/platinasystems/fclk/fdtclk"
	"github.com/platinasystems/fclk/zynqmp"
	"github.com/platinasystems/goes/cmd"
	"github.com/platinasystems/goes/external/atsock"
	"github.com/platinasystems/goes/external/log"
	"github.com/platinasystems/goes/external/parms"
	"github.com/platinasystems/goes/external/redis"
	"github.com/platinasystems/goes/external/redis/publisher"
	"github.com/platinasystems/goes/external/redis/rpc/args"
	"github.com/platinasystems/goes/external/redis/rpc/reply"
	"github.com/platinasystems/goes/lang"
	"github.com/platinasystems/gpio"
)

const (
	defaultInterval = 5 * time.Second
	lockTimeout     = 100 * time.Millisecond

	oePin = "FCLK_OE"
)

var (
	fpgaState    = "/sys/class/fpga_manager/fpga0/state"
	fpgaFirmware = "/sys/class/fpga_manager/fpga0/firmware"
)

type Command struct {
	Info
	Init func()
	init sync.Once
}

type Info struct {
	mutex  sync.Mutex
	rpc    *atsock.RpcServer
	pub    *publisher.Publisher
	stop   chan struct{}
	regs   *zynqmp.Regs
	clocks *fclk.Clocks
	lasts  map[string]string
	image  string
	refHz  uint32
}

func (*Command) String() string { return "fclkd" }

func (*Command) Usage() string {
	return "fclkd [-i SECONDS] [-dtb FILE] [-eeprom BUS:ADDR]"
}

func (*Command) Apropos() lang.Alt {
	return lang.Alt{
		lang.EnUS: "PL reference clock daemon",
	}
}

func (*Command) Kind() cmd.Kind { return cmd.Daemon }

func (c *Command) Main(args ...string) error {
	if c.Init != nil {
		c.init.Do(c.Init)
	}

	parm, args := parms.New(args, "-i", "-dtb", "-eeprom")
	if len(args) > 0 {
		return fmt.Errorf("%v: unexpected", args)
	}
	interval := defaultInterval
	if s := parm.ByName["-i"]; s != "" {
		sec, err := strconv.Atoi(s)
		if err != nil || sec < 1 {
			return fmt.Errorf("-i %s: invalid interval", s)
		}
		interval = time.Duration(sec) * time.Second
	}

	err := redis.IsReady()
	if err != nil {
		return err
	}

	c.stop = make(chan struct{})
	c.lasts = make(map[string]string)

	if c.pub, err = publisher.New(); err != nil {
		return err
	}

	if c.regs, err = zynqmp.New(); err != nil {
		return err
	}
	defer c.regs.Close()

	dtb := parm.ByName["-dtb"]
	if dtb == "" {
		dtb = fdtclk.DefaultDTB
	}
	var pins gpio.PinMap
	c.refHz = fdtclk.DefaultRefClkHz
	if tree, err := fdtclk.Load(dtb); err == nil {
		if hz, err := fdtclk.RefClkHz(tree); err == nil {
			c.refHz = hz
		}
		pins = fdtclk.Pins(tree)
	} else {
		log.Print("warning: ", dtb, ": ", err,
			"; assuming ", c.refHz, " Hz reference")
	}

	if s := parm.ByName["-eeprom"]; s != "" {
		logBoardIdentity(s)
	}

	if c.clocks, err = c.adopt(); err != nil {
		return err
	}
	if image, loaded := c.imageLoaded(); loaded {
		c.image = image
		c.publish("fclk.image", image)
	}

	// the controller exists; now accept hset requests
	if c.rpc, err = atsock.NewRpcServer("fclkd"); err != nil {
		return err
	}
	rpc.Register(&c.Info)
	err = redis.Assign(redis.DefaultHash+":fclk.", "fclkd", "Info")
	if err != nil {
		return err
	}

	if pin, found := pins[oePin]; found {
		if err = pin.SetValue(true); err != nil {
			log.Print("warning: ", oePin, ": ", err)
		}
	}

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return nil
		case <-t.C:
			c.update()
		}
	}
}

func (c *Command) Close() error {
	close(c.stop)
	return nil
}

// adopt discovers the live clock tree, waits for its PLLs to lock,
// and builds or retargets the controller.
func (c *Command) adopt() (*fclk.Clocks, error) {
	t, err := c.regs.Discover(c.refHz)
	if err != nil {
		return nil, err
	}
	for _, p := range t.Plls {
		if p.StatusReg == "" {
			continue
		}
		err = c.regs.WaitLocked(p.StatusReg, p.LockField, lockTimeout)
		if err != nil {
			return nil, err
		}
	}
	if c.clocks != nil {
		return c.clocks, c.clocks.Adopt(t)
	}
	return fclk.New(c.regs, t)
}

func logBoardIdentity(busAddr string) {
	ba := strings.Split(busAddr, ":")
	if len(ba) != 2 {
		log.Print("warning: -eeprom ", busAddr, ": want BUS:ADDR")
		return
	}
	bus, err := strconv.Atoi(ba[0])
	if err != nil {
		log.Print("warning: -eeprom ", busAddr, ": ", err)
		return
	}
	addr, err := strconv.ParseInt(ba[1], 0, 0)
	if err != nil {
		log.Print("warning: -eeprom ", busAddr, ": ", err)
		return
	}
	d := eeprom.Device{BusIndex: bus, BusAddress: int(addr)}
	if err = d.GetInfo(); err != nil {
		log.Print("warning: eeprom: ", err)
		return
	}
	log.Print("fclkd: board ", d.Fields.ProductName,
		" sn ", d.Fields.SerialNumber)
}

func (c *Command) update() {
	c.Info.mutex.Lock()
	defer c.Info.mutex.Unlock()

	if image, loaded := c.imageLoaded(); loaded {
		if _, err := c.adopt(); err != nil {
			log.Print("err: ", image, ": adopt: ", err)
		} else {
			log.Print("fclkd: adopted clock tree of ", image)
			c.image = image
			c.publish("fclk.image", image)
		}
	}

	for _, s := range c.clocks.Topology().Slots {
		cfg, mhz, err := c.clocks.Sync(s.ID)
		if err != nil {
			log.Print("err: ", s.Name, ": ", err)
			continue
		}
		c.publish(freqKey(s.ID), fclk.FormatMHz(mhz))
		c.publish(enableKey(s.ID), strconv.FormatBool(cfg.Enabled))
	}
	if mhz, err := c.clocks.CPUMHz(); err == nil {
		c.publish("fclk.cpu.frequency.units.mhz", fclk.FormatMHz(mhz))
	}
}

// imageLoaded reports whether the fpga manager holds a newly
// programmed image.
func (c *Command) imageLoaded() (string, bool) {
	state, err := ioutil.ReadFile(fpgaState)
	if err != nil || strings.TrimSpace(string(state)) != "operating" {
		return "", false
	}
	firmware, err := ioutil.ReadFile(fpgaFirmware)
	if err != nil {
		return "", false
	}
	image := strings.TrimSpace(string(firmware))
	return image, image != "" && image != c.image
}

// publish sends changed values only, the redis convention for
// periodic attributes.
func (i *Info) publish(key string, value string) {
	if i.lasts[key] == value {
		return
	}
	i.pub.Print(key, ": ", value)
	i.lasts[key] = value
}

func freqKey(slot int) string {
	return fmt.Sprint("fclk.", slot, ".frequency.units.mhz")
}

func enableKey(slot int) string {
	return fmt.Sprint("fclk.", slot, ".enable")
}

// parseField splits a writable fclk hash field into its slot id and
// attribute, e.g. "fclk.0.frequency.units.mhz" -> 0, "frequency".
func parseField(field string) (slot int, attr string, err error) {
	sub := strings.SplitN(field, ".", 3)
	if len(sub) != 3 || sub[0] != "fclk" {
		return 0, "", fmt.Errorf("%s: unknown field", field)
	}
	slot, err = strconv.Atoi(sub[1])
	if err != nil {
		return 0, "", fmt.Errorf("%s: bad slot id", field)
	}
	switch sub[2] {
	case "frequency.units.mhz":
		attr = "frequency"
	case "enable":
		attr = "enable"
	default:
		return 0, "", fmt.Errorf("%s: unknown field", field)
	}
	return slot, attr, nil
}

func (i *Info) Hset(args args.Hset, reply *reply.Hset) error {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	if i.clocks == nil {
		return fmt.Errorf("fclkd: still starting")
	}
	v := strings.TrimRight(string(args.Value), "\n")

	if args.Field == "fclk.reset" {
		if v != "true" {
			return fmt.Errorf("%s: want true", v)
		}
		if err := i.clocks.ResetAll(); err != nil {
			return err
		}
		*reply = 1
		return nil
	}

	slot, attr, err := parseField(args.Field)
	if err != nil {
		return err
	}
	switch attr {
	case "frequency":
		mhz, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %v", v, err)
		}
		res, err := i.clocks.Set(slot, mhz)
		if err != nil {
			return err
		}
		if res.Warning {
			log.Print("warning: fclk", slot, ": requested ",
				fclk.FormatMHz(res.Target), " MHz, achieved ",
				fclk.FormatMHz(res.Achieved), " MHz")
		}
		i.publishNow(freqKey(slot), fclk.FormatMHz(res.Achieved))
	case "enable":
		on, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %v", v, err)
		}
		if err = i.clocks.Enable(slot, on); err != nil {
			return err
		}
		i.publishNow(enableKey(slot), strconv.FormatBool(on))
	}
	*reply = 1
	return nil
}

func (i *Info) publishNow(key, value string) {
	i.pub.Print(key, ": ", value)
	i.lasts[key] = value
}
