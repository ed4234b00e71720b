// Copyright © 2015-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package fclkcmd

import "fmt"

func ExampleCommand() {
	c := Command{}
	fmt.Println(c)
	fmt.Println(c.Usage())
	fmt.Println(c.Apropos())
	fmt.Println(c.Kind())
	// Output:
	// fclk
	// fclk [show | set [-dry] SLOT MHZ | reset | cpu]
	// show and program the PL reference clocks
	// don't fork
}
