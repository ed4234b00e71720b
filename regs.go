// Copyright © 2015-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package fclk

// Field names common to every output clock control register.
const (
	FieldSrcSel = "SRCSEL"
	FieldDiv0   = "DIVISOR0"
	FieldDiv1   = "DIVISOR1"
	FieldEnable = "CLKACT"
)

// RegisterAccess reads and writes named register fields. The zynqmp
// package provides the /dev/mem implementation; tests substitute a
// recorder.
type RegisterAccess interface {
	ReadField(reg, field string) (uint32, error)
	WriteField(reg, field string, v uint32) error
}
