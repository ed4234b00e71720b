// Copyright © 2015-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package fclk

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownClock = errors.New("unknown output clock")
	ErrBadFrequency = errors.New("bad target frequency")
	ErrNoSource     = errors.New("no usable clock source")
	ErrNoDefault    = errors.New("no default configuration recorded")
)

// IOError is a failed register access. The slot cache is stale after
// one and the next Get re-reads hardware.
type IOError struct {
	Op    string // "read" or "write"
	Reg   string
	Field string
	Err   error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s.%s: %v", e.Op, e.Reg, e.Field, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
