// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2026 Canonical Ltd
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

// Package pptest provides test doubles for the collaborators of the pp
// package.
package pptest

import (
	"fmt"
	"strings"
	"sync"

	"github.com/snapcore/ppd/pixfmt"
	"github.com/snapcore/ppd/pp"
)

// Device is a pp.DeviceOps recording every call made to it.
type Device struct {
	// ResetCallback is invoked inside Reset()
	ResetCallback func() error
	// StartCallback is invoked inside Start()
	StartCallback func(cmd pp.Command) error
	// SetAddrCallback is invoked inside SetAddr()
	SetAddrCallback func(dir pp.Direction, info *pp.BufInfo, bufID uint32, op pp.BufOp) error
	// CheckPropertyCallback is invoked inside CheckProperty()
	CheckPropertyCallback func(prop *pp.Property) error
	// SetFmtCallback is invoked inside SetFmt()
	SetFmtCallback func(dir pp.Direction, f pixfmt.Format) error
	// ResumeCallback is invoked inside Resume()
	ResumeCallback func() error

	mu      sync.Mutex
	calls   []string
	addrs   []Addr
	handler func([pp.NumDirections]uint32)
}

// Addr is an address handed to the device with SetAddr.
type Addr struct {
	Dir   pp.Direction
	BufID uint32
	Info  pp.BufInfo
	Op    pp.BufOp
}

func (d *Device) record(format string, v ...interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, fmt.Sprintf(format, v...))
}

// Calls returns the calls made so far, in order.
func (d *Device) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// CallCount returns how many of the calls made so far start with
// prefix.
func (d *Device) CallCount(prefix string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, call := range d.calls {
		if strings.HasPrefix(call, prefix) {
			n++
		}
	}
	return n
}

// Addrs returns the addresses handed to the device so far.
func (d *Device) Addrs() []Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Addr(nil), d.addrs...)
}

// ResetCalls forgets the calls and addresses recorded so far.
func (d *Device) ResetCalls() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
	d.addrs = nil
}

func (d *Device) SetFmt(dir pp.Direction, f pixfmt.Format) error {
	d.record("set-fmt %s %s", dir, f)
	if d.SetFmtCallback != nil {
		return d.SetFmtCallback(dir, f)
	}
	return nil
}

func (d *Device) SetTransf(dir pp.Direction, degree pp.Degree, flip pp.Flip) (bool, error) {
	d.record("set-transf %s %d %d", dir, degree, flip)
	return degree == pp.Degree90 || degree == pp.Degree270, nil
}

func (d *Device) SetSize(dir pp.Direction, swap bool, pos pp.Pos, size pp.Size) error {
	d.record("set-size %s %dx%d", dir, size.HSize, size.VSize)
	return nil
}

func (d *Device) SetAddr(dir pp.Direction, info *pp.BufInfo, bufID uint32, op pp.BufOp) error {
	d.record("set-addr %s %d %s", dir, bufID, op)
	if d.SetAddrCallback != nil {
		if err := d.SetAddrCallback(dir, info, bufID, op); err != nil {
			return err
		}
	}
	d.mu.Lock()
	d.addrs = append(d.addrs, Addr{Dir: dir, BufID: bufID, Info: *info, Op: op})
	d.mu.Unlock()
	return nil
}

func (d *Device) CheckProperty(prop *pp.Property) error {
	if d.CheckPropertyCallback != nil {
		return d.CheckPropertyCallback(prop)
	}
	return nil
}

func (d *Device) Reset() error {
	d.record("reset")
	if d.ResetCallback != nil {
		return d.ResetCallback()
	}
	return nil
}

func (d *Device) Start(cmd pp.Command) error {
	d.record("start %s", cmd)
	if d.StartCallback != nil {
		return d.StartCallback(cmd)
	}
	return nil
}

func (d *Device) Stop(cmd pp.Command) {
	d.record("stop %s", cmd)
}

func (d *Device) Resume() error {
	d.record("resume")
	if d.ResumeCallback != nil {
		return d.ResumeCallback()
	}
	return nil
}

func (d *Device) Suspend() error {
	d.record("suspend")
	return nil
}

func (d *Device) SetCompletionHandler(f func([pp.NumDirections]uint32)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = f
}

// Complete simulates the hardware finishing a frame with the given
// source and destination buffers.
func (d *Device) Complete(src, dst uint32) {
	d.mu.Lock()
	handler := d.handler
	d.mu.Unlock()

	if handler != nil {
		handler([pp.NumDirections]uint32{src, dst})
	}
}
