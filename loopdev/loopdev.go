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

// Package loopdev implements a post-processor that does no image work.
// It checks that it is programmed in a sensible order and reports every
// frame it was given as finished after a fixed latency, the way an
// interrupt would.
package loopdev

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/snapcore/ppd/logger"
	"github.com/snapcore/ppd/pixfmt"
	"github.com/snapcore/ppd/pp"
)

// DefaultLatency is the frame latency used when none is configured.
const DefaultLatency = 5 * time.Millisecond

var errSuspended = errors.New("device is suspended")

// Config describes what a loopback device claims to support.
type Config struct {
	Name    string
	Latency time.Duration
	// Formats lists the supported formats per direction, nil means any.
	Formats [pp.NumDirections][]pixfmt.Format
	MinSize pp.Size
	MaxSize pp.Size
	// Commands lists the supported commands, nil means all.
	Commands []pp.Command
	Rotate   bool
	Flip     bool
	Scale    bool
	CSC      bool
	Crop     bool
}

// Capability returns the capability the device is registered with.
func (cfg *Config) Capability() pp.Capability {
	return pp.Capability{
		Formats:  cfg.Formats,
		MinSize:  cfg.MinSize,
		MaxSize:  cfg.MaxSize,
		Commands: cfg.Commands,
		Rotate:   cfg.Rotate,
		Flip:     cfg.Flip,
		CSC:      cfg.CSC,
		Crop:     cfg.Crop,
		Scale:    cfg.Scale,
	}
}

type image struct {
	format pixfmt.Format
	degree pp.Degree
	flip   pp.Flip
	pos    pp.Pos
	size   pp.Size
	set    bool
}

// Device is a loopback pp.DeviceOps. It also implements
// pp.CompletionSource and pp.PowerOps.
type Device struct {
	cfg Config

	mu        sync.Mutex
	handler   func([pp.NumDirections]uint32)
	suspended bool
	wasReset  bool
	running   bool
	cmd       pp.Command
	images    [pp.NumDirections]image
	fed       [pp.NumDirections][]uint32
	inflight  bool
	timer     *time.Timer
	// gen invalidates timers armed before the last Stop.
	gen    uint64
	frames uint64
}

// New returns a suspended loopback device.
func New(cfg Config) *Device {
	if cfg.Latency <= 0 {
		cfg.Latency = DefaultLatency
	}
	return &Device{cfg: cfg, suspended: true}
}

func (d *Device) Name() string { return d.cfg.Name }

// Frames returns how many frames the device reported as finished.
func (d *Device) Frames() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames
}

func (d *Device) SetCompletionHandler(f func(bufIDs [pp.NumDirections]uint32)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = f
}

func (d *Device) Resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.suspended = false
	return nil
}

func (d *Device) Suspend() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("cannot suspend %s while running %s", d.cfg.Name, d.cmd)
	}
	d.suspended = true
	return nil
}

// CheckProperty refuses crop rectangles that split a chroma sample of
// a multi-planar format.
func (d *Device) CheckProperty(prop *pp.Property) error {
	for _, dir := range prop.Command.Directions() {
		cfg := &prop.Config[dir]
		if cfg.Format.Planes() < 2 {
			continue
		}
		if (cfg.Pos.X|cfg.Pos.Y|cfg.Pos.W|cfg.Pos.H)&1 != 0 {
			return fmt.Errorf("%s rectangle %dx%d+%d+%d not aligned for %s",
				dir, cfg.Pos.W, cfg.Pos.H, cfg.Pos.X, cfg.Pos.Y, cfg.Format)
		}
	}
	return nil
}

func (d *Device) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.suspended {
		return errSuspended
	}
	if d.inflight {
		return pp.ErrDeviceBusy
	}
	if d.running {
		return fmt.Errorf("cannot reset %s while running %s", d.cfg.Name, d.cmd)
	}
	d.wasReset = true
	d.images = [pp.NumDirections]image{}
	d.fed = [pp.NumDirections][]uint32{}
	return nil
}

func (d *Device) SetFmt(dir pp.Direction, f pixfmt.Format) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.wasReset {
		return fmt.Errorf("cannot set %s format before reset", dir)
	}
	if !f.Known() {
		return fmt.Errorf("unsupported format %s", f)
	}
	d.images[dir].format = f
	return nil
}

func (d *Device) SetTransf(dir pp.Direction, degree pp.Degree, flip pp.Flip) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if degree != pp.Degree0 && !d.cfg.Rotate {
		return false, fmt.Errorf("rotation by %d not supported", degree)
	}
	if flip != pp.FlipNone && !d.cfg.Flip {
		return false, fmt.Errorf("flip not supported")
	}
	d.images[dir].degree = degree
	d.images[dir].flip = flip
	return degree == pp.Degree90 || degree == pp.Degree270, nil
}

func (d *Device) SetSize(dir pp.Direction, swap bool, pos pp.Pos, size pp.Size) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	img := &d.images[dir]
	if img.format == 0 {
		return fmt.Errorf("cannot set %s size before format", dir)
	}
	if swap {
		pos.W, pos.H = pos.H, pos.W
	}
	img.pos = pos
	img.size = size
	img.set = true
	return nil
}

func (d *Device) SetAddr(dir pp.Direction, info *pp.BufInfo, bufID uint32, op pp.BufOp) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.images[dir].set {
		return fmt.Errorf("cannot queue %s buffer %d: %s image not programmed", dir, bufID, dir)
	}
	switch op {
	case pp.BufEnqueue:
		if info.Planes[0].Base == 0 {
			return fmt.Errorf("%s buffer %d has no address", dir, bufID)
		}
		d.fed[dir] = append(d.fed[dir], bufID)
	case pp.BufDequeue:
		for i, id := range d.fed[dir] {
			if id == bufID {
				d.fed[dir] = append(d.fed[dir][:i:i], d.fed[dir][i+1:]...)
				break
			}
		}
	}
	return nil
}

func (d *Device) Start(cmd pp.Command) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.suspended {
		return errSuspended
	}
	if !d.wasReset {
		return fmt.Errorf("cannot start %s without a reset", cmd)
	}
	for _, dir := range cmd.Directions() {
		if !d.images[dir].set {
			return fmt.Errorf("cannot start %s: %s image not programmed", cmd, dir)
		}
		if len(d.fed[dir]) == 0 {
			return fmt.Errorf("cannot start %s: no %s buffer", cmd, dir)
		}
	}

	d.wasReset = false
	d.running = true
	d.cmd = cmd
	d.gen++
	if cmd == pp.CommandM2M {
		d.inflight = true
	}
	d.arm(d.gen)
	return nil
}

// arm schedules the next completion. Must be called with d.mu held.
func (d *Device) arm(gen uint64) {
	d.timer = time.AfterFunc(d.cfg.Latency, func() { d.tick(gen) })
}

func (d *Device) tick(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || !d.running {
		d.mu.Unlock()
		return
	}
	var ids [pp.NumDirections]uint32
	switch d.cmd {
	case pp.CommandM2M:
		// the last fed pair is the frame being processed
		for _, dir := range d.cmd.Directions() {
			if n := len(d.fed[dir]); n > 0 {
				ids[dir] = d.fed[dir][n-1]
			}
			d.fed[dir] = nil
		}
		d.inflight = false
		d.running = false
	default:
		dir := d.cmd.Directions()[0]
		if len(d.fed[dir]) > 0 {
			ids[dir] = d.fed[dir][0]
			d.fed[dir] = d.fed[dir][1:]
		}
		d.arm(gen)
	}
	handler := d.handler
	if ids != ([pp.NumDirections]uint32{}) {
		d.frames++
	}
	d.mu.Unlock()

	if ids == ([pp.NumDirections]uint32{}) {
		// underrun, nothing to write to this frame
		logger.Debugf("%s: %s underrun", d.cfg.Name, d.cmd)
		return
	}
	if handler == nil {
		logger.Debugf("%s: frame %v finished with nobody listening", d.cfg.Name, ids)
		return
	}
	handler(ids)
}

func (d *Device) Stop(cmd pp.Command) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	d.running = false
	d.inflight = false
	d.wasReset = false
	d.fed = [pp.NumDirections][]uint32{}
}
