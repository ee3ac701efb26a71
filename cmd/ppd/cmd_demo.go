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

package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/snapcore/ppd/bufmem"
	"github.com/snapcore/ppd/config"
	"github.com/snapcore/ppd/loopdev"
	"github.com/snapcore/ppd/pixfmt"
	"github.com/snapcore/ppd/pp"
)

var shortDemoHelp = "Run frames through a loopback device"
var longDemoHelp = `
The demo command runs an event driven job on an in-process loopback
device and prints the events it gets back, one line per frame.
`

type cmdDemo struct {
	Command string        `long:"command" default:"m2m" choice:"m2m" choice:"wb" choice:"output" description:"Command of the job"`
	Format  string        `long:"format" default:"NV12" description:"Pixel format of the images"`
	Size    string        `long:"size" default:"640x480" description:"Image size as WIDTHxHEIGHT"`
	Frames  int           `long:"frames" default:"10" description:"Number of frames to run"`
	Latency time.Duration `long:"latency" default:"5ms" description:"Time the device takes per frame"`
}

func init() {
	addCommand("demo", shortDemoHelp, longDemoHelp, func() flags.Commander { return &cmdDemo{} })
}

// eventTimeout bounds the wait for each frame.
var eventTimeout = 5 * time.Second

// streamDepth is how many buffers a streaming demo job keeps queued.
const streamDepth = 2

type demo struct {
	alloc *bufmem.Allocator
	mgr   *pp.Manager
	cl    *pp.Client
	prop  *pp.Property
	id    int
	size  uint64
	next  uint32
}

// queueFrame queues a fresh buffer on every direction the job uses. The
// buffers are freed right away and go away once the job is done with
// them.
func (d *demo) queueFrame() error {
	d.next++
	for _, dir := range d.prop.Command.Directions() {
		h, err := d.alloc.Allocate(d.size)
		if err != nil {
			return err
		}
		if dir == pp.DirSrc {
			mem, err := d.alloc.Bytes(h)
			if err != nil {
				return err
			}
			for i := range mem {
				mem[i] = byte(d.next)
			}
		}
		err = d.mgr.QueueBuffer(d.cl, &pp.QueueBuf{
			PropID:  d.id,
			Dir:     dir,
			BufID:   d.next,
			Handles: [pixfmt.MaxPlanes]pp.Handle{h},
			Op:      pp.BufEnqueue,
		})
		if ferr := d.alloc.Free(h); ferr != nil && err == nil {
			err = ferr
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (x *cmdDemo) property() (*pp.Property, error) {
	var cmd pp.Command
	if err := cmd.UnmarshalText([]byte(x.Command)); err != nil {
		return nil, err
	}
	format, err := pixfmt.ParseFormat(x.Format)
	if err != nil {
		return nil, err
	}
	size, err := config.ParseSize(x.Size)
	if err != nil {
		return nil, err
	}
	image := pp.Config{
		Format: format,
		Pos:    pp.Pos{W: size.HSize, H: size.VSize},
		Size:   size,
	}
	prop := &pp.Property{Command: cmd, EventDriven: true}
	for _, dir := range cmd.Directions() {
		prop.Config[dir] = image
	}
	return prop, nil
}

func (x *cmdDemo) Execute(args []string) error {
	if len(args) > 0 {
		return ErrExtraArgs
	}
	if x.Frames <= 0 {
		return fmt.Errorf("invalid number of frames %d", x.Frames)
	}
	prop, err := x.property()
	if err != nil {
		return err
	}

	d := &demo{alloc: bufmem.New(0), prop: prop}
	defer d.alloc.Close()
	d.mgr = pp.New(d.alloc, nil)
	defer d.mgr.Close()

	lc := loopdev.Config{
		Name:    "loop0",
		Latency: x.Latency,
		Rotate:  true,
		Flip:    true,
		Scale:   true,
		CSC:     true,
		Crop:    true,
	}
	if _, err := d.mgr.AddDevice(lc.Name, loopdev.New(lc), lc.Capability()); err != nil {
		return err
	}
	if d.cl, err = d.mgr.Connect(); err != nil {
		return err
	}
	if d.id, err = d.mgr.SetProperty(d.cl, prop); err != nil {
		return err
	}
	img := &prop.Config[prop.Command.Directions()[0]]
	for _, n := range pixfmt.Offsets(img.Format, img.Size.HSize, img.Size.VSize) {
		d.size += n
	}

	depth := 1
	if prop.Command != pp.CommandM2M {
		depth = streamDepth
	}
	for i := 0; i < depth && i < x.Frames; i++ {
		if err := d.queueFrame(); err != nil {
			return err
		}
	}
	if err := d.mgr.Control(d.cl, d.id, pp.ControlPlay); err != nil {
		return err
	}

	w := tabwriter.NewWriter(Stdout, 5, 3, 2, ' ', 0)
	fmt.Fprintln(w, "Frame\tJob\tSrc\tDst\tElapsed")
	start := time.Now()
	for frame := 1; frame <= x.Frames; frame++ {
		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		ev, err := d.cl.ReadEvent(ctx)
		cancel()
		if err != nil {
			w.Flush()
			return fmt.Errorf("cannot get frame %d: %v", frame, err)
		}
		fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%s\n", frame, ev.PropID,
			ev.BufIDs[pp.DirSrc], ev.BufIDs[pp.DirDst],
			ev.Timestamp.Sub(start).Truncate(time.Millisecond))
		if int(d.next) < x.Frames {
			if err := d.queueFrame(); err != nil {
				w.Flush()
				return err
			}
		}
	}
	w.Flush()

	return d.mgr.Control(d.cl, d.id, pp.ControlStop)
}
