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

package pp

import (
	"fmt"

	"github.com/snapcore/ppd/pixfmt"
)

// Command is the kind of processing a job performs.
type Command int

const (
	// CommandM2M reads a source buffer and writes a separate
	// destination buffer.
	CommandM2M Command = iota
	// CommandWB captures the display pipeline into destination buffers.
	CommandWB
	// CommandOutput feeds source buffers to the display output.
	CommandOutput
)

var commandNames = []string{"m2m", "wb", "output"}

func (c Command) String() string {
	if c < 0 || int(c) >= len(commandNames) {
		return fmt.Sprintf("command(%d)", int(c))
	}
	return commandNames[c]
}

// MarshalText implements encoding.TextMarshaler.
func (c Command) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Command) UnmarshalText(text []byte) error {
	for i, name := range commandNames {
		if name == string(text) {
			*c = Command(i)
			return nil
		}
	}
	return fmt.Errorf("unknown command %q", text)
}

// Directions returns the directions a job of this kind queues buffers
// for.
func (c Command) Directions() []Direction {
	switch c {
	case CommandM2M:
		return []Direction{DirSrc, DirDst}
	case CommandWB:
		return []Direction{DirDst}
	case CommandOutput:
		return []Direction{DirSrc}
	}
	return nil
}

func (c Command) uses(dir Direction) bool {
	for _, d := range c.Directions() {
		if d == dir {
			return true
		}
	}
	return false
}

// Direction is the side of the post-processor a buffer is on.
type Direction int

const (
	DirSrc Direction = iota
	DirDst

	// NumDirections is the number of directions.
	NumDirections = 2
)

func (d Direction) String() string {
	switch d {
	case DirSrc:
		return "src"
	case DirDst:
		return "dst"
	}
	return fmt.Sprintf("direction(%d)", int(d))
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(text []byte) error {
	switch string(text) {
	case "src":
		*d = DirSrc
	case "dst":
		*d = DirDst
	default:
		return fmt.Errorf("unknown direction %q", text)
	}
	return nil
}

func (d Direction) valid() bool {
	return d == DirSrc || d == DirDst
}

// Degree is a clockwise rotation.
type Degree int

const (
	Degree0   Degree = 0
	Degree90  Degree = 90
	Degree180 Degree = 180
	Degree270 Degree = 270
)

func (d Degree) valid() bool {
	switch d {
	case Degree0, Degree90, Degree180, Degree270:
		return true
	}
	return false
}

// Flip is a bitmask of mirroring operations.
type Flip uint

const (
	FlipNone       Flip = 0
	FlipVertical   Flip = 1 << 0
	FlipHorizontal Flip = 1 << 1
	FlipBoth            = FlipVertical | FlipHorizontal
)

// Pos is a rectangle inside an image.
type Pos struct {
	X uint32 `json:"x"`
	Y uint32 `json:"y"`
	W uint32 `json:"w"`
	H uint32 `json:"h"`
}

// Size is the full size of an image in pixels.
type Size struct {
	HSize uint32 `json:"hsize"`
	VSize uint32 `json:"vsize"`
}

// Config is the per direction part of a property.
type Config struct {
	Format pixfmt.Format `json:"format"`
	Degree Degree        `json:"degree,omitempty"`
	Flip   Flip          `json:"flip,omitempty"`
	// Pos is the crop rectangle for the source and the placement
	// rectangle for the destination.
	Pos  Pos  `json:"pos"`
	Size Size `json:"size"`
}

func (cfg *Config) set() bool {
	return cfg.Format != 0
}

func (cfg *Config) validate(dir Direction) error {
	if !cfg.Format.Known() {
		return invalidArgf("%s: unsupported format %s", dir, cfg.Format)
	}
	if !cfg.Degree.valid() {
		return invalidArgf("%s: invalid rotation %d", dir, cfg.Degree)
	}
	if cfg.Flip&^FlipBoth != 0 {
		return invalidArgf("%s: invalid flip %#x", dir, uint(cfg.Flip))
	}
	if cfg.Size.HSize == 0 || cfg.Size.VSize == 0 {
		return invalidArgf("%s: empty image size", dir)
	}
	if cfg.Pos.W == 0 || cfg.Pos.H == 0 {
		return invalidArgf("%s: empty rectangle", dir)
	}
	if uint64(cfg.Pos.X)+uint64(cfg.Pos.W) > uint64(cfg.Size.HSize) ||
		uint64(cfg.Pos.Y)+uint64(cfg.Pos.H) > uint64(cfg.Size.VSize) {
		return invalidArgf("%s: rectangle %dx%d+%d+%d outside of %dx%d image", dir,
			cfg.Pos.W, cfg.Pos.H, cfg.Pos.X, cfg.Pos.Y, cfg.Size.HSize, cfg.Size.VSize)
	}
	return nil
}

// Property is the client supplied configuration of a job.
type Property struct {
	Command Command               `json:"command"`
	Config  [NumDirections]Config `json:"config"`
	// EventDriven jobs run their controls on the device's command
	// worker and get an event for every consumed destination buffer.
	EventDriven bool `json:"event-driven,omitempty"`
	// DevID selects the device; 0 lets the manager pick one.
	DevID int `json:"dev-id,omitempty"`
	// PropID is 0 for a new job, or the id of a paused job whose
	// configuration should be replaced.
	PropID int `json:"prop-id,omitempty"`
}

func (p *Property) validate() error {
	switch p.Command {
	case CommandM2M, CommandWB, CommandOutput:
	default:
		return invalidArgf("unknown command %d", int(p.Command))
	}
	if p.DevID < 0 || p.PropID < 0 {
		return invalidArgf("negative id")
	}
	for dir := Direction(0); dir < NumDirections; dir++ {
		cfg := &p.Config[dir]
		if !p.Command.uses(dir) && !cfg.set() {
			continue
		}
		if err := cfg.validate(dir); err != nil {
			return err
		}
	}
	return nil
}

// configured returns the directions that carry a configuration to be
// programmed into the hardware.
func (p *Property) configured() []Direction {
	var dirs []Direction
	for dir := Direction(0); dir < NumDirections; dir++ {
		if p.Command.uses(dir) || p.Config[dir].set() {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

// Control is a transport control requested for a job.
type Control int

const (
	ControlPlay Control = iota
	ControlStop
	ControlPause
	ControlResume
)

var controlNames = []string{"play", "stop", "pause", "resume"}

func (c Control) String() string {
	if c < 0 || int(c) >= len(controlNames) {
		return fmt.Sprintf("control(%d)", int(c))
	}
	return controlNames[c]
}

// MarshalText implements encoding.TextMarshaler.
func (c Control) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Control) UnmarshalText(text []byte) error {
	for i, name := range controlNames {
		if name == string(text) {
			*c = Control(i)
			return nil
		}
	}
	return fmt.Errorf("unknown control %q", text)
}

// State is the state of a job. Stop doubles as the paused state.
type State int

const (
	StateIdle State = iota
	StateStart
	StateStop
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStart:
		return "start"
	case StateStop:
		return "stop"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{StateIdle, StateStart, StateStop} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// BufOp tells QueueBuffer whether to add or remove a buffer.
type BufOp int

const (
	BufEnqueue BufOp = iota
	BufDequeue
)

func (op BufOp) String() string {
	if op == BufDequeue {
		return "dequeue"
	}
	return "enqueue"
}

// MarshalText implements encoding.TextMarshaler.
func (op BufOp) MarshalText() ([]byte, error) {
	return []byte(op.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (op *BufOp) UnmarshalText(text []byte) error {
	switch string(text) {
	case "enqueue":
		*op = BufEnqueue
	case "dequeue":
		*op = BufDequeue
	default:
		return fmt.Errorf("unknown buffer operation %q", text)
	}
	return nil
}

// QueueBuf is a request to add a buffer to, or remove it from, one
// direction of a job.
type QueueBuf struct {
	PropID int       `json:"prop-id"`
	Dir    Direction `json:"dir"`
	BufID  uint32    `json:"buf-id"`
	// Handles name the memory of each plane; unused planes are 0.
	Handles [pixfmt.MaxPlanes]Handle `json:"handles"`
	Op      BufOp                    `json:"op"`
}

// Capability describes what a device can do.
type Capability struct {
	// Formats lists the formats supported per direction; an empty list
	// accepts every known format.
	Formats  [NumDirections][]pixfmt.Format `json:"formats" yaml:"formats"`
	MinSize  Size                           `json:"min-size" yaml:"min-size"`
	MaxSize  Size                           `json:"max-size" yaml:"max-size"`
	Commands []Command                      `json:"commands" yaml:"commands"`
	Rotate   bool                           `json:"rotate" yaml:"rotate"`
	Flip     bool                           `json:"flip" yaml:"flip"`
	CSC      bool                           `json:"csc" yaml:"csc"`
	Crop     bool                           `json:"crop" yaml:"crop"`
	Scale    bool                           `json:"scale" yaml:"scale"`
}

func (c *Capability) supportsFormat(dir Direction, f pixfmt.Format) bool {
	if len(c.Formats[dir]) == 0 {
		return true
	}
	for _, cf := range c.Formats[dir] {
		if cf == f {
			return true
		}
	}
	return false
}

func sizeInRange(sz, min, max Size) bool {
	if sz.HSize < min.HSize || sz.VSize < min.VSize {
		return false
	}
	if max.HSize != 0 && sz.HSize > max.HSize {
		return false
	}
	if max.VSize != 0 && sz.VSize > max.VSize {
		return false
	}
	return true
}

// check returns why the device cannot run prop, or nil.
func (c *Capability) check(prop *Property) error {
	if len(c.Commands) > 0 {
		ok := false
		for _, cmd := range c.Commands {
			if cmd == prop.Command {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("command %s not supported", prop.Command)
		}
	}
	for _, dir := range prop.configured() {
		cfg := &prop.Config[dir]
		if !c.supportsFormat(dir, cfg.Format) {
			return fmt.Errorf("%s format %s not supported", dir, cfg.Format)
		}
		if !sizeInRange(cfg.Size, c.MinSize, c.MaxSize) {
			return fmt.Errorf("%s size %dx%d out of range", dir, cfg.Size.HSize, cfg.Size.VSize)
		}
		if cfg.Degree != Degree0 && !c.Rotate {
			return fmt.Errorf("rotation not supported")
		}
		if cfg.Flip != FlipNone && !c.Flip {
			return fmt.Errorf("flip not supported")
		}
		if (cfg.Pos.W != cfg.Size.HSize || cfg.Pos.H != cfg.Size.VSize) && !c.Crop {
			return fmt.Errorf("crop not supported")
		}
	}
	if prop.Command == CommandM2M {
		src, dst := &prop.Config[DirSrc], &prop.Config[DirDst]
		if src.Format != dst.Format && !c.CSC {
			return fmt.Errorf("colorspace conversion not supported")
		}
		sw, sh := src.Pos.W, src.Pos.H
		if dst.Degree == Degree90 || dst.Degree == Degree270 || src.Degree == Degree90 || src.Degree == Degree270 {
			sw, sh = sh, sw
		}
		if (sw != dst.Pos.W || sh != dst.Pos.H) && !c.Scale {
			return fmt.Errorf("scaling not supported")
		}
	}
	return nil
}
