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

package pp_test

import (
	"encoding/json"
	"errors"

	. "gopkg.in/check.v1"

	"github.com/snapcore/ppd/pixfmt"
	"github.com/snapcore/ppd/pp"
	"github.com/snapcore/ppd/testutil"
)

type propertySuite struct {
	baseSuite
}

var _ = Suite(&propertySuite{})

func (s *propertySuite) TestValidate(c *C) {
	for _, t := range []struct {
		mutate func(p *pp.Property)
		err    string
	}{
		{func(p *pp.Property) { p.Command = 7 }, `invalid argument: unknown command 7`},
		{func(p *pp.Property) { p.Config[pp.DirSrc].Format = 0x30313050 }, `invalid argument: src: unsupported format P010`},
		{func(p *pp.Property) { p.Config[pp.DirDst].Degree = 45 }, `invalid argument: dst: invalid rotation 45`},
		{func(p *pp.Property) { p.Config[pp.DirDst].Flip = 4 }, `invalid argument: dst: invalid flip 0x4`},
		{func(p *pp.Property) { p.Config[pp.DirSrc].Size = pp.Size{} }, `invalid argument: src: empty image size`},
		{func(p *pp.Property) { p.Config[pp.DirSrc].Pos.W = 0 }, `invalid argument: src: empty rectangle`},
		{func(p *pp.Property) { p.Config[pp.DirSrc].Pos.X = 1 }, `invalid argument: src: rectangle 640x480\+1\+0 outside of 640x480 image`},
		{func(p *pp.Property) { p.DevID = -1 }, `invalid argument: negative id`},
	} {
		prop := m2mProp(false)
		t.mutate(prop)
		_, err := s.m.SetProperty(s.cl, prop)
		c.Check(err, ErrorMatches, t.err)
		c.Check(err, testutil.ErrorIs, pp.ErrInvalidArgument)
	}
}

func (s *propertySuite) TestUnusedDirectionMayBeEmpty(c *C) {
	_, err := s.m.SetProperty(s.cl, wbProp(false))
	c.Check(err, IsNil)
}

func (s *propertySuite) TestTextMarshaling(c *C) {
	q := pp.QueueBuf{PropID: 3, Dir: pp.DirDst, BufID: 7, Op: pp.BufDequeue}
	b, err := json.Marshal(q)
	c.Assert(err, IsNil)
	c.Check(string(b), Equals, `{"prop-id":3,"dir":"dst","buf-id":7,"handles":[0,0,0],"op":"dequeue"}`)

	var prop pp.Property
	err = json.Unmarshal([]byte(`{"command":"wb","config":[{},{"format":"NV12","pos":{"w":8,"h":8},"size":{"hsize":8,"vsize":8}}],"event-driven":true}`), &prop)
	c.Assert(err, IsNil)
	c.Check(prop.Command, Equals, pp.CommandWB)
	c.Check(prop.EventDriven, Equals, true)
	c.Check(prop.Config[pp.DirDst].Format, Equals, pixfmt.NV12)

	var ctrl pp.Control
	c.Check(ctrl.UnmarshalText([]byte("resume")), IsNil)
	c.Check(ctrl, Equals, pp.ControlResume)
	c.Check(ctrl.UnmarshalText([]byte("rewind")), ErrorMatches, `unknown control "rewind"`)
	c.Check(pp.Command(9).String(), Equals, "command(9)")
	c.Check(pp.StateStop.String(), Equals, "stop")

	var state pp.State
	c.Check(state.UnmarshalText([]byte("start")), IsNil)
	c.Check(state, Equals, pp.StateStart)
	c.Check(state.UnmarshalText([]byte("running")), ErrorMatches, `unknown state "running"`)
}

func (s *propertySuite) TestCapabilityCheck(c *C) {
	hw := &fakeCapsDevice{}
	_, err := s.m.AddDevice("scaler", hw, pp.Capability{
		Formats:  [pp.NumDirections][]pixfmt.Format{{pixfmt.NV12}, {pixfmt.NV12, pixfmt.XRGB8888}},
		MaxSize:  pp.Size{HSize: 1920, VSize: 1080},
		Commands: []pp.Command{pp.CommandM2M},
	})
	c.Assert(err, IsNil)

	prop := m2mProp(false)
	prop.DevID = 2
	prop.Config[pp.DirDst] = config(320, 240)
	_, err = s.m.SetProperty(s.cl, prop)
	c.Check(err, ErrorMatches, `invalid argument: scaler cannot run property: scaling not supported`)

	prop.Config[pp.DirDst] = config(640, 480)
	prop.Config[pp.DirDst].Format = pixfmt.XRGB8888
	_, err = s.m.SetProperty(s.cl, prop)
	c.Check(err, ErrorMatches, `.* colorspace conversion not supported`)

	prop = m2mProp(false)
	prop.DevID = 2
	prop.Config[pp.DirSrc] = config(4096, 480)
	_, err = s.m.SetProperty(s.cl, prop)
	c.Check(err, ErrorMatches, `.* src size 4096x480 out of range`)

	prop = wbProp(false)
	prop.DevID = 2
	_, err = s.m.SetProperty(s.cl, prop)
	c.Check(err, ErrorMatches, `.* command wb not supported`)

	prop = m2mProp(false)
	prop.DevID = 2
	id, err := s.m.SetProperty(s.cl, prop)
	c.Assert(err, IsNil)
	c.Check(s.job(c, id).Property().DevID, Equals, 2)
}

type fakeCapsDevice struct {
	checkErr error
}

func (*fakeCapsDevice) SetFmt(pp.Direction, pixfmt.Format) error {
	return nil
}

func (*fakeCapsDevice) SetTransf(pp.Direction, pp.Degree, pp.Flip) (bool, error) {
	return false, nil
}

func (*fakeCapsDevice) SetSize(pp.Direction, bool, pp.Pos, pp.Size) error {
	return nil
}

func (*fakeCapsDevice) SetAddr(pp.Direction, *pp.BufInfo, uint32, pp.BufOp) error {
	return nil
}

func (d *fakeCapsDevice) CheckProperty(*pp.Property) error {
	return d.checkErr
}

func (*fakeCapsDevice) Reset() error {
	return nil
}

func (*fakeCapsDevice) Start(pp.Command) error {
	return nil
}

func (*fakeCapsDevice) Stop(pp.Command) {}

func (s *propertySuite) TestDeviceSelection(c *C) {
	s.hw.CheckPropertyCallback = func(prop *pp.Property) error {
		if prop.Config[pp.DirSrc].Size.HSize > 320 {
			return errors.New("too wide")
		}
		return nil
	}
	_, err := s.m.AddDevice("pp1", &fakeCapsDevice{}, fullCaps)
	c.Assert(err, IsNil)

	// pp0 refuses, pp1 takes it
	id := s.register(c, m2mProp(false))
	c.Check(s.job(c, id).Property().DevID, Equals, 2)

	prop := m2mProp(false)
	prop.Config[pp.DirSrc] = config(320, 240)
	id = s.register(c, prop)
	c.Check(s.job(c, id).Property().DevID, Equals, 1)

	prop = m2mProp(false)
	prop.DevID = 3
	_, err = s.m.SetProperty(s.cl, prop)
	c.Check(err, ErrorMatches, `device 3 not found`)
	c.Check(err, testutil.ErrorIs, pp.ErrNotFound)
}

func (s *propertySuite) TestNoDeviceMatches(c *C) {
	s.hw.CheckPropertyCallback = func(*pp.Property) error { return errors.New("no") }
	_, err := s.m.SetProperty(s.cl, m2mProp(false))
	c.Check(err, ErrorMatches, `no device found`)
	c.Check(err, testutil.ErrorIs, pp.ErrNotFound)
}

func (s *propertySuite) TestDedicatedDevice(c *C) {
	id := s.register(c, wbProp(false))
	c.Check(s.m.Devices()[0].Dedicated, Equals, id)

	prop := outputProp(false)
	prop.DevID = s.dev.ID()
	_, err := s.m.SetProperty(s.cl, prop)
	c.Check(err, testutil.ErrorIs, pp.ErrDeviceBusy)

	// picking a device skips dedicated ones
	_, err = s.m.SetProperty(s.cl, outputProp(false))
	c.Check(err, testutil.ErrorIs, pp.ErrNotFound)

	// memory-to-memory jobs can share it
	_, err = s.m.SetProperty(s.cl, m2mProp(false))
	c.Check(err, IsNil)

	c.Assert(s.m.Control(s.cl, id, pp.ControlStop), IsNil)
	c.Check(s.m.Devices()[0].Dedicated, Equals, 0)
	_, err = s.m.SetProperty(s.cl, prop)
	c.Check(err, IsNil)
}

func (s *propertySuite) TestRearm(c *C) {
	id := s.register(c, wbProp(false))
	c.Assert(s.enqueue(id, pp.DirDst, 1), IsNil)

	prop := wbProp(false)
	prop.PropID = id
	prop.Config[pp.DirDst] = config(320, 240)

	// only paused jobs can be changed
	_, err := s.m.SetProperty(s.cl, prop)
	c.Check(err, testutil.ErrorIs, pp.ErrInvalidState)

	c.Assert(s.m.Control(s.cl, id, pp.ControlPlay), IsNil)
	_, err = s.m.SetProperty(s.cl, prop)
	c.Check(err, ErrorMatches, `invalid state: cannot change property of job 1 in state start`)

	c.Assert(s.m.Control(s.cl, id, pp.ControlPause), IsNil)
	got, err := s.m.SetProperty(s.cl, prop)
	c.Assert(err, IsNil)
	c.Check(got, Equals, id)
	c.Check(s.job(c, id).Property().Config[pp.DirDst].Size, Equals, pp.Size{HSize: 320, VSize: 240})

	c.Assert(s.enqueue(id, pp.DirDst, 2), IsNil)
	s.hw.ResetCalls()
	c.Assert(s.m.Control(s.cl, id, pp.ControlResume), IsNil)
	c.Check(s.hw.Calls(), testutil.Contains, "set-size dst 320x240")

	bad := outputProp(false)
	bad.PropID = id
	_, err = s.m.SetProperty(s.cl, bad)
	c.Check(err, testutil.ErrorIs, pp.ErrInvalidArgument)

	prop.PropID = 42
	_, err = s.m.SetProperty(s.cl, prop)
	c.Check(err, testutil.ErrorIs, pp.ErrNotFound)
}
