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

package main_test

import (
	. "gopkg.in/check.v1"

	main "github.com/snapcore/ppd/cmd/ppd"
)

type demoSuite struct {
	baseSuite
}

var _ = Suite(&demoSuite{})

func (s *demoSuite) TestM2M(c *C) {
	err := main.Run([]string{"demo", "--frames", "3", "--latency", "1ms", "--size", "64x64"})
	c.Assert(err, IsNil)
	c.Check(s.stdout.String(), Matches, `Frame +Job +Src +Dst +Elapsed
1 +1 +1 +1 +\S+
2 +1 +2 +2 +\S+
3 +1 +3 +3 +\S+
`)
	c.Check(s.stderr.String(), Equals, "")
}

func (s *demoSuite) TestWriteback(c *C) {
	err := main.Run([]string{"demo", "--command", "wb", "--frames", "4", "--latency", "1ms", "--size", "32x32", "--format", "XRGB8888"})
	c.Assert(err, IsNil)
	c.Check(s.stdout.String(), Matches, `Frame +Job +Src +Dst +Elapsed
1 +1 +0 +1 +\S+
2 +1 +0 +2 +\S+
3 +1 +0 +3 +\S+
4 +1 +0 +4 +\S+
`)
}

func (s *demoSuite) TestOutput(c *C) {
	err := main.Run([]string{"demo", "--command", "output", "--frames", "1", "--latency", "1ms", "--size", "32x32"})
	c.Assert(err, IsNil)
	c.Check(s.stdout.String(), Matches, `Frame +Job +Src +Dst +Elapsed
1 +1 +1 +0 +\S+
`)
}

func (s *demoSuite) TestInvalid(c *C) {
	for _, t := range []struct {
		args []string
		err  string
	}{
		{[]string{"--frames", "0"}, `invalid number of frames 0`},
		{[]string{"--format", "bogus"}, `unknown pixel format "bogus"`},
		{[]string{"--size", "big"}, `invalid size "big"`},
		{[]string{"--command", "copy"}, `(?s)Invalid value .copy. for option .--command.*`},
		{[]string{"--size", "0x0"}, `invalid argument: src: empty image size`},
	} {
		err := main.Run(append([]string{"demo"}, t.args...))
		c.Check(err, ErrorMatches, t.err, Commentf("%v", t.args))
	}
	c.Check(s.stdout.String(), Equals, "")
}
