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
	"time"

	. "gopkg.in/check.v1"
)

type gateSuite struct{}

var _ = Suite(&gateSuite{})

func (s *gateSuite) TestNewGateIsSignaled(c *C) {
	g := newGate()
	c.Check(g.signaled(), Equals, true)
	c.Check(g.wait(time.Millisecond), Equals, true)
}

func (s *gateSuite) TestRearmBlocksUntilSignal(c *C) {
	g := newGate()
	g.rearm()
	c.Check(g.signaled(), Equals, false)
	c.Check(g.wait(5*time.Millisecond), Equals, false)

	go func() {
		time.Sleep(5 * time.Millisecond)
		g.signal()
	}()
	c.Check(g.wait(5*time.Second), Equals, true)
	// stays signaled
	c.Check(g.wait(time.Millisecond), Equals, true)
}

func (s *gateSuite) TestSignalTwiceAndRearmTwice(c *C) {
	g := newGate()
	g.signal()
	g.signal()
	g.rearm()
	g.rearm()
	c.Check(g.signaled(), Equals, false)
	g.signal()
	c.Check(g.signaled(), Equals, true)
}

type workQueueSuite struct{}

var _ = Suite(&workQueueSuite{})

func (s *workQueueSuite) TestFIFO(c *C) {
	q := newWorkQueue[int](0)
	for i := 1; i <= 3; i++ {
		c.Check(q.push(i), Equals, true)
	}
	c.Check(q.len(), Equals, 3)
	// a single wakeup covers all of them
	c.Check(len(q.wake), Equals, 1)
	for i := 1; i <= 3; i++ {
		v, ok := q.pop()
		c.Check(ok, Equals, true)
		c.Check(v, Equals, i)
	}
	_, ok := q.pop()
	c.Check(ok, Equals, false)
}

func (s *workQueueSuite) TestLimit(c *C) {
	q := newWorkQueue[int](2)
	c.Check(q.push(1), Equals, true)
	c.Check(q.push(2), Equals, true)
	c.Check(q.push(3), Equals, false)
	c.Check(q.drain(), DeepEquals, []int{1, 2})
	c.Check(q.len(), Equals, 0)
}

func (s *workQueueSuite) TestCmdWorkWait(c *C) {
	w := &cmdWork{done: make(chan struct{})}
	err := w.wait(time.Millisecond)
	c.Check(err, ErrorMatches, "timeout: work not done after 1ms")

	w.finish(ErrDeviceBusy)
	c.Check(w.wait(time.Second), Equals, ErrDeviceBusy)
}
