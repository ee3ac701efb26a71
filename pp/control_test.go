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
	"context"
	"errors"
	"time"

	. "gopkg.in/check.v1"

	"github.com/snapcore/ppd/pixfmt"
	"github.com/snapcore/ppd/pp"
	"github.com/snapcore/ppd/testutil"
)

type controlSuite struct {
	baseSuite
}

var _ = Suite(&controlSuite{})

func (s *controlSuite) TestStateMachine(c *C) {
	id := s.register(c, wbProp(false))
	job := s.job(c, id)
	c.Assert(s.enqueue(id, pp.DirDst, 1), IsNil)

	expectInvalid := func(ctrl pp.Control) {
		before := job.State()
		err := s.m.Control(s.cl, id, ctrl)
		c.Check(err, testutil.ErrorIs, pp.ErrInvalidState, Commentf("%s from %s", ctrl, before))
		c.Check(job.State(), Equals, before)
	}

	c.Check(job.State(), Equals, pp.StateIdle)
	expectInvalid(pp.ControlPause)
	expectInvalid(pp.ControlResume)

	c.Assert(s.m.Control(s.cl, id, pp.ControlPlay), IsNil)
	c.Check(job.State(), Equals, pp.StateStart)
	expectInvalid(pp.ControlPlay)
	expectInvalid(pp.ControlResume)

	c.Assert(s.m.Control(s.cl, id, pp.ControlPause), IsNil)
	c.Check(job.State(), Equals, pp.StateStop)
	expectInvalid(pp.ControlPause)
	expectInvalid(pp.ControlPlay)

	// pausing gave the buffers back
	c.Check(job.Queued(pp.DirDst), Equals, 0)
	c.Check(s.m.Control(s.cl, id, pp.ControlResume), testutil.ErrorIs, pp.ErrOutOfResources)
	c.Check(job.State(), Equals, pp.StateStop)

	c.Assert(s.enqueue(id, pp.DirDst, 2), IsNil)
	c.Assert(s.m.Control(s.cl, id, pp.ControlResume), IsNil)
	c.Check(job.State(), Equals, pp.StateStart)

	c.Assert(s.m.Control(s.cl, id, pp.ControlStop), IsNil)
	_, ok := s.m.Lookup(id)
	c.Check(ok, Equals, false)

	// a second stop finds nothing
	err := s.m.Control(s.cl, id, pp.ControlStop)
	c.Check(err, testutil.ErrorIs, pp.ErrNotFound)
	c.Check(err, ErrorMatches, `job 1 not found`)
	c.Check(s.bufs.Outstanding(), Equals, 0)
	c.Check(s.bufs.BadReleases(), Equals, 0)

	c.Check(s.hw.Calls(), DeepEquals, []string{
		"resume",
		"reset",
		"set-fmt dst NV12",
		"set-transf dst 0 0",
		"set-size dst 640x480",
		"set-addr dst 1 enqueue",
		"start wb",
		"stop wb",
		"reset",
		"set-fmt dst NV12",
		"set-transf dst 0 0",
		"set-size dst 640x480",
		"set-addr dst 2 enqueue",
		"start wb",
		"stop wb",
		"suspend",
	})
}

func (s *controlSuite) TestStopFromIdle(c *C) {
	id := s.register(c, m2mProp(false))
	c.Assert(s.enqueue(id, pp.DirSrc, 1), IsNil)
	c.Assert(s.enqueue(id, pp.DirDst, 1), IsNil)
	c.Check(s.bufs.Outstanding(), Equals, 2)

	c.Assert(s.m.Control(s.cl, id, pp.ControlStop), IsNil)
	_, ok := s.m.Lookup(id)
	c.Check(ok, Equals, false)
	c.Check(s.bufs.Outstanding(), Equals, 0)
	c.Check(s.hw.CallCount("stop"), Equals, 0)
	c.Check(s.cl.Jobs(), HasLen, 0)
}

func (s *controlSuite) TestPlayRequiresDepth(c *C) {
	for _, eventDriven := range []bool{false, true} {
		id := s.register(c, m2mProp(eventDriven))
		c.Assert(s.enqueue(id, pp.DirSrc, 1), IsNil)

		err := s.m.Control(s.cl, id, pp.ControlPlay)
		c.Check(err, testutil.ErrorIs, pp.ErrOutOfResources)
		c.Check(s.job(c, id).State(), Equals, pp.StateIdle)
		c.Check(s.hw.CallCount("start"), Equals, 0)
		c.Check(s.dev.Current(), IsNil)
	}
}

func (s *controlSuite) TestM2MDepthCap(c *C) {
	id := s.register(c, m2mProp(false))
	job := s.job(c, id)
	c.Check(job.HasRequiredDepth(), Equals, false)

	c.Assert(s.enqueue(id, pp.DirDst, 1), IsNil)
	for i := uint32(1); i <= 10; i++ {
		c.Assert(s.enqueue(id, pp.DirSrc, i), IsNil)
	}
	c.Check(job.HasRequiredDepth(), Equals, true)

	c.Assert(s.enqueue(id, pp.DirSrc, 11), IsNil)
	c.Check(job.Queued(pp.DirSrc), Equals, 11)
	c.Check(job.HasRequiredDepth(), Equals, false)
	c.Check(s.m.Control(s.cl, id, pp.ControlPlay), testutil.ErrorIs, pp.ErrOutOfResources)

	c.Assert(s.dequeue(id, pp.DirSrc, 4), IsNil)
	c.Check(job.HasRequiredDepth(), Equals, true)
}

func (s *controlSuite) TestScenario(c *C) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	restore := pp.MockTimeNow(func() time.Time { return now })
	defer restore()

	for i := 1; i <= 4; i++ {
		c.Assert(s.register(c, m2mProp(false)), Equals, i)
	}

	id := s.register(c, m2mProp(true))
	c.Assert(id, Equals, 5)
	c.Assert(s.enqueue(id, pp.DirSrc, 1), IsNil)
	c.Assert(s.enqueue(id, pp.DirDst, 1), IsNil)
	c.Assert(s.m.Control(s.cl, id, pp.ControlPlay), IsNil)

	s.waitForCalls(c, "start m2m", 1)
	s.hw.Complete(1, 1)

	ev := s.readEvent(c)
	c.Check(ev, DeepEquals, pp.Event{
		Timestamp: now,
		PropID:    5,
		BufIDs:    [pp.NumDirections]uint32{1, 1},
	})
	c.Check(s.cl.PendingEvents(), Equals, 0)
	c.Check(s.hw.CallCount("start"), Equals, 1)

	c.Assert(s.m.Control(s.cl, id, pp.ControlStop), IsNil)
	_, ok := s.m.Lookup(5)
	c.Check(ok, Equals, false)
	c.Check(s.bufs.Outstanding(), Equals, 0)
	c.Check(s.cl.EventSpace(), Equals, s.m.Options().EventSpace)
}

func (s *controlSuite) TestSyncM2MFrame(c *C) {
	s.hw.StartCallback = func(pp.Command) error {
		go s.hw.Complete(1, 1)
		return nil
	}
	id := s.register(c, m2mProp(false))
	job := s.job(c, id)
	c.Assert(s.enqueue(id, pp.DirSrc, 1), IsNil)
	c.Assert(s.enqueue(id, pp.DirDst, 1), IsNil)

	c.Assert(s.m.Control(s.cl, id, pp.ControlPlay), IsNil)
	// the finished frame gave its buffers back, without an event
	testutil.WaitFor(c, 5*time.Second, func() bool {
		return job.Queued(pp.DirSrc) == 0 && job.Queued(pp.DirDst) == 0
	})
	c.Check(s.bufs.Outstanding(), Equals, 0)
	c.Check(s.cl.PendingEvents(), Equals, 0)

	// queueing the next pair processes the next frame inline
	c.Assert(s.enqueue(id, pp.DirSrc, 2), IsNil)
	c.Check(s.hw.CallCount("start"), Equals, 1)
	c.Assert(s.enqueue(id, pp.DirDst, 2), IsNil)
	c.Check(s.hw.CallCount("start"), Equals, 2)
	addrs := s.hw.Addrs()
	c.Assert(addrs, HasLen, 4)
	for i, dir := range []pp.Direction{pp.DirSrc, pp.DirDst} {
		c.Check(addrs[2+i].Dir, Equals, dir)
		c.Check(addrs[2+i].BufID, Equals, uint32(2))
	}
}

func (s *controlSuite) TestEventDrivenNextFrame(c *C) {
	id := s.register(c, m2mProp(true))
	c.Assert(s.enqueue(id, pp.DirSrc, 1), IsNil)
	c.Assert(s.enqueue(id, pp.DirDst, 1), IsNil)
	c.Assert(s.m.Control(s.cl, id, pp.ControlPlay), IsNil)
	s.waitForCalls(c, "start m2m", 1)
	s.hw.Complete(1, 1)
	c.Check(s.readEvent(c).BufIDs, Equals, [pp.NumDirections]uint32{1, 1})

	c.Assert(s.enqueue(id, pp.DirDst, 2), IsNil)
	c.Assert(s.enqueue(id, pp.DirSrc, 2), IsNil)
	s.waitForCalls(c, "start m2m", 2)
	s.hw.Complete(2, 2)
	c.Check(s.readEvent(c).BufIDs, Equals, [pp.NumDirections]uint32{2, 2})
}

func (s *controlSuite) TestEventOrdering(c *C) {
	id := s.register(c, wbProp(true))
	for i := uint32(1); i <= 3; i++ {
		c.Assert(s.enqueue(id, pp.DirDst, i), IsNil)
	}
	c.Check(s.job(c, id).PendingEvents(), Equals, 3)
	c.Assert(s.m.Control(s.cl, id, pp.ControlPlay), IsNil)
	s.waitForCalls(c, "start wb", 1)

	for i := uint32(1); i <= 3; i++ {
		s.hw.Complete(0, i)
	}
	for i := uint32(1); i <= 3; i++ {
		ev := s.readEvent(c)
		c.Check(ev.PropID, Equals, id)
		c.Check(ev.BufIDs[pp.DirDst], Equals, i)
	}
	c.Check(s.bufs.Outstanding(), Equals, 0)
}

func (s *controlSuite) TestOutputEvents(c *C) {
	id := s.register(c, outputProp(true))
	c.Assert(s.enqueue(id, pp.DirSrc, 4), IsNil)
	c.Assert(s.m.Control(s.cl, id, pp.ControlPlay), IsNil)
	s.waitForCalls(c, "start output", 1)
	s.hw.Complete(4, 0)
	ev := s.readEvent(c)
	c.Check(ev.BufIDs, Equals, [pp.NumDirections]uint32{4, 0})
}

func (s *controlSuite) TestStreamingQueueWhileStarted(c *C) {
	id := s.register(c, wbProp(false))
	c.Assert(s.enqueue(id, pp.DirDst, 1), IsNil)
	c.Assert(s.m.Control(s.cl, id, pp.ControlPlay), IsNil)

	c.Assert(s.enqueue(id, pp.DirDst, 2), IsNil)
	c.Assert(s.dequeue(id, pp.DirDst, 2), IsNil)
	c.Check(s.hw.Calls()[len(s.hw.Calls())-3:], DeepEquals, []string{
		"start wb",
		"set-addr dst 2 enqueue",
		"set-addr dst 2 dequeue",
	})
	c.Check(s.dequeue(id, pp.DirDst, 2), testutil.ErrorIs, pp.ErrNotFound)
	c.Check(s.bufs.Outstanding(), Equals, 1)
}

func (s *controlSuite) TestStartFailureRollsBack(c *C) {
	s.hw.StartCallback = func(pp.Command) error { return errors.New("on fire") }
	id := s.register(c, m2mProp(false))
	c.Assert(s.enqueue(id, pp.DirSrc, 1), IsNil)
	c.Assert(s.enqueue(id, pp.DirDst, 1), IsNil)

	err := s.m.Control(s.cl, id, pp.ControlPlay)
	c.Check(err, ErrorMatches, `cannot start m2m on pp0: on fire`)
	c.Check(s.job(c, id).State(), Equals, pp.StateIdle)
	c.Check(s.dev.Current(), IsNil)

	s.hw.Complete(1, 1)
	c.Check(s.logbuf.String(), testutil.Contains, "pp0: completion [1 1] without a current job")
}

func (s *controlSuite) TestQueuedStartFailureRollsBack(c *C) {
	kinds := make(chan pp.NoticeKind, 16)
	_, err := s.m.Notifier().Register(pp.ObserverFunc(func(n *pp.Notice) error {
		kinds <- n.Kind
		return nil
	}))
	c.Assert(err, IsNil)

	s.hw.StartCallback = func(pp.Command) error { return errors.New("on fire") }
	id := s.register(c, wbProp(true))
	c.Assert(s.enqueue(id, pp.DirDst, 1), IsNil)

	// the start happens on the command worker
	c.Assert(s.m.Control(s.cl, id, pp.ControlPlay), IsNil)
	job := s.job(c, id)
	testutil.WaitFor(c, 5*time.Second, func() bool {
		return job.State() == pp.StateIdle
	})
	c.Check(s.dev.Current(), IsNil)
	c.Check(s.logbuf.String(), testutil.Contains, "job 1: cannot start: cannot start wb on pp0: on fire")

	var got []pp.NoticeKind
	for len(got) < 3 {
		select {
		case k := <-kinds:
			got = append(got, k)
		case <-time.After(testutil.HostScaledTimeout(5 * time.Second)):
			c.Fatalf("notices missing, got %v", got)
		}
	}
	// the worker may fail before the started notice is out
	c.Check(got[0], Equals, pp.JobRegistered)
	c.Check(got[1:], testutil.Contains, pp.JobStarted)
	c.Check(got[1:], testutil.Contains, pp.JobFailed)

	// the job can be played again
	s.hw.StartCallback = nil
	c.Assert(s.m.Control(s.cl, id, pp.ControlPlay), IsNil)
	s.waitForCalls(c, "start wb", 2)
	s.hw.Complete(0, 1)
	c.Check(s.readEvent(c).BufIDs[pp.DirDst], Equals, uint32(1))
}

func (s *controlSuite) TestQueuedResumeFailureGoesBackToStop(c *C) {
	id := s.register(c, wbProp(true))
	c.Assert(s.enqueue(id, pp.DirDst, 1), IsNil)
	c.Assert(s.m.Control(s.cl, id, pp.ControlPlay), IsNil)
	s.waitForCalls(c, "start wb", 1)
	c.Assert(s.m.Control(s.cl, id, pp.ControlPause), IsNil)

	s.hw.StartCallback = func(pp.Command) error { return errors.New("on fire") }
	c.Assert(s.enqueue(id, pp.DirDst, 2), IsNil)
	c.Assert(s.m.Control(s.cl, id, pp.ControlResume), IsNil)
	job := s.job(c, id)
	testutil.WaitFor(c, 5*time.Second, func() bool {
		return job.State() == pp.StateStop
	})
	c.Check(s.m.Control(s.cl, id, pp.ControlPlay), testutil.ErrorIs, pp.ErrInvalidState)

	s.hw.StartCallback = nil
	c.Check(s.m.Control(s.cl, id, pp.ControlResume), IsNil)
}

func (s *controlSuite) TestFrameTakenWhole(c *C) {
	id := s.register(c, m2mProp(false))
	job := s.job(c, id)
	c.Assert(s.enqueue(id, pp.DirSrc, 1), IsNil)

	c.Check(job.TakeFrame(pp.DirSrc, pp.DirDst), Equals, 0)
	c.Check(job.Queued(pp.DirSrc), Equals, 1)
	c.Check(s.bufs.Outstanding(), Equals, 1)

	c.Assert(s.enqueue(id, pp.DirDst, 1), IsNil)
	c.Check(job.TakeFrame(pp.DirSrc, pp.DirDst), Equals, 2)
	c.Check(job.Queued(pp.DirSrc), Equals, 0)
	c.Check(job.Queued(pp.DirDst), Equals, 0)
	c.Check(s.bufs.Outstanding(), Equals, 0)
}

func (s *controlSuite) TestResetRetriedWhileBusy(c *C) {
	busy := 2
	s.hw.ResetCallback = func() error {
		if busy > 0 {
			busy--
			return pp.ErrDeviceBusy
		}
		return nil
	}
	id := s.register(c, wbProp(false))
	c.Assert(s.enqueue(id, pp.DirDst, 1), IsNil)
	c.Assert(s.m.Control(s.cl, id, pp.ControlPlay), IsNil)
	c.Check(s.hw.CallCount("reset"), Equals, 3)

	s.hw.ResetCallback = func() error { return pp.ErrDeviceBusy }
	c.Assert(s.m.Control(s.cl, id, pp.ControlPause), IsNil)
	c.Assert(s.enqueue(id, pp.DirDst, 2), IsNil)
	err := s.m.Control(s.cl, id, pp.ControlResume)
	c.Check(err, ErrorMatches, `cannot reset pp0: device busy`)
	c.Check(s.job(c, id).State(), Equals, pp.StateStop)
}

func (s *controlSuite) TestSuspendedDevice(c *C) {
	c.Check(s.dev.Suspended(), Equals, true)

	id := s.register(c, wbProp(false))
	c.Assert(s.enqueue(id, pp.DirDst, 1), IsNil)
	err := s.m.Control(s.cl, id, pp.ControlResume)
	c.Check(err, ErrorMatches, `cannot resume job 1 in state idle`)

	s.hw.ResumeCallback = func() error { return errors.New("no power") }
	err = s.m.Control(s.cl, id, pp.ControlPlay)
	c.Check(err, ErrorMatches, `cannot resume pp0: no power`)
	c.Check(s.dev.Suspended(), Equals, true)

	s.hw.ResumeCallback = nil
	c.Assert(s.m.Control(s.cl, id, pp.ControlPlay), IsNil)
	c.Check(s.dev.Suspended(), Equals, false)
	// right after the implicit resume pause is fine
	c.Assert(s.m.Control(s.cl, id, pp.ControlPause), IsNil)

	c.Assert(s.m.Control(s.cl, id, pp.ControlStop), IsNil)
	c.Check(s.dev.Suspended(), Equals, true)
	c.Check(s.m.Devices()[0].Suspended, Equals, true)
}

func (s *controlSuite) TestOtherClientsJobsAreInvisible(c *C) {
	id := s.register(c, wbProp(false))
	other, err := s.m.Connect()
	c.Assert(err, IsNil)

	c.Check(s.m.Control(other, id, pp.ControlStop), testutil.ErrorIs, pp.ErrNotFound)
	_, err = s.m.Job(other, id)
	c.Check(err, testutil.ErrorIs, pp.ErrNotFound)

	info, err := s.m.Job(s.cl, id)
	c.Assert(err, IsNil)
	c.Check(info.State, Equals, pp.StateIdle)
	c.Check(info.DevID, Equals, s.dev.ID())
}

func (s *controlSuite) TestDisconnectDrains(c *C) {
	m2m := s.register(c, m2mProp(true))
	c.Assert(s.enqueue(m2m, pp.DirSrc, 1), IsNil)
	c.Assert(s.enqueue(m2m, pp.DirDst, 1), IsNil)

	wb := s.register(c, wbProp(false))
	c.Assert(s.enqueue(wb, pp.DirDst, 1), IsNil)
	c.Assert(s.enqueue(wb, pp.DirDst, 2), IsNil)
	c.Assert(s.m.Control(s.cl, wb, pp.ControlPlay), IsNil)
	c.Check(s.bufs.Outstanding(), Equals, 4)
	c.Check(s.cl.EventSpace(), Equals, s.m.Options().EventSpace-pp.EventSize)

	s.m.Disconnect(s.cl)

	for _, id := range []int{m2m, wb} {
		_, ok := s.m.Lookup(id)
		c.Check(ok, Equals, false)
	}
	c.Check(s.bufs.Outstanding(), Equals, 0)
	c.Check(s.bufs.BadReleases(), Equals, 0)
	c.Check(s.hw.Calls(), testutil.Contains, "stop wb")
	c.Check(s.hw.CallCount("stop m2m"), Equals, 0)

	_, err := s.cl.ReadEvent(context.Background())
	c.Check(err, Equals, pp.ErrDisconnected)
	_, err = s.m.Client(s.cl.ID())
	c.Check(err, testutil.ErrorIs, pp.ErrNotFound)
	c.Check(s.m.Control(s.cl, wb, pp.ControlStop), testutil.ErrorIs, pp.ErrNotFound)
}

func (s *controlSuite) TestNotices(c *C) {
	var kinds []pp.NoticeKind
	id, err := s.m.Notifier().Register(pp.ObserverFunc(func(n *pp.Notice) error {
		kinds = append(kinds, n.Kind)
		return nil
	}))
	c.Assert(err, IsNil)
	_, err = s.m.Notifier().Register(pp.ObserverFunc(func(n *pp.Notice) error {
		return errors.New("cannot keep up")
	}))
	c.Assert(err, IsNil)

	prop := s.register(c, wbProp(false))
	c.Assert(s.enqueue(prop, pp.DirDst, 1), IsNil)
	c.Assert(s.m.Control(s.cl, prop, pp.ControlPlay), IsNil)
	c.Assert(s.m.Control(s.cl, prop, pp.ControlPause), IsNil)
	c.Assert(s.enqueue(prop, pp.DirDst, 2), IsNil)
	c.Assert(s.m.Control(s.cl, prop, pp.ControlResume), IsNil)
	c.Assert(s.m.Control(s.cl, prop, pp.ControlStop), IsNil)

	c.Check(kinds, DeepEquals, []pp.NoticeKind{
		pp.JobRegistered,
		pp.JobStarted,
		pp.JobPaused,
		pp.JobResumed,
		pp.JobStopped,
	})
	c.Check(s.logbuf.String(), testutil.Contains, "observer 2 failed on job-started notice for job 1: cannot keep up")

	s.m.Notifier().Unregister(id)
	s.register(c, wbProp(false))
	c.Check(kinds, HasLen, 5)
}

func (s *controlSuite) TestPlanarAddressesFed(c *C) {
	prop := m2mProp(false)
	prop.Config[pp.DirSrc] = config(1280, 720)
	id := s.register(c, prop)

	h := s.bufs.Add(0x1000, 1280*720*3/2)
	c.Assert(s.m.QueueBuffer(s.cl, &pp.QueueBuf{
		PropID:  id,
		Dir:     pp.DirSrc,
		BufID:   1,
		Handles: [pixfmt.MaxPlanes]pp.Handle{h},
	}), IsNil)
	c.Assert(s.enqueue(id, pp.DirDst, 1), IsNil)
	c.Assert(s.m.Control(s.cl, id, pp.ControlPlay), IsNil)

	addrs := s.hw.Addrs()
	c.Assert(addrs, HasLen, 2)
	c.Check(addrs[0].Dir, Equals, pp.DirSrc)
	c.Check(addrs[0].Info.Planes[0], Equals, pixfmt.Plane{Base: 0x1000, Size: 1280 * 720 * 3 / 2})
	c.Check(addrs[0].Info.Planes[1].Base, Equals, uint64(0x1000+921600))
}
