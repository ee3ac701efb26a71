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

	"github.com/snapcore/ppd/logger"
)

// startProperty programs the hardware for job and starts it. For
// memory-to-memory jobs it then waits a bounded time for the frame to
// complete. Must be called with d.startStopMu and job.opMu held.
func (d *Device) startProperty(job *Job) error {
	cmd := job.command()
	timeout := d.mgr.opts.StartTimeout
	if cmd == CommandM2M && !job.gate.wait(timeout) {
		logger.Noticef("job %d: previous frame still in flight after %v", job.id, timeout)
	}

	d.setCurrent(job)
	if err := d.program(job); err != nil {
		d.clearCurrent(job)
		if cmd == CommandM2M {
			job.gate.signal()
		}
		return err
	}

	if cmd == CommandM2M && !job.gate.wait(timeout) {
		// the completion may still arrive, this is not fatal
		logger.Noticef("job %d: %v: frame not completed after %v", job.id, ErrTimeout, timeout)
	}
	return nil
}

func (d *Device) program(job *Job) error {
	cmd := job.command()
	if !job.hasRequiredDepth() {
		return fmt.Errorf("%w: not enough buffers queued to start job %d", ErrOutOfResources, job.id)
	}
	if cmd == CommandM2M {
		job.gate.rearm()
	}
	if err := d.reset(); err != nil {
		return fmt.Errorf("cannot reset %s: %w", d.name, err)
	}

	prop := job.Property()
	for _, dir := range prop.configured() {
		cfg := &prop.Config[dir]
		if err := d.ops.SetFmt(dir, cfg.Format); err != nil {
			return fmt.Errorf("cannot set %s format: %w", dir, err)
		}
		swap, err := d.ops.SetTransf(dir, cfg.Degree, cfg.Flip)
		if err != nil {
			return fmt.Errorf("cannot set %s transform: %w", dir, err)
		}
		if err := d.ops.SetSize(dir, swap, cfg.Pos, cfg.Size); err != nil {
			return fmt.Errorf("cannot set %s size: %w", dir, err)
		}
	}

	var feed []*memNode
	switch cmd {
	case CommandM2M:
		feed = []*memNode{job.first(DirSrc), job.first(DirDst)}
	case CommandWB:
		feed = job.nodes(DirDst)
	case CommandOutput:
		feed = job.nodes(DirSrc)
	}
	for _, n := range feed {
		if n == nil {
			return fmt.Errorf("%w: buffer of job %d went away", ErrOutOfResources, job.id)
		}
		if err := d.feed(job, n, BufEnqueue); err != nil {
			return err
		}
	}

	if err := d.ops.Start(cmd); err != nil {
		return fmt.Errorf("cannot start %s on %s: %w", cmd, d.name, err)
	}
	return nil
}

// feed hands the address of a queued buffer to the hardware. Must be
// called with d.startStopMu held.
func (d *Device) feed(job *Job, n *memNode, op BufOp) error {
	info, ok := job.prepareFeed(n, op)
	if !ok {
		return fmt.Errorf("%w: %s buffer %d of job %d is not queued", ErrNotFound, n.dir, n.bufID, job.id)
	}
	if err := d.ops.SetAddr(n.dir, &info, n.bufID, op); err != nil {
		return fmt.Errorf("cannot %s %s buffer %d: %w", op, n.dir, n.bufID, err)
	}
	return nil
}

// prepareFeed attaches a fence to a buffer about to be handed to the
// hardware and returns its addresses, unless the buffer was dequeued in
// the meantime.
func (j *Job) prepareFeed(n *memNode, op BufOp) (BufInfo, bool) {
	j.memMu.Lock()
	defer j.memMu.Unlock()

	if op == BufDequeue {
		return n.info, true
	}
	for _, qn := range j.queues[n.dir] {
		if qn == n {
			n.attachFence(j.mgr.buffers)
			return n.info, true
		}
	}
	return BufInfo{}, false
}

// stopProperty stops the hardware for job if it was running and gives
// back every buffer of the directions the job uses. Must be called with
// d.startStopMu and job.opMu held.
func (d *Device) stopProperty(job *Job, running bool) {
	cmd := job.command()
	timeout := d.mgr.opts.StartTimeout
	if !job.gate.wait(timeout) {
		logger.Noticef("job %d: stopping with a frame in flight after %v", job.id, timeout)
	}
	if running {
		d.ops.Stop(cmd)
	}
	d.clearCurrent(job)
	for _, dir := range cmd.Directions() {
		job.release(dir)
	}
	job.flushEvents()
}

// Control requests a transport control for a job of the client.
func (m *Manager) Control(cl *Client, propID int, ctrl Control) error {
	job, err := m.clientJob(cl, propID)
	if err != nil {
		return err
	}
	dev := job.device

	switch ctrl {
	case ControlStop:
		return m.stopJob(job)
	case ControlPlay:
		if err := dev.resume(); err != nil {
			return err
		}
		return m.startJob(job, ctrl, StateIdle)
	case ControlPause, ControlResume:
		if dev.isSuspended() {
			return &StateError{PropID: job.id, Control: ctrl, State: job.State()}
		}
		if ctrl == ControlPause {
			return m.pauseJob(job)
		}
		return m.startJob(job, ctrl, StateStop)
	}
	return invalidArgf("unknown control %d", int(ctrl))
}

func (m *Manager) startJob(job *Job, ctrl Control, from State) error {
	dev := job.device
	noticeKind := JobStarted
	if ctrl == ControlResume {
		noticeKind = JobResumed
	}

	if job.prop.EventDriven {
		job.opMu.Lock()
		if state := job.State(); state != from {
			job.opMu.Unlock()
			return &StateError{PropID: job.id, Control: ctrl, State: state}
		}
		if !job.hasRequiredDepth() {
			job.opMu.Unlock()
			return fmt.Errorf("%w: not enough buffers queued to %s job %d", ErrOutOfResources, ctrl, job.id)
		}
		job.setState(StateStart)
		job.startedFrom = from
		dev.disp.submitStart(job)
		job.opMu.Unlock()
		m.notify(noticeKind, job, nil)
		return nil
	}

	dev.startStopMu.Lock()
	defer dev.startStopMu.Unlock()
	job.opMu.Lock()
	defer job.opMu.Unlock()

	if state := job.State(); state != from {
		return &StateError{PropID: job.id, Control: ctrl, State: state}
	}
	// completions are only accepted for started jobs
	job.setState(StateStart)
	if err := dev.startProperty(job); err != nil {
		job.setState(from)
		return err
	}
	m.notify(noticeKind, job, nil)
	return nil
}

func (m *Manager) pauseJob(job *Job) error {
	dev := job.device

	if job.prop.EventDriven {
		job.opMu.Lock()
		if state := job.State(); state != StateStart {
			job.opMu.Unlock()
			return &StateError{PropID: job.id, Control: ControlPause, State: state}
		}
		job.setState(StateStop)
		w := dev.disp.submitStop(job, true)
		job.opMu.Unlock()

		if err := w.wait(m.opts.PauseTimeout); err != nil {
			logger.Noticef("job %d: pause: %v", job.id, err)
		}
		m.notify(JobPaused, job, nil)
		return nil
	}

	dev.startStopMu.Lock()
	defer dev.startStopMu.Unlock()
	job.opMu.Lock()
	defer job.opMu.Unlock()

	if state := job.State(); state != StateStart {
		return &StateError{PropID: job.id, Control: ControlPause, State: state}
	}
	job.setState(StateStop)
	dev.stopProperty(job, true)
	m.notify(JobPaused, job, nil)
	return nil
}

// stopJob unregisters the job, stops it from whatever state it is in
// and tears it down.
func (m *Manager) stopJob(job *Job) error {
	if _, ok := m.jobs.TakeIf(job.id, func(j *Job) bool { return j == job }); !ok {
		return &NotFoundError{Kind: "job", ID: job.id}
	}
	m.teardown(job)
	return nil
}

// teardown stops and destroys a job already removed from the registry.
func (m *Manager) teardown(job *Job) {
	dev := job.device

	if job.prop.EventDriven {
		job.opMu.Lock()
		running := job.State() == StateStart
		job.setState(StateStop)
		w := dev.disp.submitStop(job, running)
		job.opMu.Unlock()

		if err := w.wait(m.opts.StopTimeout); err != nil {
			logger.Noticef("job %d: stop: %v", job.id, err)
		}
	} else {
		dev.startStopMu.Lock()
		job.opMu.Lock()
		running := job.State() == StateStart
		job.setState(StateStop)
		dev.stopProperty(job, running)
		job.opMu.Unlock()
		dev.startStopMu.Unlock()
	}

	m.destroy(job)
}

// destroy tears down a job that was already removed from the registry.
func (m *Manager) destroy(job *Job) {
	job.stateMu.Lock()
	job.destroyed = true
	job.stateMu.Unlock()

	job.flushEvents()
	job.releaseAll()
	job.device.detach(job)
	job.client.detach(job)
	logger.Debugf("job %d destroyed", job.id)
	m.notify(JobStopped, job, nil)
}
