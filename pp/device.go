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
	"errors"
	"fmt"
	"sync"
	"time"

	"gopkg.in/retry.v1"

	"github.com/snapcore/ppd/logger"
	"github.com/snapcore/ppd/pixfmt"
)

// DeviceOps programs one post-processor unit.
type DeviceOps interface {
	SetFmt(dir Direction, f pixfmt.Format) error
	// SetTransf programs rotation and flip and reports whether the
	// sizes of the direction need to be swapped.
	SetTransf(dir Direction, degree Degree, flip Flip) (swap bool, err error)
	SetSize(dir Direction, swap bool, pos Pos, size Size) error
	SetAddr(dir Direction, info *BufInfo, bufID uint32, op BufOp) error
	CheckProperty(prop *Property) error
	Reset() error
	Start(cmd Command) error
	Stop(cmd Command)
}

// PowerOps is implemented by devices with runtime power management.
type PowerOps interface {
	Resume() error
	Suspend() error
}

// CompletionSource is implemented by devices that report finished
// frames by themselves. The handler must be called with the buffer ids
// the hardware finished, per direction; it never blocks.
type CompletionSource interface {
	SetCompletionHandler(func(bufIDs [NumDirections]uint32))
}

// Device is a post-processor unit registered with a Manager.
type Device struct {
	id   int
	name string
	ops  DeviceOps
	caps Capability
	mgr  *Manager

	// startStopMu serializes hardware programming.
	startStopMu sync.Mutex

	mu        sync.Mutex
	current   *Job
	dedicated *Job
	jobs      map[int]*Job
	suspended bool

	disp *dispatcher
}

// DeviceInfo describes a registered device.
type DeviceInfo struct {
	ID        int        `json:"id"`
	Name      string     `json:"name"`
	Caps      Capability `json:"capabilities"`
	Jobs      int        `json:"jobs"`
	Dedicated int        `json:"dedicated-to,omitempty"`
	Suspended bool       `json:"suspended"`
}

func (d *Device) ID() int { return d.id }

func (d *Device) Name() string { return d.name }

func (d *Device) info() DeviceInfo {
	d.mu.Lock()
	defer d.mu.Unlock()

	info := DeviceInfo{
		ID:        d.id,
		Name:      d.name,
		Caps:      d.caps,
		Jobs:      len(d.jobs),
		Suspended: d.suspended,
	}
	if d.dedicated != nil {
		info.Dedicated = d.dedicated.id
	}
	return info
}

// Complete reports a finished frame. It is safe to call from any
// goroutine and never blocks.
func (d *Device) Complete(bufIDs [NumDirections]uint32) {
	d.mu.Lock()
	job := d.current
	d.mu.Unlock()

	if job == nil {
		d.disp.throttle.Noticef("%s: completion %v without a current job", d.name, bufIDs)
		return
	}
	if !d.disp.events.push(eventWork{job: job, bufIDs: bufIDs}) {
		d.disp.throttle.Noticef("%s: event queue full, dropping completion %v of job %d", d.name, bufIDs, job.id)
		if job.prop.Command == CommandM2M {
			job.gate.signal()
		}
	}
}

func (d *Device) isSuspended() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.suspended
}

func (d *Device) resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.suspended {
		return nil
	}
	if p, ok := d.ops.(PowerOps); ok {
		if err := p.Resume(); err != nil {
			return fmt.Errorf("cannot resume %s: %w", d.name, err)
		}
	}
	logger.Debugf("%s: resumed", d.name)
	d.suspended = false
	return nil
}

// suspendIfIdle suspends the device if no job is attached to it.
// Must be called with d.mu held.
func (d *Device) suspendIfIdle() {
	if d.suspended || len(d.jobs) > 0 {
		return
	}
	if p, ok := d.ops.(PowerOps); ok {
		if err := p.Suspend(); err != nil {
			logger.Noticef("cannot suspend %s: %v", d.name, err)
			return
		}
	}
	logger.Debugf("%s: suspended", d.name)
	d.suspended = true
}

var resetRetryStrategy = retry.LimitCount(5, retry.Exponential{
	Initial: 2 * time.Millisecond,
	Factor:  2,
})

// reset resets the hardware, retrying while it reports being busy.
func (d *Device) reset() error {
	var err error
	for attempt := retry.Start(resetRetryStrategy, nil); attempt.Next(); {
		err = d.ops.Reset()
		if !errors.Is(err, ErrDeviceBusy) {
			return err
		}
		logger.Debugf("%s: reset: device busy, retrying", d.name)
	}
	return err
}

// busyFor reports whether the device is dedicated to a streaming job
// and so cannot take prop.
func (d *Device) busyFor(prop *Property) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dedicated != nil && prop.Command != CommandM2M
}

func (d *Device) accepts(prop *Property) error {
	if err := d.caps.check(prop); err != nil {
		return err
	}
	return d.ops.CheckProperty(prop)
}

// attach binds job to the device, dedicating the device to it for
// streaming commands.
func (d *Device) attach(job *Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if job.prop.Command != CommandM2M {
		if d.dedicated != nil {
			return fmt.Errorf("%w: %s is dedicated to job %d", ErrDeviceBusy, d.name, d.dedicated.id)
		}
		d.dedicated = job
	}
	d.jobs[job.id] = job
	return nil
}

func (d *Device) detach(job *Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.jobs[job.id] == job {
		delete(d.jobs, job.id)
	}
	if d.dedicated == job {
		d.dedicated = nil
	}
	if d.current == job {
		d.current = nil
	}
	d.suspendIfIdle()
}

func (d *Device) setCurrent(job *Job) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.current = job
}

// clearCurrent unsets the current job if it is job.
func (d *Device) clearCurrent(job *Job) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == job {
		d.current = nil
	}
}

func (d *Device) attachedJobs() []*Job {
	d.mu.Lock()
	defer d.mu.Unlock()

	jobs := make([]*Job, 0, len(d.jobs))
	for _, job := range d.jobs {
		jobs = append(jobs, job)
	}
	return jobs
}
