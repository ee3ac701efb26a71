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
	"sync"
)

// Job is one registered processing request: a property, the buffers
// queued for it and the events waiting to be delivered for it.
type Job struct {
	id     int
	mgr    *Manager
	device *Device
	client *Client

	// opMu serializes the control transitions of the job.
	opMu sync.Mutex

	stateMu   sync.Mutex
	prop      Property
	state     State
	destroyed bool

	memMu  sync.Mutex
	queues [NumDirections][]*memNode

	eventMu sync.Mutex
	events  []*pendingEvent

	gate *gate

	// startedFrom is the state of the job before its last PLAY or
	// RESUME, protected by opMu
	startedFrom State

	// pending command work, protected by the dispatcher's lock
	startWork *cmdWork
	stopWork  *cmdWork
}

// JobInfo describes a registered job.
type JobInfo struct {
	PropID   int                `json:"prop-id"`
	DevID    int                `json:"dev-id"`
	Property Property           `json:"property"`
	State    State              `json:"state"`
	Queued   [NumDirections]int `json:"queued"`
	Pending  int                `json:"pending-events"`
}

func newJob(m *Manager, dev *Device, cl *Client, prop *Property) *Job {
	return &Job{
		mgr:    m,
		device: dev,
		client: cl,
		prop:   *prop,
		state:  StateIdle,
		gate:   newGate(),
	}
}

// ID returns the prop id of the job.
func (j *Job) ID() int { return j.id }

func (j *Job) State() State {
	j.stateMu.Lock()
	defer j.stateMu.Unlock()
	return j.state
}

func (j *Job) setState(s State) {
	j.stateMu.Lock()
	defer j.stateMu.Unlock()
	j.state = s
}

// Property returns a copy of the current property of the job.
func (j *Job) Property() Property {
	j.stateMu.Lock()
	defer j.stateMu.Unlock()
	return j.prop
}

func (j *Job) isDestroyed() bool {
	j.stateMu.Lock()
	defer j.stateMu.Unlock()
	return j.destroyed
}

// running reports whether the job is started and not torn down.
func (j *Job) running() bool {
	j.stateMu.Lock()
	defer j.stateMu.Unlock()
	return j.state == StateStart && !j.destroyed
}

func (j *Job) command() Command {
	// the command never changes after registration
	return j.prop.Command
}

func (j *Job) info() JobInfo {
	j.stateMu.Lock()
	info := JobInfo{
		PropID:   j.id,
		DevID:    j.device.id,
		Property: j.prop,
		State:    j.state,
	}
	j.stateMu.Unlock()
	info.Property.PropID = j.id
	info.Property.DevID = j.device.id

	for dir := Direction(0); dir < NumDirections; dir++ {
		info.Queued[dir] = j.queued(dir)
	}
	info.Pending = j.pendingEvents()
	return info
}
