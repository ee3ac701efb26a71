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
)

func MockTimeNow(f func() time.Time) (restore func()) {
	old := timeNow
	timeNow = f
	return func() {
		timeNow = old
	}
}

func (j *Job) HasRequiredDepth() bool {
	return j.hasRequiredDepth()
}

func (j *Job) Queued(dir Direction) int {
	return j.queued(dir)
}

// TakeFrame takes a frame off the queues and releases it.
func (j *Job) TakeFrame(dirs ...Direction) int {
	nodes := j.takeFrame(dirs...)
	for _, n := range nodes {
		n.put(j.mgr.buffers)
	}
	return len(nodes)
}

func (j *Job) PendingEvents() int {
	return j.pendingEvents()
}

func (d *Device) Current() *Job {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

func (d *Device) Suspended() bool {
	return d.isSuspended()
}
