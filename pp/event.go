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
	"time"

	"github.com/snapcore/ppd/logger"
)

var timeNow = time.Now

// EventSize is the room one event takes in a client's event space.
const EventSize = 32

// Event tells a client that a buffer of one of its jobs was consumed.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	PropID    int       `json:"prop-id"`
	// BufIDs are the ids of the buffers consumed, per direction.
	BufIDs [NumDirections]uint32 `json:"buf-ids"`
}

// pendingEvent is an event reserved for a queued buffer, waiting for
// the hardware to consume it.
type pendingEvent struct {
	bufID uint32
}

// eventDir is the direction whose buffers carry events.
func (c Command) eventDir() Direction {
	if c == CommandOutput {
		return DirSrc
	}
	return DirDst
}

// addPendingEvent reserves an event for the buffer bufID.
func (j *Job) addPendingEvent(bufID uint32) (*pendingEvent, error) {
	if !j.client.reserve() {
		return nil, fmt.Errorf("%w: event space of client %d exhausted", ErrOutOfResources, j.client.id)
	}
	ev := &pendingEvent{bufID: bufID}
	j.eventMu.Lock()
	defer j.eventMu.Unlock()
	j.events = append(j.events, ev)
	return ev, nil
}

// dropEvent gives back an event reserved by addPendingEvent.
func (j *Job) dropEvent(ev *pendingEvent) {
	j.eventMu.Lock()
	found := false
	for i, pe := range j.events {
		if pe == ev {
			j.events = append(j.events[:i:i], j.events[i+1:]...)
			found = true
			break
		}
	}
	j.eventMu.Unlock()

	if found {
		j.client.unreserve(1)
	}
}

// flushEvent drops the event reserved for bufID, if any.
func (j *Job) flushEvent(bufID uint32) {
	j.eventMu.Lock()
	found := false
	for i, ev := range j.events {
		if ev.bufID == bufID {
			j.events = append(j.events[:i:i], j.events[i+1:]...)
			found = true
			break
		}
	}
	j.eventMu.Unlock()

	if found {
		j.client.unreserve(1)
	}
}

// flushEvents drops every event not delivered yet.
func (j *Job) flushEvents() {
	j.eventMu.Lock()
	n := len(j.events)
	j.events = nil
	j.eventMu.Unlock()

	if n > 0 {
		j.client.unreserve(n)
	}
}

func (j *Job) pendingEvents() int {
	j.eventMu.Lock()
	defer j.eventMu.Unlock()
	return len(j.events)
}

func (j *Job) popEvent() *pendingEvent {
	j.eventMu.Lock()
	defer j.eventMu.Unlock()

	if len(j.events) == 0 {
		return nil
	}
	ev := j.events[0]
	j.events = j.events[1:]
	return ev
}

// sendEvent consumes the buffers the hardware finished with and
// delivers the oldest pending event of the job to its client. Jobs that
// are not event-driven only get their buffers consumed.
func (j *Job) sendEvent(bufIDs [NumDirections]uint32, throttle *logger.Throttle) error {
	eventDriven := j.prop.EventDriven
	if (eventDriven && j.pendingEvents() == 0) || !j.hasRequiredDepth() {
		return nil
	}

	var consumed []*memNode
	switch cmd := j.command(); cmd {
	case CommandM2M:
		// a dequeue may have raced with the depth check
		if consumed = j.takeFrame(DirSrc, DirDst); consumed == nil {
			return fmt.Errorf("%w: no frame to consume", ErrNotFound)
		}
	case CommandWB:
		n := j.take(DirDst, bufIDs[DirDst])
		if n == nil {
			n = j.takeFirst(DirDst)
		}
		consumed = []*memNode{n}
	case CommandOutput:
		consumed = []*memNode{j.takeFirst(DirSrc)}
	}

	var done [NumDirections]uint32
	for _, n := range consumed {
		if n == nil {
			return fmt.Errorf("%w: no buffer to consume", ErrNotFound)
		}
		if n.bufID != bufIDs[n.dir] {
			throttle.Noticef("job %d: hardware reported %s buffer %d, consumed %d", j.id, n.dir, bufIDs[n.dir], n.bufID)
		}
		done[n.dir] = n.bufID
		n.put(j.mgr.buffers)
	}

	if !eventDriven {
		return nil
	}
	pending := j.popEvent()
	if pending == nil {
		// flushed while the buffers were consumed
		return nil
	}
	if pending.bufID != done[j.command().eventDir()] {
		throttle.Noticef("job %d: event for buffer %d delivered for buffer %d", j.id, pending.bufID, done[j.command().eventDir()])
	}
	ev := Event{
		Timestamp: timeNow(),
		PropID:    j.id,
		BufIDs:    done,
	}
	j.client.deliver(ev)
	j.mgr.notify(EventDelivered, j, &ev)
	return nil
}
