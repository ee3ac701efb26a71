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
	"context"
	"sort"
	"sync"
)

// Client is a connection owning jobs and receiving their events.
type Client struct {
	id  int
	mgr *Manager

	mu     sync.Mutex
	events []Event
	// ready is closed and replaced whenever an event is delivered
	ready  chan struct{}
	space  int
	jobs   map[int]*Job
	closed bool
}

func newClient(m *Manager) *Client {
	return &Client{
		mgr:   m,
		ready: make(chan struct{}),
		space: m.opts.EventSpace,
		jobs:  make(map[int]*Job),
	}
}

// ID returns the id of the client connection.
func (c *Client) ID() int { return c.id }

func (c *Client) reserve() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.space < EventSize {
		return false
	}
	c.space -= EventSize
	return true
}

func (c *Client) unreserve(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.space += n * EventSize
}

// EventSpace returns the room left for events.
func (c *Client) EventSpace() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.space
}

func (c *Client) deliver(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.events = append(c.events, ev)
	close(c.ready)
	c.ready = make(chan struct{})
}

// PendingEvents returns the number of delivered events not read yet.
func (c *Client) PendingEvents() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// TryReadEvent returns the oldest delivered event, if there is one.
func (c *Client) TryReadEvent() (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.popLocked()
}

func (c *Client) popLocked() (Event, bool) {
	if len(c.events) == 0 {
		return Event{}, false
	}
	ev := c.events[0]
	c.events = c.events[1:]
	c.space += EventSize
	return ev, true
}

// ReadEvent waits for an event to be delivered to the client and
// returns it.
func (c *Client) ReadEvent(ctx context.Context) (Event, error) {
	for {
		c.mu.Lock()
		if ev, ok := c.popLocked(); ok {
			c.mu.Unlock()
			return ev, nil
		}
		if c.closed {
			c.mu.Unlock()
			return Event{}, ErrDisconnected
		}
		ready := c.ready
		c.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

func (c *Client) attach(job *Job) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs[job.id] = job
}

func (c *Client) detach(job *Job) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.jobs[job.id] == job {
		delete(c.jobs, job.id)
	}
}

func (c *Client) owns(job *Job) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.jobs[job.id] == job
}

// Jobs returns the prop ids of the jobs the client owns.
func (c *Client) Jobs() []int {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]int, 0, len(c.jobs))
	for id := range c.jobs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// close marks the client gone and wakes its readers.
func (c *Client) close() []*Job {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.ready)
	c.ready = make(chan struct{})
	c.events = nil

	jobs := make([]*Job, 0, len(c.jobs))
	for _, job := range c.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].id < jobs[k].id })
	return jobs
}
