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

	"gopkg.in/tomb.v2"

	"github.com/snapcore/ppd/logger"
)

var errDispatcherStopped = errors.New("dispatcher stopped")

// workQueue is a FIFO with a single consumer.
type workQueue[T any] struct {
	mu    sync.Mutex
	items []T
	limit int
	wake  chan struct{}
}

func newWorkQueue[T any](limit int) *workQueue[T] {
	return &workQueue[T]{
		limit: limit,
		wake:  make(chan struct{}, 1),
	}
}

// push appends item unless the queue is full. It never blocks.
func (q *workQueue[T]) push(item T) bool {
	q.mu.Lock()
	if q.limit > 0 && len(q.items) >= q.limit {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

func (q *workQueue[T]) pop() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return item, false
	}
	item = q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true
}

func (q *workQueue[T]) drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}

func (q *workQueue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// cmdWork asks the command worker to start or stop a job.
type cmdWork struct {
	job   *Job
	start bool
	// running is whether the hardware needs stopping
	running bool

	done chan struct{}
	err  error
}

func (w *cmdWork) finish(err error) {
	w.err = err
	close(w.done)
}

// wait waits for the work to be done and returns its error.
func (w *cmdWork) wait(timeout time.Duration) error {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-w.done:
		return w.err
	case <-t.C:
		return fmt.Errorf("%w: work not done after %v", ErrTimeout, timeout)
	}
}

// eventWork carries a hardware completion to the event worker.
type eventWork struct {
	job    *Job
	bufIDs [NumDirections]uint32
}

// dispatcher runs the command and the event worker of a device.
type dispatcher struct {
	dev *Device

	mu   sync.Mutex
	dead bool
	cmds *workQueue[*cmdWork]

	events *workQueue[eventWork]

	throttle *logger.Throttle

	tomb tomb.Tomb
}

func newDispatcher(dev *Device, eventQueueSize int) *dispatcher {
	return &dispatcher{
		dev:      dev,
		cmds:     newWorkQueue[*cmdWork](0),
		events:   newWorkQueue[eventWork](eventQueueSize),
		throttle: logger.NewThrottle(time.Second, 5),
	}
}

func (d *dispatcher) start() {
	d.tomb.Go(d.commandLoop)
	d.tomb.Go(d.eventLoop)
}

// stop kills both workers and fails the command work still queued.
func (d *dispatcher) stop() error {
	d.mu.Lock()
	d.dead = true
	d.mu.Unlock()

	d.tomb.Kill(nil)
	err := d.tomb.Wait()

	for _, w := range d.cmds.drain() {
		d.mu.Lock()
		d.clearSlot(w)
		d.mu.Unlock()
		w.finish(errDispatcherStopped)
	}
	d.events.drain()
	return err
}

func (d *dispatcher) clearSlot(w *cmdWork) {
	if w.start {
		if w.job.startWork == w {
			w.job.startWork = nil
		}
	} else if w.job.stopWork == w {
		w.job.stopWork = nil
	}
}

// submitStart queues a start of job, unless one is already queued.
func (d *dispatcher) submitStart(job *Job) *cmdWork {
	d.mu.Lock()
	defer d.mu.Unlock()

	if job.startWork != nil {
		return job.startWork
	}
	w := &cmdWork{job: job, start: true, done: make(chan struct{})}
	if d.dead {
		w.finish(errDispatcherStopped)
		return w
	}
	job.startWork = w
	d.cmds.push(w)
	return w
}

// submitStop queues a stop of job, unless one is already queued.
func (d *dispatcher) submitStop(job *Job, running bool) *cmdWork {
	d.mu.Lock()
	defer d.mu.Unlock()

	if w := job.stopWork; w != nil {
		w.running = w.running || running
		return w
	}
	w := &cmdWork{job: job, running: running, done: make(chan struct{})}
	if d.dead {
		w.finish(errDispatcherStopped)
		return w
	}
	job.stopWork = w
	d.cmds.push(w)
	return w
}

func (d *dispatcher) nextCommand() (*cmdWork, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	w, ok := d.cmds.pop()
	if ok {
		d.clearSlot(w)
	}
	return w, ok
}

func (d *dispatcher) commandLoop() error {
	for {
		select {
		case <-d.tomb.Dying():
			return nil
		case <-d.cmds.wake:
		}
		for {
			w, ok := d.nextCommand()
			if !ok {
				break
			}
			w.finish(d.runCommand(w))
		}
	}
}

func (d *dispatcher) runCommand(w *cmdWork) error {
	failed, err := d.execute(w)
	if failed {
		d.dev.mgr.notify(JobFailed, w.job, nil)
	}
	return err
}

// execute runs the work with the device and the job locked. failed is
// set when a start was rolled back.
func (d *dispatcher) execute(w *cmdWork) (failed bool, err error) {
	dev, job := d.dev, w.job

	dev.startStopMu.Lock()
	defer dev.startStopMu.Unlock()
	job.opMu.Lock()
	defer job.opMu.Unlock()

	if !w.start {
		dev.stopProperty(job, w.running)
		return false, nil
	}
	if !job.running() {
		logger.Debugf("job %d: skipping start in state %s", job.id, job.State())
		return false, nil
	}
	if err := dev.startProperty(job); err != nil {
		logger.Noticef("job %d: cannot start: %v", job.id, err)
		// nothing runs, the client may try again
		job.setState(job.startedFrom)
		return true, err
	}
	return false, nil
}

func (d *dispatcher) eventLoop() error {
	for {
		select {
		case <-d.tomb.Dying():
			return nil
		case <-d.events.wake:
		}
		for {
			w, ok := d.events.pop()
			if !ok {
				break
			}
			d.runEvent(w)
		}
	}
}

func (d *dispatcher) runEvent(w eventWork) {
	job := w.job
	m2m := job.command() == CommandM2M

	if !job.running() {
		d.throttle.Noticef("job %d: discarding completion %v in state %s", job.id, w.bufIDs, job.State())
		if m2m {
			d.dev.clearCurrent(job)
			job.gate.signal()
		}
		return
	}
	if err := job.sendEvent(w.bufIDs, d.throttle); err != nil {
		logger.Noticef("job %d: cannot send event: %v", job.id, err)
	}
	if m2m {
		d.dev.clearCurrent(job)
		job.gate.signal()
	}
}
