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

// Package pp implements the command and queue engine of a
// post-processing unit: jobs are registered with a property describing
// an image operation, get buffers queued on their source and destination
// sides, and are driven through play, pause, resume and stop. Each
// device has a command worker doing the hardware programming of
// event-driven jobs and an event worker turning hardware completions
// into events for the client owning the job.
package pp

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/snapcore/ppd/handles"
	"github.com/snapcore/ppd/logger"
)

// Options tune a Manager. Zero fields take their default.
type Options struct {
	// StartTimeout bounds the wait for a frame after starting the
	// hardware, and the wait for a frame in flight before stopping it.
	StartTimeout time.Duration
	// StopTimeout bounds the wait for the command worker on STOP.
	StopTimeout time.Duration
	// PauseTimeout bounds the wait for the command worker on PAUSE.
	PauseTimeout time.Duration
	// MaxQueueDepth is the most buffers per direction a
	// memory-to-memory job can have queued and still be started.
	MaxQueueDepth int
	// EventSpace is the room each client has for events.
	EventSpace int
	MaxJobs    int
	MaxDevices int
	MaxClients int
	// EventQueueSize bounds the completions waiting for the event
	// worker of a device.
	EventQueueSize int
}

// DefaultOptions returns the defaults used for zero Options fields.
func DefaultOptions() Options {
	return Options{
		StartTimeout:   120 * time.Millisecond,
		StopTimeout:    300 * time.Millisecond,
		PauseTimeout:   200 * time.Millisecond,
		MaxQueueDepth:  10,
		EventSpace:     4096,
		MaxJobs:        1024,
		MaxDevices:     16,
		MaxClients:     256,
		EventQueueSize: 64,
	}
}

func (o *Options) fillDefaults() {
	def := DefaultOptions()
	if o.StartTimeout <= 0 {
		o.StartTimeout = def.StartTimeout
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = def.StopTimeout
	}
	if o.PauseTimeout <= 0 {
		o.PauseTimeout = def.PauseTimeout
	}
	if o.MaxQueueDepth <= 0 {
		o.MaxQueueDepth = def.MaxQueueDepth
	}
	if o.EventSpace <= 0 {
		o.EventSpace = def.EventSpace
	}
	if o.MaxJobs <= 0 {
		o.MaxJobs = def.MaxJobs
	}
	if o.MaxDevices <= 0 {
		o.MaxDevices = def.MaxDevices
	}
	if o.MaxClients <= 0 {
		o.MaxClients = def.MaxClients
	}
	if o.EventQueueSize <= 0 {
		o.EventQueueSize = def.EventQueueSize
	}
}

// Manager owns the devices, the jobs and the client connections.
type Manager struct {
	opts     Options
	buffers  BufferProvider
	notifier *Notifier

	devices *handles.Pool[*Device]
	jobs    *handles.Pool[*Job]
	clients *handles.Pool[*Client]

	mu     sync.Mutex
	closed bool
}

// New returns a Manager resolving buffer handles with buffers.
func New(buffers BufferProvider, opts *Options) *Manager {
	var o Options
	if opts != nil {
		o = *opts
	}
	o.fillDefaults()
	return &Manager{
		opts:     o,
		buffers:  buffers,
		notifier: NewNotifier(),
		devices:  handles.New[*Device](o.MaxDevices),
		jobs:     handles.New[*Job](o.MaxJobs),
		clients:  handles.New[*Client](o.MaxClients),
	}
}

// Options returns the options in effect.
func (m *Manager) Options() Options {
	return m.opts
}

// Notifier returns the notifier broadcasting job lifecycle notices.
func (m *Manager) Notifier() *Notifier {
	return m.notifier
}

func outOfResources(what string, err error) error {
	if errors.Is(err, handles.ErrExhausted) {
		return fmt.Errorf("%w: cannot allocate %s: %v", ErrOutOfResources, what, err)
	}
	return err
}

// AddDevice registers a post-processor unit and starts its workers. The
// device starts out suspended.
func (m *Manager) AddDevice(name string, ops DeviceOps, caps Capability) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("cannot add device %q: manager closed", name)
	}

	var dev *Device
	_, err := m.devices.AllocateWith(func(id int) *Device {
		dev = &Device{
			id:        id,
			name:      name,
			ops:       ops,
			caps:      caps,
			mgr:       m,
			jobs:      make(map[int]*Job),
			suspended: true,
		}
		dev.disp = newDispatcher(dev, m.opts.EventQueueSize)
		return dev
	})
	if err != nil {
		return nil, outOfResources("device", err)
	}
	if cs, ok := ops.(CompletionSource); ok {
		cs.SetCompletionHandler(dev.Complete)
	}
	dev.disp.start()
	logger.Debugf("device %d (%s) added", dev.id, name)
	return dev, nil
}

// RemoveDevice stops every job on a device and unregisters it.
func (m *Manager) RemoveDevice(devID int) error {
	dev, ok := m.devices.Take(devID)
	if !ok {
		return &NotFoundError{Kind: "device", ID: devID}
	}
	for _, job := range dev.attachedJobs() {
		if _, ok := m.jobs.TakeIf(job.id, func(j *Job) bool { return j == job }); ok {
			m.teardown(job)
		}
	}
	if cs, ok := dev.ops.(CompletionSource); ok {
		cs.SetCompletionHandler(nil)
	}
	return dev.disp.stop()
}

// Devices describes every registered device, by ascending id.
func (m *Manager) Devices() []DeviceInfo {
	var infos []DeviceInfo
	m.devices.Range(func(id int, dev *Device) bool {
		infos = append(infos, dev.info())
		return true
	})
	return infos
}

// Device describes one registered device.
func (m *Manager) Device(devID int) (DeviceInfo, error) {
	dev, ok := m.devices.Lookup(devID)
	if !ok {
		return DeviceInfo{}, &NotFoundError{Kind: "device", ID: devID}
	}
	return dev.info(), nil
}

// Capabilities returns what a device can do.
func (m *Manager) Capabilities(devID int) (Capability, error) {
	dev, ok := m.devices.Lookup(devID)
	if !ok {
		return Capability{}, &NotFoundError{Kind: "device", ID: devID}
	}
	return dev.caps, nil
}

// Connect opens a client connection.
func (m *Manager) Connect() (*Client, error) {
	var cl *Client
	_, err := m.clients.AllocateWith(func(id int) *Client {
		cl = newClient(m)
		cl.id = id
		return cl
	})
	if err != nil {
		return nil, outOfResources("client", err)
	}
	return cl, nil
}

// Client returns the connection with the given id.
func (m *Manager) Client(id int) (*Client, error) {
	cl, ok := m.clients.Lookup(id)
	if !ok {
		return nil, &NotFoundError{Kind: "client", ID: id}
	}
	return cl, nil
}

// Disconnect tears down a client connection, stopping every job it
// still owns.
func (m *Manager) Disconnect(cl *Client) {
	for _, job := range cl.close() {
		if _, ok := m.jobs.TakeIf(job.id, func(j *Job) bool { return j == job }); !ok {
			// stopped concurrently
			continue
		}
		m.teardown(job)
	}
	m.clients.TakeIf(cl.id, func(c *Client) bool { return c == cl })
}

// Close disconnects every client and removes every device.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.clients.Range(func(id int, cl *Client) bool {
		m.Disconnect(cl)
		return true
	})
	var firstErr error
	m.devices.Range(func(id int, dev *Device) bool {
		if err := m.RemoveDevice(id); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// Lookup returns the job registered under propID.
func (m *Manager) Lookup(propID int) (*Job, bool) {
	return m.jobs.Lookup(propID)
}

// clientJob returns the job propID if cl owns it.
func (m *Manager) clientJob(cl *Client, propID int) (*Job, error) {
	job, ok := m.jobs.Lookup(propID)
	if !ok || !cl.owns(job) {
		return nil, &NotFoundError{Kind: "job", ID: propID}
	}
	return job, nil
}

// Job describes a job of the client.
func (m *Manager) Job(cl *Client, propID int) (JobInfo, error) {
	job, err := m.clientJob(cl, propID)
	if err != nil {
		return JobInfo{}, err
	}
	return job.info(), nil
}

// SetProperty registers a new job for the client, or replaces the
// configuration of a paused one when prop.PropID is set. It returns the
// prop id of the job.
func (m *Manager) SetProperty(cl *Client, prop *Property) (int, error) {
	if err := prop.validate(); err != nil {
		return 0, err
	}
	if prop.PropID != 0 {
		return m.rearm(cl, prop)
	}

	dev, err := m.findDevice(prop)
	if err != nil {
		return 0, err
	}

	var job *Job
	id, err := m.jobs.AllocateWith(func(id int) *Job {
		job = newJob(m, dev, cl, prop)
		job.id = id
		job.prop.PropID = id
		job.prop.DevID = dev.id
		return job
	})
	if err != nil {
		return 0, outOfResources("job", err)
	}
	if err := dev.attach(job); err != nil {
		m.jobs.Release(id)
		return 0, err
	}
	cl.attach(job)
	if !cl.owns(job) {
		// disconnected meanwhile
		m.jobs.Release(id)
		cl.detach(job)
		dev.detach(job)
		return 0, ErrDisconnected
	}
	logger.Debugf("job %d: %s on %s registered", id, prop.Command, dev.name)
	m.notify(JobRegistered, job, nil)
	return id, nil
}

func (m *Manager) findDevice(prop *Property) (*Device, error) {
	if prop.DevID != 0 {
		dev, ok := m.devices.Lookup(prop.DevID)
		if !ok {
			return nil, &NotFoundError{Kind: "device", ID: prop.DevID}
		}
		if dev.busyFor(prop) {
			return nil, fmt.Errorf("%w: %s is dedicated to a streaming job", ErrDeviceBusy, dev.name)
		}
		if err := dev.accepts(prop); err != nil {
			return nil, invalidArgf("%s cannot run property: %v", dev.name, err)
		}
		return dev, nil
	}

	var found *Device
	m.devices.Range(func(id int, dev *Device) bool {
		if dev.busyFor(prop) {
			return true
		}
		if err := dev.accepts(prop); err != nil {
			logger.Debugf("%s cannot run %s property: %v", dev.name, prop.Command, err)
			return true
		}
		found = dev
		return false
	})
	if found == nil {
		return nil, &NotFoundError{Kind: "device"}
	}
	return found, nil
}

// rearm replaces the configuration of a paused job.
func (m *Manager) rearm(cl *Client, prop *Property) (int, error) {
	job, err := m.clientJob(cl, prop.PropID)
	if err != nil {
		return 0, err
	}
	if prop.Command != job.command() || prop.EventDriven != job.prop.EventDriven {
		return 0, invalidArgf("cannot change the command of job %d", job.id)
	}
	if prop.DevID != 0 && prop.DevID != job.device.id {
		return 0, invalidArgf("cannot move job %d to device %d", job.id, prop.DevID)
	}
	if err := job.device.accepts(prop); err != nil {
		return 0, invalidArgf("%s cannot run property: %v", job.device.name, err)
	}

	job.opMu.Lock()
	defer job.opMu.Unlock()

	job.stateMu.Lock()
	defer job.stateMu.Unlock()
	if job.state != StateStop || job.destroyed {
		return 0, fmt.Errorf("%w: cannot change property of job %d in state %s", ErrInvalidState, job.id, job.state)
	}
	job.prop.Config = prop.Config
	logger.Debugf("job %d: property replaced", job.id)
	return job.id, nil
}

// QueueBuffer adds a buffer to, or removes it from, a job of the client.
func (m *Manager) QueueBuffer(cl *Client, q *QueueBuf) error {
	job, err := m.clientJob(cl, q.PropID)
	if err != nil {
		return err
	}
	if !q.Dir.valid() || !job.command().uses(q.Dir) {
		return invalidArgf("job %d takes no %s buffers", job.id, q.Dir)
	}
	switch q.Op {
	case BufEnqueue:
		return m.enqueue(job, q)
	case BufDequeue:
		return m.dequeue(job, q)
	}
	return invalidArgf("unknown buffer operation %d", int(q.Op))
}

func (m *Manager) enqueue(job *Job, q *QueueBuf) error {
	var ev *pendingEvent
	if job.prop.EventDriven && q.Dir == job.command().eventDir() {
		var err error
		if ev, err = job.addPendingEvent(q.BufID); err != nil {
			return err
		}
	}
	node, err := job.enqueue(q)
	if err != nil {
		if ev != nil {
			job.dropEvent(ev)
		}
		return err
	}
	if !job.running() {
		return nil
	}
	return m.queueWhileStarted(job, node)
}

// queueWhileStarted hands a buffer queued on a started job to the
// hardware: memory-to-memory jobs process their next frame, streaming
// jobs get the address added.
func (m *Manager) queueWhileStarted(job *Job, node *memNode) error {
	dev := job.device

	if job.command() == CommandM2M {
		if !job.hasRequiredDepth() {
			return nil
		}
		if job.prop.EventDriven {
			dev.disp.submitStart(job)
			return nil
		}
		dev.startStopMu.Lock()
		defer dev.startStopMu.Unlock()
		job.opMu.Lock()
		defer job.opMu.Unlock()
		if !job.running() {
			return nil
		}
		return dev.startProperty(job)
	}

	dev.startStopMu.Lock()
	defer dev.startStopMu.Unlock()
	if !job.running() {
		return nil
	}
	if err := dev.feed(job, node, BufEnqueue); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

func (m *Manager) dequeue(job *Job, q *QueueBuf) error {
	dev := job.device

	var n *memNode
	if job.command() != CommandM2M && job.running() {
		dev.startStopMu.Lock()
		n = job.take(q.Dir, q.BufID)
		if n != nil && job.running() {
			if err := dev.feed(job, n, BufDequeue); err != nil {
				logger.Noticef("job %d: %v", job.id, err)
			}
		}
		dev.startStopMu.Unlock()
	} else {
		n = job.take(q.Dir, q.BufID)
	}
	if n == nil {
		return &NotFoundError{Kind: q.Dir.String() + " buffer", ID: q.BufID}
	}
	n.put(m.buffers)
	if q.Dir == job.command().eventDir() {
		job.flushEvent(q.BufID)
	}
	return nil
}
