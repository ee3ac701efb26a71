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

package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/snapcore/ppd/pixfmt"
	"github.com/snapcore/ppd/pp"
)

var api = []*Command{
	rootCmd,
	devicesCmd,
	deviceCmd,
	sessionsCmd,
	sessionCmd,
	propertiesCmd,
	propertyCmd,
	queueCmd,
	controlCmd,
	eventsCmd,
	buffersCmd,
	bufferCmd,
}

var (
	rootCmd = &Command{
		Path:   "/",
		UserOK: true,
		GET: func(*Command, *http.Request) Response {
			return SyncResponse([]string{"/v1"})
		},
	}

	devicesCmd = &Command{
		Path:   "/v1/devices",
		UserOK: true,
		GET:    getDevices,
	}

	deviceCmd = &Command{
		Path:   "/v1/devices/{id}",
		UserOK: true,
		GET:    getDevice,
	}

	sessionsCmd = &Command{
		Path:   "/v1/sessions",
		UserOK: true,
		POST:   postSessions,
	}

	sessionCmd = &Command{
		Path:   "/v1/sessions/{sid}",
		UserOK: true,
		GET:    getSession,
		DELETE: deleteSession,
	}

	propertiesCmd = &Command{
		Path:   "/v1/sessions/{sid}/properties",
		UserOK: true,
		POST:   postProperties,
	}

	propertyCmd = &Command{
		Path:   "/v1/sessions/{sid}/properties/{pid}",
		UserOK: true,
		GET:    getProperty,
	}

	queueCmd = &Command{
		Path:   "/v1/sessions/{sid}/properties/{pid}/buffers",
		UserOK: true,
		POST:   postQueueBuffer,
	}

	controlCmd = &Command{
		Path:   "/v1/sessions/{sid}/properties/{pid}/control",
		UserOK: true,
		POST:   postControl,
	}

	eventsCmd = &Command{
		Path:   "/v1/sessions/{sid}/events",
		UserOK: true,
		GET:    getEvents,
	}

	buffersCmd = &Command{
		Path:   "/v1/buffers",
		UserOK: true,
		POST:   postBuffers,
	}

	bufferCmd = &Command{
		Path:   "/v1/buffers/{handle}",
		UserOK: true,
		DELETE: deleteBuffer,
	}
)

// MaxEventsTimeout bounds how long a request for events may wait.
const MaxEventsTimeout = time.Minute

func intVar(r *http.Request, name string) (int, Response) {
	v, err := strconv.Atoi(mux.Vars(r)[name])
	if err != nil || v <= 0 {
		return 0, BadRequest("invalid %s %q", name, mux.Vars(r)[name])
	}
	return v, nil
}

func decode(r *http.Request, v interface{}) Response {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return BadRequest("cannot decode request body: %v", err)
	}
	return nil
}

// requestSession returns the session named by the request path.
func requestSession(c *Command, r *http.Request) (*pp.Client, Response) {
	sid, rsp := intVar(r, "sid")
	if rsp != nil {
		return nil, rsp
	}
	cl, err := c.d.session(r, sid)
	if err != nil {
		if err == errNoID {
			return nil, Forbidden("cannot identify peer")
		}
		return nil, errToResponse(err)
	}
	return cl, nil
}

func getDevices(c *Command, r *http.Request) Response {
	return SyncResponse(c.d.mgr.Devices())
}

func getDevice(c *Command, r *http.Request) Response {
	id, rsp := intVar(r, "id")
	if rsp != nil {
		return rsp
	}
	info, err := c.d.mgr.Device(id)
	if err != nil {
		return errToResponse(err)
	}
	return SyncResponse(info)
}

type sessionInfo struct {
	ID            int          `json:"id"`
	Jobs          []pp.JobInfo `json:"jobs"`
	PendingEvents int          `json:"pending-events"`
	EventSpace    int          `json:"event-space"`
}

func postSessions(c *Command, r *http.Request) Response {
	_, uid, err := ucrednetGet(r.RemoteAddr)
	if err != nil {
		return Forbidden("cannot identify peer")
	}
	cl, err := c.d.openSession(uid)
	if err != nil {
		return errToResponse(err)
	}
	return SyncResponse(map[string]int{"id": cl.ID()})
}

func getSession(c *Command, r *http.Request) Response {
	cl, rsp := requestSession(c, r)
	if rsp != nil {
		return rsp
	}
	info := sessionInfo{
		ID:            cl.ID(),
		Jobs:          []pp.JobInfo{},
		PendingEvents: cl.PendingEvents(),
		EventSpace:    cl.EventSpace(),
	}
	for _, propID := range cl.Jobs() {
		job, err := c.d.mgr.Job(cl, propID)
		if err != nil {
			// stopped meanwhile
			continue
		}
		info.Jobs = append(info.Jobs, job)
	}
	return SyncResponse(info)
}

func deleteSession(c *Command, r *http.Request) Response {
	cl, rsp := requestSession(c, r)
	if rsp != nil {
		return rsp
	}
	c.d.closeSession(cl)
	return SyncResponse(nil)
}

func postProperties(c *Command, r *http.Request) Response {
	cl, rsp := requestSession(c, r)
	if rsp != nil {
		return rsp
	}
	var prop pp.Property
	if rsp := decode(r, &prop); rsp != nil {
		return rsp
	}
	id, err := c.d.mgr.SetProperty(cl, &prop)
	if err != nil {
		return errToResponse(err)
	}
	return SyncResponse(map[string]int{"prop-id": id})
}

func requestJob(c *Command, r *http.Request) (*pp.Client, int, Response) {
	cl, rsp := requestSession(c, r)
	if rsp != nil {
		return nil, 0, rsp
	}
	pid, rsp := intVar(r, "pid")
	if rsp != nil {
		return nil, 0, rsp
	}
	return cl, pid, nil
}

func getProperty(c *Command, r *http.Request) Response {
	cl, pid, rsp := requestJob(c, r)
	if rsp != nil {
		return rsp
	}
	info, err := c.d.mgr.Job(cl, pid)
	if err != nil {
		return errToResponse(err)
	}
	return SyncResponse(info)
}

type queueRequest struct {
	Dir     pp.Direction                `json:"dir"`
	BufID   uint32                      `json:"buf-id"`
	Handles [pixfmt.MaxPlanes]pp.Handle `json:"handles"`
	Op      pp.BufOp                    `json:"op"`
}

func postQueueBuffer(c *Command, r *http.Request) Response {
	cl, pid, rsp := requestJob(c, r)
	if rsp != nil {
		return rsp
	}
	_, uid, err := ucrednetGet(r.RemoteAddr)
	if err != nil {
		return Forbidden("cannot identify peer")
	}
	var req queueRequest
	if rsp := decode(r, &req); rsp != nil {
		return rsp
	}
	err = c.d.queueBuffer(uid, cl, &pp.QueueBuf{
		PropID:  pid,
		Dir:     req.Dir,
		BufID:   req.BufID,
		Handles: req.Handles,
		Op:      req.Op,
	})
	if err != nil {
		return errToResponse(err)
	}
	return SyncResponse(nil)
}

type controlRequest struct {
	Action pp.Control `json:"action"`
}

func postControl(c *Command, r *http.Request) Response {
	cl, pid, rsp := requestJob(c, r)
	if rsp != nil {
		return rsp
	}
	var req controlRequest
	if rsp := decode(r, &req); rsp != nil {
		return rsp
	}
	if err := c.d.mgr.Control(cl, pid, req.Action); err != nil {
		return errToResponse(err)
	}
	return SyncResponse(nil)
}

// getEvents returns the events delivered to the session. With a timeout
// it waits that long for the first one.
func getEvents(c *Command, r *http.Request) Response {
	cl, rsp := requestSession(c, r)
	if rsp != nil {
		return rsp
	}
	var timeout time.Duration
	if s := r.URL.Query().Get("timeout"); s != "" {
		var err error
		timeout, err = time.ParseDuration(s)
		if err != nil || timeout < 0 {
			return BadRequest("invalid timeout %q", s)
		}
		if timeout > MaxEventsTimeout {
			timeout = MaxEventsTimeout
		}
	}

	events := []pp.Event{}
	if timeout > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		ev, err := cl.ReadEvent(ctx)
		switch {
		case err == nil:
			events = append(events, ev)
		case err == context.DeadlineExceeded || err == context.Canceled:
			return SyncResponse(events)
		default:
			return errToResponse(err)
		}
	}
	for {
		ev, ok := cl.TryReadEvent()
		if !ok {
			break
		}
		events = append(events, ev)
	}
	return SyncResponse(events)
}

type bufferRequest struct {
	Size uint64 `json:"size"`
}

func postBuffers(c *Command, r *http.Request) Response {
	if c.d.opts.Allocator == nil {
		return NotImplemented("buffer allocation not available")
	}
	_, uid, err := ucrednetGet(r.RemoteAddr)
	if err != nil {
		return Forbidden("cannot identify peer")
	}
	var req bufferRequest
	if rsp := decode(r, &req); rsp != nil {
		return rsp
	}
	h, err := c.d.allocateBuffer(uid, req.Size)
	if err != nil {
		return errToResponse(err)
	}
	return SyncResponse(map[string]pp.Handle{"handle": h})
}

func deleteBuffer(c *Command, r *http.Request) Response {
	if c.d.opts.Allocator == nil {
		return NotImplemented("buffer allocation not available")
	}
	_, uid, err := ucrednetGet(r.RemoteAddr)
	if err != nil {
		return Forbidden("cannot identify peer")
	}
	h, rsp := intVar(r, "handle")
	if rsp != nil {
		return rsp
	}
	if err := c.d.freeBuffer(uid, pp.Handle(h)); err != nil {
		return errToResponse(err)
	}
	return SyncResponse(nil)
}
