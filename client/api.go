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

package client

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/snapcore/ppd/pixfmt"
	"github.com/snapcore/ppd/pp"
)

// Devices lists the devices registered with the daemon.
func (client *Client) Devices() ([]pp.DeviceInfo, error) {
	var devices []pp.DeviceInfo
	if err := client.doSync(context.Background(), "GET", "/v1/devices", nil, nil, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// Device describes the device with the given id.
func (client *Client) Device(id int) (*pp.DeviceInfo, error) {
	var info pp.DeviceInfo
	if err := client.doSync(context.Background(), "GET", fmt.Sprintf("/v1/devices/%d", id), nil, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// AllocateBuffer has the daemon allocate a buffer of size bytes.
func (client *Client) AllocateBuffer(size uint64) (pp.Handle, error) {
	var res struct {
		Handle pp.Handle `json:"handle"`
	}
	in := map[string]uint64{"size": size}
	if err := client.doSync(context.Background(), "POST", "/v1/buffers", nil, in, &res); err != nil {
		return 0, err
	}
	return res.Handle, nil
}

// FreeBuffer frees a buffer allocated with AllocateBuffer. Jobs still
// holding it keep it alive until they let go.
func (client *Client) FreeBuffer(h pp.Handle) error {
	return client.doSync(context.Background(), "DELETE", fmt.Sprintf("/v1/buffers/%d", h), nil, nil, nil)
}

// A Session is a connection to the manager of the daemon. Jobs and
// events belong to the session that created them.
type Session struct {
	client *Client
	ID     int
}

// SessionInfo describes a session.
type SessionInfo struct {
	ID            int          `json:"id"`
	Jobs          []pp.JobInfo `json:"jobs"`
	PendingEvents int          `json:"pending-events"`
	EventSpace    int          `json:"event-space"`
}

// OpenSession opens a new session.
func (client *Client) OpenSession() (*Session, error) {
	var res struct {
		ID int `json:"id"`
	}
	if err := client.doSync(context.Background(), "POST", "/v1/sessions", nil, nil, &res); err != nil {
		return nil, err
	}
	return &Session{client: client, ID: res.ID}, nil
}

func (s *Session) path(format string, v ...interface{}) string {
	return fmt.Sprintf("/v1/sessions/%d", s.ID) + fmt.Sprintf(format, v...)
}

// Info describes the session and its jobs.
func (s *Session) Info() (*SessionInfo, error) {
	var info SessionInfo
	if err := s.client.doSync(context.Background(), "GET", s.path(""), nil, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Close stops every job of the session and closes it.
func (s *Session) Close() error {
	return s.client.doSync(context.Background(), "DELETE", s.path(""), nil, nil, nil)
}

// SetProperty registers a job, or reconfigures the paused job
// prop.PropID, and returns its id.
func (s *Session) SetProperty(prop *pp.Property) (int, error) {
	var res struct {
		PropID int `json:"prop-id"`
	}
	if err := s.client.doSync(context.Background(), "POST", s.path("/properties"), nil, prop, &res); err != nil {
		return 0, err
	}
	return res.PropID, nil
}

// Job describes a job of the session.
func (s *Session) Job(propID int) (*pp.JobInfo, error) {
	var info pp.JobInfo
	if err := s.client.doSync(context.Background(), "GET", s.path("/properties/%d", propID), nil, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

type queueRequest struct {
	Dir     pp.Direction                `json:"dir"`
	BufID   uint32                      `json:"buf-id"`
	Handles [pixfmt.MaxPlanes]pp.Handle `json:"handles"`
	Op      pp.BufOp                    `json:"op"`
}

// QueueBuffer enqueues or dequeues a buffer of the job q.PropID.
func (s *Session) QueueBuffer(q *pp.QueueBuf) error {
	in := &queueRequest{
		Dir:     q.Dir,
		BufID:   q.BufID,
		Handles: q.Handles,
		Op:      q.Op,
	}
	return s.client.doSync(context.Background(), "POST", s.path("/properties/%d/buffers", q.PropID), nil, in, nil)
}

// Control runs a transport control on a job.
func (s *Session) Control(propID int, ctrl pp.Control) error {
	in := map[string]pp.Control{"action": ctrl}
	return s.client.doSync(context.Background(), "POST", s.path("/properties/%d/control", propID), nil, in, nil)
}

// Events returns the events delivered to the session. With a positive
// timeout it waits up to that long for the first one.
func (s *Session) Events(timeout time.Duration) ([]pp.Event, error) {
	var query url.Values
	if timeout > 0 {
		query = url.Values{"timeout": []string{timeout.String()}}
	}
	var events []pp.Event
	if err := s.client.doSync(context.Background(), "GET", s.path("/events"), query, nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}
