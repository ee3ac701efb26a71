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

	"github.com/snapcore/ppd/handles"
	"github.com/snapcore/ppd/logger"
)

// NoticeKind is the kind of a job lifecycle notice.
type NoticeKind int

const (
	JobRegistered NoticeKind = iota
	JobStarted
	JobPaused
	JobResumed
	JobStopped
	EventDelivered
	// JobFailed is sent when a queued start of an event-driven job
	// failed and the job went back to its previous state.
	JobFailed
)

var noticeKindNames = []string{
	"job-registered",
	"job-started",
	"job-paused",
	"job-resumed",
	"job-stopped",
	"event-delivered",
	"job-failed",
}

func (k NoticeKind) String() string {
	if k < 0 || int(k) >= len(noticeKindNames) {
		return fmt.Sprintf("notice(%d)", int(k))
	}
	return noticeKindNames[k]
}

// MarshalText implements encoding.TextMarshaler.
func (k NoticeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Notice is broadcast to observers when something happens to a job.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	PropID  int        `json:"prop-id"`
	DevID   int        `json:"dev-id"`
	Client  int        `json:"client"`
	Command Command    `json:"command"`
	// Event is set for EventDelivered notices.
	Event *Event `json:"event,omitempty"`
}

// Observer receives notices. Errors are logged and otherwise ignored.
type Observer interface {
	Notify(n *Notice) error
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(n *Notice) error

func (f ObserverFunc) Notify(n *Notice) error {
	return f(n)
}

// Notifier delivers notices to a list of observers, synchronously and
// in ascending id order.
type Notifier struct {
	observers *handles.Pool[Observer]
}

// NewNotifier returns an empty Notifier.
func NewNotifier() *Notifier {
	return &Notifier{observers: handles.New[Observer](0)}
}

// Register adds an observer and returns the id to unregister it with.
func (n *Notifier) Register(o Observer) (int, error) {
	id, err := n.observers.Allocate(o)
	if err != nil {
		return 0, fmt.Errorf("%w: cannot register observer: %v", ErrOutOfResources, err)
	}
	return id, nil
}

// Unregister removes an observer. Unknown ids are ignored.
func (n *Notifier) Unregister(id int) {
	n.observers.Release(id)
}

// Send delivers the notice to every observer.
func (n *Notifier) Send(notice *Notice) {
	n.observers.Range(func(id int, o Observer) bool {
		if err := o.Notify(notice); err != nil {
			logger.Noticef("observer %d failed on %s notice for job %d: %v", id, notice.Kind, notice.PropID, err)
		}
		return true
	})
}

func (m *Manager) notify(kind NoticeKind, job *Job, ev *Event) {
	m.notifier.Send(&Notice{
		Kind:    kind,
		PropID:  job.id,
		DevID:   job.device.id,
		Client:  job.client.id,
		Command: job.command(),
		Event:   ev,
	})
}
