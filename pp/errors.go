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

	"github.com/snapcore/ppd/pixfmt"
)

var (
	// ErrInvalidArgument is returned for malformed properties or
	// queue requests.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound is returned for unknown property, device or buffer ids.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState is returned when a control is not valid in the
	// current state of the job.
	ErrInvalidState = errors.New("invalid state")
	// ErrOutOfResources is returned when a handle space is exhausted or
	// not enough buffers are queued to start a job.
	ErrOutOfResources = errors.New("out of resources")
	// ErrInvalidBuffer is returned when a buffer handle cannot be
	// resolved.
	ErrInvalidBuffer = errors.New("invalid buffer")
	// ErrInvalidSize is returned when a buffer is too small for the
	// image configured for its direction.
	ErrInvalidSize = pixfmt.ErrInvalidSize
	// ErrDeviceBusy is returned when a device is dedicated to a
	// streaming job.
	ErrDeviceBusy = errors.New("device busy")
	// ErrTimeout is reported when waiting for the hardware took too long.
	ErrTimeout = errors.New("timeout")
	// ErrDisconnected is returned when reading events of a client that
	// was disconnected.
	ErrDisconnected = errors.New("client disconnected")
)

// StateError is returned when a control is requested from a state that
// does not allow it.
type StateError struct {
	PropID  int
	Control Control
	State   State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s job %d in state %s", e.Control, e.PropID, e.State)
}

func (e *StateError) Is(target error) bool {
	return target == ErrInvalidState
}

// NotFoundError is returned when a job, device or buffer is unknown.
type NotFoundError struct {
	Kind string
	ID   interface{}
}

func (e *NotFoundError) Error() string {
	if e.ID == nil {
		return fmt.Sprintf("no %s found", e.Kind)
	}
	return fmt.Sprintf("%s %v not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func invalidArgf(format string, v ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, v...))
}
