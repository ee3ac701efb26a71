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

// ErrorKind distinguishes kind of errors.
type ErrorKind string

// Error kinds, as reported by the daemon.
const (
	ErrorKindInvalidArgument ErrorKind = "invalid-argument"
	ErrorKindInvalidBuffer   ErrorKind = "invalid-buffer"
	ErrorKindInvalidSize     ErrorKind = "invalid-size"
	ErrorKindNotFound        ErrorKind = "not-found"
	ErrorKindInvalidState    ErrorKind = "invalid-state"
	ErrorKindDeviceBusy      ErrorKind = "device-busy"
	ErrorKindTimeout         ErrorKind = "timeout"
	ErrorKindOutOfResources  ErrorKind = "out-of-resources"
	ErrorKindDisconnected    ErrorKind = "disconnected"
)

// Error is the error returned by the daemon.
type Error struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	StatusCode int       `json:"-"`
}

func (e *Error) Error() string {
	return e.Message
}

// IsKind reports whether err is an Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}
